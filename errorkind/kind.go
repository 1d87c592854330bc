// Package errorkind defines the error taxonomy shared by every engine
// component, so a caller can switch on "what kind of thing failed" without
// depending on which package produced the error.
package errorkind

import "fmt"

// Kind is one of the fixed error classes the engine can report.
type Kind string

const (
	ManifestInvalid  Kind = "manifest-invalid"
	ModuleUnknown    Kind = "module-unknown"
	CycleDetected    Kind = "cycle-detected"
	SourceUnresolved Kind = "source-unresolved"
	SourceFetch      Kind = "source-fetch"
	SourceChecksum   Kind = "source-checksum"
	SourceAuth       Kind = "source-auth"
	StoreBusy        Kind = "store-busy"
	StoreIO          Kind = "store-io"
	StoreCorrupt     Kind = "store-corrupt"
	SandboxSetup     Kind = "sandbox-setup"
	ModuleExit       Kind = "module-exit"
	ModuleTimeout    Kind = "module-timeout"
	HostServiceProto Kind = "host-service-protocol"
	DeviceOpen       Kind = "device-open"
	MountFailed      Kind = "mount-failed"
	Cancelled        Kind = "cancelled"
	Internal         Kind = "internal"
)

// Error wraps an underlying cause with a Kind and the pipeline/stage context
// in which it occurred, so the final result record (see monitor.Result) can
// report "what failed, where, and why" without string-parsing.
type Error struct {
	Kind    Kind
	Where   string // "pipeline/stage" or similar locator
	Message string
	Cause   error
}

func New(kind Kind, where, message string, cause error) *Error {
	return &Error{Kind: kind, Where: where, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Where == "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Where, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Where, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, errorkind.SourceFetch) work by comparing Kind values
// when matched against a bare Kind wrapped as an error via AsTarget.
func (e *Error) Is(target error) bool {
	k, ok := target.(*Error)
	if !ok {
		return false
	}
	if k.Cause != nil {
		return false
	}
	return e.Kind == k.Kind
}

// Sentinel builds a bare *Error usable as an errors.Is target, e.g.
// errors.Is(err, errorkind.Sentinel(errorkind.SourceChecksum)).
func Sentinel(k Kind) *Error { return &Error{Kind: k} }

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise returns Internal.
func KindOf(err error) Kind {
	var e *Error
	if AsError(err, &e) {
		return e.Kind
	}
	return Internal
}

// AsError is a small errors.As wrapper kept here so callers don't need to
// import "errors" just to unwrap a *Error.
func AsError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
