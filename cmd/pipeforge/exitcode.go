package main

import "github.com/banksean/pipeforge/errorkind"

// exitCodeFor maps an engine error to the process exit code: 0 is handled
// by main before this is ever called, 2 is a manifest or usage problem the
// caller can fix without rerunning anything, 1 is everything else (a build
// that genuinely failed partway through).
func exitCodeFor(err error) int {
	switch errorkind.KindOf(err) {
	case errorkind.ManifestInvalid, errorkind.ModuleUnknown, errorkind.CycleDetected, errorkind.SourceUnresolved:
		return 2
	default:
		return 1
	}
}
