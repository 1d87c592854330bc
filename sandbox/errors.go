package sandbox

import (
	"github.com/hashicorp/go-multierror"
)

// joinErrors accumulates independent teardown failures instead of
// discarding all but the first, matching the devices/mounts packages.
func joinErrors(errs []error) error {
	var result *multierror.Error
	for _, e := range errs {
		result = multierror.Append(result, e)
	}
	return result.ErrorOrNil()
}
