package devices

import (
	"github.com/hashicorp/go-multierror"
)

// joinErrors accumulates independent teardown failures instead of
// discarding all but the first, so a caller sees every device that failed
// to detach, not just the first one encountered.
func joinErrors(errs []error) error {
	var result *multierror.Error
	for _, e := range errs {
		result = multierror.Append(result, e)
	}
	return result.ErrorOrNil()
}
