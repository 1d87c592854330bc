package mounts

import "github.com/hashicorp/go-multierror"

func joinErrors(errs []error) error {
	var result *multierror.Error
	for _, e := range errs {
		result = multierror.Append(result, e)
	}
	return result.ErrorOrNil()
}
