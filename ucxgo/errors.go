package ucxgo

import "github.com/hashicorp/go-multierror"

// appendErr folds err into errs, allocating the aggregate lazily. Used
// by the Engine.Close teardown path, so that one failure does not mask
// another.
func appendErr(errs error, err error) error {
	if err == nil {
		return errs
	}
	return multierror.Append(errs, err)
}
