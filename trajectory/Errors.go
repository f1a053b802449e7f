package trajectory

import "errors"

// StoreError implements errors unique to trajectory storage.
type StoreError struct {
	Op  string
	Err error
}

// Error satisfies the error interface
func (e *StoreError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

var errOverflow error = errors.New("trajectory already at capacity")

var errUnknownSource = errors.New("no trajectory slot for source")

// IsOverflow returns whether or not an error reports that a step was
// added to a trajectory that is already full.
//
// The store resets a slot in place whenever it fills, so an overflow
// can only arise when a trajectory is written outside the store's
// locking discipline.
func IsOverflow(err error) bool {
	if storeErr, ok := err.(*StoreError); ok {
		err = storeErr.Err
	}
	return err == errOverflow
}

// IsUnknownSource returns whether or not an error reports that a
// source has no trajectory slot in the store.
func IsUnknownSource(err error) bool {
	if storeErr, ok := err.(*StoreError); ok {
		err = storeErr.Err
	}
	return err == errUnknownSource
}
