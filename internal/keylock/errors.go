package keylock

import (
	"errors"
	"fmt"
)

// InvalidKeyError reports malformed lock input: an empty key, an empty key
// set or duplicate keys in one request. It is always a caller bug.
type InvalidKeyError struct {
	Keys   []string
	Reason string
}

func (e *InvalidKeyError) Error() string {
	if len(e.Keys) == 0 {
		return fmt.Sprintf("invalid lock key: %s", e.Reason)
	}
	return fmt.Sprintf("invalid lock key: %s (keys=%q)", e.Reason, e.Keys)
}

// NotHeldError reports a release of a key with no current holder, which means
// acquire and release calls are unbalanced.
type NotHeldError struct {
	Key string
}

func (e *NotHeldError) Error() string {
	return fmt.Sprintf("lock %q is not held", e.Key)
}

// IsInvalidKey reports whether err is an InvalidKeyError.
// Uses errors.As to handle wrapped errors.
func IsInvalidKey(err error) bool {
	var ike *InvalidKeyError
	return errors.As(err, &ike)
}

// IsNotHeld reports whether err is a NotHeldError.
// Uses errors.As to handle wrapped errors.
func IsNotHeld(err error) bool {
	var nhe *NotHeldError
	return errors.As(err, &nhe)
}
