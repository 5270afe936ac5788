package block

import "errors"

// ErrSerialization is returned when the payload cannot be canonically encoded.
// Hashing cannot proceed and the block is left untouched.
var ErrSerialization = errors.New("payload serialization failed")
