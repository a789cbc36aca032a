package media

import (
	"errors"
	"fmt"
)

// ErrDecode matches every DecodeError
var ErrDecode = errors.New("decode error")

// DecodeError reports malformed or unreadable input
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}
