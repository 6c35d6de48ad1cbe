package stream

import (
	"errors"
	"fmt"
)

// ErrDecode is matched by errors.Is for frames that are not a decodable image.
var ErrDecode = errors.New("invalid image input")

// DecodeError reports a frame whose bytes could not be decoded.
// The session state is left untouched.
type DecodeError struct {
	Size   int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %s (%d bytes)", ErrDecode, e.Reason, e.Size)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

// InferenceError reports a classifier failure. The session state is left
// untouched.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return "inference failed: " + e.Err.Error()
}

func (e *InferenceError) Unwrap() error { return e.Err }
