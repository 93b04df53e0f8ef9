package decoder

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed matches every DecodeError via errors.Is.
var ErrMalformed = errors.New("malformed frame")

// DecodeError reports a frame that does not match the feed schema.
type DecodeError struct {
	Message string           // Schema message being decoded (e.g., "Feed")
	Field   protowire.Number // Offending field, 0 if not field specific
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Field != 0 {
		return fmt.Sprintf("decode %s field %d: %v", e.Message, e.Field, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Message, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrMalformed) true for any DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformed
}

func wireTypeError(msg string, num protowire.Number, got, want protowire.Type) error {
	return &DecodeError{
		Message: msg,
		Field:   num,
		Err:     fmt.Errorf("wire type %d, want %d", got, want),
	}
}
