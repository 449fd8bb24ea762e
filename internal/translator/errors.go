package translator

import (
	"errors"
	"fmt"
)

var (
	// ErrParse marks a raw status key whose value did not have the expected
	// shape. The key is skipped; decoding continues with the other keys.
	ErrParse = errors.New("translator: parse error")

	// ErrUnknownFamily is returned when no family matches a tag or device type.
	ErrUnknownFamily = errors.New("translator: unknown device family")
)

// ParseError describes one skipped raw status key.
type ParseError struct {
	Key    string
	Value  any
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("translator: parse error: %s=%v: %s", e.Key, e.Value, e.Reason)
}

// Unwrap lets errors.Is(err, ErrParse) match.
func (e *ParseError) Unwrap() error { return ErrParse }
