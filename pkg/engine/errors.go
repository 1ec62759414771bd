package engine

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyKey      = errors.New("key must not be empty")
	ErrKeyTooLarge   = fmt.Errorf("key exceeds %d bytes", MaxKeySize)
	ErrValueTooLarge = errors.New("value exceeds the configured maximum size")
	ErrClosed        = errors.New("engine closed")
)

// IOError reports a failed log or cold store operation. The command it was
// returned from had no effect unless the log append had already succeeded.
type IOError struct {
	Op  string
	Key string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsIOError reports whether err is or wraps an *IOError
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}
