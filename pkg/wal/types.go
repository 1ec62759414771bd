package wal

import (
	"errors"
	"fmt"
	"time"
)

// OpType represents the type of mutation in a log record
type OpType uint8

const (
	// OpPut creates or replaces the value of a key
	OpPut OpType = iota + 1
	// OpDelete tombstones a key
	OpDelete
)

func (o OpType) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Valid reports whether o is a known operation
func (o OpType) Valid() bool {
	return o == OpPut || o == OpDelete
}

// Record is a single immutable log entry. Value is nil for deletes.
type Record struct {
	LSN       uint64 // Log Sequence Number
	Op        OpType
	Key       string
	Value     []byte
	Timestamp int64 // unix nanoseconds, stamped by Append when zero
}

// Time returns the record timestamp
func (r *Record) Time() time.Time {
	return time.Unix(0, r.Timestamp)
}

var (
	// ErrCorruptLog is wrapped by every decoding failure
	ErrCorruptLog = errors.New("corrupt log record")
	// ErrClosed is returned by operations on a closed log
	ErrClosed = errors.New("log is closed")
	// ErrLSNExhausted is returned when the sequence space is used up
	ErrLSNExhausted = errors.New("log sequence space exhausted")
)

// CorruptLogError describes a malformed record found while reading the log.
// Offset is where the bad record starts, which is also the end of the last
// valid record.
type CorruptLogError struct {
	Offset    int64
	LastLSN   uint64
	Discarded int64
	Err       error
}

func (e *CorruptLogError) Error() string {
	return fmt.Sprintf("corrupt log at offset %d after lsn %d (%d bytes discarded): %v",
		e.Offset, e.LastLSN, e.Discarded, e.Err)
}

func (e *CorruptLogError) Unwrap() error {
	return e.Err
}
