package wal

// Appender is the write side of the log.
type Appender interface {
	// Append durably writes rec and assigns its LSN.
	Append(rec *Record) (uint64, error)
}

// Replayer is the read side of the log used at startup.
type Replayer interface {
	// Replay calls handler for every record in append order.
	Replay(handler func(*Record) error) error
}

// Manager covers lifecycle and introspection.
type Manager interface {
	Close() error
	GetCurrentLSN() uint64
	Size() int64
}

// WriteAheadLog is the complete log contract consumed by the engine.
type WriteAheadLog interface {
	Appender
	Replayer
	Manager
}

var _ WriteAheadLog = (*WAL)(nil)
