package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dd0wney/burrowdb/pkg/fsutil"
	"github.com/dd0wney/burrowdb/pkg/logging"
	"github.com/dd0wney/burrowdb/pkg/pools"
)

// Options configures a WAL
type Options struct {
	// CompressValues stores put values snappy-encoded when that saves space
	CompressValues bool
	// Clock stamps records whose Timestamp is zero. Defaults to time.Now.
	Clock  func() time.Time
	Logger logging.Logger
}

// WAL is an append-only, fsync-per-record write-ahead log backed by a single
// file. It is not safe for concurrent use: the engine that owns it serializes
// every call.
type WAL struct {
	path       string
	file       *os.File
	writer     *bufio.Writer
	size       int64
	currentLSN uint64
	recovery   *CorruptLogError
	opts       Options
	logger     logging.Logger
	closed     bool
}

// Open opens or creates the log at path. A malformed tail left by a crash in
// the middle of an append is cut off at the last valid record; the damage is
// logged and reported by Recovery, and Open still succeeds.
func Open(path string, opts Options) (*WAL, error) {
	if path == "" {
		return nil, fmt.Errorf("empty WAL path")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	path = filepath.Clean(path)
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, fsutil.FilePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	w := &WAL{
		path:   path,
		file:   file,
		writer: bufio.NewWriter(file),
		opts:   opts,
		logger: logger.With(logging.Component("wal"), logging.Path(path)),
	}

	if err := w.recover(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to recover WAL: %w", err)
	}

	return w, nil
}

// recover scans the whole file, establishes the last LSN and the end of the
// last valid record, and truncates anything after it.
func (w *WAL) recover() error {
	it, err := w.Iterator()
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
	}

	w.size = it.offset
	w.currentLSN = it.prevLSN

	var corrupt *CorruptLogError
	if err := it.Err(); err != nil {
		if !errors.As(err, &corrupt) {
			return err
		}
	}
	if corrupt == nil {
		return nil
	}

	fileSize, err := fsutil.FileSize(w.path)
	if err != nil {
		return err
	}
	corrupt.Discarded = fileSize - corrupt.Offset

	if err := w.file.Truncate(corrupt.Offset); err != nil {
		return fmt.Errorf("failed to truncate corrupt tail: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync after truncation: %w", err)
	}

	w.recovery = corrupt
	w.logger.Warn("WAL tail truncated at last valid record",
		logging.Int64("offset", corrupt.Offset),
		logging.LSN(corrupt.LastLSN),
		logging.Bytes(corrupt.Discarded),
		logging.Error(corrupt.Err),
	)
	return nil
}

// Append durably writes rec, assigning it the next LSN. It returns only after
// the record has been flushed and fsynced. On failure the file is cut back to
// its previous length so the LSN sequence stays gap-free.
func (w *WAL) Append(rec *Record) (uint64, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if !rec.Op.Valid() {
		return 0, fmt.Errorf("invalid op %s", rec.Op)
	}
	if w.currentLSN == ^uint64(0) {
		return 0, ErrLSNExhausted
	}

	lsn := w.currentLSN + 1
	rec.LSN = lsn
	if rec.Timestamp == 0 {
		rec.Timestamp = w.opts.Clock().UnixNano()
	}
	if rec.Op == OpDelete {
		rec.Value = nil
	}

	frame, err := encodeRecord(rec, w.opts.CompressValues)
	if err != nil {
		rec.LSN = 0
		return 0, err
	}

	err = w.write(frame)
	size := int64(len(frame))
	pools.PutBytes(frame)
	if err != nil {
		rec.LSN = 0
		w.rollback()
		return 0, err
	}

	w.size += size
	w.currentLSN = lsn
	return lsn, nil
}

func (w *WAL) write(frame []byte) error {
	if _, err := w.writer.Write(frame); err != nil {
		return fmt.Errorf("failed to write WAL record: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

// rollback discards buffered bytes and any partial frame on disk
func (w *WAL) rollback() {
	w.writer.Reset(w.file)
	if err := w.file.Truncate(w.size); err != nil {
		w.logger.Error("failed to roll back partial WAL record",
			logging.Int64("offset", w.size), logging.Error(err))
	}
}

// Replay calls handler for every record, in append order
func (w *WAL) Replay(handler func(*Record) error) error {
	it, err := w.Iterator()
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		rec := it.Record()
		if err := handler(rec); err != nil {
			return fmt.Errorf("failed to replay record LSN=%d: %w", rec.LSN, err)
		}
	}
	return it.Err()
}

// Iterator returns a lazy reader positioned at the start of the log. Each call
// opens an independent handle, so iteration can be restarted at will.
func (w *WAL) Iterator() (*Iterator, error) {
	if w.closed {
		return nil, ErrClosed
	}
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL for reading: %w", err)
	}
	return &Iterator{file: f, reader: bufio.NewReader(f)}, nil
}

// Recovery reports the tail damage repaired by Open, or nil for a clean log
func (w *WAL) Recovery() *CorruptLogError {
	return w.recovery
}

// GetCurrentLSN returns the LSN of the last durable record
func (w *WAL) GetCurrentLSN() uint64 {
	return w.currentLSN
}

// Size returns the length in bytes of the valid log
func (w *WAL) Size() int64 {
	return w.size
}

// Path returns the log file location
func (w *WAL) Path() string {
	return w.path
}

// Close flushes and closes the log
func (w *WAL) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Iterator walks records in append order. Typical use:
//
//	it, _ := w.Iterator()
//	defer it.Close()
//	for it.Next() { use(it.Record()) }
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	file    *os.File
	reader  *bufio.Reader
	offset  int64
	prevLSN uint64
	rec     *Record
	err     error
	done    bool
}

// Next advances to the next record. It returns false at the end of the log
// or on the first malformed record, after which Err reports the problem.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}

	rec, n, err := readRecord(it.reader)
	if err == nil && it.prevLSN != 0 && rec.LSN != it.prevLSN+1 {
		err = fmt.Errorf("%w: lsn %d follows %d", ErrCorruptLog, rec.LSN, it.prevLSN)
	}
	if err == nil && it.prevLSN == 0 && rec.LSN == 0 {
		err = fmt.Errorf("%w: zero lsn", ErrCorruptLog)
	}
	if err != nil {
		it.done = true
		it.rec = nil
		switch {
		case errors.Is(err, io.EOF):
		case errors.Is(err, ErrCorruptLog):
			it.err = &CorruptLogError{Offset: it.offset, LastLSN: it.prevLSN, Err: err}
		default:
			it.err = fmt.Errorf("failed to read WAL: %w", err)
		}
		return false
	}

	it.offset += n
	it.prevLSN = rec.LSN
	it.rec = rec
	return true
}

// Record returns the current record
func (it *Iterator) Record() *Record {
	return it.rec
}

// Err returns what stopped iteration early: a *CorruptLogError for a
// malformed record, or the underlying read error
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the read handle
func (it *Iterator) Close() error {
	it.done = true
	return it.file.Close()
}
