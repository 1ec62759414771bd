// Package engine composes the write-ahead log, document index, tier manager
// and cold store into a single-writer document store. An Engine executes one
// command at a time to completion and has no internal locking; Loop is the
// concurrent front door that serializes callers onto it.
package engine

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/burrowdb/pkg/coldstore"
	"github.com/dd0wney/burrowdb/pkg/index"
	"github.com/dd0wney/burrowdb/pkg/logging"
	"github.com/dd0wney/burrowdb/pkg/tier"
	"github.com/dd0wney/burrowdb/pkg/wal"
)

// Result is the outcome of a successful command. Found is false for a Get or
// Delete of a key that is absent or deleted; Value is set only by Get.
type Result struct {
	Found bool
	Value []byte
	LSN   uint64
}

// Stats is a point-in-time view of the engine
type Stats struct {
	Documents  int    `json:"documents"`
	Tombstones int    `json:"tombstones"`
	Hot        int    `json:"hot"`
	Cold       int    `json:"cold"`
	HotBytes   int64  `json:"hot_bytes"`
	Promotions uint64 `json:"promotions"`
	Demotions  uint64 `json:"demotions"`
	Evictions  uint64 `json:"evictions"`
	ColdWrites uint64 `json:"cold_writes"`
	LSN        uint64 `json:"lsn"`
	LogBytes   int64  `json:"log_bytes"`
}

// Observer receives per-command timings and tier movements
type Observer interface {
	tier.Observer
	Command(op, outcome string, d time.Duration)
	LogSize(bytes int64)
}

// Command outcomes passed to Observer.Command
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

type nopObserver struct{}

func (nopObserver) Promoted()                             {}
func (nopObserver) Demoted(string)                        {}
func (nopObserver) ColdWrite(time.Duration, error)        {}
func (nopObserver) Command(string, string, time.Duration) {}
func (nopObserver) LogSize(int64)                         {}

// Engine is the single-writer document store. It is not safe for
// concurrent use.
type Engine struct {
	cfg      Config
	log      wal.WriteAheadLog
	cold     coldstore.Store
	index    *index.Index
	tiers    *tier.Manager
	clock    func() time.Time
	logger   logging.Logger
	observer Observer
	closed   bool

	// strayLSN is an LSN that may label a cold copy staged for an append
	// that never landed, after a crash or a failed rollback. It is checked
	// before that LSN is handed out again.
	strayLSN uint64
}

// Option customizes Open
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces time.Now for record timestamps and access statistics
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithObserver attaches a metrics observer
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithColdStore supplies the cold store instead of opening a FileStore at
// Config.ColdDir. The engine takes ownership and closes it.
func WithColdStore(s coldstore.Store) Option {
	return func(e *Engine) { e.cold = s }
}

// WithLog supplies the write-ahead log instead of opening Config.LogPath.
// The engine takes ownership and closes it.
func WithLog(l wal.WriteAheadLog) Option {
	return func(e *Engine) { e.log = l }
}

// Open opens the log (cutting off a torn tail), opens the cold store and
// rebuilds the index and hot tier by replaying every record.
func Open(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		clock:    time.Now,
		logger:   logging.NewNopLogger(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logging.Component("engine"))
	timer := logging.StartTimer(e.logger, "engine opened")

	if e.log == nil {
		w, err := wal.Open(cfg.LogPath, wal.Options{
			CompressValues: cfg.CompressLog,
			Clock:          e.clock,
			Logger:         e.logger,
		})
		if err != nil {
			return nil, &IOError{Op: "open", Err: err}
		}
		e.log = w
	}

	if e.cold == nil {
		fs, err := coldstore.OpenFileStore(cfg.ColdDir, coldstore.FileOptions{
			UseMmap:  cfg.ColdMmap,
			Compress: cfg.ColdCompress,
			Logger:   e.logger,
		})
		if err != nil {
			e.log.Close()
			return nil, &IOError{Op: "open", Err: err}
		}
		e.cold = fs
	}

	e.index = index.New(index.NewDecay(cfg.HalfLife, e.clock()))
	tiers, err := tier.New(cfg.Tier, e.index, e.cold,
		tier.WithLogger(e.logger), tier.WithObserver(e.observer))
	if err != nil {
		e.closeStores()
		return nil, err
	}
	e.tiers = tiers

	if err := e.replay(); err != nil {
		e.closeStores()
		return nil, err
	}
	e.strayLSN = e.log.GetCurrentLSN() + 1

	timer.End(
		logging.Int("documents", len(e.index.Keys())),
		logging.Int("hot", e.tiers.Stats().HotDocuments),
		logging.LSN(e.log.GetCurrentLSN()),
	)
	return e, nil
}

// replay folds the log into the index and tiers, then removes cold copies
// of deleted keys, which a crash between the delete record and the cold
// delete can leave behind.
func (e *Engine) replay() error {
	records := 0
	err := e.log.Replay(func(rec *wal.Record) error {
		records++
		switch rec.Op {
		case wal.OpPut:
			if e.tiers.Fits(len(rec.Value)) {
				if err := e.tiers.MakeRoom(rec.Key, len(rec.Value)); err != nil && !errors.Is(err, tier.ErrCapacityExceeded) {
					return err
				}
			} else if err := e.tiers.StageCold(rec.Key, rec.Value, rec.LSN); err != nil {
				return err
			}
			entry, err := e.index.Apply(rec)
			if err != nil {
				return err
			}
			if err := e.tiers.Admit(entry); err != nil {
				return err
			}
		case wal.OpDelete:
			if _, err := e.index.Apply(rec); err != nil {
				return err
			}
			e.tiers.Forget(rec.Key)
		}
		return nil
	})
	if err != nil {
		return &IOError{Op: "replay", Err: err}
	}

	var tombstones []string
	e.index.Range(func(entry *index.Entry) bool {
		if entry.Location == index.Tombstoned {
			tombstones = append(tombstones, entry.Key)
		}
		return true
	})
	for _, key := range tombstones {
		if err := e.cold.Delete(key); err != nil {
			e.logger.Warn("failed to remove cold copy of deleted key", logging.Key(key), logging.Error(err))
		}
	}

	e.logger.Info("log replayed", logging.Count(records), logging.Int("tombstones", len(tombstones)))
	return nil
}

// Put stores value under key. The hot tier makes room first, so a cold
// write failure during eviction leaves the log and index untouched. A value
// too large for the hot tier is written to the cold store before its log
// record, with the same guarantee.
func (e *Engine) Put(key string, value []byte) (Result, error) {
	start := time.Now()
	res, err := e.put(key, value)
	e.record("put", start, res, err)
	return res, err
}

func (e *Engine) put(key string, value []byte) (Result, error) {
	if e.closed {
		return Result{}, ErrClosed
	}
	if err := validateKey(key); err != nil {
		return Result{}, err
	}
	if len(value) > e.cfg.MaxValueSize {
		return Result{}, ErrValueTooLarge
	}
	value = bytes.Clone(value)
	if value == nil {
		value = []byte{}
	}

	if err := e.clearStray(key); err != nil {
		return Result{}, &IOError{Op: "put", Key: key, Err: err}
	}

	var undo func()
	if e.tiers.Fits(len(value)) {
		if err := e.tiers.MakeRoom(key, len(value)); err != nil && !errors.Is(err, tier.ErrCapacityExceeded) {
			return Result{}, &IOError{Op: "put", Key: key, Err: err}
		}
	} else {
		var err error
		if undo, err = e.stageCold(key, value); err != nil {
			return Result{}, &IOError{Op: "put", Key: key, Err: err}
		}
	}

	rec := &wal.Record{Op: wal.OpPut, Key: key, Value: value, Timestamp: e.clock().UnixNano()}
	lsn, err := e.log.Append(rec)
	if err != nil {
		if undo != nil {
			undo()
		}
		return Result{}, &IOError{Op: "put", Key: key, Err: err}
	}
	e.observer.LogSize(e.log.Size())

	entry, err := e.index.Apply(rec)
	if err != nil {
		return Result{}, err
	}
	if err := e.tiers.Admit(entry); err != nil {
		return Result{}, err
	}
	return Result{Found: true, LSN: lsn}, nil
}

// stageCold writes an oversized value to the cold store under the LSN its
// log record is about to get. The returned func puts the previous cold
// state back when the append then fails.
func (e *Engine) stageCold(key string, value []byte) (func(), error) {
	lsn := e.log.GetCurrentLSN() + 1
	prev, known := e.index.Peek(key)
	wasCold := known && prev.Location == index.Cold

	var prevValue []byte
	if wasCold {
		v, err := e.cold.Read(key)
		if err != nil {
			return nil, err
		}
		prevValue = v
	}
	if err := e.tiers.StageCold(key, value, lsn); err != nil {
		return nil, err
	}

	return func() {
		var err error
		if wasCold {
			err = e.cold.Write(key, prevValue, prev.LSN)
		} else {
			err = e.cold.Delete(key)
			if known {
				prev.ColdLSN = 0
			}
		}
		if err != nil {
			e.strayLSN = lsn
			e.logger.Error("failed to roll back staged cold copy",
				logging.Key(key), logging.LSN(lsn), logging.Error(err))
		}
	}, nil
}

// clearStray deletes key's cold copy if it carries the LSN about to be
// assigned and that LSN is marked as possibly stray. Such a copy was never
// committed, and a cold store that reports LSNs would otherwise treat it as
// current for the record that now takes the LSN.
func (e *Engine) clearStray(key string) error {
	next := e.log.GetCurrentLSN() + 1
	if next != e.strayLSN {
		return nil
	}
	r, ok := e.cold.(tier.LSNReader)
	if !ok {
		return nil
	}
	lsn, err := r.ReadLSN(key)
	switch {
	case errors.Is(err, coldstore.ErrNotFound):
		return nil
	case err != nil:
		return err
	case lsn != next:
		return nil
	}
	e.logger.Warn("removing uncommitted cold copy", logging.Key(key), logging.LSN(lsn))
	return e.cold.Delete(key)
}

// Get returns the current value of key. Hot reads touch no storage; a cold
// read may promote the document when it is accessed often enough. If the
// promotion has to evict a document and that cold write fails, the read
// fails with it.
func (e *Engine) Get(key string) (Result, error) {
	start := time.Now()
	res, err := e.get(key)
	e.record("get", start, res, err)
	return res, err
}

func (e *Engine) get(key string) (Result, error) {
	if e.closed {
		return Result{}, ErrClosed
	}
	if err := validateKey(key); err != nil {
		return Result{}, err
	}

	now := e.clock()
	entry, ok := e.index.Lookup(key, now)
	if !ok || !entry.Live() {
		return Result{}, nil
	}

	if entry.Location == index.Hot {
		e.tiers.Touched(entry)
		return Result{Found: true, Value: bytes.Clone(entry.Value), LSN: entry.LSN}, nil
	}

	value, err := e.cold.Read(key)
	if err != nil {
		return Result{}, &IOError{Op: "get", Key: key, Err: err}
	}

	if e.tiers.ShouldPromote(entry, now) {
		err := e.tiers.Promote(entry, value)
		switch {
		case errors.Is(err, tier.ErrCapacityExceeded):
			e.logger.Debug("promotion skipped", logging.Key(key), logging.Error(err))
		case err != nil:
			return Result{}, &IOError{Op: "get", Key: key, Err: err}
		}
	}
	return Result{Found: true, Value: bytes.Clone(value), LSN: entry.LSN}, nil
}

// Delete tombstones key. Deleting an absent or already deleted key is a
// no-op reported as not found. Once the delete record is durable the
// command succeeds even if the cold copy cannot be removed; the index
// never serves it again and the next startup retries the removal.
func (e *Engine) Delete(key string) (Result, error) {
	start := time.Now()
	res, err := e.delete(key)
	e.record("delete", start, res, err)
	return res, err
}

func (e *Engine) delete(key string) (Result, error) {
	if e.closed {
		return Result{}, ErrClosed
	}
	if err := validateKey(key); err != nil {
		return Result{}, err
	}

	entry, ok := e.index.Peek(key)
	if !ok || !entry.Live() {
		return Result{}, nil
	}

	rec := &wal.Record{Op: wal.OpDelete, Key: key, Timestamp: e.clock().UnixNano()}
	lsn, err := e.log.Append(rec)
	if err != nil {
		return Result{}, &IOError{Op: "delete", Key: key, Err: err}
	}
	e.observer.LogSize(e.log.Size())

	if _, err := e.index.Apply(rec); err != nil {
		return Result{}, err
	}
	e.tiers.Forget(key)

	if err := e.cold.Delete(key); err != nil {
		e.logger.Warn("failed to remove cold copy of deleted key",
			logging.Key(key), logging.LSN(lsn), logging.Error(err))
	} else {
		entry.ColdLSN = 0
	}
	return Result{Found: true, LSN: lsn}, nil
}

// Keys returns the live keys in lexical order
func (e *Engine) Keys() ([]string, error) {
	if e.closed {
		return nil, ErrClosed
	}
	return e.index.Keys(), nil
}

// Sweep demotes idle hot documents and returns how many moved
func (e *Engine) Sweep() (int, error) {
	if e.closed {
		return 0, ErrClosed
	}
	start := time.Now()
	n, err := e.tiers.Sweep(e.clock())
	if err != nil {
		err = &IOError{Op: "sweep", Err: err}
		e.logger.Error("idle sweep failed", logging.Count(n), logging.Error(err))
	}
	e.record("sweep", start, Result{Found: true}, err)
	return n, err
}

// Stats reports document counts, tier counters and log position
func (e *Engine) Stats() (Stats, error) {
	if e.closed {
		return Stats{}, ErrClosed
	}
	ts := e.tiers.Stats()
	return Stats{
		Documents:  e.index.Count(index.Hot) + e.index.Count(index.Cold),
		Tombstones: e.index.Count(index.Tombstoned),
		Hot:        e.index.Count(index.Hot),
		Cold:       e.index.Count(index.Cold),
		HotBytes:   ts.HotBytes,
		Promotions: ts.Promotions,
		Demotions:  ts.Demotions,
		Evictions:  ts.Evictions,
		ColdWrites: ts.ColdWrites,
		LSN:        e.log.GetCurrentLSN(),
		LogBytes:   e.log.Size(),
	}, nil
}

// Close closes the log and cold store. Later calls return ErrClosed.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.closeStores()
	e.logger.Info("engine closed", logging.LSN(e.log.GetCurrentLSN()))
	return err
}

func (e *Engine) closeStores() error {
	var errs []error
	if e.log != nil {
		if err := e.log.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log: %w", err))
		}
	}
	if e.cold != nil {
		if err := e.cold.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cold store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) record(op string, start time.Time, res Result, err error) {
	outcome := OutcomeOK
	switch {
	case err != nil:
		outcome = OutcomeError
	case !res.Found:
		outcome = OutcomeNotFound
	}
	e.observer.Command(op, outcome, time.Since(start))
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > MaxKeySize {
		return ErrKeyTooLarge
	}
	return nil
}
