// Package index holds the in-memory document index: for every key ever
// written, its latest state (hot value, cold, or tombstone) and the access
// statistics used for tiering. The index is a fold over the log and can be
// rebuilt from it at any time.
package index

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dd0wney/burrowdb/pkg/wal"
)

// Location is the tier placement of a key. Exactly one applies at a time.
type Location uint8

const (
	// Hot documents keep their value resident in Entry.Value
	Hot Location = iota + 1
	// Cold documents live only in the cold store
	Cold
	// Tombstoned keys were deleted; they stay in the index so replay is unambiguous
	Tombstoned
)

func (l Location) String() string {
	switch l {
	case Hot:
		return "hot"
	case Cold:
		return "cold"
	case Tombstoned:
		return "tombstoned"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound = errors.New("key not in index")
	ErrNotLive  = errors.New("key is tombstoned")
)

// Entry is the index record for one key.
type Entry struct {
	Key      string
	Location Location
	// Value is the resident copy; non-nil only while Location == Hot
	Value []byte
	// Size is the length of the current value, 0 for tombstones
	Size int
	// LSN is the log record that produced the current state
	LSN uint64
	// ColdLSN is the LSN of the copy held by the cold store, 0 when none is
	// known. A hot entry with ColdLSN == LSN can be demoted without a write.
	ColdLSN uint64
	Stats   Stats
}

// Live reports whether the key currently has a value
func (e *Entry) Live() bool {
	return e.Location == Hot || e.Location == Cold
}

// HasColdCopy reports whether the cold store holds the current value
func (e *Entry) HasColdCopy() bool {
	return e.ColdLSN != 0 && e.ColdLSN == e.LSN
}

// Index maps keys to entries. It is owned by a single goroutine and has no
// internal locking.
type Index struct {
	entries map[string]*Entry
	decay   Decay
	counts  map[Location]int
}

// New creates an empty index
func New(decay Decay) *Index {
	return &Index{
		entries: make(map[string]*Entry),
		decay:   decay,
		counts:  make(map[Location]int, 3),
	}
}

// Decay returns the statistics model used by the index
func (ix *Index) Decay() Decay {
	return ix.decay
}

// Apply folds one log record into the index. A put makes the key Hot with
// the record's value; a delete tombstones it. Access statistics are touched
// at the record's timestamp.
func (ix *Index) Apply(rec *wal.Record) (*Entry, error) {
	switch rec.Op {
	case wal.OpPut:
		e := ix.entry(rec.Key)
		ix.setLocation(e, Hot)
		e.Value = rec.Value
		e.Size = len(rec.Value)
		e.LSN = rec.LSN
		ix.decay.Touch(&e.Stats, rec.Time())
		return e, nil
	case wal.OpDelete:
		return ix.MarkDeleted(rec.Key, rec.LSN, rec.Time()), nil
	default:
		return nil, fmt.Errorf("cannot apply record with op %s", rec.Op)
	}
}

// MarkDeleted tombstones key as of lsn. Subsequent lookups report the key as
// not live until a new put.
func (ix *Index) MarkDeleted(key string, lsn uint64, now time.Time) *Entry {
	e := ix.entry(key)
	ix.setLocation(e, Tombstoned)
	e.Value = nil
	e.Size = 0
	e.LSN = lsn
	ix.decay.Touch(&e.Stats, now)
	return e
}

// Lookup returns the entry for key and records an access at now. The entry
// may be tombstoned, in which case the access still counts; callers check
// Live. A key the index has never seen has no statistics to update.
func (ix *Index) Lookup(key string, now time.Time) (*Entry, bool) {
	e, ok := ix.entries[key]
	if !ok {
		return nil, false
	}
	ix.decay.Touch(&e.Stats, now)
	return e, true
}

// Peek returns the entry for key without touching its statistics
func (ix *Index) Peek(key string) (*Entry, bool) {
	e, ok := ix.entries[key]
	return e, ok
}

// SetHot makes a live entry resident with value, which must be the value of
// the entry's current LSN.
func (ix *Index) SetHot(e *Entry, value []byte) error {
	if !e.Live() {
		return fmt.Errorf("%w: %s", ErrNotLive, e.Key)
	}
	ix.setLocation(e, Hot)
	e.Value = value
	e.Size = len(value)
	return nil
}

// SetCold drops the resident copy of a live entry. The caller must already
// have made the cold store hold the current value.
func (ix *Index) SetCold(e *Entry) error {
	if !e.Live() {
		return fmt.Errorf("%w: %s", ErrNotLive, e.Key)
	}
	ix.setLocation(e, Cold)
	e.Value = nil
	e.ColdLSN = e.LSN
	return nil
}

// Keys returns the live keys in lexical order
func (ix *Index) Keys() []string {
	keys := make([]string, 0, ix.counts[Hot]+ix.counts[Cold])
	for k, e := range ix.entries {
		if e.Live() {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Range calls fn for every entry, tombstones included, until fn returns false
func (ix *Index) Range(fn func(*Entry) bool) {
	for _, e := range ix.entries {
		if !fn(e) {
			return
		}
	}
}

// Len returns the number of keys known, tombstones included
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Count returns the number of entries at loc
func (ix *Index) Count(loc Location) int {
	return ix.counts[loc]
}

func (ix *Index) entry(key string) *Entry {
	e, ok := ix.entries[key]
	if !ok {
		e = &Entry{Key: key}
		ix.entries[key] = e
	}
	return e
}

func (ix *Index) setLocation(e *Entry, loc Location) {
	if e.Location == loc {
		return
	}
	if e.Location != 0 {
		ix.counts[e.Location]--
	}
	e.Location = loc
	ix.counts[loc]++
}
