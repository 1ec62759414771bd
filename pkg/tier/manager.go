// Package tier decides which live documents keep their value in memory.
// The hot tier is bounded by document count and/or bytes; everything else
// lives in the cold store. A document moves cold-to-hot when it is written
// or read often enough, and hot-to-cold when it is evicted for room or
// swept as idle.
package tier

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dd0wney/burrowdb/pkg/coldstore"
	"github.com/dd0wney/burrowdb/pkg/index"
	"github.com/dd0wney/burrowdb/pkg/logging"
)

// ErrCapacityExceeded means the hot tier cannot make room without evicting
// the document being admitted. Callers fall back to cold placement.
var ErrCapacityExceeded = errors.New("hot tier capacity exceeded")

// LSNReader is implemented by cold stores that can report which LSN their
// copy of a key was written at. It lets demotion skip rewriting a copy that
// is already current when the index does not know about it, as after a
// restart.
type LSNReader interface {
	ReadLSN(key string) (uint64, error)
}

// Stats is a snapshot of hot tier occupancy and movement counters
type Stats struct {
	HotDocuments int    `json:"hot_documents"`
	HotBytes     int64  `json:"hot_bytes"`
	Promotions   uint64 `json:"promotions"`
	Demotions    uint64 `json:"demotions"`
	Evictions    uint64 `json:"evictions"`
	ColdWrites   uint64 `json:"cold_writes"`
}

// Observer receives tier movements, typically to export metrics
type Observer interface {
	Promoted()
	Demoted(reason string)
	ColdWrite(d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) Promoted()                      {}
func (nopObserver) Demoted(string)                 {}
func (nopObserver) ColdWrite(time.Duration, error) {}

// Demotion reasons passed to Observer.Demoted
const (
	ReasonEvicted  = "evicted"
	ReasonIdle     = "idle"
	ReasonOversize = "oversize"
)

// Manager owns hot tier residency. Like the index it is driven by a single
// goroutine.
type Manager struct {
	cfg       Config
	index     *index.Index
	cold      coldstore.Store
	lsns      LSNReader
	heap      residentHeap
	residents map[string]*resident
	hotBytes  int64
	stats     Stats
	observer  Observer
	logger    logging.Logger
}

// Option customizes a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithObserver sets the movement observer
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// New creates a manager over ix and cold
func New(cfg Config, ix *index.Index, cold coldstore.Store, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tier config: %w", err)
	}
	m := &Manager{
		cfg:       cfg,
		index:     ix,
		cold:      cold,
		residents: make(map[string]*resident),
		observer:  nopObserver{},
		logger:    logging.NewNopLogger(),
	}
	if r, ok := cold.(LSNReader); ok {
		m.lsns = r
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logging.Component("tier"))
	return m, nil
}

// Fits reports whether a value of size bytes may ever be hot
func (m *Manager) Fits(size int) bool {
	return m.cfg.MaxBytes == 0 || int64(size) <= m.cfg.MaxBytes
}

// IsResident reports whether key currently holds a hot slot
func (m *Manager) IsResident(key string) bool {
	_, ok := m.residents[key]
	return ok
}

// MakeRoom evicts the coldest residents until a value of size bytes for key
// fits. If key is already resident its current slot counts as free. Evicted
// documents are written to the cold store before their hot copy is dropped;
// a cold write failure stops eviction and is returned.
func (m *Manager) MakeRoom(key string, size int) error {
	if !m.Fits(size) {
		return ErrCapacityExceeded
	}

	count, bytes := len(m.residents), m.hotBytes
	if r, ok := m.residents[key]; ok {
		count--
		bytes -= r.size
	}

	for m.over(count+1, bytes+int64(size)) {
		victim := m.heap.coldestExcept(key)
		if victim == nil {
			return ErrCapacityExceeded
		}
		if err := m.demote(victim, ReasonEvicted); err != nil {
			return err
		}
		m.stats.Evictions++
		count--
		bytes -= victim.size
		m.logger.Debug("evicted document", logging.Key(victim.entry.Key), logging.Bytes(victim.size))
	}
	return nil
}

func (m *Manager) over(count int, bytes int64) bool {
	if m.cfg.MaxDocuments > 0 && count > m.cfg.MaxDocuments {
		return true
	}
	return m.cfg.MaxBytes > 0 && bytes > m.cfg.MaxBytes
}

// StageCold writes the cold copy of a value too large for the hot tier,
// ahead of the log record that will carry lsn. Nothing is written when the
// cold store already holds that LSN, as on replay after a restart.
func (m *Manager) StageCold(key string, value []byte, lsn uint64) error {
	if m.lsns != nil {
		if cur, err := m.lsns.ReadLSN(key); err == nil && cur == lsn {
			return nil
		}
	}
	return m.writeCold(key, value, lsn)
}

// Admit takes ownership of an entry that index.Apply just made Hot. The
// caller must have called MakeRoom first, or StageCold for a value that
// does not fit; such an entry is placed Cold and never holds a hot slot.
func (m *Manager) Admit(e *index.Entry) error {
	if !m.Fits(e.Size) {
		m.Forget(e.Key)
		if err := m.index.SetCold(e); err != nil {
			return err
		}
		m.stats.Demotions++
		m.observer.Demoted(ReasonOversize)
		return nil
	}
	m.track(e)
	return nil
}

func (m *Manager) track(e *index.Entry) *resident {
	size := int64(e.Size)
	rank := m.index.Decay().Rank(e.Stats)
	if r, ok := m.residents[e.Key]; ok {
		m.hotBytes += size - r.size
		r.entry, r.size, r.rank = e, size, rank
		heap.Fix(&m.heap, r.pos)
		return r
	}
	r := &resident{entry: e, size: size, rank: rank}
	heap.Push(&m.heap, r)
	m.residents[e.Key] = r
	m.hotBytes += size
	return r
}

// Touched re-ranks a resident after its statistics changed
func (m *Manager) Touched(e *index.Entry) {
	if r, ok := m.residents[e.Key]; ok {
		r.rank = m.index.Decay().Rank(e.Stats)
		heap.Fix(&m.heap, r.pos)
	}
}

// Forget releases key's hot slot without writing anything, as after a delete
func (m *Manager) Forget(key string) {
	r, ok := m.residents[key]
	if !ok {
		return
	}
	heap.Remove(&m.heap, r.pos)
	delete(m.residents, key)
	m.hotBytes -= r.size
}

// ShouldPromote reports whether a cold entry is read often enough to be hot
func (m *Manager) ShouldPromote(e *index.Entry, now time.Time) bool {
	return e.Location == index.Cold &&
		m.Fits(e.Size) &&
		m.index.Decay().Rate(e.Stats, now) >= m.cfg.PromoteRate
}

// Promote makes a cold entry hot with value, which was just read from the
// cold store. The cold copy stays valid, so a later demotion is free.
func (m *Manager) Promote(e *index.Entry, value []byte) error {
	if err := m.MakeRoom(e.Key, len(value)); err != nil {
		return err
	}
	if err := m.index.SetHot(e, value); err != nil {
		return err
	}
	m.track(e)
	m.stats.Promotions++
	m.observer.Promoted()
	return nil
}

// Demote moves a resident entry to the cold tier
func (m *Manager) Demote(e *index.Entry) error {
	r, ok := m.residents[e.Key]
	if !ok {
		return fmt.Errorf("%s is not resident", e.Key)
	}
	return m.demote(r, ReasonIdle)
}

// demote writes the cold copy if it is not already current, then drops the
// hot copy and the slot. On a cold write failure nothing changes.
func (m *Manager) demote(r *resident, reason string) error {
	e := r.entry
	if !m.coldCurrent(e) {
		if err := m.writeCold(e.Key, e.Value, e.LSN); err != nil {
			return fmt.Errorf("failed to demote %s: %w", e.Key, err)
		}
	}
	if err := m.index.SetCold(e); err != nil {
		return err
	}
	m.Forget(e.Key)
	m.stats.Demotions++
	m.observer.Demoted(reason)
	return nil
}

func (m *Manager) writeCold(key string, value []byte, lsn uint64) error {
	start := time.Now()
	err := m.cold.Write(key, value, lsn)
	m.observer.ColdWrite(time.Since(start), err)
	if err != nil {
		return err
	}
	m.stats.ColdWrites++
	return nil
}

func (m *Manager) coldCurrent(e *index.Entry) bool {
	if e.HasColdCopy() {
		return true
	}
	if e.ColdLSN != 0 || m.lsns == nil {
		return false
	}
	lsn, err := m.lsns.ReadLSN(e.Key)
	return err == nil && lsn == e.LSN
}

// Sweep demotes residents idle for longer than IdleWindow whose access rate
// has decayed below DemoteRate, coldest first. It returns how many
// documents moved; on a cold write failure it stops and returns the error
// with the count so far.
func (m *Manager) Sweep(now time.Time) (int, error) {
	decay := m.index.Decay()
	var candidates []*resident
	for _, r := range m.residents {
		s := r.entry.Stats
		if now.Sub(s.LastAccess) > m.cfg.IdleWindow && decay.Rate(s, now) < m.cfg.DemoteRate {
			candidates = append(candidates, r)
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].rank < candidates[j].rank })

	moved := 0
	for _, r := range candidates {
		if err := m.demote(r, ReasonIdle); err != nil {
			return moved, err
		}
		moved++
	}
	if moved > 0 {
		m.logger.Debug("swept idle documents", logging.Count(moved))
	}
	return moved, nil
}

// Stats returns a snapshot of tier counters
func (m *Manager) Stats() Stats {
	s := m.stats
	s.HotDocuments = len(m.residents)
	s.HotBytes = m.hotBytes
	return s
}
