package index

import (
	"math"
	"time"
)

// DefaultHalfLife is how long it takes an idle key's access score to halve
const DefaultHalfLife = time.Minute

// Stats are the per-key access statistics that drive tier placement.
//
// Score is an exponentially decayed access count, valid as of LastAccess:
//
//	Score(t) = Score(LastAccess) * 2^(-(t - LastAccess) / HalfLife)
//
// and every access adds 1 after decaying. AccessCount never decays.
type Stats struct {
	AccessCount uint64
	Score       float64
	LastAccess  time.Time
}

// Decay evaluates Stats under a fixed half-life. Epoch anchors Rank so its
// values stay small; any fixed instant works.
type Decay struct {
	HalfLife time.Duration
	Epoch    time.Time
}

// NewDecay returns a Decay anchored at epoch. A non-positive half-life
// selects DefaultHalfLife.
func NewDecay(halfLife time.Duration, epoch time.Time) Decay {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	return Decay{HalfLife: halfLife, Epoch: epoch}
}

// ScoreAt returns the decayed score at now. Clock skew backwards is treated
// as no elapsed time.
func (d Decay) ScoreAt(s Stats, now time.Time) float64 {
	if s.Score == 0 {
		return 0
	}
	elapsed := now.Sub(s.LastAccess)
	if elapsed <= 0 {
		return s.Score
	}
	return s.Score * math.Exp2(-float64(elapsed)/float64(d.HalfLife))
}

// Touch records one access at now
func (d Decay) Touch(s *Stats, now time.Time) {
	s.Score = d.ScoreAt(*s, now) + 1
	s.AccessCount++
	if now.After(s.LastAccess) {
		s.LastAccess = now
	}
}

// Rate estimates accesses per second at now. A key accessed steadily at r/s
// converges to Rate == r.
func (d Decay) Rate(s Stats, now time.Time) float64 {
	return d.ScoreAt(s, now) * math.Ln2 / d.HalfLife.Seconds()
}

// Rank orders keys by decayed score without reference to the current time:
// for any two keys, ScoreAt(a, t) < ScoreAt(b, t) iff Rank(a) < Rank(b), for
// every t after both last accesses. Lower is colder.
func (d Decay) Rank(s Stats) float64 {
	if s.Score <= 0 {
		return math.Inf(-1)
	}
	return math.Log2(s.Score) + float64(s.LastAccess.Sub(d.Epoch))/float64(d.HalfLife)
}
