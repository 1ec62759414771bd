package tier

import (
	"errors"
	"fmt"
	"time"
)

// Config bounds the hot tier and sets the movement thresholds. Rates are
// accesses per second as estimated by index.Decay.
type Config struct {
	// MaxDocuments caps resident documents; 0 means no count limit
	MaxDocuments int
	// MaxBytes caps resident value bytes; 0 means no byte limit
	MaxBytes int64
	// PromoteRate is the access rate at or above which a cold read
	// promotes the document
	PromoteRate float64
	// DemoteRate is the access rate below which an idle hot document is
	// demoted by Sweep
	DemoteRate float64
	// IdleWindow is how long a document must go unread before Sweep
	// considers it
	IdleWindow time.Duration
}

const (
	DefaultMaxDocuments = 10000
	DefaultPromoteRate  = 10.0
	DefaultDemoteRate   = 1.0 / 60
	DefaultIdleWindow   = 5 * time.Minute
)

// DefaultConfig returns a count-bounded configuration
func DefaultConfig() Config {
	return Config{
		MaxDocuments: DefaultMaxDocuments,
		PromoteRate:  DefaultPromoteRate,
		DemoteRate:   DefaultDemoteRate,
		IdleWindow:   DefaultIdleWindow,
	}
}

// Validate checks that at least one bound is set and thresholds are sane
func (c Config) Validate() error {
	if c.MaxDocuments < 0 || c.MaxBytes < 0 {
		return errors.New("hot tier limits must not be negative")
	}
	if c.MaxDocuments == 0 && c.MaxBytes == 0 {
		return errors.New("hot tier needs a document or byte limit")
	}
	if c.PromoteRate < 0 || c.DemoteRate < 0 {
		return errors.New("promotion and demotion rates must not be negative")
	}
	if c.DemoteRate > c.PromoteRate {
		return fmt.Errorf("demote rate %g exceeds promote rate %g", c.DemoteRate, c.PromoteRate)
	}
	if c.IdleWindow < 0 {
		return errors.New("idle window must not be negative")
	}
	return nil
}
