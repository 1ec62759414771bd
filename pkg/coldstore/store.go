// Package coldstore persists demoted documents outside of memory. A cold
// store holds at most one value per key and is only ever written with the
// current value of a live key; the log remains the source of truth.
package coldstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	// ErrNotFound is returned by Read when the store holds no value for the key
	ErrNotFound = errors.New("cold document not found")
	// ErrCorrupt is returned when a stored document fails validation
	ErrCorrupt = errors.New("cold document corrupt")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("cold store closed")
)

// Store is the contract the tier manager relies on.
type Store interface {
	// Read returns the stored value for key or ErrNotFound
	Read(key string) ([]byte, error)
	// Write durably stores value as the copy of key produced by lsn,
	// replacing any previous copy
	Write(key string, value []byte, lsn uint64) error
	// Delete removes the copy of key; deleting an absent key succeeds
	Delete(key string) error
	Close() error
}

// objectName maps a key to a fixed-length, filesystem and URL safe name.
// The first byte of the digest shards names across 256 directories.
func objectName(key string) (shard, name string) {
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return h[:2], h + ".cold"
}
