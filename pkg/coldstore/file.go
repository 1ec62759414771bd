package coldstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/exp/mmap"

	"github.com/dd0wney/burrowdb/pkg/fsutil"
	"github.com/dd0wney/burrowdb/pkg/logging"
	"github.com/dd0wney/burrowdb/pkg/pools"
)

// FileOptions configures a FileStore
type FileOptions struct {
	// UseMmap reads documents through a read-only memory map instead of
	// os.ReadFile
	UseMmap bool
	// Compress snappy-compresses values when that makes them smaller
	Compress bool
	Logger   logging.Logger
}

// FileStore keeps one file per key under a sharded directory tree:
//
//	<dir>/<h[0:2]>/<sha256(key) hex>.cold
//
// Every write replaces the file atomically, so a crash leaves either the old
// or the new copy.
type FileStore struct {
	dir    string
	opts   FileOptions
	logger logging.Logger
	closed atomic.Bool
}

var _ Store = (*FileStore)(nil)

// OpenFileStore opens (creating if needed) a file-backed cold store rooted at dir
func OpenFileStore(dir string, opts FileOptions) (*FileStore, error) {
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create cold store directory: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FileStore{
		dir:    dir,
		opts:   opts,
		logger: logger.With(logging.Component("coldstore"), logging.Path(dir)),
	}, nil
}

// Dir returns the root directory
func (s *FileStore) Dir() string {
	return s.dir
}

// PathFor returns the file that holds key's cold copy
func (s *FileStore) PathFor(key string) string {
	shard, name := objectName(key)
	return filepath.Join(s.dir, shard, name)
}

// Read returns the stored value for key
func (s *FileStore) Read(key string) ([]byte, error) {
	doc, err := s.readDocument(key)
	if err != nil {
		return nil, err
	}
	return doc.Value, nil
}

// ReadLSN returns the LSN recorded with key's cold copy
func (s *FileStore) ReadLSN(key string) (uint64, error) {
	doc, err := s.readDocument(key)
	if err != nil {
		return 0, err
	}
	return doc.LSN, nil
}

func (s *FileStore) readDocument(key string) (*document, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	path := s.PathFor(key)

	var (
		buf []byte
		err error
	)
	if s.opts.UseMmap {
		buf, err = readMapped(path)
	} else {
		buf, err = os.ReadFile(path)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cold document: %w", err)
	}

	doc, err := decodeDocument(buf)
	if err != nil {
		s.logger.Error("cold document failed validation", logging.Key(key), logging.Error(err))
		return nil, err
	}
	if doc.Key != key {
		return nil, fmt.Errorf("%w: file for %q holds key %q", ErrCorrupt, key, doc.Key)
	}
	return doc, nil
}

func readMapped(path string) ([]byte, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	buf := make([]byte, r.Len())
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// Write durably stores value as key's cold copy
func (s *FileStore) Write(key string, value []byte, lsn uint64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	path := s.PathFor(key)
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}
	buf := encodeDocument(key, value, lsn, s.opts.Compress)
	defer pools.PutBytes(buf)
	if err := fsutil.WriteFileAtomic(path, buf); err != nil {
		return fmt.Errorf("failed to write cold document: %w", err)
	}
	return nil
}

// Delete removes key's cold copy if present
func (s *FileStore) Delete(key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	path := s.PathFor(key)
	if err := fsutil.RemoveIfExists(path); err != nil {
		return fmt.Errorf("failed to delete cold document: %w", err)
	}
	return nil
}

// Close marks the store closed. Files are not held open between calls.
func (s *FileStore) Close() error {
	s.closed.Store(true)
	return nil
}
