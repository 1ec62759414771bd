package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dd0wney/burrowdb/pkg/fsutil"
)

var (
	ErrClosed      = errors.New("audit log is closed")
	ErrBrokenChain = errors.New("audit hash chain broken")
)

// chainedEvent is one line of the audit file. Hash covers the line with
// Hash empty; PreviousHash links it to the line before.
type chainedEvent struct {
	*Event
	PreviousHash string `json:"previous_hash,omitempty"`
	Hash         string `json:"hash"`
}

func (c *chainedEvent) digest() (string, error) {
	saved := c.Hash
	c.Hash = ""
	data, err := json.Marshal(c)
	c.Hash = saved
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// FileLogger appends events to a JSON-lines file, fsyncing each one
type FileLogger struct {
	path     string
	file     *os.File
	writer   *bufio.Writer
	lastHash string
	count    int64
	closed   bool
	mu       sync.Mutex
}

// OpenFile opens or creates the audit file at path and resumes its chain
func OpenFile(path string) (*FileLogger, error) {
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	count, last, err := Verify(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, fsutil.FilePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &FileLogger{
		path:     path,
		file:     file,
		writer:   bufio.NewWriter(file),
		lastHash: last,
		count:    count,
	}, nil
}

// Log appends event and syncs it to disk
func (l *FileLogger) Log(event *Event) error {
	prepare(event)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	line := &chainedEvent{Event: event, PreviousHash: l.lastHash}
	hash, err := line.digest()
	if err != nil {
		return fmt.Errorf("failed to hash audit event: %w", err)
	}
	line.Hash = hash

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	data = append(data, '\n')
	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	l.lastHash = hash
	l.count++
	return nil
}

// Count returns the number of events in the file
func (l *FileLogger) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Path returns the file location
func (l *FileLogger) Path() string {
	return l.path
}

func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	flushErr := l.writer.Flush()
	closeErr := l.file.Close()
	return errors.Join(flushErr, closeErr)
}

// Verify walks the hash chain of the file at path. It returns the number of
// events and the last hash, or ErrBrokenChain naming the first bad line.
func Verify(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		count int64
		prev  string
	)
	for scanner.Scan() {
		count++
		line := chainedEvent{Event: &Event{}}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return 0, "", fmt.Errorf("%w: line %d: %v", ErrBrokenChain, count, err)
		}
		if line.PreviousHash != prev {
			return 0, "", fmt.Errorf("%w: line %d does not follow its predecessor", ErrBrokenChain, count)
		}
		want, err := line.digest()
		if err != nil {
			return 0, "", err
		}
		if want != line.Hash {
			return 0, "", fmt.Errorf("%w: line %d was modified", ErrBrokenChain, count)
		}
		prev = line.Hash
	}
	if err := scanner.Err(); err != nil {
		return 0, "", fmt.Errorf("failed to read audit log: %w", err)
	}
	return count, prev, nil
}
