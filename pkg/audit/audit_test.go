package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_WrapsAndOrdersNewestFirst(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Log(&Event{Action: "PUT", Key: fmt.Sprintf("k%d", i), Status: StatusSuccess}))
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, int64(5), r.Total())

	got := r.Recent(0, Filter{})
	require.Len(t, got, 3)
	assert.Equal(t, "k4", got[0].Key)
	assert.Equal(t, "k2", got[2].Key)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())

	assert.Len(t, r.Recent(2, Filter{}), 2)
}

func TestRing_Filter(t *testing.T) {
	r := NewRing(10)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Log(&Event{Subject: "ingest", Action: "PUT", Key: "a", Status: StatusSuccess, Timestamp: base})
	r.Log(&Event{Subject: "ingest", Action: "DELETE", Key: "a", Status: StatusSuccess, Timestamp: base.Add(time.Minute)})
	r.Log(&Event{Subject: "ops", Action: "SWEEP", Status: StatusSuccess, Timestamp: base.Add(2 * time.Minute)})
	r.Log(&Event{Action: "PUT", Key: "b", Status: StatusDenied, HTTPStatus: 401, Timestamp: base.Add(3 * time.Minute)})

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"subject", Filter{Subject: "ingest"}, 2},
		{"action", Filter{Action: "PUT"}, 2},
		{"key", Filter{Key: "a"}, 2},
		{"denied", Filter{Status: StatusDenied}, 1},
		{"since", Filter{Since: base.Add(90 * time.Second)}, 2},
		{"combined", Filter{Subject: "ingest", Action: "DELETE"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, r.Recent(0, tt.filter), tt.want)
		})
	}
}

func TestRing_Concurrent(t *testing.T) {
	r := NewRing(50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Log(&Event{Action: "PUT"})
				r.Recent(5, Filter{})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(800), r.Total())
	assert.Equal(t, 50, r.Len())
}

type failingLogger struct{ calls int }

func (f *failingLogger) Log(*Event) error {
	f.calls++
	return errors.New("disk full")
}

func TestTee(t *testing.T) {
	ring := NewRing(4)
	bad := &failingLogger{}
	tee := Tee{bad, nil, ring}

	err := tee.Log(&Event{Action: "PUT", Key: "k"})
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, bad.calls)
	require.Equal(t, 1, ring.Len())
	assert.NotEmpty(t, ring.Recent(1, Filter{})[0].ID)
}

func TestEventString(t *testing.T) {
	e := &Event{Action: "DELETE", Key: "user:1", Status: StatusSuccess, HTTPStatus: 200, Timestamp: time.Unix(0, 0).UTC()}
	s := e.String()
	assert.Contains(t, s, "anonymous")
	assert.Contains(t, s, `"user:1"`)
}

func TestFileLogger_ChainSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")

	l, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, l.Log(&Event{Subject: "ingest", Action: "PUT", Key: "a", Status: StatusSuccess}))
	require.NoError(t, l.Log(&Event{Subject: "ingest", Action: "DELETE", Key: "a", Status: StatusSuccess}))
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Log(&Event{Action: "PUT"}), ErrClosed)

	l, err = OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), l.Count())
	require.NoError(t, l.Log(&Event{Subject: "ops", Action: "SWEEP", Status: StatusSuccess}))
	require.NoError(t, l.Close())

	count, last, err := Verify(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.Len(t, last, 64)
}

func TestVerify_DetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := OpenFile(path)
	require.NoError(t, err)
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, l.Log(&Event{Action: "PUT", Key: key, Status: StatusSuccess}))
	}
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	t.Run("edited", func(t *testing.T) {
		edited := strings.Replace(string(data), `"key":"b"`, `"key":"z"`, 1)
		require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))
		_, _, err := Verify(path)
		assert.ErrorIs(t, err, ErrBrokenChain)
		assert.ErrorContains(t, err, "line 2")

		_, err = OpenFile(path)
		assert.ErrorIs(t, err, ErrBrokenChain)
	})

	t.Run("removed", func(t *testing.T) {
		lines := strings.SplitAfter(string(data), "\n")
		require.NoError(t, os.WriteFile(path, []byte(lines[0]+lines[2]), 0o644))
		_, _, err := Verify(path)
		assert.ErrorIs(t, err, ErrBrokenChain)
	})
}
