package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func openTestWAL(t *testing.T, path string, opts Options) *WAL {
	t.Helper()
	w, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	return w
}

func mustAppend(t *testing.T, w *WAL, op OpType, key, value string) uint64 {
	t.Helper()
	rec := &Record{Op: op, Key: key}
	if op == OpPut {
		rec.Value = []byte(value)
	}
	lsn, err := w.Append(rec)
	if err != nil {
		t.Fatalf("Failed to append %s %s: %v", op, key, err)
	}
	return lsn
}

func collect(t *testing.T, w *WAL) []*Record {
	t.Helper()
	var out []*Record
	if err := w.Replay(func(r *Record) error {
		out = append(out, r)
		return nil
	}); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	return out
}

func TestWAL_AppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w := openTestWAL(t, path, Options{})
	defer w.Close()

	if lsn := mustAppend(t, w, OpPut, "a", `{"n":1}`); lsn != 1 {
		t.Errorf("Expected LSN 1, got %d", lsn)
	}
	if lsn := mustAppend(t, w, OpPut, "b", `{"n":2}`); lsn != 2 {
		t.Errorf("Expected LSN 2, got %d", lsn)
	}
	if lsn := mustAppend(t, w, OpDelete, "a", ""); lsn != 3 {
		t.Errorf("Expected LSN 3, got %d", lsn)
	}

	records := collect(t, w)
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}

	want := []struct {
		op    OpType
		key   string
		value string
	}{
		{OpPut, "a", `{"n":1}`},
		{OpPut, "b", `{"n":2}`},
		{OpDelete, "a", ""},
	}
	for i, exp := range want {
		r := records[i]
		if r.LSN != uint64(i+1) || r.Op != exp.op || r.Key != exp.key || string(r.Value) != exp.value {
			t.Errorf("record %d = %+v, want %+v", i, r, exp)
		}
		if r.Timestamp == 0 {
			t.Errorf("record %d has no timestamp", i)
		}
	}
	if records[2].Value != nil {
		t.Errorf("delete record should carry no value, got %q", records[2].Value)
	}
}

func TestWAL_ReopenContinuesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w := openTestWAL(t, path, Options{})
	mustAppend(t, w, OpPut, "a", "1")
	mustAppend(t, w, OpPut, "b", "2")
	size := w.Size()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w = openTestWAL(t, path, Options{})
	defer w.Close()

	if w.GetCurrentLSN() != 2 {
		t.Errorf("GetCurrentLSN = %d, want 2", w.GetCurrentLSN())
	}
	if w.Size() != size {
		t.Errorf("Size = %d, want %d", w.Size(), size)
	}
	if w.Recovery() != nil {
		t.Errorf("clean log reported recovery: %v", w.Recovery())
	}
	if lsn := mustAppend(t, w, OpPut, "c", "3"); lsn != 3 {
		t.Errorf("Expected LSN 3 after reopen, got %d", lsn)
	}
}

func TestWAL_TruncatedTailIsRecovered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w := openTestWAL(t, path, Options{})
	mustAppend(t, w, OpPut, "a", "first")
	mustAppend(t, w, OpPut, "b", "second")
	goodSize := w.Size()
	mustAppend(t, w, OpPut, "c", "third-value-that-gets-cut")
	w.Close()

	// Simulate a crash mid-append by chopping the final record in half.
	full, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cut := int64(len(full)) - 10
	if err := os.Truncate(path, cut); err != nil {
		t.Fatal(err)
	}

	w = openTestWAL(t, path, Options{})
	defer w.Close()

	rec := w.Recovery()
	if rec == nil {
		t.Fatal("expected a recovery report for the truncated tail")
	}
	if rec.Offset != goodSize {
		t.Errorf("recovery offset = %d, want %d", rec.Offset, goodSize)
	}
	if rec.Discarded != cut-goodSize {
		t.Errorf("discarded = %d, want %d", rec.Discarded, cut-goodSize)
	}
	if !errors.Is(rec, ErrCorruptLog) {
		t.Errorf("recovery error should wrap ErrCorruptLog: %v", rec)
	}

	records := collect(t, w)
	if len(records) != 2 {
		t.Fatalf("Expected 2 surviving records, got %d", len(records))
	}
	if records[1].Key != "b" {
		t.Errorf("last surviving key = %q, want b", records[1].Key)
	}

	if lsn := mustAppend(t, w, OpPut, "c", "again"); lsn != 3 {
		t.Errorf("Expected LSN 3 after recovery, got %d", lsn)
	}
	records = collect(t, w)
	if len(records) != 3 || string(records[2].Value) != "again" {
		t.Errorf("append after recovery not replayable: %+v", records)
	}
}

func TestWAL_ChecksumMismatchStopsAtLastValidRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w := openTestWAL(t, path, Options{})
	mustAppend(t, w, OpPut, "a", "aaaa")
	firstEnd := w.Size()
	mustAppend(t, w, OpPut, "b", "bbbb")
	mustAppend(t, w, OpPut, "c", "cccc")
	w.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Flip the last byte of the second record's value.
	idx := bytes.Index(data, []byte("bbbb"))
	data[idx+3] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	w = openTestWAL(t, path, Options{})
	defer w.Close()

	if w.Recovery() == nil || w.Recovery().Offset != firstEnd {
		t.Fatalf("recovery = %v, want offset %d", w.Recovery(), firstEnd)
	}
	if !strings.Contains(w.Recovery().Error(), "checksum") {
		t.Errorf("expected checksum error, got %v", w.Recovery())
	}
	if got := len(collect(t, w)); got != 1 {
		t.Errorf("Expected 1 record, got %d", got)
	}
	if w.GetCurrentLSN() != 1 {
		t.Errorf("GetCurrentLSN = %d, want 1", w.GetCurrentLSN())
	}
}

func TestWAL_GarbageTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w := openTestWAL(t, path, Options{})
	mustAppend(t, w, OpPut, "a", "1")
	w.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01})
	f.Close()

	w = openTestWAL(t, path, Options{})
	defer w.Close()

	if w.Recovery() == nil || w.Recovery().Discarded != 6 {
		t.Errorf("expected 6 discarded bytes, got %v", w.Recovery())
	}
	if got := len(collect(t, w)); got != 1 {
		t.Errorf("Expected 1 record, got %d", got)
	}
}

func TestReadRecord_OversizedLengthDoesNotPreallocate(t *testing.T) {
	var frame bytes.Buffer
	header := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint32(header[0:], maxPayloadSize)
	frame.Write(header)
	frame.Write(bytes.Repeat([]byte{0x42}, 100))
	r := bufio.NewReader(&frame)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, _, err := readRecord(r)
	runtime.ReadMemStats(&after)

	if !errors.Is(err, ErrCorruptLog) {
		t.Fatalf("expected ErrCorruptLog, got %v", err)
	}
	if grew := after.TotalAlloc - before.TotalAlloc; grew > 8<<20 {
		t.Errorf("reading a truncated frame allocated %d bytes", grew)
	}
}

func TestWAL_IteratorIsRestartable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w := openTestWAL(t, path, Options{})
	defer w.Close()

	for _, k := range []string{"x", "y", "z"} {
		mustAppend(t, w, OpPut, k, k)
	}

	for pass := 0; pass < 2; pass++ {
		it, err := w.Iterator()
		if err != nil {
			t.Fatalf("Iterator: %v", err)
		}
		var keys []string
		for it.Next() {
			keys = append(keys, it.Record().Key)
		}
		if err := it.Err(); err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		it.Close()
		if strings.Join(keys, ",") != "x,y,z" {
			t.Errorf("pass %d keys = %v", pass, keys)
		}
	}
}

func TestWAL_CompressedValues(t *testing.T) {
	dir := t.TempDir()
	value := strings.Repeat(`{"field":"repetitive"},`, 200)

	plain := openTestWAL(t, filepath.Join(dir, "plain.log"), Options{})
	mustAppend(t, plain, OpPut, "doc", value)
	plainSize := plain.Size()
	plain.Close()

	packed := openTestWAL(t, filepath.Join(dir, "packed.log"), Options{CompressValues: true})
	mustAppend(t, packed, OpPut, "doc", value)
	mustAppend(t, packed, OpPut, "tiny", "x")
	defer packed.Close()

	records := collect(t, packed)
	if string(records[0].Value) != value {
		t.Error("compressed value did not round-trip")
	}
	if string(records[1].Value) != "x" {
		t.Errorf("incompressible value = %q, want x", records[1].Value)
	}

	// The compressed record alone must be smaller than the plain one.
	it, _ := packed.Iterator()
	defer it.Close()
	it.Next()
	if it.offset >= plainSize {
		t.Errorf("compressed record size %d not below plain %d", it.offset, plainSize)
	}
}

func TestWAL_ClockStampsRecords(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w := openTestWAL(t, filepath.Join(t.TempDir(), "wal.log"), Options{
		Clock: func() time.Time { return fixed },
	})
	defer w.Close()

	mustAppend(t, w, OpPut, "a", "1")
	records := collect(t, w)
	if !records[0].Time().Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", records[0].Time(), fixed)
	}
}

func TestWAL_ClosedOperations(t *testing.T) {
	w := openTestWAL(t, filepath.Join(t.TempDir(), "wal.log"), Options{})
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if _, err := w.Append(&Record{Op: OpPut, Key: "a"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after close = %v, want ErrClosed", err)
	}
	if _, err := w.Iterator(); !errors.Is(err, ErrClosed) {
		t.Errorf("Iterator after close = %v, want ErrClosed", err)
	}
}

func TestWAL_InvalidOp(t *testing.T) {
	w := openTestWAL(t, filepath.Join(t.TempDir(), "wal.log"), Options{})
	defer w.Close()

	if _, err := w.Append(&Record{Op: OpType(9), Key: "a"}); err == nil {
		t.Error("expected error for unknown op")
	}
	if w.GetCurrentLSN() != 0 {
		t.Errorf("failed append consumed an LSN: %d", w.GetCurrentLSN())
	}
}

func TestWAL_ReplayHandlerError(t *testing.T) {
	w := openTestWAL(t, filepath.Join(t.TempDir(), "wal.log"), Options{})
	defer w.Close()
	mustAppend(t, w, OpPut, "a", "1")

	boom := errors.New("boom")
	err := w.Replay(func(*Record) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("Replay error = %v, want wrapped boom", err)
	}
}
