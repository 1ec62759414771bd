package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/golang/snappy"

	"github.com/dd0wney/burrowdb/pkg/pools"
)

// Frame: [PayloadLen:4][CRC32C:4][Payload:N]
// Payload: [LSN:8][Op:1][Flags:1][Timestamp:8][KeyLen:4][Key][ValueLen:4][Value]
const (
	frameHeaderSize = 8
	minPayloadSize  = 8 + 1 + 1 + 8 + 4 + 4
	maxPayloadSize  = 1 << 30

	payloadReadChunk = 64 << 10

	flagSnappy byte = 1 << 0
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// encodeRecord builds the on-disk frame for rec in a pooled buffer; the
// caller returns it with pools.PutBytes. When compress is set the value is
// stored snappy-encoded, but only if that is actually smaller.
func encodeRecord(rec *Record, compress bool) ([]byte, error) {
	if len(rec.Key) > math.MaxUint32 {
		return nil, fmt.Errorf("key too large: %d bytes", len(rec.Key))
	}

	value := rec.Value
	var flags byte
	if compress && len(value) > 0 {
		if enc := snappy.Encode(nil, value); len(enc) < len(value) {
			value = enc
			flags |= flagSnappy
		}
	}

	payloadLen := minPayloadSize + len(rec.Key) + len(value)
	if payloadLen > maxPayloadSize {
		return nil, fmt.Errorf("record too large: %d bytes", payloadLen)
	}

	buf := pools.GetBytesSized(frameHeaderSize + payloadLen)
	p := buf[frameHeaderSize:]
	off := 0

	binary.LittleEndian.PutUint64(p[off:], rec.LSN)
	off += 8
	p[off] = byte(rec.Op)
	off++
	p[off] = flags
	off++
	binary.LittleEndian.PutUint64(p[off:], uint64(rec.Timestamp))
	off += 8
	binary.LittleEndian.PutUint32(p[off:], uint32(len(rec.Key)))
	off += 4
	off += copy(p[off:], rec.Key)
	binary.LittleEndian.PutUint32(p[off:], uint32(len(value)))
	off += 4
	copy(p[off:], value)

	binary.LittleEndian.PutUint32(buf[0:], uint32(payloadLen))
	binary.LittleEndian.PutUint32(buf[4:], crc32.Checksum(p, castagnoli))
	return buf, nil
}

// readRecord reads one frame from r. It returns io.EOF only on a clean
// boundary; every partial or malformed frame is reported as ErrCorruptLog.
// Other read failures are returned unchanged.
// The returned size is the number of bytes the frame occupies on disk.
func readRecord(r *bufio.Reader) (*Record, int64, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, fmt.Errorf("%w: truncated frame header", ErrCorruptLog)
		}
		return nil, 0, err
	}

	payloadLen := binary.LittleEndian.Uint32(header[0:])
	checksum := binary.LittleEndian.Uint32(header[4:])
	if payloadLen < minPayloadSize || payloadLen > maxPayloadSize {
		return nil, 0, fmt.Errorf("%w: invalid payload length %d", ErrCorruptLog, payloadLen)
	}

	payload, err := readPayload(r, int(payloadLen))
	if err != nil {
		return nil, 0, err
	}
	if got := crc32.Checksum(payload, castagnoli); got != checksum {
		return nil, 0, fmt.Errorf("%w: checksum mismatch: expected %08x, got %08x", ErrCorruptLog, checksum, got)
	}

	rec, err := decodePayload(payload)
	if err != nil {
		return nil, 0, err
	}
	return rec, int64(frameHeaderSize) + int64(payloadLen), nil
}

// readPayload reads exactly n bytes. Memory grows with the bytes actually
// read, so a corrupt length near maxPayloadSize cannot force a large
// allocation ahead of a short tail.
func readPayload(r io.Reader, n int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(min(n, payloadReadChunk))
	got, err := buf.ReadFrom(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, err
	}
	if got < int64(n) {
		return nil, fmt.Errorf("%w: truncated payload", ErrCorruptLog)
	}
	return buf.Bytes(), nil
}

func decodePayload(p []byte) (*Record, error) {
	rec := &Record{}
	off := 0

	rec.LSN = binary.LittleEndian.Uint64(p[off:])
	off += 8
	rec.Op = OpType(p[off])
	off++
	flags := p[off]
	off++
	rec.Timestamp = int64(binary.LittleEndian.Uint64(p[off:]))
	off += 8

	if !rec.Op.Valid() {
		return nil, fmt.Errorf("%w: unknown op %d at lsn %d", ErrCorruptLog, p[8], rec.LSN)
	}

	keyLen := int(binary.LittleEndian.Uint32(p[off:]))
	off += 4
	if keyLen > len(p)-off-4 {
		return nil, fmt.Errorf("%w: key length %d overruns payload", ErrCorruptLog, keyLen)
	}
	rec.Key = string(p[off : off+keyLen])
	off += keyLen

	valueLen := int(binary.LittleEndian.Uint32(p[off:]))
	off += 4
	if valueLen != len(p)-off {
		return nil, fmt.Errorf("%w: value length %d does not match payload", ErrCorruptLog, valueLen)
	}

	if rec.Op == OpDelete {
		if valueLen != 0 {
			return nil, fmt.Errorf("%w: delete record carries a value", ErrCorruptLog)
		}
		return rec, nil
	}

	value := p[off:]
	if flags&flagSnappy != 0 {
		decoded, err := snappy.Decode(nil, value)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy decode: %v", ErrCorruptLog, err)
		}
		value = decoded
	}
	rec.Value = value
	return rec, nil
}
