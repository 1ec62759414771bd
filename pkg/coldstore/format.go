package coldstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"

	"github.com/dd0wney/burrowdb/pkg/pools"
)

// On-disk (and on-object) layout, little endian:
//
//	[magic:4][version:1][flags:1][lsn:8][crc32c:4][klen:4][key][vlen:4][value]
//
// The checksum covers every byte except itself.
const (
	formatMagic   uint32 = 0x42435344 // "BCSD"
	formatVersion byte   = 1

	flagSnappy byte = 1 << 0

	headerSize = 4 + 1 + 1 + 8 + 4
	crcOffset  = 14
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// document is a decoded cold copy
type document struct {
	Key   string
	Value []byte
	LSN   uint64
}

// encodeDocument lays out one cold copy in a pooled buffer. Callers that do
// not keep the result return it with pools.PutBytes.
func encodeDocument(key string, value []byte, lsn uint64, compress bool) []byte {
	var flags byte
	body := value
	if compress && len(value) > 0 {
		if c := snappy.Encode(nil, value); len(c) < len(value) {
			body = c
			flags |= flagSnappy
		}
	}

	buf := pools.GetBytesSized(headerSize + 4 + len(key) + 4 + len(body))
	binary.LittleEndian.PutUint32(buf[0:4], formatMagic)
	buf[4] = formatVersion
	buf[5] = flags
	binary.LittleEndian.PutUint64(buf[6:14], lsn)

	off := headerSize
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(key)))
	off += 4
	off += copy(buf[off:], key)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(body)))
	off += 4
	copy(buf[off:], body)

	binary.LittleEndian.PutUint32(buf[crcOffset:headerSize], checksum(buf))
	return buf
}

func decodeDocument(buf []byte) (*document, error) {
	if len(buf) < headerSize+8 {
		return nil, fmt.Errorf("%w: short document (%d bytes)", ErrCorrupt, len(buf))
	}
	if m := binary.LittleEndian.Uint32(buf[0:4]); m != formatMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorrupt, m)
	}
	if buf[4] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, buf[4])
	}
	if want, got := binary.LittleEndian.Uint32(buf[crcOffset:headerSize]), checksum(buf); want != got {
		return nil, fmt.Errorf("%w: checksum mismatch (stored %#x, computed %#x)", ErrCorrupt, want, got)
	}

	flags := buf[5]
	doc := &document{LSN: binary.LittleEndian.Uint64(buf[6:14])}

	off := headerSize
	klen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if klen > len(buf)-off-4 {
		return nil, fmt.Errorf("%w: key length %d out of range", ErrCorrupt, klen)
	}
	doc.Key = string(buf[off : off+klen])
	off += klen

	vlen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if vlen != len(buf)-off {
		return nil, fmt.Errorf("%w: value length %d does not match remaining %d bytes", ErrCorrupt, vlen, len(buf)-off)
	}
	body := buf[off:]

	if flags&flagSnappy != 0 {
		v, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrCorrupt, err)
		}
		doc.Value = v
	} else {
		doc.Value = make([]byte, len(body))
		copy(doc.Value, body)
	}
	return doc, nil
}

func checksum(buf []byte) uint32 {
	c := crc32.Update(0, castagnoli, buf[:crcOffset])
	return crc32.Update(c, castagnoli, buf[headerSize:])
}
