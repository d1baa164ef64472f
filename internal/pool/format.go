package pool

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc64"
	"time"
)

// On-disk layout, little-endian throughout (spec §6):
//
//	Header (32B): magic "EGD\0" (4) | version u32 (=1) | max_entropy i64 |
//	              chunk_capacity i32 | chunk_count u32 | created_at i64 (ns)
//	Per chunk:    chunk_id i64 | chunk_size u32 | bytes (chunk_size B)
//	Footer (32B): total_bytes i64 | checksum u64 (CRC-64-ISO over header+chunks) |
//	              magic "EGD\0" (4) | 12B zero reserved
var magic = [4]byte{'E', 'G', 'D', 0}

const formatVersion uint32 = 1

const headerSize = 4 + 4 + 8 + 4 + 4 + 8 // 32
const footerSize = 8 + 8 + 4 + 12        // 32

var crcTable = crc64.MakeTable(crc64.ISO)

// ErrCorrupted reports a structurally or checksum-invalid persisted image.
// Every decodeImage failure returns this one type, so
// errors.As(err, &target) with a *ErrCorrupted target consistently
// identifies the "detected pool-file corruption" case spec §7 describes.
type ErrCorrupted struct {
	Reason string
}

func (e *ErrCorrupted) Error() string {
	return fmt.Sprintf("pool: corrupted persisted image: %s", e.Reason)
}

// encodeImage serializes a consistent snapshot into spec §6's binary
// format. createdAt is the pool's original creation time, preserved
// across persist/load round-trips.
func encodeImage(chunks []*Chunk, maxTotalBytes int64, chunkCapacity int, createdAt time.Time, totalBytes int64) []byte {
	var buf bytes.Buffer

	buf.Write(magic[:])
	writeU32(&buf, formatVersion)
	writeI64(&buf, maxTotalBytes)
	writeI32(&buf, int32(chunkCapacity))
	writeU32(&buf, uint32(len(chunks)))
	writeI64(&buf, createdAt.UnixNano())

	for _, c := range chunks {
		writeI64(&buf, c.id)
		writeU32(&buf, uint32(len(c.bytes)))
		buf.Write(c.bytes)
	}

	checksum := crc64.Checksum(buf.Bytes(), crcTable)

	writeI64(&buf, totalBytes)
	writeU64(&buf, checksum)
	buf.Write(magic[:])
	buf.Write(make([]byte, 12))

	return buf.Bytes()
}

type decodedImage struct {
	maxTotalBytes int64
	chunkCapacity int
	createdAt     time.Time
	totalBytes    int64
	chunks        []*Chunk
}

// decodeImage parses and fully validates a persisted image: both magics,
// version equality, checksum equality, per-chunk size bounds, and that
// total_bytes equals the sum across chunks. Any mismatch returns
// *ErrCorrupted and nothing else is returned.
func decodeImage(data []byte) (*decodedImage, error) {
	if len(data) < headerSize+footerSize {
		return nil, &ErrCorrupted{Reason: "file shorter than header+footer"}
	}

	if !bytes.Equal(data[0:4], magic[:]) {
		return nil, &ErrCorrupted{Reason: "bad header magic"}
	}

	r := bytes.NewReader(data[4:headerSize])
	var version uint32
	var maxEntropy int64
	var chunkCapacity int32
	var chunkCount uint32
	var createdAtNS int64
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, &ErrCorrupted{Reason: "truncated header"}
	}
	if err := binary.Read(r, binary.LittleEndian, &maxEntropy); err != nil {
		return nil, &ErrCorrupted{Reason: "truncated header"}
	}
	if err := binary.Read(r, binary.LittleEndian, &chunkCapacity); err != nil {
		return nil, &ErrCorrupted{Reason: "truncated header"}
	}
	if err := binary.Read(r, binary.LittleEndian, &chunkCount); err != nil {
		return nil, &ErrCorrupted{Reason: "truncated header"}
	}
	if err := binary.Read(r, binary.LittleEndian, &createdAtNS); err != nil {
		return nil, &ErrCorrupted{Reason: "truncated header"}
	}

	if version != formatVersion {
		return nil, &ErrCorrupted{Reason: fmt.Sprintf("unsupported version %d", version)}
	}

	body := data[headerSize : len(data)-footerSize]
	footer := data[len(data)-footerSize:]

	chunks := make([]*Chunk, 0, chunkCount)
	offset := 0
	var sumBytes int64
	for i := uint32(0); i < chunkCount; i++ {
		if offset+8+4 > len(body) {
			return nil, &ErrCorrupted{Reason: "truncated chunk header"}
		}
		id := int64(binary.LittleEndian.Uint64(body[offset : offset+8]))
		offset += 8
		size := binary.LittleEndian.Uint32(body[offset : offset+4])
		offset += 4
		if offset+int(size) > len(body) {
			return nil, &ErrCorrupted{Reason: "chunk size exceeds remaining body"}
		}
		if int64(size) > int64(chunkCapacity) {
			return nil, &ErrCorrupted{Reason: "chunk size exceeds declared chunk capacity"}
		}
		chunkBytes := make([]byte, size)
		copy(chunkBytes, body[offset:offset+int(size)])
		offset += int(size)

		c := &Chunk{
			id:        id,
			capacity:  int(chunkCapacity),
			bytes:     chunkBytes,
			createdAt: time.Unix(0, createdAtNS).UTC(),
		}
		chunks = append(chunks, c)
		sumBytes += int64(size)
	}
	if offset != len(body) {
		return nil, &ErrCorrupted{Reason: "trailing bytes after declared chunks"}
	}

	totalBytes := int64(binary.LittleEndian.Uint64(footer[0:8]))
	checksum := binary.LittleEndian.Uint64(footer[8:16])
	if !bytes.Equal(footer[16:20], magic[:]) {
		return nil, &ErrCorrupted{Reason: "bad footer magic"}
	}

	wantChecksum := crc64.Checksum(data[:headerSize+len(body)], crcTable)
	if checksum != wantChecksum {
		return nil, &ErrCorrupted{Reason: "checksum mismatch"}
	}

	if totalBytes != sumBytes {
		return nil, &ErrCorrupted{Reason: "total_bytes does not match sum of chunk sizes"}
	}

	return &decodedImage{
		maxTotalBytes: maxEntropy,
		chunkCapacity: int(chunkCapacity),
		createdAt:     time.Unix(0, createdAtNS).UTC(),
		totalBytes:    totalBytes,
		chunks:        chunks,
	}, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeI32(buf *bytes.Buffer, v int32) {
	writeU32(buf, uint32(v))
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func writeI64(buf *bytes.Buffer, v int64) {
	writeU64(buf, uint64(v))
}
