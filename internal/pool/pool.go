package pool

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eliteGoblin/egd/internal/domain"
	"github.com/eliteGoblin/egd/internal/egderr"
)

// EntropyPool is the bounded, chunked, atomically persistable entropy
// store (C4, spec §4.4). Deposits fill the current tail chunk and spill
// into freshly allocated chunks as needed, never exceeding maxTotalBytes
// in aggregate. It is safe for concurrent use.
type EntropyPool struct {
	mu sync.RWMutex

	chunks        []*Chunk
	totalBytes    int64
	maxTotalBytes int64
	chunkCapacity int
	nextID        int64
	createdAt     time.Time
	lastPersist   time.Time
}

var _ domain.Pool = (*EntropyPool)(nil)

// New creates an empty pool bounded by maxTotalBytes in aggregate, with
// every chunk capped at chunkCapacity bytes.
func New(maxTotalBytes int64, chunkCapacity int) *EntropyPool {
	return &EntropyPool{
		maxTotalBytes: maxTotalBytes,
		chunkCapacity: chunkCapacity,
		createdAt:     time.Now(),
	}
}

// Deposit appends data to the pool, truncating at max_total_bytes, and
// returns the number of bytes actually added (spec §4.3, §4.4, S3).
func (p *EntropyPool) Deposit(data []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	room := p.maxTotalBytes - p.totalBytes
	if room <= 0 {
		return 0
	}
	if int64(len(data)) > room {
		data = data[:room]
	}

	added := 0
	for len(data) > 0 {
		tail := p.tailChunkLocked()
		if tail == nil || tail.IsFull() {
			tail = newChunk(p.nextID, p.chunkCapacity, time.Now())
			p.nextID++
			p.chunks = append(p.chunks, tail)
		}
		n := tail.Append(data)
		if n == 0 {
			// chunkCapacity is 0 or misconfigured; avoid an infinite loop.
			break
		}
		data = data[n:]
		added += n
	}

	p.totalBytes += int64(added)
	return added
}

func (p *EntropyPool) tailChunkLocked() *Chunk {
	if len(p.chunks) == 0 {
		return nil
	}
	return p.chunks[len(p.chunks)-1]
}

// Stats returns a snapshot of pool-wide statistics.
func (p *EntropyPool) Stats() domain.PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return domain.PoolStats{
		TotalBytes:    p.totalBytes,
		MaxTotalBytes: p.maxTotalBytes,
		ChunkCount:    len(p.chunks),
		IsFull:        p.totalBytes >= p.maxTotalBytes,
		LastPersist:   p.lastPersist,
	}
}

// Persist atomically serializes the pool to path: write to a temp file in
// the same directory, fsync, then rename over the destination (spec §6,
// grounded on the teacher's FileRegistry atomic-write pattern).
func (p *EntropyPool) Persist(path string) error {
	p.mu.RLock()
	image := encodeImage(p.chunks, p.maxTotalBytes, p.chunkCapacity, p.createdAt, p.totalBytes)
	p.mu.RUnlock()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".egd-pool-*.tmp")
	if err != nil {
		return egderr.Perm("pool", egderr.ErrStorageDenied, "create temp persist file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		return egderr.Perm("pool", egderr.ErrStorageDenied, "write persist image", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return egderr.Perm("pool", egderr.ErrStorageDenied, "fsync persist image", err)
	}
	if err := tmp.Close(); err != nil {
		return egderr.Perm("pool", egderr.ErrStorageDenied, "close persist temp file", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return egderr.Perm("pool", egderr.ErrStorageDenied, "chmod persist temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return egderr.Perm("pool", egderr.ErrStorageDenied, "rename persist file into place", err)
	}

	p.mu.Lock()
	p.lastPersist = time.Now()
	p.mu.Unlock()

	return nil
}

// Load replaces the pool's contents from a persisted image at path. On
// any validation failure (bad magic, version, checksum, or size
// bookkeeping) the in-memory pool is left completely unchanged and a
// fatal/permanent *egderr.Error wrapping *ErrCorrupted is returned.
func (p *EntropyPool) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return egderr.Perm("pool", egderr.ErrFetchNotFound, fmt.Sprintf("persist file %q does not exist", path), err)
		}
		return egderr.Perm("pool", egderr.ErrStorageDenied, "read persist file", err)
	}

	img, err := decodeImage(data)
	if err != nil {
		return egderr.FatalErr("pool", egderr.ErrStorageCorrupted, "decode persisted pool image", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.chunks = img.chunks
	p.maxTotalBytes = img.maxTotalBytes
	p.chunkCapacity = img.chunkCapacity
	p.createdAt = img.createdAt
	p.totalBytes = img.totalBytes

	var maxID int64 = -1
	for _, c := range p.chunks {
		if c.id > maxID {
			maxID = c.id
		}
	}
	p.nextID = maxID + 1

	return nil
}
