// Package control implements the loopback-only control server (C7, spec
// §4.7): accept → read one line (≤ 1 KiB) → parse JSON → dispatch → write
// one line JSON response → close, with a 30-second read/write timeout.
package control

import (
	"encoding/json"
	"time"

	"github.com/eliteGoblin/egd/internal/domain"
)

// maxRequestBytes bounds a single request line (spec §4.7, §6).
const maxRequestBytes = 1024

// connTimeout is the per-connection read/write deadline (spec §4.7).
const connTimeout = 30 * time.Second

// Status codes used in domain.ControlResponse.StatusCode (spec §4.7, §7).
const (
	StatusOK                 = 200
	StatusBadRequest         = 400
	StatusNotFound           = 404
	StatusInternalError      = 500
	StatusServiceUnavailable = 503
)

// StatusResponse is the `status` command's data payload.
type StatusResponse struct {
	EntropyBytes int64     `json:"entropy_bytes"`
	MaxEntropy   int64     `json:"max_entropy"`
	ChunkCount   int       `json:"chunk_count"`
	IsFull       bool      `json:"is_full"`
	LastPersist  time.Time `json:"last_persist"`
}

// PersistResponse is the `persist` command's data payload.
type PersistResponse struct {
	BytesWritten int64     `json:"bytes_written"`
	FilePath     string    `json:"file_path"`
	PersistTime  time.Time `json:"persist_time"`
}

// QuitResponse is the `quit` command's data payload.
type QuitResponse struct {
	Message       string `json:"message"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// SourceSummary is one entry of the supplemental `sources` command's
// array payload (SPEC_FULL §3.1).
type SourceSummary struct {
	Name                string `json:"name"`
	Kind                string `json:"kind"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastSuccess         string `json:"last_success,omitempty"`
}

// Backend is everything the control server needs from the running
// daemon; Scheduler implements it.
type Backend interface {
	Stats() domain.PoolStats
	PersistNow() error
	PersistPath() string
	UptimeSeconds() int64
	SourceStatuses() map[string]domain.SourceRuntime
	SourceKinds() map[string]domain.SourceKind
}

func encodeData(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
