package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/egd/internal/domain"
)

type fakeBackend struct {
	stats         domain.PoolStats
	persistPath   string
	persistErr    error
	persistCalled bool
	uptime        int64
	statuses      map[string]domain.SourceRuntime
	kinds         map[string]domain.SourceKind
}

func (b *fakeBackend) Stats() domain.PoolStats { return b.stats }
func (b *fakeBackend) PersistNow() error {
	b.persistCalled = true
	return b.persistErr
}
func (b *fakeBackend) PersistPath() string { return b.persistPath }
func (b *fakeBackend) UptimeSeconds() int64 { return b.uptime }
func (b *fakeBackend) SourceStatuses() map[string]domain.SourceRuntime { return b.statuses }
func (b *fakeBackend) SourceKinds() map[string]domain.SourceKind       { return b.kinds }

func startTestServer(t *testing.T, backend *fakeBackend) (*Server, func()) {
	t.Helper()
	s := New(backend, zap.NewNop())
	require.NoError(t, s.Listen(0))

	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx)

	return s, func() { cancel() }
}

func exchange(t *testing.T, addr net.Addr, request string) domain.ControlResponse {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(request + "\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var resp domain.ControlResponse
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	return resp
}

func TestServer_Status(t *testing.T) {
	backend := &fakeBackend{stats: domain.PoolStats{TotalBytes: 10, MaxTotalBytes: 100, ChunkCount: 2}}
	s, stop := startTestServer(t, backend)
	defer stop()

	resp := exchange(t, s.Addr(), `{"command":"status"}`)
	assert.Equal(t, StatusOK, resp.StatusCode)

	var data StatusResponse
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, int64(10), data.EntropyBytes)
	assert.Equal(t, int64(100), data.MaxEntropy)
	assert.Equal(t, 2, data.ChunkCount)
}

func TestServer_Persist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.bin")
	require.NoError(t, os.WriteFile(path, []byte("1234"), 0o600))

	backend := &fakeBackend{persistPath: path}
	s, stop := startTestServer(t, backend)
	defer stop()

	resp := exchange(t, s.Addr(), `{"command":"persist"}`)
	assert.Equal(t, StatusOK, resp.StatusCode)
	assert.True(t, backend.persistCalled)

	var data PersistResponse
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, int64(4), data.BytesWritten)
	assert.Equal(t, path, data.FilePath)
}

func TestServer_PersistFailureIsInternalError(t *testing.T) {
	backend := &fakeBackend{persistErr: assertErr{}}
	s, stop := startTestServer(t, backend)
	defer stop()

	resp := exchange(t, s.Addr(), `{"command":"persist"}`)
	assert.Equal(t, StatusInternalError, resp.StatusCode)
}

func TestServer_Quit(t *testing.T) {
	backend := &fakeBackend{uptime: 42}
	s, stop := startTestServer(t, backend)
	defer stop()

	resp := exchange(t, s.Addr(), `{"command":"quit"}`)
	assert.Equal(t, StatusOK, resp.StatusCode)

	var data QuitResponse
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, int64(42), data.UptimeSeconds)

	select {
	case <-s.QuitRequested():
	case <-time.After(time.Second):
		t.Fatal("quit was not signalled")
	}
}

func TestServer_UnknownCommandIs404(t *testing.T) {
	s, stop := startTestServer(t, &fakeBackend{})
	defer stop()

	resp := exchange(t, s.Addr(), `{"command":"bogus"}`)
	assert.Equal(t, StatusNotFound, resp.StatusCode)
}

func TestServer_MalformedJSONIs400(t *testing.T) {
	s, stop := startTestServer(t, &fakeBackend{})
	defer stop()

	resp := exchange(t, s.Addr(), `not json`)
	assert.Equal(t, StatusBadRequest, resp.StatusCode)
}

func TestServer_MissingCommandIs400(t *testing.T) {
	s, stop := startTestServer(t, &fakeBackend{})
	defer stop()

	resp := exchange(t, s.Addr(), `{"args":{}}`)
	assert.Equal(t, StatusBadRequest, resp.StatusCode)
}

func TestServer_OversizedRequestIs400(t *testing.T) {
	s, stop := startTestServer(t, &fakeBackend{})
	defer stop()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	oversized := make([]byte, maxRequestBytes+100)
	for i := range oversized {
		oversized[i] = 'x'
	}
	_, err = conn.Write(append(oversized, '\n'))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	var resp domain.ControlResponse
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, StatusBadRequest, resp.StatusCode)
}

func TestServer_Sources(t *testing.T) {
	backend := &fakeBackend{
		statuses: map[string]domain.SourceRuntime{
			"weather": {State: domain.StateDeposited, ConsecutiveFailures: 0},
		},
		kinds: map[string]domain.SourceKind{"weather": domain.SourceURL},
	}
	s, stop := startTestServer(t, backend)
	defer stop()

	resp := exchange(t, s.Addr(), `{"command":"sources"}`)
	assert.Equal(t, StatusOK, resp.StatusCode)

	var data []SourceSummary
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Len(t, data, 1)
	assert.Equal(t, "weather", data[0].Name)
	assert.Equal(t, "url", data[0].Kind)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
