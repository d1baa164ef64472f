package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/egd/internal/domain"
	"github.com/eliteGoblin/egd/internal/egderr"
)

// Server is the loopback-only control server (C7). It binds exclusively
// to the loopback interface; if the address is already in use, startup
// fails fatally (spec §4.7), which callers surface via Listen's error.
type Server struct {
	backend  Backend
	logger   *zap.Logger
	listener net.Listener

	shuttingDown atomic.Bool
	quitCh       chan struct{}
}

// New creates a control server over backend. Call Listen to bind, then
// Serve to accept connections.
func New(backend Backend, logger *zap.Logger) *Server {
	return &Server{backend: backend, logger: logger, quitCh: make(chan struct{}, 1)}
}

// Listen binds the loopback address at port. Must be called before Serve.
func (s *Server) Listen(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return egderr.FatalErr("control.server", egderr.ErrPortInUse, fmt.Sprintf("cannot bind control port %d", port), err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address; only valid after a successful Listen.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// QuitRequested signals when a `quit` command has been handled and the
// caller should begin graceful shutdown.
func (s *Server) QuitRequested() <-chan struct{} {
	return s.quitCh
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each accepted connection is handled on its own goroutine, so
// connections are served concurrently; each handles exactly one request
// (spec §4.7: "one request per connection").
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.shuttingDown.Store(true)
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	correlationID := uuid.NewString()
	deadline := time.Now().Add(connTimeout)
	conn.SetDeadline(deadline)

	reader := bufio.NewReaderSize(conn, maxRequestBytes+1)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		s.logger.Debug("control read failed", zap.String("correlation_id", correlationID), zap.Error(err))
		return
	}
	if len(line) > maxRequestBytes {
		s.writeResponse(conn, StatusBadRequest, "request exceeds 1 KiB limit", nil)
		return
	}

	var req domain.ControlRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil || req.Command == "" {
		s.writeResponse(conn, StatusBadRequest, "malformed request", nil)
		return
	}

	if s.shuttingDown.Load() {
		s.writeResponse(conn, StatusServiceUnavailable, "daemon is shutting down", nil)
		return
	}

	s.dispatch(conn, req, correlationID)
}

func (s *Server) dispatch(conn net.Conn, req domain.ControlRequest, correlationID string) {
	switch req.Command {
	case "status":
		stats := s.backend.Stats()
		s.writeResponse(conn, StatusOK, "ok", StatusResponse{
			EntropyBytes: stats.TotalBytes,
			MaxEntropy:   stats.MaxTotalBytes,
			ChunkCount:   stats.ChunkCount,
			IsFull:       stats.IsFull,
			LastPersist:  stats.LastPersist,
		})

	case "persist":
		if err := s.backend.PersistNow(); err != nil {
			s.logger.Warn("control persist failed", zap.String("correlation_id", correlationID), zap.Error(err))
			s.writeResponse(conn, StatusInternalError, err.Error(), nil)
			return
		}
		path := s.backend.PersistPath()
		info, statErr := os.Stat(path)
		var size int64
		if statErr == nil {
			size = info.Size()
		}
		s.writeResponse(conn, StatusOK, "ok", PersistResponse{
			BytesWritten: size,
			FilePath:     path,
			PersistTime:  time.Now(),
		})

	case "sources":
		s.writeResponse(conn, StatusOK, "ok", s.sourceSummaries())

	case "quit":
		s.writeResponse(conn, StatusOK, "ok", QuitResponse{
			Message:       "shutting down",
			UptimeSeconds: s.backend.UptimeSeconds(),
		})
		select {
		case s.quitCh <- struct{}{}:
		default:
		}

	default:
		s.writeResponse(conn, StatusNotFound, "unknown command", nil)
	}
}

func (s *Server) sourceSummaries() []SourceSummary {
	statuses := s.backend.SourceStatuses()
	kinds := s.backend.SourceKinds()

	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]SourceSummary, 0, len(names))
	for _, name := range names {
		rt := statuses[name]
		summary := SourceSummary{
			Name:                name,
			Kind:                string(kinds[name]),
			State:               string(rt.State),
			ConsecutiveFailures: rt.ConsecutiveFailures,
		}
		if !rt.LastSuccess.IsZero() {
			summary.LastSuccess = rt.LastSuccess.Format(time.RFC3339)
		}
		out = append(out, summary)
	}
	return out
}

func (s *Server) writeResponse(conn net.Conn, statusCode int, statusText string, data any) {
	resp := domain.ControlResponse{
		StatusCode: statusCode,
		StatusText: statusText,
	}
	if data != nil {
		resp.Data = encodeData(data)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode control response", zap.Error(err))
		return
	}
	raw = append(raw, '\n')
	if _, err := conn.Write(raw); err != nil {
		s.logger.Debug("failed to write control response", zap.Error(err))
	}
}
