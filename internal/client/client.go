// Package client implements the thin loopback control-protocol client
// (C9, spec §4.9): one connection, one request, one reply, with a
// 30-second total timeout and human-readable failure surfacing.
package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/eliteGoblin/egd/internal/domain"
)

// progressInterval is how often Do reports remaining budget to the
// operator while a request is outstanding (spec §4.9). A var, not a
// const, so tests can shorten it.
var progressInterval = 5 * time.Second

// totalTimeout bounds the entire request/response exchange (spec §4.9).
var totalTimeout = 30 * time.Second

// Client talks to a running daemon's control server.
type Client struct {
	addr string
}

// New creates a client dialing the daemon at host:port.
func New(port int) *Client {
	return &Client{addr: fmt.Sprintf("127.0.0.1:%d", port)}
}

// Do sends one command with optional args and returns the decoded
// response. Any connection failure (refused, unreachable, timeout) is
// returned with a human-readable cause.
func (c *Client) Do(command string, args map[string]string) (*domain.ControlResponse, error) {
	deadline := time.Now().Add(totalTimeout)

	stopProgress := c.reportProgress(deadline)
	defer stopProgress()

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.Dial("tcp", c.addr)
	if err != nil {
		return nil, humanizeDialError(err, c.addr)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	req := domain.ControlRequest{Command: command, Args: args}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if _, err := conn.Write(append(raw, '\n')); err != nil {
		return nil, humanizeIOError(err, deadline)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return nil, humanizeIOError(err, deadline)
	}

	var resp domain.ControlResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// RemainingTime reports how much of the 30-second budget is left as of
// now, for operator-visible progress feedback (spec §4.9).
func RemainingTime(deadline time.Time) time.Duration {
	remaining := time.Until(deadline)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// reportProgress prints the remaining request budget to stderr every
// progressInterval until the returned stop func is called, so an
// operator staring at a hung `egd status` sees the 30-second timeout
// counting down rather than a silent terminal. Returns immediately if
// the response arrives before the first tick.
func (c *Client) reportProgress(deadline time.Time) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				remaining := RemainingTime(deadline)
				if remaining <= 0 {
					return
				}
				fmt.Fprintf(os.Stderr, "waiting for daemon at %s (%s remaining)\n", c.addr, remaining.Round(time.Second))
			}
		}
	}()
	return func() { close(done) }
}

func humanizeDialError(err error, addr string) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("timed out connecting to daemon at %s: %w", addr, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return fmt.Errorf("daemon not running (connection refused at %s)", addr)
	case strings.Contains(msg, "no route to host"), strings.Contains(msg, "network is unreachable"):
		return fmt.Errorf("daemon at %s is unreachable: %w", addr, err)
	default:
		return fmt.Errorf("failed to connect to daemon at %s: %w", addr, err)
	}
}

func humanizeIOError(err error, deadline time.Time) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("request timed out after %s", totalTimeout)
	}
	if time.Now().After(deadline) {
		return fmt.Errorf("request timed out after %s", totalTimeout)
	}
	return fmt.Errorf("communication with daemon failed: %w", err)
}
