package source

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"

	"github.com/eliteGoblin/egd/internal/domain"
	"github.com/eliteGoblin/egd/internal/egderr"
)

// minimalEnvKeys is the inherited environment passed to command and
// script children (spec §6): PATH, HOME, and the platform temp variable.
var minimalEnvKeys = []string{"PATH", "HOME", "TEMP", "TMPDIR"}

// CommandFetcher implements domain.Fetcher by executing a configured argv.
type CommandFetcher struct{}

// NewCommandFetcher creates a command fetcher.
func NewCommandFetcher() *CommandFetcher {
	return &CommandFetcher{}
}

var _ domain.Fetcher = (*CommandFetcher)(nil)

// Fetch runs cfg.Command with a minimal inherited environment and
// captures stdout. A non-zero exit is a failure (spec §4.5).
func (f *CommandFetcher) Fetch(ctx context.Context, cfg domain.SourceConfig) ([]byte, error) {
	if len(cfg.Command) == 0 {
		return nil, egderr.Perm("source.command", nil, "no command configured", nil)
	}

	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Env = minimalEnv()

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err := cmd.Run()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) || errors.Is(err, os.ErrNotExist) {
			return nil, egderr.Perm("source.command", egderr.ErrCommandNotFound, "command not found", err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, egderr.Temp("source.command", nil, "command exited non-zero", err)
		}
		if ctx.Err() != nil {
			return nil, egderr.Temp("source.command", nil, "command cancelled", ctx.Err())
		}
		return nil, egderr.Temp("source.command", nil, "command failed", err)
	}

	data := stdout.Bytes()
	if cfg.Size > 0 && int64(len(data)) > cfg.Size {
		data = data[:cfg.Size]
	}
	return data, nil
}

func minimalEnv() []string {
	env := make([]string, 0, len(minimalEnvKeys))
	for _, key := range minimalEnvKeys {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}
