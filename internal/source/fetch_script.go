package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/eliteGoblin/egd/internal/config"
	"github.com/eliteGoblin/egd/internal/domain"
	"github.com/eliteGoblin/egd/internal/egderr"
)

// scriptWallClock is the hard kill deadline for a script cycle (spec
// §4.5, §9). A var, not a const, so tests can shorten it.
var scriptWallClock = 30 * time.Second

// scriptStdoutCap bounds captured stdout for both the subprocess and the
// embedded interpreter paths (spec §4.5, §9).
const scriptStdoutCap = 1 << 20 // 1 MiB

// ScriptFetcher implements domain.Fetcher for the script source kind.
// The default subprocess path (grounded on the teacher's
// daemon.StartDaemon Setsid-detach idiom, generalized to a
// process-group kill instead of a session detach) applies the full
// contract of spec §9: hard wall-clock kill, stdout cap (overflow fails
// the cycle), a per-invocation working directory, and a minimal
// environment. The additive in-process gopher-lua path for
// `script_interpreter: lua, embedded: true` applies the wall clock, sees
// the same EGD_SOURCE_ values as Lua globals, and truncates emitted
// output to the cap; it runs inside the daemon process, with the
// daemon's working directory and environment.
type ScriptFetcher struct {
	fs    domain.FileSystemManager
	names domain.NameGenerator
	pm    domain.ProcessManager
}

// NewScriptFetcher creates a script fetcher.
func NewScriptFetcher(fs domain.FileSystemManager, names domain.NameGenerator, pm domain.ProcessManager) *ScriptFetcher {
	return &ScriptFetcher{fs: fs, names: names, pm: pm}
}

var _ domain.Fetcher = (*ScriptFetcher)(nil)

// Fetch dispatches to the embedded Lua interpreter or a sandboxed
// subprocess depending on cfg.ScriptEmbedded.
func (f *ScriptFetcher) Fetch(ctx context.Context, cfg domain.SourceConfig) ([]byte, error) {
	if cfg.ScriptEmbedded && cfg.ScriptInterpreter == "lua" {
		return f.runEmbeddedLua(ctx, cfg)
	}
	return f.runSubprocess(ctx, cfg)
}

func (f *ScriptFetcher) runSubprocess(ctx context.Context, cfg domain.SourceConfig) ([]byte, error) {
	sandboxDir := filepath.Join(os.TempDir(), f.names.GenerateName())
	if err := os.MkdirAll(sandboxDir, 0o700); err != nil {
		return nil, egderr.Perm("source.script", egderr.ErrStorageDenied, "create sandbox directory", err)
	}
	defer os.RemoveAll(sandboxDir)

	scriptPath := filepath.Join(sandboxDir, "source-script")
	if err := os.WriteFile(scriptPath, []byte(cfg.Script), 0o700); err != nil {
		return nil, egderr.Perm("source.script", egderr.ErrStorageDenied, "write script body", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, scriptWallClock)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cfg.ScriptInterpreter, scriptPath)
	cmd.Dir = sandboxDir
	cmd.Env = append(minimalEnv(), scriptEnv(cfg)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out := &capWriter{limit: scriptStdoutCap}
	cmd.Stdout = out

	if err := cmd.Start(); err != nil {
		return nil, egderr.Perm("source.script", egderr.ErrCommandNotFound, "start interpreter", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case <-runCtx.Done():
		if cmd.Process != nil {
			f.pm.KillGroup(cmd.Process.Pid)
		}
		<-waitErr
		return nil, egderr.Temp("source.script", egderr.ErrScriptTimeout, "script exceeded 30s wall clock", runCtx.Err())
	case err := <-waitErr:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return nil, egderr.Temp("source.script", nil, "script exited non-zero", err)
			}
			return nil, egderr.Temp("source.script", nil, "script failed", err)
		}
	}

	if out.overflowed {
		return nil, egderr.Temp("source.script", egderr.ErrScriptStdoutLimit, "script stdout exceeded cap", nil)
	}
	return out.buf.Bytes(), nil
}

func (f *ScriptFetcher) runEmbeddedLua(ctx context.Context, cfg domain.SourceConfig) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, scriptWallClock)
	defer cancel()

	L := lua.NewState()
	defer L.Close()
	L.SetContext(runCtx)

	var out strings.Builder
	L.SetGlobal("emit", L.NewFunction(func(L *lua.LState) int {
		out.WriteString(L.ToString(1))
		return 0
	}))
	for key, value := range scriptEnvPairs(cfg) {
		L.SetGlobal(config.EnvKey(key), lua.LString(value))
	}

	if err := L.DoString(cfg.Script); err != nil {
		if runCtx.Err() != nil {
			return nil, egderr.Temp("source.script", egderr.ErrScriptTimeout, "embedded script exceeded 30s wall clock", err)
		}
		return nil, egderr.Temp("source.script", nil, "embedded script failed", err)
	}

	data := []byte(out.String())
	if len(data) > scriptStdoutCap {
		data = data[:scriptStdoutCap]
	}
	return data, nil
}

// scriptEnvPairs builds the EGD_SOURCE_<KEY> variables spec §6 requires:
// every configuration key on the owning source, built-in or custom,
// uppercased with underscores preserved. The built-in key set mirrors
// the fields config/validate.go itself parses from the YAML document,
// so a source configured with e.g. size: 4096 can read EGD_SOURCE_SIZE
// regardless of which fetch kind it is. Shared by both the subprocess
// env and the embedded Lua globals so the two execution paths expose
// an identical contract.
func scriptEnvPairs(cfg domain.SourceConfig) map[string]string {
	pairs := map[string]string{
		"name":               cfg.Name,
		"kind":               string(cfg.Kind),
		"interval":           cfg.Interval.String(),
		"scale":              fmt.Sprintf("%v", cfg.Scale),
		"url":                cfg.URL,
		"prefetch":           cfg.Prefetch,
		"insecure_tls":       strconv.FormatBool(cfg.InsecureTLS),
		"file":               cfg.FilePath,
		"command":            strings.Join(cfg.Command, " "),
		"script_interpreter": cfg.ScriptInterpreter,
		"script":             cfg.Script,
		"embedded":           strconv.FormatBool(cfg.ScriptEmbedded),
		"size":               strconv.FormatInt(cfg.Size, 10),
		"min_size":           strconv.FormatInt(cfg.MinSize, 10),
		"no_compress":        strconv.FormatBool(cfg.NoCompress),
		"init_delay":         cfg.InitDelay.String(),
		"disabled":           strconv.FormatBool(cfg.Disabled),
	}
	for key, scalar := range cfg.Custom {
		pairs[key] = config.ScalarEnvValue(scalar)
	}
	return pairs
}

// scriptEnv renders scriptEnvPairs as NAME=VALUE entries for cmd.Env.
func scriptEnv(cfg domain.SourceConfig) []string {
	pairs := scriptEnvPairs(cfg)
	env := make([]string, 0, len(pairs))
	for key, value := range pairs {
		env = append(env, fmt.Sprintf("%s=%s", config.EnvKey(key), value))
	}
	return env
}

// capWriter bounds how many bytes it retains, discarding the remainder
// and recording overflow rather than failing the write call (spec §4.5:
// "stdout size cap").
type capWriter struct {
	buf        bytes.Buffer
	limit      int
	overflowed bool
	mu         sync.Mutex
}

func (w *capWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.overflowed {
		return len(p), nil
	}
	room := w.limit - w.buf.Len()
	if room <= 0 {
		w.overflowed = true
		return len(p), nil
	}
	if len(p) > room {
		w.buf.Write(p[:room])
		w.overflowed = true
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}
