// Package main is the CLI entry point for egd, the entropy gathering
// daemon. It bridges the scheduler (C6) and the control client (C9)
// behind a cobra command surface (spec §6).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/egd/internal/bootstrap"
	"github.com/eliteGoblin/egd/internal/client"
	"github.com/eliteGoblin/egd/internal/compress"
	"github.com/eliteGoblin/egd/internal/config"
	"github.com/eliteGoblin/egd/internal/control"
	"github.com/eliteGoblin/egd/internal/domain"
	"github.com/eliteGoblin/egd/internal/egderr"
	"github.com/eliteGoblin/egd/internal/infra"
	"github.com/eliteGoblin/egd/internal/lockfile"
	"github.com/eliteGoblin/egd/internal/pool"
	"github.com/eliteGoblin/egd/internal/scheduler"
	"github.com/eliteGoblin/egd/internal/source"
	"github.com/eliteGoblin/egd/internal/stir"
)

// Exit codes per spec §6: 0 success, 1 generic failure, 2 misuse/invalid
// config, 3 cannot reach daemon.
const (
	exitOK            = 0
	exitGeneric       = 1
	exitInvalidConfig = 2
	exitUnreachable   = 3
)

var (
	// Version info (set via ldflags)
	Version = "0.1.0"
	Commit  = "dev"
)

var configPath string

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		if code, ok := err.(exitCoder); ok {
			return code.ExitCode()
		}
		fmt.Fprintln(os.Stderr, err)
		return exitGeneric
	}
	return exitOK
}

// exitCoder lets RunE return an error carrying a specific process exit
// code without cobra itself knowing about spec §6's exit-code contract.
type exitCoder interface {
	error
	ExitCode() int
}

type codedError struct {
	err  error
	code int
}

func (e codedError) Error() string { return e.err.Error() }
func (e codedError) ExitCode() int { return e.code }

var rootCmd = &cobra.Command{
	Use:     "egd",
	Short:   "Entropy gathering daemon",
	Version: Version,
}

var forceFlag bool
var detachFlag bool
var foregroundFlag bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Gracefully stop the running daemon",
	RunE:  runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report entropy pool statistics",
	RunE:  runStatus,
}

var persistCmd = &cobra.Command{
	Use:   "persist",
	Short: "Force immediate pool persistence",
	RunE:  runPersist,
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured sources and their runtime state",
	RunE:  runSources,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file without starting the daemon",
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the fully validated configuration",
	RunE:  runConfigShow,
}

func init() {
	defaultConfig := infra.NewFileSystemManager().ExpandHome("~/.egd/config.yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "path to the YAML configuration file")

	startCmd.Flags().BoolVar(&forceFlag, "force", false, "bypass a stale-looking lock file held by a live PID")
	startCmd.Flags().BoolVar(&detachFlag, "detach", false, "re-exec detached from the current session and return immediately")
	startCmd.Flags().BoolVar(&foregroundFlag, "foreground", false, "internal: run in the foreground (used by --detach's re-exec)")
	startCmd.Flags().MarkHidden("foreground")

	configCmd.AddCommand(configValidateCmd, configShowCmd)
	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, persistCmd, sourcesCmd, configCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	store, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return codedError{err, exitInvalidConfig}
	}
	global := store.Global()
	fsm := infra.NewFileSystemManager()
	global.PersistFile = fsm.ExpandHome(global.PersistFile)
	global.LockFile = fsm.ExpandHome(global.LockFile)

	if detachFlag && !foregroundFlag {
		detachArgs := []string{"start", "--foreground", "--config", configPath}
		if forceFlag {
			detachArgs = append(detachArgs, "--force")
		}
		if err := bootstrap.Detach(detachArgs); err != nil {
			return codedError{fmt.Errorf("detach: %w", err), exitGeneric}
		}
		fmt.Println("egd started in the background")
		return nil
	}

	logger := newLogger(global.LogLevel)
	defer logger.Sync()

	pm := infra.NewProcessManager()
	lock := lockfile.New(global.LockFile, pm)
	if err := lock.Acquire(forceFlag); err != nil {
		logger.Error("failed to acquire lock file", zap.Error(err))
		return codedError{err, exitGeneric}
	}
	defer lock.Release()

	entropyPool := pool.New(global.MaxEntropy, int(global.PoolChunkMaxEntropy))
	if err := entropyPool.Load(global.PersistFile); err != nil {
		if egderr.CategoryOf(err) == egderr.Fatal {
			logger.Error("refusing to start: persisted pool is corrupted", zap.Error(err))
			return codedError{err, exitGeneric}
		}
		logger.Info("no existing pool image to load, starting empty", zap.Error(err))
	}

	fetchers := map[domain.SourceKind]domain.Fetcher{
		domain.SourceURL:     source.NewURLFetcher(),
		domain.SourceFile:    source.NewFileFetcher(infra.NewFileSystemManager()),
		domain.SourceCommand: source.NewCommandFetcher(),
		domain.SourceScript:  source.NewScriptFetcher(infra.NewFileSystemManager(), infra.NewNameGenerator(), pm),
	}
	runner := source.NewRunner(fetchers, compress.New(), stir.New(), entropyPool, logger)

	sched := scheduler.New(global, store.Sources(), runner, entropyPool, logger)

	controlServer := control.New(sched, logger)
	if err := controlServer.Listen(global.TCPPort); err != nil {
		logger.Error("control port unavailable", zap.Error(err), zap.Int("port", global.TCPPort))
		return codedError{err, exitGeneric}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := config.WatchNotice(ctx, configPath, logger); err != nil {
		logger.Warn("config hot-notice unavailable", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
		case <-controlServer.QuitRequested():
			logger.Info("quit requested over control channel")
		}
		cancel()
	}()

	schedErrCh := make(chan error, 1)
	go func() { schedErrCh <- sched.Run(ctx) }()

	controlErrCh := make(chan error, 1)
	go func() { controlErrCh <- controlServer.Serve(ctx) }()

	schedErr := <-schedErrCh
	<-controlErrCh

	if schedErr != nil {
		logger.Error("scheduler shutdown failed", zap.Error(schedErr))
		return codedError{schedErr, exitGeneric}
	}
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	resp, err := c.Do("quit", nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return codedError{err, exitUnreachable}
	}
	printResponse(resp)
	return statusToErr(resp)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	resp, err := c.Do("status", nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return codedError{err, exitUnreachable}
	}
	printResponse(resp)
	return statusToErr(resp)
}

func runPersist(cmd *cobra.Command, args []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	resp, err := c.Do("persist", nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return codedError{err, exitUnreachable}
	}
	printResponse(resp)
	return statusToErr(resp)
}

func runSources(cmd *cobra.Command, args []string) error {
	c, err := clientFor()
	if err != nil {
		return err
	}
	resp, err := c.Do("sources", nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return codedError{err, exitUnreachable}
	}
	printResponse(resp)
	return statusToErr(resp)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return codedError{err, exitInvalidConfig}
	}
	fmt.Println("configuration is valid")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	store, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return codedError{err, exitInvalidConfig}
	}
	out, err := json.MarshalIndent(struct {
		Global  domain.GlobalConfig   `json:"global"`
		Sources []domain.SourceConfig `json:"sources"`
	}{store.Global(), store.Sources()}, "", "  ")
	if err != nil {
		return codedError{err, exitGeneric}
	}
	fmt.Println(string(out))
	return nil
}

func clientFor() (*client.Client, error) {
	store, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return nil, codedError{err, exitInvalidConfig}
	}
	return client.New(store.Global().TCPPort), nil
}

func printResponse(resp *domain.ControlResponse) {
	fmt.Printf("%d %s\n", resp.StatusCode, resp.StatusText)
	if len(resp.Data) > 0 {
		fmt.Println(string(resp.Data))
	}
}

func statusToErr(resp *domain.ControlResponse) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return codedError{fmt.Errorf("daemon returned %d: %s", resp.StatusCode, resp.StatusText), exitGeneric}
}

func newLogger(level string) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.TimeKey = "time"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
