package domain

import "context"

// ProcessManager handles OS process liveness and group-termination checks.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int

	// KillGroup terminates an entire process group (SIGKILL), used to
	// enforce the script source's wall-clock timeout (spec §4.5, §9).
	KillGroup(pgid int) error
}

// FileSystemManager handles the small set of filesystem helpers shared by
// the lock file, pool persistence path, and file-kind sources.
type FileSystemManager interface {
	// ExpandHome expands ~ to the user's home directory.
	ExpandHome(path string) string

	// IsRegularOrFIFO reports whether path is a regular file or named
	// pipe, per the file source's fetch contract (spec §4.5).
	IsRegularOrFIFO(path string) (bool, error)
}

// NameGenerator produces cryptographically random, filesystem-safe names
// for per-invocation script sandbox working directories (spec §4.5, §5).
type NameGenerator interface {
	GenerateName() string
}

// Stirrer is the pure, deterministic sliding-window transform (C1, spec §4.1).
type Stirrer interface {
	Stir(input []byte) []byte
}

// Compressor is the optional lossless compression stage (C2, spec §4.2).
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Pool is the bounded, atomically persistable entropy pool (C4, spec §4.4).
type Pool interface {
	// Deposit appends data to the pool, truncating at the cap, and
	// returns the number of bytes actually added.
	Deposit(data []byte) int

	// Stats returns a snapshot of pool-wide statistics.
	Stats() PoolStats

	// Persist atomically serializes the pool to path.
	Persist(path string) error

	// Load replaces the pool's contents from a persisted image at path.
	// On any validation failure the in-memory pool is left unchanged.
	Load(path string) error
}

// LockFile is the single-instance guard (C8, spec §4.8).
type LockFile interface {
	// Acquire takes ownership of the lock, overwriting a recorded holder's
	// PID if force is true or that PID is no longer alive.
	Acquire(force bool) error

	// Release closes and removes the lock file.
	Release() error

	// Path returns the lock file's on-disk location.
	Path() string
}

// ConfigStore supplies validated global and per-source configuration
// (external collaborator per spec §6, generalizing the teacher's
// PolicyStore pattern from hardcoded app policies to parsed YAML sources).
type ConfigStore interface {
	// Global returns the daemon-wide configuration.
	Global() GlobalConfig

	// Sources returns every configured source, sorted by name.
	Sources() []SourceConfig

	// SourceByName returns one configured source by name.
	SourceByName(name string) (*SourceConfig, error)
}

// Fetcher acquires raw bytes for one source kind (URL/file/command/script).
type Fetcher interface {
	Fetch(ctx context.Context, cfg SourceConfig) ([]byte, error)
}

// CycleRunner drives one source through fetch→compress→stir→scale→deposit.
type CycleRunner interface {
	RunCycle(ctx context.Context, cfg SourceConfig, rt *SourceRuntime) (*CycleResult, error)
}
