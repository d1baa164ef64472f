package infra

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/egd/internal/domain"
)

// FileSystemManagerImpl implements domain.FileSystemManager.
type FileSystemManagerImpl struct {
	homeDir string
}

// NewFileSystemManager creates a new filesystem manager.
func NewFileSystemManager() domain.FileSystemManager {
	home, _ := os.UserHomeDir()
	return &FileSystemManagerImpl{homeDir: home}
}

// NewFileSystemManagerWithHome creates a filesystem manager with a custom
// home directory (for testing).
func NewFileSystemManagerWithHome(home string) domain.FileSystemManager {
	return &FileSystemManagerImpl{homeDir: home}
}

// ExpandHome expands ~ to the user's home directory.
func (fm *FileSystemManagerImpl) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(fm.homeDir, path[2:])
	}
	if path == "~" {
		return fm.homeDir
	}
	return path
}

// IsRegularOrFIFO reports whether path is a regular file or named pipe,
// the file source's fetch contract (spec §4.5): it refuses to read
// directories, sockets, and device files.
func (fm *FileSystemManagerImpl) IsRegularOrFIFO(path string) (bool, error) {
	expanded := fm.ExpandHome(path)
	info, err := os.Stat(expanded)
	if err != nil {
		return false, err
	}
	mode := info.Mode()
	return mode.IsRegular() || mode&os.ModeNamedPipe != 0, nil
}

// Ensure FileSystemManagerImpl implements domain.FileSystemManager.
var _ domain.FileSystemManager = (*FileSystemManagerImpl)(nil)
