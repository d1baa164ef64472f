package source

import (
	"context"
	"io"
	"os"

	"github.com/eliteGoblin/egd/internal/domain"
	"github.com/eliteGoblin/egd/internal/egderr"
)

// FileFetcher implements domain.Fetcher for local file/FIFO sources.
type FileFetcher struct {
	fs domain.FileSystemManager
}

// NewFileFetcher creates a file fetcher backed by fs for the
// regular-file-or-FIFO check (spec §4.5).
func NewFileFetcher(fs domain.FileSystemManager) *FileFetcher {
	return &FileFetcher{fs: fs}
}

var _ domain.Fetcher = (*FileFetcher)(nil)

// Fetch reads up to cfg.Size bytes (or the whole file if unset) from
// cfg.FilePath, which must be a regular file or named pipe.
func (f *FileFetcher) Fetch(ctx context.Context, cfg domain.SourceConfig) ([]byte, error) {
	ok, err := f.fs.IsRegularOrFIFO(cfg.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, egderr.Perm("source.file", egderr.ErrFetchNotFound, "file does not exist", err)
		}
		if os.IsPermission(err) {
			return nil, egderr.Perm("source.file", egderr.ErrStorageDenied, "permission denied", err)
		}
		return nil, egderr.Temp("source.file", nil, "stat failed", err)
	}
	if !ok {
		return nil, egderr.Perm("source.file", nil, "path is not a regular file or FIFO", nil)
	}

	fh, err := os.Open(f.fs.ExpandHome(cfg.FilePath))
	if err != nil {
		return nil, egderr.Perm("source.file", egderr.ErrStorageDenied, "open failed", err)
	}
	defer fh.Close()

	var reader io.Reader = fh
	if cfg.Size > 0 {
		reader = io.LimitReader(fh, cfg.Size)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, egderr.Temp("source.file", nil, "read failed", err)
	}
	return data, nil
}
