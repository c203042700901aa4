// Package fetch streams remote files to local disk.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/putreap/putreap/internal/transfer"
)

// tempSuffix marks partially written files next to their final path.
const tempSuffix = ".downloading"

// DefaultDownloadTimeout bounds a single file download. Large files over
// slow links need far more headroom than API calls.
const DefaultDownloadTimeout = 30 * time.Minute

// Directory permissions for created download directories.
const dirPerm = 0o755

// Fetcher downloads plan targets to local disk. It is safe for concurrent
// use; distinct targets never share a path.
type Fetcher struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option is a functional option for configuring the fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *Fetcher) {
		f.httpClient = hc
	}
}

// New creates a fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{
			Timeout: DefaultDownloadTimeout,
		},
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch materializes one target. Directory targets are created idempotently
// without network I/O. File targets that already exist on disk succeed
// without network I/O; otherwise the body is streamed to a temp sibling and
// renamed over the final path on success.
func (f *Fetcher) Fetch(ctx context.Context, target *transfer.DownloadTarget) error {
	switch target.Kind {
	case transfer.TargetDirectory:
		if err := os.MkdirAll(target.To, dirPerm); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
		return nil

	case transfer.TargetFile:
		return f.fetchFile(ctx, target)

	default:
		return fmt.Errorf("unknown target kind %q", target.Kind)
	}
}

func (f *Fetcher) fetchFile(ctx context.Context, target *transfer.DownloadTarget) (retErr error) {
	if target.From == "" {
		return fmt.Errorf("no source url for %s", target.To)
	}

	// Idempotent replay: a finished file is never re-fetched.
	if _, err := os.Stat(target.To); err == nil {
		f.logger.Debug().Str("path", target.To).Msg("file already exists, skipping fetch")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target.To), dirPerm); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tmpPath := target.To + tempSuffix
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	defer func() {
		if retErr != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.From, nil)
	if err != nil {
		return err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch %s: status %d", target.To, resp.StatusCode)
	}

	written, err := io.Copy(tmpFile, resp.Body)
	if err != nil {
		return fmt.Errorf("stream to disk: %w", err)
	}

	if err = tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err = os.Rename(tmpPath, target.To); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("finalize file: %w", err)
	}

	f.logger.Debug().
		Str("path", target.To).
		Int64("bytes", written).
		Msg("file downloaded")

	return nil
}
