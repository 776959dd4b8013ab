// Package archive downloads dataset archives for read-only profiles.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/aiidateam/renku2-aiida-integration/internal/catalog"
	"github.com/aiidateam/renku2-aiida-integration/internal/constants"
)

const (
	defaultMaxTries      = 3
	defaultRetryInterval = time.Second
)

// Config configures a Downloader. Zero values select defaults.
type Config struct {
	Dir           string
	Timeout       time.Duration
	MaxTries      uint
	RetryInterval time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Downloader fetches archive files into a local directory.
type Downloader struct {
	dir           string
	timeout       time.Duration
	maxTries      uint
	retryInterval time.Duration
	client        *http.Client
	logger        *slog.Logger
}

func NewDownloader(cfg Config) *Downloader {
	d := &Downloader{
		dir:           cfg.Dir,
		timeout:       cfg.Timeout,
		maxTries:      cfg.MaxTries,
		retryInterval: cfg.RetryInterval,
		client:        cfg.HTTPClient,
		logger:        cfg.Logger,
	}
	if d.dir == "" {
		d.dir = constants.DefaultArchiveDir
	}
	if d.timeout <= 0 {
		d.timeout = constants.DownloadTimeout
	}
	if d.maxTries == 0 {
		d.maxTries = defaultMaxTries
	}
	if d.retryInterval <= 0 {
		d.retryInterval = defaultRetryInterval
	}
	if d.client == nil {
		d.client = &http.Client{}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Path returns where the archive described by md is stored locally.
// Resolving the path never touches the network.
func (d *Downloader) Path(md catalog.Metadata) (string, error) {
	name := filepath.Base(strings.TrimSpace(md.ArchiveFilename))
	if name == "." || name == string(filepath.Separator) || name == "" || !strings.HasSuffix(strings.ToLower(name), constants.ArchiveExtension) {
		return "", fmt.Errorf("invalid archive file name %q", md.ArchiveFilename)
	}
	return filepath.Join(d.dir, name), nil
}

// DownloadURL returns the URL the archive bytes are requested from.
func DownloadURL(md catalog.Metadata) string {
	return md.ArchiveURL + "?download=1"
}

// Fetch downloads the archive unless a complete copy is already present.
// reused reports whether an existing file was kept.
func (d *Downloader) Fetch(ctx context.Context, md catalog.Metadata) (path string, reused bool, err error) {
	path, err = d.Path(md)
	if err != nil {
		return "", false, err
	}
	if info, statErr := os.Stat(path); statErr == nil && info.Mode().IsRegular() && info.Size() > 0 {
		d.logger.Info("reusing downloaded archive", "path", path)
		return path, true, nil
	}
	if strings.TrimSpace(md.ArchiveURL) == "" {
		return "", false, fmt.Errorf("archive metadata has no URL")
	}
	if err := os.MkdirAll(d.dir, constants.DirPermissions); err != nil {
		return "", false, fmt.Errorf("failed to create archive directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.retryInterval

	source := DownloadURL(md)
	operation := func() (int64, error) {
		return d.fetchOnce(ctx, source, path)
	}
	notify := func(err error, next time.Duration) {
		d.logger.Warn("archive download failed, retrying", "url", source, "error", err, "backoff", next)
	}

	start := time.Now()
	size, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(d.maxTries),
		backoff.WithMaxElapsedTime(d.timeout),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return "", false, fmt.Errorf("download %s: %w", source, err)
	}
	d.logger.Info("archive downloaded", "path", path, "bytes", size, "duration", time.Since(start))
	return path, false, nil
}

// fetchOnce streams the response into a temp file next to dest and renames it
// into place once complete. Partial downloads never appear at dest.
func (d *Downloader) fetchOnce(ctx context.Context, source, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return 0, fmt.Errorf("archive server returned %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return 0, backoff.Permanent(fmt.Errorf("archive server returned %s", resp.Status))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	size, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read archive: %w", err)
	}
	if resp.ContentLength >= 0 && size != resp.ContentLength {
		return 0, fmt.Errorf("short archive download: got %d of %d bytes", size, resp.ContentLength)
	}
	if size == 0 {
		return 0, backoff.Permanent(errors.New("archive server returned an empty file"))
	}
	if err := tmp.Sync(); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("sync archive: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("close archive: %w", err))
	}
	if err := os.Chmod(tmpName, constants.FilePermissions); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("chmod archive: %w", err))
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("move archive into place: %w", err))
	}
	committed = true
	return size, nil
}
