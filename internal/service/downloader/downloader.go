package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"github.com/oshokin/1panel-offline/internal/domain/bundle"
	"github.com/oshokin/1panel-offline/internal/logger"
	"github.com/oshokin/1panel-offline/internal/version"
)

var (
	// ErrAllCandidatesFailed is returned when no candidate produced a verified file.
	ErrAllCandidatesFailed = errors.New("all download candidates failed")
	// errBadHTTPStatus is returned for non-success responses.
	errBadHTTPStatus = errors.New("unexpected http status")
	// errNoCandidates is returned for artifacts resolved without candidates.
	errNoCandidates = errors.New("artifact has no download candidates")
)

const (
	defaultRetries    = 3
	defaultRetryDelay = 3 * time.Second
	defaultTimeout    = 10 * time.Minute
	cacheDirMode      = 0o755
)

// Destination maps a candidate version to its cache path.
type Destination func(version string) string

// Fixed returns a Destination that ignores the version.
func Fixed(path string) Destination {
	return func(string) string { return path }
}

// Result describes a verified artifact on disk.
type Result struct {
	// Path is the verified file.
	Path string
	// Version is the version that was accepted.
	Version string
	// URL is the source of a fresh download, empty for cache hits.
	URL string
	// Cached is true when no network access was needed.
	Cached bool
}

// Downloader is a cache-aware artifact fetcher.
type Downloader struct {
	client  *http.Client
	retries int
	delay   time.Duration
	group   singleflight.Group
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Downloader) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetries sets attempts per candidate and the fixed pause between them.
func WithRetries(retries int, delay time.Duration) Option {
	return func(d *Downloader) {
		if retries > 0 {
			d.retries = retries
		}

		if delay >= 0 {
			d.delay = delay
		}
	}
}

// WithTimeout bounds a single HTTP request.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Downloader) {
		if timeout > 0 {
			d.client.Timeout = timeout
		}
	}
}

// New creates a Downloader.
func New(opts ...Option) *Downloader {
	d := &Downloader{
		client:  &http.Client{Timeout: defaultTimeout},
		retries: defaultRetries,
		delay:   defaultRetryDelay,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Fetch returns a verified local copy of artifact. Versions are walked in
// preference order: a valid cached copy of a version is used as is, otherwise
// that version's URLs are downloaded in order until one verifies. Invalid
// cached files are deleted. Only then does the next version get a turn.
func (d *Downloader) Fetch(ctx context.Context, artifact *bundle.Artifact, dest Destination) (*Result, error) {
	if len(artifact.Candidates) == 0 {
		return nil, fmt.Errorf("%s: %w", artifact.Name, errNoCandidates)
	}

	ctx = logger.WithKV(ctx, "artifact", artifact.Name)

	var errs []error

	for _, candidateVersion := range artifact.Versions() {
		path := dest(candidateVersion)
		if d.reuse(ctx, path, artifact) {
			logger.InfoKV(ctx, "Using cached artifact", "path", path, "version", candidateVersion)

			return &Result{Path: path, Version: candidateVersion, Cached: true}, nil
		}

		for _, candidate := range artifact.Candidates {
			if candidate.Version != candidateVersion {
				continue
			}

			_, err, _ := d.group.Do(path, func() (any, error) {
				return nil, d.fetchOne(ctx, candidate.URL, path, artifact)
			})
			if err == nil {
				return &Result{Path: path, Version: candidate.Version, URL: candidate.URL}, nil
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}

			logger.WarnKV(ctx, "Candidate failed", "url", candidate.URL, "error", err)

			errs = append(errs, fmt.Errorf("%s: %w", candidate.URL, err))
		}
	}

	return nil, fmt.Errorf("%s: %w: %w", artifact.Name, ErrAllCandidatesFailed, errors.Join(errs...))
}

// reuse reports whether path holds a valid artifact and removes it otherwise.
func (d *Downloader) reuse(ctx context.Context, path string, artifact *bundle.Artifact) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}

	err := Verify(path, artifact.Kind, artifact.MinSize)
	if err == nil {
		return true
	}

	logger.WarnKV(ctx, "Cached artifact is invalid, removing", "path", path, "error", err)

	if err = os.Remove(path); err != nil {
		logger.WarnKV(ctx, "Unable to remove invalid cached artifact", "path", path, "error", err)
	}

	return false
}

// fetchOne downloads url into a temporary file next to path, resuming across
// retries, verifies it and renames it into place.
func (d *Downloader) fetchOne(ctx context.Context, url, path string, artifact *bundle.Artifact) error {
	if err := os.MkdirAll(filepath.Dir(path), cacheDirMode); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".part.*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	tmpName := tmp.Name()
	_ = tmp.Close()

	defer func() {
		_ = os.Remove(tmpName)
	}()

	var lastErr error

	for attempt := 1; attempt <= d.retries; attempt++ {
		if attempt > 1 {
			if err = sleep(ctx, d.delay); err != nil {
				return err
			}
		}

		logger.InfoKV(ctx, "Downloading", "url", url, "attempt", attempt)

		lastErr = d.transfer(ctx, url, tmpName)
		if lastErr == nil {
			lastErr = Verify(tmpName, artifact.Kind, artifact.MinSize)
			if lastErr == nil {
				break
			}

			// A complete but invalid file cannot be resumed.
			if err = os.Truncate(tmpName, 0); err != nil {
				return err
			}
		}

		logger.WarnKV(ctx, "Download attempt failed", "url", url, "attempt", attempt, "error", lastErr)
	}

	if lastErr != nil {
		return lastErr
	}

	if err = os.Chmod(tmpName, 0o644); err != nil {
		return err
	}

	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("move artifact into cache: %w", err)
	}

	if info, statErr := os.Stat(path); statErr == nil {
		logger.InfoKV(ctx, "Downloaded", "path", path, "size", humanize.IBytes(uint64(info.Size()))) //nolint:gosec // Size is non-negative.
	}

	return nil
}

// transfer appends the remainder of url to partial, asking the server to
// resume from the current size when the file is not empty.
func (d *Downloader) transfer(ctx context.Context, url, partial string) error {
	info, err := os.Stat(partial)
	if err != nil {
		return err
	}

	offset := info.Size()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Set("User-Agent", version.UserAgent())

	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	flags := os.O_WRONLY | os.O_APPEND

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		flags = os.O_WRONLY | os.O_TRUNC
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial file is already complete; let verification decide.
		return nil
	default:
		return fmt.Errorf("%s: %w", resp.Status, errBadHTTPStatus)
	}

	//nolint:gosec // Temporary file created by this package.
	out, err := os.OpenFile(partial, flags, 0o600)
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()

	return errors.Join(copyErr, closeErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
