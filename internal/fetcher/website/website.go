// Package website fetches arbitrary web pages with a primary strategy and a
// fallback, and normalizes the result into a snapshot.
package website

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/change-monitor/internal/extract"
	"github.com/JakeFAU/change-monitor/internal/fetcher/headless"
	"github.com/JakeFAU/change-monitor/internal/metrics"
	"github.com/JakeFAU/change-monitor/internal/monitor"
)

const (
	staticName   = "static"
	renderedName = "rendered"
)

// ErrEmptyBody is returned when a strategy succeeds without content.
var ErrEmptyBody = errors.New("empty response body")

// Config controls strategy order, shell promotion and archiving.
type Config struct {
	// UseRendered makes the rendered strategy primary.
	UseRendered bool
	// PromoteShells re-fetches script-only static pages with the rendered strategy.
	PromoteShells bool
	// ArchivePrefix is prepended to raw page archive paths.
	ArchivePrefix string
	ContentType   string
}

// Fetcher implements monitor.SnapshotFetcher for website targets.
type Fetcher struct {
	static     monitor.PageFetcher
	rendered   monitor.PageFetcher
	normalizer *extract.Normalizer
	detector   monitor.ShellDetector
	archive    monitor.BlobStore
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Fetcher. A nil rendered strategy is replaced by a stub
// that always fails, so fallback still applies. detector and archive are
// optional.
func New(
	static monitor.PageFetcher,
	rendered monitor.PageFetcher,
	normalizer *extract.Normalizer,
	detector monitor.ShellDetector,
	archive monitor.BlobStore,
	cfg Config,
	logger *zap.Logger,
) *Fetcher {
	if rendered == nil {
		rendered = headless.NewNoop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		static:     static,
		rendered:   rendered,
		normalizer: normalizer,
		detector:   detector,
		archive:    archive,
		cfg:        cfg,
		logger:     logger,
	}
}

// Fetch retrieves the target page and normalizes it.
func (f *Fetcher) Fetch(ctx context.Context, target monitor.Target) (monitor.Snapshot, error) {
	req := monitor.PageRequest{TargetID: target.ID, URL: target.URL}

	resp, err := f.fetchWithFallback(ctx, req)
	if err != nil {
		return monitor.Snapshot{}, err
	}

	finalURL := resp.URL
	if finalURL == "" {
		finalURL = target.URL
	}
	snap, err := f.normalizer.Normalize(resp.Body, finalURL)
	if err != nil {
		return monitor.Snapshot{}, monitor.NewPermanentError(fmt.Errorf("normalize page: %w", err))
	}
	snap.URL = target.URL
	snap.StatusCode = resp.StatusCode

	f.archivePage(ctx, target.ID, snap.Digest, resp.Body)
	return snap, nil
}

func (f *Fetcher) order() (string, monitor.PageFetcher, string, monitor.PageFetcher) {
	if f.cfg.UseRendered {
		return renderedName, f.rendered, staticName, f.static
	}
	return staticName, f.static, renderedName, f.rendered
}

func (f *Fetcher) fetchWithFallback(ctx context.Context, req monitor.PageRequest) (monitor.PageResponse, error) {
	primaryName, primary, secondaryName, secondary := f.order()

	resp, primaryErr := f.fetchOne(ctx, primaryName, primary, req)
	if primaryErr == nil {
		if primaryName == staticName {
			return f.maybePromote(ctx, req, resp), nil
		}
		return resp, nil
	}

	f.logger.Warn("primary strategy failed, trying fallback",
		zap.String("target_id", req.TargetID),
		zap.String("url", req.URL),
		zap.String("primary", primaryName),
		zap.Error(primaryErr),
	)
	metrics.ObserveFallback()

	resp, secondaryErr := f.fetchOne(ctx, secondaryName, secondary, req)
	if secondaryErr == nil {
		return resp, nil
	}
	return monitor.PageResponse{}, monitor.NewTransportError("", &chainError{
		primary:      primaryName,
		primaryErr:   primaryErr,
		secondary:    secondaryName,
		secondaryErr: secondaryErr,
	})
}

func (f *Fetcher) fetchOne(
	ctx context.Context,
	name string,
	strategy monitor.PageFetcher,
	req monitor.PageRequest,
) (monitor.PageResponse, error) {
	if strategy == nil {
		metrics.ObserveFetch(name, false)
		return monitor.PageResponse{}, fmt.Errorf("%s strategy not configured", name)
	}
	resp, err := strategy.Fetch(ctx, req)
	if err == nil && len(bytes.TrimSpace(resp.Body)) == 0 {
		err = ErrEmptyBody
	}
	metrics.ObserveFetch(name, err == nil)
	if err != nil {
		return monitor.PageResponse{}, err
	}
	if resp.Strategy == "" {
		resp.Strategy = name
	}
	return resp, nil
}

// maybePromote swaps a static script shell for a rendered fetch. A failed
// rendered fetch keeps the static response.
func (f *Fetcher) maybePromote(
	ctx context.Context,
	req monitor.PageRequest,
	resp monitor.PageResponse,
) monitor.PageResponse {
	if !f.cfg.PromoteShells || f.detector == nil || !f.detector.ShouldPromote(resp) {
		return resp
	}
	rendered, err := f.fetchOne(ctx, renderedName, f.rendered, req)
	if err != nil {
		f.logger.Warn("shell promotion failed",
			zap.String("target_id", req.TargetID),
			zap.String("url", req.URL),
			zap.Error(err),
		)
		return resp
	}
	f.logger.Debug("shell promotion applied", zap.String("target_id", req.TargetID))
	return rendered
}

func (f *Fetcher) archivePage(ctx context.Context, targetID, digest string, body []byte) {
	if f.archive == nil {
		return
	}
	path := ArchivePath(f.cfg.ArchivePrefix, targetID, digest)
	uri, err := f.archive.PutObject(ctx, path, f.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		f.logger.Warn("archive page failed",
			zap.String("target_id", targetID),
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}
	f.logger.Debug("page archived", zap.String("target_id", targetID), zap.String("uri", uri))
}

// ArchivePath builds the blob path for a raw page.
func ArchivePath(prefix, targetID, digest string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", targetID, digest)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, targetID, digest)
}

// chainError reports that every strategy failed while keeping both causes
// reachable through errors.Is.
type chainError struct {
	primary      string
	primaryErr   error
	secondary    string
	secondaryErr error
}

func (e *chainError) Error() string {
	return fmt.Sprintf("both fetch strategies failed: %s: %v | %s: %v",
		e.primary, e.primaryErr, e.secondary, e.secondaryErr)
}

func (e *chainError) Unwrap() []error {
	return []error{e.primaryErr, e.secondaryErr}
}
