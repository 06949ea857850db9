// Package crl retrieves and caches the certificate revocation list consumed
// by the native crypto layer.
package crl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"lcpcli/internal/config"
	"lcpcli/internal/infrastructure"
)

// Fetcher is the transport used to retrieve the CRL
type Fetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

// Service caches the CRL in memory and on disk. Retrieval is deduplicated:
// concurrent callers share a single fetch. A stale copy is served when the
// revocation server is unreachable.
type Service struct {
	cfg     config.CRLConfig
	fetcher Fetcher
	logger  *slog.Logger
	group   singleflight.Group

	mu        sync.RWMutex
	data      []byte
	fetchedAt time.Time
}

// NewService creates a CRL service. The on-disk cache survives restarts.
func NewService(cfg config.CRLConfig, fetcher Fetcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	s := &Service{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger.With(slog.String("component", "crl")),
	}
	s.loadDiskCache()
	return s
}

// Retrieve returns the CRL bytes, fetching from the revocation server when
// the cached copy is older than the configured max age.
func (s *Service) Retrieve(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	if s.data != nil && time.Since(s.fetchedAt) < s.cfg.MaxAge {
		data := s.data
		s.mu.RUnlock()
		return data, nil
	}
	s.mu.RUnlock()

	result, err, _ := s.group.Do("crl", func() (interface{}, error) {
		return s.fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (s *Service) fetch(ctx context.Context) ([]byte, error) {
	data, err := s.fetcher.Fetch(ctx, s.cfg.URL, s.cfg.FetchTimeout)
	if err != nil {
		s.mu.RLock()
		stale := s.data
		s.mu.RUnlock()
		if stale != nil {
			s.logger.WarnContext(ctx, "CRL fetch failed, serving stale copy",
				slog.String("error", err.Error()))
			return stale, nil
		}
		return nil, fmt.Errorf("crl retrieval failed: %w", err)
	}

	s.mu.Lock()
	s.data = data
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	s.writeDiskCache(ctx, data)

	s.logger.InfoContext(ctx, "CRL refreshed",
		slog.Int("size_bytes", len(data)))
	return data, nil
}

func (s *Service) loadDiskCache() {
	info, err := os.Stat(s.cfg.CachePath)
	if err != nil {
		return
	}
	data, err := os.ReadFile(s.cfg.CachePath)
	if err != nil || len(data) == 0 {
		return
	}

	s.mu.Lock()
	s.data = data
	s.fetchedAt = info.ModTime()
	s.mu.Unlock()
}

func (s *Service) writeDiskCache(ctx context.Context, data []byte) {
	if err := os.MkdirAll(filepath.Dir(s.cfg.CachePath), 0755); err != nil {
		s.logger.WarnContext(ctx, "Failed to create CRL cache directory",
			slog.String("error", err.Error()))
		return
	}
	if err := os.WriteFile(s.cfg.CachePath, data, 0644); err != nil {
		s.logger.WarnContext(ctx, "Failed to write CRL cache",
			slog.String("error", err.Error()))
	}
}
