// Package network implements the HTTP fetch collaborator of the validation
// engine. Fetches are retried within a hard per-call deadline; exceeding the
// deadline is a recoverable failure, never a hang.
package network

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"lcpcli/internal/config"
	"lcpcli/internal/infrastructure"
)

// maxDocumentSize bounds the documents we are willing to read; license and
// status documents are small JSON files.
const maxDocumentSize = 2 << 20

// Fetcher fetches remote documents with bounded retries
type Fetcher struct {
	client *retryablehttp.Client
	logger *slog.Logger
}

// NewFetcher creates a fetcher from the network configuration
func NewFetcher(cfg config.NetworkConfig, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger = logger.With(slog.String("component", "network"))

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.Logger = &leveledLogger{logger: logger}

	return &Fetcher{
		client: client,
		logger: logger,
	}
}

// Fetch retrieves the document at url, failing once timeout elapses. The
// retry budget lives inside the deadline: a slow server exhausts the deadline,
// not the caller's patience.
func (f *Fetcher) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid fetch url: %w", err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	f.logger.DebugContext(ctx, "Document fetched",
		slog.String("url", url),
		slog.Int("size_bytes", len(body)),
		slog.Duration("duration", time.Since(start)))

	return body, nil
}

// leveledLogger adapts slog to the retryablehttp logging interface
type leveledLogger struct {
	logger *slog.Logger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, keysAndValues...)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, keysAndValues...)
}
