// Package device identifies this device to LCP status servers and performs
// the register round trip.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"lcpcli/internal/config"
	"lcpcli/internal/infrastructure"
	"lcpcli/internal/license"
)

// registerTimeout bounds the registration POST; registration is best-effort
// and must never stall a validation run.
const registerTimeout = 5 * time.Second

// state is the persisted device identity plus the licenses already registered
type state struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Registered map[string]bool `json:"registered"`
}

// Service registers this device against status-server register links
type Service struct {
	statePath string
	client    *retryablehttp.Client
	logger    *slog.Logger

	mu    sync.Mutex
	state state
}

// NewService loads or creates the device identity. A missing configured name
// falls back to the host platform.
func NewService(cfg config.DeviceConfig, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger = logger.With(slog.String("component", "device"))

	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.Logger = nil

	s := &Service{
		statePath: cfg.StatePath,
		client:    client,
		logger:    logger,
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	if s.state.ID == "" {
		s.state.ID = uuid.New().String()
		s.state.Name = cfg.Name
		if s.state.Name == "" {
			s.state.Name = fmt.Sprintf("lcpcli (%s/%s)", runtime.GOOS, runtime.GOARCH)
		}
		if err := s.save(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// ID returns the stable device identifier
func (s *Service) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ID
}

// Name returns the device display name sent to status servers
func (s *Service) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Name
}

// RegisterLicense POSTs the device identity to the status server register
// link and returns the updated status document bytes. A license already
// registered from this device is skipped.
func (s *Service) RegisterLicense(ctx context.Context, lic *license.LicenseDocument, link license.Link) ([]byte, error) {
	s.mu.Lock()
	if s.state.Registered[lic.ID] {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "License already registered from this device",
			slog.String("license_id", lic.ID))
		return nil, nil
	}
	id, name := s.state.ID, s.state.Name
	s.mu.Unlock()

	target := link.ExpandedHref(map[string]string{
		"id":   url.QueryEscape(id),
		"name": url.QueryEscape(name),
	})
	if !link.Templated {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + url.Values{"id": {id}, "name": {name}}.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid register link: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device registration failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("device registration returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read registration response: %w", err)
	}

	s.mu.Lock()
	if s.state.Registered == nil {
		s.state.Registered = make(map[string]bool)
	}
	s.state.Registered[lic.ID] = true
	saveErr := s.save()
	s.mu.Unlock()
	if saveErr != nil {
		s.logger.WarnContext(ctx, "Failed to persist registration state",
			slog.String("error", saveErr.Error()))
	}

	s.logger.InfoContext(ctx, "Device registered",
		slog.String("license_id", lic.ID))
	return body, nil
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.statePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read device state: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return fmt.Errorf("failed to parse device state: %w", err)
	}
	return nil
}

func (s *Service) save() error {
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0755); err != nil {
		return fmt.Errorf("failed to create device state directory: %w", err)
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal device state: %w", err)
	}
	if err := os.WriteFile(s.statePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write device state: %w", err)
	}
	return nil
}
