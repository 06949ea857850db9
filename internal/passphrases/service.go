package passphrases

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"lcpcli/internal/infrastructure"
	"lcpcli/internal/license"
)

// maxPromptAttempts bounds the interactive retry loop. After the last wrong
// attempt the entered passphrase is returned anyway so integrity validation
// reports the proper failure.
const maxPromptAttempts = 3

// recentCacheSize bounds the in-memory license-to-passphrase cache
const recentCacheSize = 128

// trialsClient is the subset of the native client the service needs
type trialsClient interface {
	FindOneValidPassphrase(licenseJSON []byte, candidates []string) (string, bool)
}

// Service resolves passphrases for licenses. Stored candidates are tried
// first; an interactive prompt is the fallback when the caller allows it.
type Service struct {
	store  *Store
	client trialsClient
	recent *lru.Cache[string, string]
	logger *slog.Logger
}

// NewService creates a passphrase service over the given store
func NewService(store *Store, client trialsClient, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	recent, err := lru.New[string, string](recentCacheSize)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:  store,
		client: client,
		recent: recent,
		logger: logger.With(slog.String("component", "passphrases")),
	}, nil
}

// Request resolves a passphrase for the license. An empty result with a nil
// error means the user declined.
func (s *Service) Request(ctx context.Context, lic *license.LicenseDocument, authentication license.Authentication, allowUserInteraction bool, sender interface{}) (string, error) {
	raw := lic.RawJSON()

	candidates := s.candidates(lic)
	if found, ok := s.client.FindOneValidPassphrase(raw, candidates); ok {
		s.recent.Add(lic.ID, found)
		s.logger.DebugContext(ctx, "Passphrase resolved from store",
			slog.String("license_id", lic.ID))
		return found, nil
	}

	if authentication == nil || !allowUserInteraction {
		return "", nil
	}

	var entered string
	for attempt := 0; attempt < maxPromptAttempts; attempt++ {
		var err error
		entered, err = authentication.RequestPassphrase(ctx, lic, allowUserInteraction, sender)
		if err != nil {
			return "", err
		}
		if entered == "" {
			return "", nil
		}

		if _, ok := s.client.FindOneValidPassphrase(raw, []string{entered}); ok {
			s.remember(ctx, lic, entered)
			return entered, nil
		}

		s.logger.DebugContext(ctx, "Entered passphrase failed the key check",
			slog.String("license_id", lic.ID),
			slog.Int("attempt", attempt+1))
	}

	return entered, nil
}

// candidates assembles stored hashes for the license, freshest first
func (s *Service) candidates(lic *license.LicenseDocument) []string {
	var out []string
	if cached, ok := s.recent.Get(lic.ID); ok {
		out = append(out, cached)
	}
	return append(out, s.store.CandidatesFor(lic.ID, lic.Provider, lic.User.ID)...)
}

func (s *Service) remember(ctx context.Context, lic *license.LicenseDocument, passphrase string) {
	s.recent.Add(lic.ID, passphrase)
	if err := s.store.Save(lic.ID, lic.Provider, lic.User.ID, passphrase); err != nil {
		s.logger.WarnContext(ctx, "Failed to persist passphrase",
			slog.String("license_id", lic.ID),
			slog.String("error", err.Error()))
	}
}
