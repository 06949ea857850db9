package license

import (
	"context"
	"time"

	"lcpcli/internal/lcpclient"
)

// Network fetches a remote document within the given timeout. Implementations
// must return an error rather than block past the deadline.
type Network interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

// CRLService retrieves the certificate revocation list consumed by the native
// crypto layer.
type CRLService interface {
	Retrieve(ctx context.Context) ([]byte, error)
}

// DeviceService registers this device against a status server register link
// and returns the updated status document bytes, if any.
type DeviceService interface {
	RegisterLicense(ctx context.Context, license *LicenseDocument, link Link) ([]byte, error)
}

// Authentication is the caller-provided passphrase prompt. It is opaque to the
// engine, which only forwards it to the passphrase service.
type Authentication interface {
	RequestPassphrase(ctx context.Context, license *LicenseDocument, allowUserInteraction bool, sender interface{}) (string, error)
}

// PassphrasesService resolves a passphrase for a license, consulting stored
// candidates before falling back to the authentication prompt. An empty
// passphrase with a nil error means the user declined.
type PassphrasesService interface {
	Request(ctx context.Context, license *LicenseDocument, authentication Authentication, allowUserInteraction bool, sender interface{}) (string, error)
}

// LCPClient is the native cryptographic primitive behind the engine
type LCPClient interface {
	// CreateContext builds a DRM context from the raw license, the passphrase
	// and the CRL. It fails when the passphrase does not unlock the license.
	CreateContext(licenseJSON []byte, passphrase string, crl []byte) (*lcpclient.Context, error)

	// FindOneValidPassphrase returns the first candidate that unlocks the
	// license, or false when none does.
	FindOneValidPassphrase(licenseJSON []byte, candidates []string) (string, bool)
}
