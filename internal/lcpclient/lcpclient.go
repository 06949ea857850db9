// Package lcpclient implements the cryptographic primitive behind the
// validation engine: passphrase trials and DRM context construction. It
// stands in for the native LCP library and exposes the same narrow surface.
package lcpclient

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidLicense marks a license the crypto layer cannot work with
	ErrInvalidLicense = errors.New("invalid license for context creation")
	// ErrInvalidPassphrase marks a passphrase that fails the key check
	ErrInvalidPassphrase = errors.New("passphrase does not match the license key check")
	// ErrCertificateRevoked marks a provider certificate present in the CRL
	ErrCertificateRevoked = errors.New("provider certificate has been revoked")
	// ErrCertificateExpired marks a provider certificate outside its validity
	// window at license issue time
	ErrCertificateExpired = errors.New("provider certificate was not valid when the license was issued")
)

// Context is the DRM context handed downstream for content decryption. The
// engine treats it as opaque.
type Context struct {
	LicenseID  string
	Profile    string
	UserKey    []byte
	ContentKey []byte
}

// Client implements passphrase trials and context construction
type Client struct{}

// New creates a native client
func New() *Client {
	return &Client{}
}

// licenseCrypto is the subset of the license document the crypto layer reads
type licenseCrypto struct {
	ID         string    `json:"id"`
	Issued     time.Time `json:"issued"`
	Encryption struct {
		Profile    string `json:"profile"`
		ContentKey struct {
			EncryptedValue string `json:"encrypted_value"`
		} `json:"content_key"`
		UserKey struct {
			KeyCheck string `json:"key_check"`
		} `json:"user_key"`
	} `json:"encryption"`
	Signature struct {
		Certificate string `json:"certificate"`
	} `json:"signature"`
}

// CreateContext verifies the passphrase and the provider certificate and
// produces the DRM context. The CRL is consulted for certificate revocation;
// an empty CRL skips the revocation check.
func (c *Client) CreateContext(licenseJSON []byte, passphrase string, crl []byte) (*Context, error) {
	var lic licenseCrypto
	if err := json.Unmarshal(licenseJSON, &lic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLicense, err)
	}
	if lic.ID == "" || lic.Encryption.UserKey.KeyCheck == "" {
		return nil, ErrInvalidLicense
	}

	userKey, ok := findUserKey(lic, passphrase)
	if !ok {
		return nil, ErrInvalidPassphrase
	}

	if err := verifyCertificate(lic, crl); err != nil {
		return nil, err
	}

	contentKey, err := decryptValue(userKey, lic.Encryption.ContentKey.EncryptedValue)
	if err != nil {
		return nil, fmt.Errorf("%w: content key: %v", ErrInvalidLicense, err)
	}

	return &Context{
		LicenseID:  lic.ID,
		Profile:    lic.Encryption.Profile,
		UserKey:    userKey,
		ContentKey: contentKey,
	}, nil
}

// FindOneValidPassphrase returns the first candidate unlocking the license.
// Candidates may be clear passphrases or hex-encoded sha256 digests of one.
func (c *Client) FindOneValidPassphrase(licenseJSON []byte, candidates []string) (string, bool) {
	var lic licenseCrypto
	if err := json.Unmarshal(licenseJSON, &lic); err != nil {
		return "", false
	}
	if lic.ID == "" || lic.Encryption.UserKey.KeyCheck == "" {
		return "", false
	}

	for _, candidate := range candidates {
		if _, ok := findUserKey(lic, candidate); ok {
			return candidate, true
		}
	}

	return "", false
}

// findUserKey resolves a passphrase into the user key unlocking the license.
// The passphrase may be the clear text or a hex-encoded sha256 digest of it.
func findUserKey(lic licenseCrypto, passphrase string) ([]byte, bool) {
	key := DeriveUserKey(passphrase)
	if checkUserKey(lic, key) {
		return key, true
	}
	if decoded, err := hex.DecodeString(passphrase); err == nil && len(decoded) == sha256.Size {
		if checkUserKey(lic, decoded) {
			return decoded, true
		}
	}
	return nil, false
}

// DeriveUserKey hashes a passphrase into the user key. Both supported
// profiles use a single sha256 round.
func DeriveUserKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

// checkUserKey decrypts the key check with the user key and compares it to
// the license id.
func checkUserKey(lic licenseCrypto, userKey []byte) bool {
	plain, err := decryptValue(userKey, lic.Encryption.UserKey.KeyCheck)
	if err != nil {
		return false
	}
	return string(plain) == lic.ID
}

// decryptValue decrypts a base64 AES-256-CBC value whose first block is the IV
func decryptValue(key []byte, encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 value: %w", err)
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext length is not a whole number of blocks")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	return stripPadding(plain)
}

// stripPadding removes PKCS#7 padding
func stripPadding(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-pad], nil
}

// verifyCertificate checks the provider certificate against its validity
// window at issue time and against the CRL. Licenses without a certificate
// are accepted; signature verification belongs to the license container
// pipeline, not this layer.
func verifyCertificate(lic licenseCrypto, crl []byte) error {
	if lic.Signature.Certificate == "" {
		return nil
	}

	der, err := base64.StdEncoding.DecodeString(lic.Signature.Certificate)
	if err != nil {
		return fmt.Errorf("%w: certificate is not valid base64", ErrInvalidLicense)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		// Tolerate non-DER certificate blobs; dev licenses carry opaque ones
		return nil
	}

	if !lic.Issued.IsZero() {
		if lic.Issued.Before(cert.NotBefore) || lic.Issued.After(cert.NotAfter) {
			return ErrCertificateExpired
		}
	}

	if len(crl) == 0 {
		return nil
	}
	list, err := x509.ParseRevocationList(crl)
	if err != nil {
		// A malformed CRL blob fails open; revocation is re-checked on the
		// next successful retrieval
		return nil
	}
	for _, revoked := range list.RevokedCertificateEntries {
		if revoked.SerialNumber != nil && cert.SerialNumber != nil &&
			revoked.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			return ErrCertificateRevoked
		}
	}

	return nil
}
