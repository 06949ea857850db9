// Package passphrases resolves the user passphrase for a license, consulting
// an encrypted on-disk store before falling back to an interactive prompt.
package passphrases

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/scrypt"
)

// storeSecret seeds the store encryption key together with a per-store random
// salt. Passphrases are stored hashed, so the encryption layer protects
// metadata, not secrets.
const storeSecret = "lcpcli-passphrase-store-v1"

// scrypt parameters for the store key
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// Record associates a hashed passphrase with the license it unlocked
type Record struct {
	LicenseID      string    `json:"license_id,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	PassphraseHash string    `json:"passphrase_hash"`
	AddedAt        time.Time `json:"added_at"`
}

// storePayload is the on-disk envelope of the encrypted record list
type storePayload struct {
	Version    uint8  `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Store persists hashed passphrases, encrypted at rest with AES-256-GCM under
// a scrypt-derived key.
type Store struct {
	path string

	mu      sync.Mutex
	records []Record
}

// NewStore opens or creates the passphrase store at path
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// HashPassphrase returns the hex sha256 digest stored for a passphrase
func HashPassphrase(passphrase string) string {
	sum := sha256.Sum256([]byte(passphrase))
	return hex.EncodeToString(sum[:])
}

// CandidatesFor returns stored passphrase hashes worth trying for a license,
// most specific first: exact license matches, then same provider and user,
// then same provider.
func (s *Store) CandidatesFor(licenseID, provider, userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exact, user, prov []string
	seen := make(map[string]bool)
	add := func(bucket *[]string, hash string) {
		if !seen[hash] {
			seen[hash] = true
			*bucket = append(*bucket, hash)
		}
	}

	for _, r := range s.records {
		switch {
		case licenseID != "" && r.LicenseID == licenseID:
			add(&exact, r.PassphraseHash)
		case provider != "" && r.Provider == provider && userID != "" && r.UserID == userID:
			add(&user, r.PassphraseHash)
		case provider != "" && r.Provider == provider:
			add(&prov, r.PassphraseHash)
		}
	}

	out := append(exact, user...)
	return append(out, prov...)
}

// Save records a passphrase for a license, hashed. An existing record for the
// same license is replaced.
func (s *Store) Save(licenseID, provider, userID, passphrase string) error {
	hash := passphrase
	if _, err := hex.DecodeString(passphrase); err != nil || len(passphrase) != 2*sha256.Size {
		hash = HashPassphrase(passphrase)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, r := range s.records {
		if r.LicenseID != licenseID || licenseID == "" {
			kept = append(kept, r)
		}
	}
	s.records = append(kept, Record{
		LicenseID:      licenseID,
		Provider:       provider,
		UserID:         userID,
		PassphraseHash: hash,
		AddedAt:        time.Now(),
	})

	return s.persist()
}

// Count returns the number of stored records
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read passphrase store: %w", err)
	}

	var payload storePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to parse passphrase store: %w", err)
	}

	plain, err := decryptPayload(&payload)
	if err != nil {
		return fmt.Errorf("failed to decrypt passphrase store: %w", err)
	}

	if err := json.Unmarshal(plain, &s.records); err != nil {
		return fmt.Errorf("failed to parse passphrase records: %w", err)
	}
	return nil
}

func (s *Store) persist() error {
	plain, err := json.Marshal(s.records)
	if err != nil {
		return fmt.Errorf("failed to marshal passphrase records: %w", err)
	}

	payload, err := encryptPayload(plain)
	if err != nil {
		return fmt.Errorf("failed to encrypt passphrase store: %w", err)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal passphrase store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create passphrase store directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write passphrase store: %w", err)
	}
	return nil
}

func encryptPayload(plain []byte) (*storePayload, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	gcm, err := storeCipher(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return &storePayload{
		Version:    1,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plain, nil),
	}, nil
}

func decryptPayload(payload *storePayload) ([]byte, error) {
	if payload.Version != 1 {
		return nil, fmt.Errorf("unsupported store version %d", payload.Version)
	}

	gcm, err := storeCipher(payload.Salt)
	if err != nil {
		return nil, err
	}
	if len(payload.Nonce) != gcm.NonceSize() {
		return nil, errors.New("invalid store nonce")
	}

	return gcm.Open(nil, payload.Nonce, payload.Ciphertext, nil)
}

func storeCipher(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(storeSecret), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
