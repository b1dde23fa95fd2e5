// Package credentials provides the encrypted credential store.
//
// Each entry is sealed independently: a fresh 16-byte salt, a key derived
// with PBKDF2-SHA256 at 400k iterations from the configured master key, and
// AES-256-GCM for the ciphertext. Rotating the master key therefore only
// requires re-sealing entries, never a schema change.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keySize    = 32
	iterations = 400_000
)

// ErrNotFound is returned when a named credential does not exist.
var ErrNotFound = errors.New("credential not found")

// Record is one stored credential. Value is plaintext only in memory; the
// backend stores the sealed form.
type Record struct {
	Name        string    `json:"name"`
	Value       string    `json:"-"`
	Type        string    `json:"type,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SealedRecord is the persisted shape of a credential.
type SealedRecord struct {
	Name        string
	Ciphertext  string // base64
	Salt        string // base64, 16 bytes
	Type        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Backend persists sealed credentials. Implemented by internal/storage.
type Backend interface {
	PutCredential(ctx context.Context, rec *SealedRecord) error
	GetCredential(ctx context.Context, name string) (*SealedRecord, error)
	ListCredentials(ctx context.Context) ([]*SealedRecord, error)
	DeleteCredential(ctx context.Context, name string) error
}

// Store seals and unseals credentials against a Backend.
type Store struct {
	masterKey []byte
	backend   Backend
}

// NewStore creates a credential store. The master key must be non-empty;
// a missing key is a boot-time misconfiguration.
func NewStore(masterKey string, backend Backend) (*Store, error) {
	if strings.TrimSpace(masterKey) == "" {
		return nil, errors.New("credential master key is required")
	}
	if backend == nil {
		return nil, errors.New("credential backend is required")
	}
	return &Store{masterKey: []byte(masterKey), backend: backend}, nil
}

// Set seals and stores a credential, replacing any existing entry.
func (s *Store) Set(ctx context.Context, rec *Record) error {
	if rec == nil || strings.TrimSpace(rec.Name) == "" {
		return errors.New("credential name is required")
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	sealed, err := seal(s.masterKey, salt, []byte(rec.Value))
	if err != nil {
		return err
	}
	now := time.Now()
	return s.backend.PutCredential(ctx, &SealedRecord{
		Name:        rec.Name,
		Ciphertext:  base64.StdEncoding.EncodeToString(sealed),
		Salt:        base64.StdEncoding.EncodeToString(salt),
		Type:        rec.Type,
		Description: rec.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// Get unseals a credential by name.
func (s *Store) Get(ctx context.Context, name string) (*Record, error) {
	sealed, err := s.backend.GetCredential(ctx, name)
	if err != nil {
		return nil, err
	}
	salt, err := base64.StdEncoding.DecodeString(sealed.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, err := open(s.masterKey, salt, ciphertext)
	if err != nil {
		return nil, err
	}
	return &Record{
		Name:        sealed.Name,
		Value:       string(plaintext),
		Type:        sealed.Type,
		Description: sealed.Description,
		CreatedAt:   sealed.CreatedAt,
		UpdatedAt:   sealed.UpdatedAt,
	}, nil
}

// List returns credential metadata without values.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	sealed, err := s.backend.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(sealed))
	for _, rec := range sealed {
		out = append(out, &Record{
			Name:        rec.Name,
			Type:        rec.Type,
			Description: rec.Description,
			CreatedAt:   rec.CreatedAt,
			UpdatedAt:   rec.UpdatedAt,
		})
	}
	return out, nil
}

// Delete removes a credential. Deleting a missing entry is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.backend.DeleteCredential(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func deriveKey(masterKey, salt []byte) []byte {
	return pbkdf2.Key(masterKey, salt, iterations, keySize, sha256.New)
}

func seal(masterKey, salt, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(deriveKey(masterKey, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(masterKey, salt, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(deriveKey(masterKey, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("unseal credential: %w", err)
	}
	return plaintext, nil
}
