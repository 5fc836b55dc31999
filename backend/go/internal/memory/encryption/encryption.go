package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/ShuhangGe/calendar/backend/go/internal/config"
	"github.com/ShuhangGe/calendar/backend/go/internal/models"
)

// Engine performs authenticated encryption of fact fields. Every token
// is AES-256-GCM over a random nonce, so tampered or cross-user
// ciphertext fails authentication instead of decoding to garbage.
//
// Sensitive fields get a second, independent layer under a key derived
// from the master secret alone: leaking one user's secret is not enough
// to read their sensitive facts.
type Engine struct {
	deriver    *KeyDeriver
	masterKey  []byte
	keyVersion int
}

// RotationItem is one ciphertext to re-encrypt during key rotation.
type RotationItem struct {
	Ciphertext string
	Sensitive  bool
}

// NewEngine builds the engine and its key deriver from the security config.
func NewEngine(cfg *config.SecurityConfig) (*Engine, error) {
	deriver, err := NewKeyDeriver(cfg)
	if err != nil {
		return nil, err
	}
	masterKey := sha256.Sum256([]byte(cfg.MasterSecret))
	return &Engine{
		deriver:    deriver,
		masterKey:  masterKey[:],
		keyVersion: cfg.KeyVersion,
	}, nil
}

// KeyVersion reports the derivation generation stamped on new records.
func (e *Engine) KeyVersion() int { return e.keyVersion }

// Deriver exposes the underlying key deriver.
func (e *Engine) Deriver() *KeyDeriver { return e.deriver }

// Encrypt seals plaintext under the user's derived key. With sensitive
// set, the result is additionally sealed under the master key.
func (e *Engine) Encrypt(ctx context.Context, plaintext, userID, userSecret string, sensitive bool) (string, error) {
	userKey, err := e.deriver.DeriveUserKey(ctx, userID, userSecret)
	if err != nil {
		return "", err
	}

	token, err := seal(userKey, []byte(plaintext))
	if err != nil {
		return "", err
	}
	if sensitive {
		token, err = seal(e.masterKey, []byte(token))
		if err != nil {
			return "", err
		}
	}
	return token, nil
}

// Decrypt reverses Encrypt. It fails with ErrDecryption when the token
// was not produced under these inputs or the sensitive flag does not
// match how it was sealed; it never returns partial plaintext.
func (e *Engine) Decrypt(ctx context.Context, token, userID, userSecret string, sensitive bool) (string, error) {
	userKey, err := e.deriver.DeriveUserKey(ctx, userID, userSecret)
	if err != nil {
		return "", err
	}

	if sensitive {
		inner, err := open(e.masterKey, token)
		if err != nil {
			return "", err
		}
		token = string(inner)
	}
	plaintext, err := open(userKey, token)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Rotate re-encrypts every item from the old secret to the new one.
// All items are decrypted before anything is re-encrypted; any failure
// aborts the whole rotation so the caller never sees a half-rotated set.
func (e *Engine) Rotate(ctx context.Context, userID, oldSecret, newSecret string, items []RotationItem) ([]string, error) {
	plaintexts := make([]string, len(items))
	for i, item := range items {
		p, err := e.Decrypt(ctx, item.Ciphertext, userID, oldSecret, item.Sensitive)
		if err != nil {
			return nil, fmt.Errorf("rotation aborted at item %d: %w", i, err)
		}
		plaintexts[i] = p
	}

	rotated := make([]string, len(items))
	for i, p := range plaintexts {
		c, err := e.Encrypt(ctx, p, userID, newSecret, items[i].Sensitive)
		if err != nil {
			return nil, fmt.Errorf("rotation aborted at item %d: %w", i, err)
		}
		rotated[i] = c
	}
	return rotated, nil
}

// seal encrypts with AES-GCM and encodes nonce||ciphertext as
// unpadded URL-safe base64.
func seal(key, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("sealing failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("sealing failed: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("sealing failed: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// open decodes and authenticates a token produced by seal.
func open(key []byte, token string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed token", models.ErrDecryption)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDecryption, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDecryption, err)
	}
	if len(raw) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: token too short", models.ErrDecryption)
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", models.ErrDecryption)
	}
	return plaintext, nil
}
