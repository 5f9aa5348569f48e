// Package vault provides symmetric encryption for provider credentials and
// API-key secrets at rest. A single 256-bit key lives next to the config
// document; losing it only loses the masked-display copies, never the hashes
// used for verification.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// Vault encrypts and decrypts small secrets with AES-256-GCM. It is safe
// for concurrent use; the AEAD is stateless after construction.
type Vault struct {
	aead   cipher.AEAD
	logger *zap.Logger
}

// Open loads the key at keyPath, accepting 32 raw bytes, 64 hex characters,
// or base64 decoding to 32 bytes. A missing or unparseable file is replaced
// with a freshly generated key written base64-encoded with mode 0600.
func Open(keyPath string, logger *zap.Logger) (*Vault, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "vault"))

	key, err := loadKey(keyPath)
	if err != nil {
		logger.Warn("encryption key unusable, generating a new one",
			zap.String("path", keyPath),
			zap.Error(err),
		)
		key, err = generateKey(keyPath)
		if err != nil {
			return nil, err
		}
	}
	return New(key, logger)
}

// New builds a vault from raw key material (exactly 32 bytes).
func New(key []byte, logger *zap.Logger) (*Vault, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("vault key must be %d bytes, got %d", keySize, len(key))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Vault{aead: aead, logger: logger}, nil
}

// Encrypt seals plaintext and returns base64(nonce ‖ tag ‖ ciphertext).
// The tag sits before the ciphertext body in the encoded layout.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	// Seal appends the tag after the ciphertext; the wire layout keeps it
	// in front.
	split := len(sealed) - tagSize
	body, tag := sealed[:split], sealed[split:]

	out := make([]byte, 0, nonceSize+tagSize+len(body))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, body...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt. It returns nil on malformed
// input, truncation, or authentication failure; it never returns an error.
func (v *Vault) Decrypt(encoded string) *string {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil
	}
	if len(raw) < nonceSize+tagSize {
		return nil
	}
	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	body := raw[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(body)+tagSize)
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)

	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil
	}
	out := string(plain)
	return &out
}

// loadKey reads and parses the key file in its three accepted encodings.
func loadKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) == keySize {
		return raw, nil
	}

	text := strings.TrimSpace(string(raw))
	if len(text) == 2*keySize {
		if key, err := hex.DecodeString(text); err == nil {
			return key, nil
		}
	}
	if key, err := base64.StdEncoding.DecodeString(text); err == nil && len(key) == keySize {
		return key, nil
	}
	return nil, fmt.Errorf("key file %s is not 32 raw bytes, 64 hex chars, or base64 of 32 bytes", path)
}

func generateKey(path string) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(key) + "\n"
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}
