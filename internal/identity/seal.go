package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/scrypt"

	apierrors "keydash/internal/errors"
)

const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32

	minSecretLength = 16
)

// sealSalt pins the derived key to session-cookie sealing so the same
// secret can never unseal material from another context.
var sealSalt = []byte("keydash.session.seal.v1")

// Sealer turns session IDs into opaque cookie values and back. Values are
// AES-GCM sealed under a key derived from the configured session secret,
// so a tampered or foreign cookie fails authentication instead of
// reaching the store.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from the session secret. A missing or
// short secret is a setup problem and fails construction.
func NewSealer(secret string) (*Sealer, error) {
	if len(secret) < minSecretLength {
		return nil, apierrors.NewConfigError(
			fmt.Sprintf("session secret must be at least %d characters", minSecretLength), nil)
	}

	key, err := scrypt.Key([]byte(secret), sealSalt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, apierrors.NewConfigError("failed to derive session sealing key", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apierrors.NewConfigError("failed to initialize session cipher", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apierrors.NewConfigError("failed to initialize session sealer", err)
	}

	// The cipher keeps its own key schedule; wipe the derived key.
	for i := range key {
		key[i] = 0
	}

	return &Sealer{aead: aead}, nil
}

// Seal encrypts a session ID into a cookie-safe token.
func (s *Sealer) Seal(value string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(value), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open recovers the session ID from a sealed token. Malformed and
// tampered tokens both map to ErrSessionNotFound so the caller treats
// them exactly like a missing session.
func (s *Sealer) Open(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("malformed session cookie: %w", apierrors.ErrSessionNotFound)
	}
	if len(raw) < s.aead.NonceSize() {
		return "", fmt.Errorf("truncated session cookie: %w", apierrors.ErrSessionNotFound)
	}

	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("session cookie failed authentication: %w", apierrors.ErrSessionNotFound)
	}
	return string(plain), nil
}
