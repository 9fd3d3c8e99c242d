// Package artifact names exported dumps and maps them to opaque download
// tokens.
package artifact

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	apperrors "mysql-porter/internal/errors"
)

const (
	keySalt       = "mysql-porter/artifact-token/v1"
	keyIterations = 100000
	keyLength     = 32
)

// Tokenizer converts artifact paths under a root directory into URL-safe
// tokens and back. Tokens are AES-256-GCM sealed, so they cannot be forged or
// enumerated without the secret.
type Tokenizer struct {
	root string
	aead cipher.AEAD
}

// NewTokenizer derives the token key from secret with PBKDF2
func NewTokenizer(root, secret string) (*Tokenizer, error) {
	if secret == "" {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "artifact token secret is required", nil)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeFileSystem, "failed to resolve artifact root", err)
	}

	key := pbkdf2.Key([]byte(secret), []byte(keySalt), keyIterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	return &Tokenizer{root: absRoot, aead: aead}, nil
}

// Root returns the directory tokens are resolved against
func (t *Tokenizer) Root() string {
	return t.root
}

// Token seals the location of path relative to the root
func (t *Tokenizer) Token(path string) (string, error) {
	rel, err := t.relative(path)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, t.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := t.aead.Seal(nonce, nonce, []byte(filepath.ToSlash(rel)), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Resolve opens token and returns the absolute artifact path
func (t *Tokenizer) Resolve(token string) (string, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", invalidToken(err)
	}
	nonceSize := t.aead.NonceSize()
	if len(sealed) <= nonceSize {
		return "", invalidToken(nil)
	}

	plain, err := t.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", invalidToken(err)
	}

	path := filepath.Join(t.root, filepath.FromSlash(string(plain)))
	if _, err := t.relative(path); err != nil {
		return "", err
	}
	return path, nil
}

func (t *Tokenizer) relative(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(t.root, path)
	}
	rel, err := filepath.Rel(t.root, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperrors.NewAppError(apperrors.ErrorTypeValidation,
			fmt.Sprintf("artifact %s is outside %s", path, t.root), err)
	}
	return rel, nil
}

func invalidToken(cause error) error {
	err := apperrors.NewAppError(apperrors.ErrorTypeValidation, "invalid artifact token", cause)
	err.UserMessage = "The download token is invalid or was issued by another installation"
	return err
}
