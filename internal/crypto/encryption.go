package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// TokenPrefix marks a stored credential as already encrypted.
const TokenPrefix = "lsv1:"

// ErrNotToken is returned when decrypting a value that lacks TokenPrefix.
var ErrNotToken = errors.New("value is not an encrypted token")

// Encryptor seals the stored mailbox password with AES-256-GCM.
type Encryptor struct {
	key []byte
}

// NewEncryptor takes a base64 encoded 32-byte key.
func NewEncryptor(base64Key string) (*Encryptor, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (256 bits), got %d bytes", len(key))
	}

	return &Encryptor{key: key}, nil
}

// Encrypt returns nonce||ciphertext||tag with a fresh random nonce.
func (e *Encryptor) Encrypt(plaintext string) ([]byte, error) {
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a value produced by Encrypt.
func (e *Encryptor) Decrypt(ciphertext []byte) (string, error) {
	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// EncryptToken encrypts plaintext into a printable token that can be stored in
// text-based settings: TokenPrefix followed by the URL-safe base64 ciphertext.
func (e *Encryptor) EncryptToken(plaintext string) (string, error) {
	ciphertext, err := e.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// DecryptToken reverses EncryptToken.
func (e *Encryptor) DecryptToken(token string) (string, error) {
	if !IsToken(token) {
		return "", ErrNotToken
	}

	ciphertext, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, TokenPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode token: %w", err)
	}

	return e.Decrypt(ciphertext)
}

// EnsureToken encrypts value unless it already is a token, so a stored credential
// is never encrypted twice.
func (e *Encryptor) EnsureToken(value string) (string, error) {
	if IsToken(value) {
		return value, nil
	}
	return e.EncryptToken(value)
}

// IsToken reports whether value carries the encrypted-token prefix.
func IsToken(value string) bool {
	return strings.HasPrefix(value, TokenPrefix)
}

func (e *Encryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
