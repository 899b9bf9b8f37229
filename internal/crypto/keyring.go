package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const (
	serviceName = "listsweep"
	keyItemName = "encryption-key"
)

// KeyringOptions configures where the encryption key is persisted.
type KeyringOptions struct {
	// Backend is "file" (default) or "system" for the OS keychain with a file fallback.
	Backend      string
	FileDir      string
	FilePassword string
}

// OpenKeyring opens the keyring that holds the encryption key.
func OpenKeyring(opts KeyringOptions) (keyring.Keyring, error) {
	backends := []keyring.BackendType{keyring.FileBackend}
	if opts.Backend == "system" {
		backends = []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		}
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          backends,
		FileDir:                  opts.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(opts.FilePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// LoadOrCreateKey returns the base64 encryption key stored in ring.
// On first use it generates a random 32-byte key and stores it, so later runs reuse it.
func LoadOrCreateKey(ring keyring.Keyring) (string, error) {
	item, err := ring.Get(keyItemName)
	if err == nil {
		return string(item.Data), nil
	}
	if !errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("reading encryption key: %w", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generating encryption key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)

	if err := ring.Set(keyring.Item{
		Key:   keyItemName,
		Data:  []byte(encoded),
		Label: "listsweep credential encryption key",
	}); err != nil {
		return "", fmt.Errorf("storing encryption key: %w", err)
	}

	return encoded, nil
}
