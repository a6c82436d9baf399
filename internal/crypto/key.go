package crypto

import (
	"fmt"

	"github.com/99designs/keyring"

	"github.com/nhle/mailhub/internal/model"
)

const serviceName = "mailhub"

// LoadSecret resolves the master credential secret from the
// configured source: the system keyring when keyring_key is set,
// otherwise the config value itself.
func LoadSecret(cfg model.CredentialsConfig) (string, error) {
	if cfg.KeyringKey == "" {
		return cfg.Secret, nil
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailhub/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailhub-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return "", fmt.Errorf("opening keyring: %w", err)
	}

	item, err := ring.Get(cfg.KeyringKey)
	if err != nil {
		return "", fmt.Errorf("getting master secret %q: %w", cfg.KeyringKey, err)
	}

	return string(item.Data), nil
}

// StoreSecret writes the master credential secret to the system
// keyring under the given key.
func StoreSecret(key, secret string) error {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      serviceName,
		FileDir:          "~/.config/mailhub/credentials",
		FilePasswordFunc: keyring.FixedStringPrompt("mailhub-file-key"),
	})
	if err != nil {
		return fmt.Errorf("opening keyring: %w", err)
	}

	if err := ring.Set(keyring.Item{Key: key, Data: []byte(secret)}); err != nil {
		return fmt.Errorf("setting master secret %q: %w", key, err)
	}

	return nil
}
