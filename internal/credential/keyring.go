// Package credential stores the mailbox password and classifier API key in
// the system keyring.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "mail-triage"

// Keys of the secrets the application stores.
const (
	MailboxPassword = "mailbox-password"
	ClassifierKey   = "classifier-api-key"
)

// envVars maps a key to the environment variable that overrides it.
var envVars = map[string]string{
	MailboxPassword: "TRIAGE_MAILBOX_PASSWORD",
	ClassifierKey:   "TRIAGE_CLASSIFIER_API_KEY",
}

// ErrNotFound is returned when a secret is neither in the environment nor
// in the keyring.
var ErrNotFound = errors.New("credential not found")

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir(),
		FilePasswordFunc:         keyring.FixedStringPrompt("mail-triage-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

func fileDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.config/mail-triage/credentials"
	}
	return filepath.Join(home, ".config", "mail-triage", "credentials")
}

// EnvVar returns the environment variable that overrides key, or "".
func EnvVar(key string) string {
	return envVars[key]
}

// Lookup returns the secret for key, preferring its environment variable
// over the keyring.
func Lookup(key string) (string, error) {
	if env := EnvVar(key); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v, nil
		}
	}
	v, err := Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s (set %s or run 'triage config set-secret %s')", ErrNotFound, key, EnvVar(key), key)
	}
	return v, err
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	if _, ok := envVars[key]; !ok {
		return fmt.Errorf("unknown credential %q", key)
	}
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
