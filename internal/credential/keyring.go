// Package credential keeps the IMAP password in the operating system keyring
// so it does not have to live in the environment or the config file.
package credential

import (
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "mailkan"

// backends are the OS-managed stores mailkan accepts. There is no file
// backend: it would need a passphrase of its own, which puts the secret
// back into the environment.
var backends = []keyring.BackendType{
	keyring.KeychainBackend,
	keyring.SecretServiceBackend,
	keyring.WinCredBackend,
	keyring.KWalletBackend,
	keyring.PassBackend,
}

// Vault stores IMAP passwords keyed by account
type Vault struct {
	ring keyring.Keyring
}

// Open opens the first available system keyring
func Open() (*Vault, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          backends,
		KeychainTrustApplication: true,
		KWalletAppID:             serviceName,
		KWalletFolder:            serviceName,
		PassPrefix:               serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("no usable system keyring: %w", err)
	}
	return NewVault(ring), nil
}

// NewVault wraps an already opened keyring
func NewVault(ring keyring.Keyring) *Vault {
	return &Vault{ring: ring}
}

func accountKey(user string) string {
	return "imap:" + user
}

// IMAPPassword returns the stored password of user
func (v *Vault) IMAPPassword(user string) (string, error) {
	item, err := v.ring.Get(accountKey(user))
	if err != nil {
		return "", fmt.Errorf("no IMAP password for %s in keyring: %w", user, err)
	}
	return string(item.Data), nil
}

// SetIMAPPassword stores password for user, replacing any previous one
func (v *Vault) SetIMAPPassword(user, password string) error {
	err := v.ring.Set(keyring.Item{
		Key:         accountKey(user),
		Data:        []byte(password),
		Label:       "mailkan IMAP password (" + user + ")",
		Description: "IMAP password",
	})
	if err != nil {
		return fmt.Errorf("storing IMAP password for %s: %w", user, err)
	}
	return nil
}
