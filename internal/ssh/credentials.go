package ssh

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Credentials is either a Password or a KeyFile. The set is closed; exactly one
// variant is used for a run.
type Credentials interface {
	authMethod() (ssh.AuthMethod, error)
	kind() string
}

// Password authenticates with a plain password
type Password struct {
	Secret string
}

func (p Password) authMethod() (ssh.AuthMethod, error) {
	if p.Secret == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	return ssh.Password(p.Secret), nil
}

func (Password) kind() string { return "password" }

// KeyFile authenticates with a private key read from Path. Passphrase is only
// needed for encrypted keys.
type KeyFile struct {
	Path       string
	Passphrase string
}

func (k KeyFile) authMethod() (ssh.AuthMethod, error) {
	signer, err := loadSigner(k.Path, k.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity file %s: %w", k.Path, err)
	}
	return ssh.PublicKeys(signer), nil
}

func (KeyFile) kind() string { return "key" }

// NewCredentials picks the credential variant for a run
func NewCredentials(useKey bool, password, keyPath, passphrase string) Credentials {
	if useKey {
		return KeyFile{Path: keyPath, Passphrase: passphrase}
	}
	return Password{Secret: password}
}

// loadSigner parses a private key file, handling passphrase-protected keys
func loadSigner(path, passphrase string) (ssh.Signer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("key path cannot be empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(b, []byte(passphrase))
	}
	s, err := ssh.ParsePrivateKey(b)
	if err == nil {
		return s, nil
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, fmt.Errorf("private key is encrypted; set key-passphrase or FLEETDEPLOY_KEY_PASSPHRASE")
	}
	return nil, err
}
