package secrets

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// PassphraseEnv names the variable holding the store passphrase.
const PassphraseEnv = "RELAYBOT_SECRETS_PASSPHRASE"

// Hooks for tests.
var (
	keySourceReadFile      = os.ReadFile
	keySourceUserConfigDir = os.UserConfigDir
	machineIDPath          = "/etc/machine-id"
)

// KeyFromEnvironment derives the store key from RELAYBOT_SECRETS_PASSPHRASE,
// falling back to the host's machine-id.
func KeyFromEnvironment() ([]byte, error) {
	if s := os.Getenv(PassphraseEnv); s != "" {
		return DeriveKey(s), nil
	}
	b, err := keySourceReadFile(machineIDPath)
	if err != nil {
		return nil, fmt.Errorf("secrets: set %s or ensure %s exists: %w", PassphraseEnv, machineIDPath, err)
	}
	if i := bytes.IndexAny(b, "\r\n"); i >= 0 {
		b = b[:i]
	}
	if len(b) == 0 {
		return nil, errors.New("secrets: machine-id is empty")
	}
	return DeriveKey(string(b)), nil
}

// DeriveKey returns a 32-byte key for passphrase.
func DeriveKey(passphrase string) []byte {
	const salt = "relaybot-secrets-v1"
	h := sha256.Sum256([]byte(salt + passphrase))
	return h[:]
}

// DefaultPath returns UserConfigDir/relaybot/.secrets.
func DefaultPath() (string, error) {
	base, err := keySourceUserConfigDir()
	if err != nil {
		return "", fmt.Errorf("secrets dir: %w", err)
	}
	return filepath.Join(base, "relaybot", ".secrets"), nil
}
