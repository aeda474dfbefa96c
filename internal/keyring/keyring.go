package keyring

import (
	"errors"
	"fmt"
	"os"

	zkr "github.com/zalando/go-keyring"
)

const serviceName = "ouro"

// ErrNotFound is returned when the keychain holds no value for the account.
var ErrNotFound = errors.New("secret not found in keychain")

// Get retrieves a secret (e.g. "telegram-token", "api-key") from the OS keychain.
func Get(account string) (string, error) {
	if disabled() {
		return "", ErrNotFound
	}
	v, err := zkr.Get(serviceName, account)
	if errors.Is(err, zkr.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keychain get %s: %w", account, err)
	}
	return v, nil
}

// Set stores a secret in the OS keychain.
func Set(account, value string) error {
	return zkr.Set(serviceName, account, value)
}

// Delete removes a secret from the OS keychain.
func Delete(account string) error {
	return zkr.Delete(serviceName, account)
}

// Lookup returns current when it is non-empty, otherwise the keychain value.
// A missing or unavailable keychain yields "".
func Lookup(account, current string) string {
	if current != "" {
		return current
	}
	v, err := Get(account)
	if err != nil {
		return ""
	}
	return v
}

// Available returns true if the OS keychain is functional.
// Returns false if OURO_KEYRING_DISABLED=1 is set (headless/CI/Docker).
func Available() bool {
	if disabled() {
		return false
	}
	testService := "ouro-keyring-probe"
	testAccount := "probe"
	if err := zkr.Set(testService, testAccount, "ok"); err != nil {
		return false
	}
	_ = zkr.Delete(testService, testAccount)
	return true
}

func disabled() bool {
	return os.Getenv("OURO_KEYRING_DISABLED") == "1"
}
