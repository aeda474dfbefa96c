package keyring

import (
	"testing"

	zkr "github.com/zalando/go-keyring"
)

func TestLookupPrefersCurrent(t *testing.T) {
	zkr.MockInit()
	if err := Set("api-key", "from-keychain"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := Lookup("api-key", "from-env"); got != "from-env" {
		t.Errorf("Lookup = %q, want from-env", got)
	}
	if got := Lookup("api-key", ""); got != "from-keychain" {
		t.Errorf("Lookup = %q, want from-keychain", got)
	}
}

func TestDisabledKeychain(t *testing.T) {
	zkr.MockInit()
	t.Setenv("OURO_KEYRING_DISABLED", "1")
	if _, err := Get("anything"); err != ErrNotFound {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
	if Available() {
		t.Error("Available should be false when disabled")
	}
}
