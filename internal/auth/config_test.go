package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadKeyringAgents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	body := `default_policy:
  allow_localhost_without_auth: false
agents:
  architect:
    keys: [key-a, " key-b "]
  human:
    keys: [key-h]
    operator: true
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	ring, err := LoadKeyring(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ring.AllowLocalhostWithoutAuth {
		t.Fatalf("expected localhost bypass disabled")
	}
	if id, ok := ring.IdentityForKey("key-b"); !ok || id.Agent != "architect" || id.Operator {
		t.Fatalf("key-b: %+v ok=%v", id, ok)
	}
	if id, ok := ring.IdentityForKey("key-h"); !ok || !id.Operator {
		t.Fatalf("key-h should be an operator key: %+v", id)
	}
	if _, ok := ring.IdentityForKey("nope"); ok {
		t.Fatalf("unknown key resolved")
	}
}

func TestLoadKeyringRejectsSharedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	body := "agents:\n  a:\n    keys: [same]\n  b:\n    keys: [same]\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadKeyring(path)
	if err == nil || !strings.Contains(err.Error(), "reused") {
		t.Fatalf("expected reuse error, got %v", err)
	}
}

func TestLoadKeyringBootstrapsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	ring, err := LoadKeyring(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ring.AllowLocalhostWithoutAuth {
		t.Fatalf("bootstrapped keyring should allow localhost")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected keys file: %v", err)
	}
}

func TestResolveKeysPathFromEnv(t *testing.T) {
	t.Setenv(KeysEnv, "/tmp/custom.yaml")
	if got := ResolveKeysPath(); got != "/tmp/custom.yaml" {
		t.Fatalf("got %s", got)
	}
	t.Setenv(KeysEnv, "")
	if got := ResolveKeysPath(); got != defaultKeysFile {
		t.Fatalf("got %s", got)
	}
}
