package auth

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestBootstrapDevKeyCreatesFile(t *testing.T) {
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "test-keys.yaml")

	result, err := BootstrapDevKey(keysPath, "operator-1")
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if !result.Created {
		t.Fatalf("expected Created=true")
	}
	if result.Key == "" {
		t.Fatalf("expected non-empty key")
	}
	if result.Agent != "operator-1" {
		t.Fatalf("expected agent=operator-1, got %s", result.Agent)
	}

	info, err := os.Stat(keysPath)
	if err != nil {
		t.Fatalf("keys file not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}

	ring, err := LoadKeyring(keysPath)
	if err != nil {
		t.Fatalf("load keyring: %v", err)
	}
	id, ok := ring.IdentityForKey(result.Key)
	if !ok || id.Agent != "operator-1" || !id.Operator {
		t.Fatalf("expected operator identity, got %+v ok=%v", id, ok)
	}
}

func TestBootstrapDevKeySkipsExisting(t *testing.T) {
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "test-keys.yaml")

	if err := os.WriteFile(keysPath, []byte("existing"), 0600); err != nil {
		t.Fatalf("write existing: %v", err)
	}

	result, err := BootstrapDevKey(keysPath, "operator-1")
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if result.Created {
		t.Fatalf("expected Created=false for existing file")
	}

	data, _ := os.ReadFile(keysPath)
	if string(data) != "existing" {
		t.Fatalf("file was modified")
	}
}

func TestBootstrapDevKeyDefaultAgentInNewDir(t *testing.T) {
	keysPath := filepath.Join(t.TempDir(), ".intercoord", "keys.yaml")

	result, err := BootstrapDevKey(keysPath, "")
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if result.Agent != "dev" || !result.Created {
		t.Fatalf("unexpected result %+v", result)
	}
	data, err := os.ReadFile(keysPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(data), "# intercoord API keys") {
		t.Fatalf("missing header: %q", data)
	}
}

func TestBootstrapDevKeyConcurrentStartsAgree(t *testing.T) {
	keysPath := filepath.Join(t.TempDir(), "keys.yaml")

	var wg sync.WaitGroup
	var created atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := BootstrapDevKey(keysPath, "dev")
			if err != nil {
				t.Errorf("bootstrap: %v", err)
				return
			}
			if res.Created {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	if created.Load() != 1 {
		t.Fatalf("expected exactly one creator, got %d", created.Load())
	}
	if _, err := LoadKeyring(keysPath); err != nil {
		t.Fatalf("load: %v", err)
	}
}
