package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultKeysFile = "intercoord.keys.yaml"

// KeysEnv overrides the keys file location.
const KeysEnv = "INTERCOORD_KEYS_FILE"

type keysFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth *bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Agents map[string]agentKeys `yaml:"agents"`
}

type agentKeys struct {
	Keys     []string `yaml:"keys"`
	Operator bool     `yaml:"operator,omitempty"`
}

// Identity is what a bearer key resolves to.
type Identity struct {
	Agent    string
	Operator bool
}

type Keyring struct {
	AllowLocalhostWithoutAuth bool
	keys                      map[string]Identity
}

func ResolveKeysPath() string {
	if v := strings.TrimSpace(os.Getenv(KeysEnv)); v != "" {
		return v
	}
	return filepath.Join(".", defaultKeysFile)
}

func LoadKeyringFromEnv() (*Keyring, error) {
	return LoadKeyring(ResolveKeysPath())
}

// LoadKeyring reads a keys file, bootstrapping a dev key for the "dev"
// operator when the file does not exist yet.
func LoadKeyring(path string) (*Keyring, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultKeyring(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read keys file: %w", err)
		}
		if _, err := BootstrapDevKey(path, "dev"); err != nil {
			return nil, fmt.Errorf("bootstrap dev key: %w", err)
		}
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read keys file: %w", err)
		}
	}
	var cfg keysFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}
	ring := defaultKeyring()
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth != nil {
		ring.AllowLocalhostWithoutAuth = *cfg.DefaultPolicy.AllowLocalhostWithoutAuth
	}
	for agent, entry := range cfg.Agents {
		agent = strings.TrimSpace(agent)
		if agent == "" {
			return nil, fmt.Errorf("keys file: empty agent name")
		}
		for _, key := range entry.Keys {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			if existing, ok := ring.keys[key]; ok && existing.Agent != agent {
				return nil, fmt.Errorf("key reused across agents: %q", key)
			}
			ring.keys[key] = Identity{Agent: agent, Operator: entry.Operator}
		}
	}
	return ring, nil
}

func defaultKeyring() *Keyring {
	return &Keyring{AllowLocalhostWithoutAuth: true, keys: make(map[string]Identity)}
}

func NewKeyring(allowLocalhost bool, keys map[string]Identity) *Keyring {
	clone := make(map[string]Identity, len(keys))
	for k, v := range keys {
		clone[k] = v
	}
	return &Keyring{AllowLocalhostWithoutAuth: allowLocalhost, keys: clone}
}

func (k *Keyring) IdentityForKey(key string) (Identity, bool) {
	if k == nil {
		return Identity{}, false
	}
	id, ok := k.keys[key]
	return id, ok
}
