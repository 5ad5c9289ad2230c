// Package cli holds the helpers behind `intercoord init`.
package cli

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mistakeknot/intercoord/internal/policy"
	"gopkg.in/yaml.v3"
)

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

// InitKeysFile appends a fresh key for agent to the keys file at path,
// creating the file when needed, and returns the key. operator marks the
// agent as allowed to run operator tools; it is never cleared.
func InitKeysFile(path, agent string, operator bool) (string, error) {
	path = strings.TrimSpace(path)
	agent = strings.TrimSpace(agent)
	if path == "" {
		return "", fmt.Errorf("keys file path required")
	}
	if agent == "" {
		return "", fmt.Errorf("agent required")
	}

	cfg, err := loadKeysFile(path)
	if err != nil {
		return "", err
	}
	if cfg.Agents == nil {
		cfg.Agents = make(map[string]agentKeys)
	}
	key, err := generateKey()
	if err != nil {
		return "", err
	}
	ak := cfg.Agents[agent]
	ak.Keys = append(ak.Keys, key)
	ak.Operator = ak.Operator || operator
	cfg.Agents[agent] = ak
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth == nil {
		val := true
		cfg.DefaultPolicy.AllowLocalhostWithoutAuth = &val
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("marshal keys file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write keys file: %w", err)
	}
	return key, nil
}

// InitPolicyFile writes the default review policy to path. An existing file
// is left alone unless force is set; the return value reports whether the
// file was written.
func InitPolicyFile(path string, force bool) (bool, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = policy.DefaultPath
	}
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("check policy file: %w", err)
	}
	data, err := policy.Default().Marshal()
	if err != nil {
		return false, fmt.Errorf("marshal policy: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("create policy dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return false, fmt.Errorf("write policy file: %w", err)
	}
	return true, nil
}

func loadKeysFile(path string) (keysFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return keysFile{}, nil
		}
		return keysFile{}, fmt.Errorf("read keys file: %w", err)
	}
	var cfg keysFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return keysFile{}, fmt.Errorf("parse keys file: %w", err)
	}
	return cfg, nil
}

func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
