package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const keysFileHeader = "# intercoord API keys. Each agent may hold several keys;\n# operator agents may resolve escalations and toggle auto-skip.\n"

// BootstrapResult reports what BootstrapDevKey did. Key and Agent are only
// set when a file was created.
type BootstrapResult struct {
	KeysFile string
	Agent    string
	Key      string
	Created  bool
}

// BootstrapDevKey writes a keys file holding one operator key for agent
// ("dev" when empty) unless a file already exists at keysPath. Creation is
// exclusive, so two servers starting together cannot mint different keys.
func BootstrapDevKey(keysPath, agent string) (BootstrapResult, error) {
	if keysPath == "" {
		keysPath = ResolveKeysPath()
	}
	if agent == "" {
		agent = "dev"
	}
	res := BootstrapResult{KeysFile: keysPath}

	key, err := newKey()
	if err != nil {
		return res, err
	}
	allow := true
	var doc keysFile
	doc.DefaultPolicy.AllowLocalhostWithoutAuth = &allow
	doc.Agents = map[string]agentKeys{agent: {Keys: []string{key}, Operator: true}}
	body, err := yaml.Marshal(&doc)
	if err != nil {
		return res, fmt.Errorf("marshal keys file: %w", err)
	}

	if dir := filepath.Dir(keysPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return res, fmt.Errorf("create keys dir: %w", err)
		}
	}
	f, err := os.OpenFile(keysPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("create keys file: %w", err)
	}
	if _, err := f.Write(append([]byte(keysFileHeader), body...)); err != nil {
		f.Close()
		return res, fmt.Errorf("write keys file: %w", err)
	}
	if err := f.Close(); err != nil {
		return res, fmt.Errorf("write keys file: %w", err)
	}

	res.Agent, res.Key, res.Created = agent, key, true
	return res, nil
}

func newKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
