package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// secretReader looks up a credential by provider. Tests substitute a map.
type secretReader interface {
	Get(provider string) (string, error)
}

// SecretsFilePath returns the location of the secrets file: a JSON object
// mapping provider name to API key, readable only by the owner.
func SecretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

type secretsFile struct {
	path string
}

func (f secretsFile) Get(provider string) (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("secrets file not available: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	val, ok := secrets[provider]
	if !ok {
		return "", fmt.Errorf("provider %q not found in secrets file", provider)
	}
	return val, nil
}

// SetSecret stores the API key for provider in the secrets file.
func SetSecret(provider, value string) error {
	return setSecretAt(SecretsFilePath(), provider, value)
}

func setSecretAt(path, provider, value string) error {
	secrets := make(map[string]string)
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &secrets); err != nil {
			return fmt.Errorf("parsing secrets file: %w", err)
		}
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[provider] = value

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}
