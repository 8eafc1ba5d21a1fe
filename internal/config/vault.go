package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/vault/api"
)

// loadVaultSecrets reads the broker secret bundle from a KV v2 path.
// VAULT_TOKEN and VAULT_SECRET_PATH have sane development defaults so that a
// local Vault in dev mode works without extra wiring.
func loadVaultSecrets(addr string) (map[string]string, error) {
	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		token = "root"
	}
	path := os.Getenv("VAULT_SECRET_PATH")
	if path == "" {
		path = "secret/data/cti-broker"
	}

	cfg := api.DefaultConfig()
	cfg.Address = addr
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	secret, err := client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}

	// Unwrap the KV v2 envelope.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}

	out := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out, nil
}
