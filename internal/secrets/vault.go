package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// VaultResolver serves vault(path#key) references from a Vault KV v2 mount.
// Omitting the key reads the "value" field. Resolved values are cached for
// a short TTL so config reloads do not re-hit the Vault server.
type VaultResolver struct {
	address string
	token   string
	mount   string
	ttl     time.Duration
	client  *http.Client

	mu    sync.Mutex
	cache map[string]vaultEntry
}

type vaultEntry struct {
	value   string
	staleAt time.Time
}

func NewVaultResolver(address, token string) *VaultResolver {
	return &VaultResolver{
		address: strings.TrimRight(address, "/"),
		token:   token,
		mount:   "secret",
		ttl:     5 * time.Minute,
		client:  &http.Client{Timeout: 10 * time.Second},
		cache:   make(map[string]vaultEntry),
	}
}

func (v *VaultResolver) Resolve(ctx context.Context, ref string) (string, error) {
	inner, ok := innerRef(ref, "vault")
	if !ok {
		return "", fmt.Errorf("secret ref %q is not vault(path#key)", ref)
	}
	path, key := inner, "value"
	if i := strings.Index(inner, "#"); i >= 0 {
		path, key = inner[:i], inner[i+1:]
	}

	cacheKey := path + "#" + key
	now := time.Now()

	v.mu.Lock()
	if e, hit := v.cache[cacheKey]; hit && now.Before(e.staleAt) {
		v.mu.Unlock()
		return e.value, nil
	}
	v.mu.Unlock()

	value, err := v.read(ctx, path, key)
	if err != nil {
		return "", err
	}

	v.mu.Lock()
	v.cache[cacheKey] = vaultEntry{value: value, staleAt: now.Add(v.ttl)}
	v.mu.Unlock()
	return value, nil
}

func (v *VaultResolver) read(ctx context.Context, path, key string) (string, error) {
	url := fmt.Sprintf("%s/v1/%s/data/%s", v.address, v.mount, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Vault-Token", v.token)

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vault request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("vault response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vault status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("vault response: %w", err)
	}

	raw, ok := payload.Data.Data[key]
	if !ok {
		return "", fmt.Errorf("vault secret %s has no key %q", path, key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("vault secret %s key %q is not a string", path, key)
	}
	return s, nil
}
