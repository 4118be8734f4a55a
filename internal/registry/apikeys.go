package registry

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aimaestro/meshhost/internal/atomicfile"
	"github.com/aimaestro/meshhost/internal/errs"
)

// tokenPrefix marks every issued API key, so a bearer token's shape alone
// is recognizable as one of ours (e.g. in logs) without decoding it.
const tokenPrefix = "uk_"

// KeyStore persists ApiKey records (hash only, never the raw token) under
// <data>/agents/<uuid>/registrations/. One JSON file per issued key.
type KeyStore struct {
	dataDir string
	mu      sync.Mutex
}

// NewKeyStore opens a KeyStore rooted at dataDir.
func NewKeyStore(dataDir string) *KeyStore {
	return &KeyStore{dataDir: dataDir}
}

func (k *KeyStore) dir(agentID string) string {
	return filepath.Join(k.dataDir, "agents", agentID, "registrations")
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue generates a fresh opaque bearer token for agentID and persists its
// hash alongside tenant/address metadata. Returns the raw token, which is
// never stored and must be handed to the caller now or not at all.
func (k *KeyStore) Issue(agentID, tenantID, address string) (token string, key ApiKey, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", ApiKey{}, fmt.Errorf("generating api key: %w", err)
	}
	token = tokenPrefix + hex.EncodeToString(raw)
	key = ApiKey{
		Hash:      hashToken(token),
		AgentID:   agentID,
		TenantID:  tenantID,
		Address:   address,
		CreatedAt: time.Now(),
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := os.MkdirAll(k.dir(agentID), 0o700); err != nil {
		return "", ApiKey{}, fmt.Errorf("creating registrations directory: %w", err)
	}
	path := filepath.Join(k.dir(agentID), key.Hash+".json")
	if err := atomicfile.WriteFile(path, mustJSON(key), 0o600); err != nil {
		return "", ApiKey{}, err
	}
	return token, key, nil
}

func mustJSON(v any) []byte {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(err)
	}
	return data
}

// Resolve looks up the ApiKey matching token across every agent
// directory. Revoked keys are not returned.
func (k *KeyStore) Resolve(token string) (ApiKey, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	hash := hashToken(token)
	agentsRoot := filepath.Join(k.dataDir, "agents")
	entries, err := os.ReadDir(agentsRoot)
	if os.IsNotExist(err) {
		return ApiKey{}, false, nil
	}
	if err != nil {
		return ApiKey{}, false, fmt.Errorf("reading agents directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(agentsRoot, e.Name(), "registrations", hash+".json")
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return ApiKey{}, false, fmt.Errorf("reading api key: %w", err)
		}
		var key ApiKey
		if err := json.Unmarshal(data, &key); err != nil {
			return ApiKey{}, false, fmt.Errorf("parsing api key: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(key.Hash), []byte(hash)) != 1 {
			continue
		}
		if key.RevokedAt != nil {
			return ApiKey{}, false, nil
		}
		return key, true, nil
	}
	return ApiKey{}, false, nil
}

// Revoke marks every key issued to agentID as revoked (used by hard
// delete and by the explicit revoke-key endpoint).
func (k *KeyStore) Revoke(agentID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	entries, err := os.ReadDir(k.dir(agentID))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading registrations: %w", err)
	}
	now := time.Now()
	for _, e := range entries {
		path := filepath.Join(k.dir(agentID), e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var key ApiKey
		if err := json.Unmarshal(data, &key); err != nil {
			continue
		}
		key.RevokedAt = &now
		if err := atomicfile.WriteFile(path, mustJSON(key), 0o600); err != nil {
			return err
		}
	}
	return nil
}

// Rotate issues a fresh token for agentID, keeping the same identity
// (tenant/address), and revokes every previously issued key for it.
func (k *KeyStore) Rotate(agentID, tenantID, address string) (string, ApiKey, error) {
	if err := k.Revoke(agentID); err != nil {
		return "", ApiKey{}, err
	}
	return k.Issue(agentID, tenantID, address)
}

// WipeAll removes every key issued to agentID, used by hard delete.
func (k *KeyStore) WipeAll(agentID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := os.RemoveAll(k.dir(agentID)); err != nil {
		return fmt.Errorf("wiping registrations: %w", err)
	}
	return nil
}

// errNotFound is a convenience for callers that want the stable wire code
// when a token doesn't resolve to a live key.
var errNotFound = errs.New(errs.Unauthorized, "invalid or revoked api key")

// ErrInvalidKey is returned by callers that wrap Resolve's (false, nil) in
// a wire-level error.
func ErrInvalidKey() error { return errNotFound }
