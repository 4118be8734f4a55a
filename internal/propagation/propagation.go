// Package propagation implements the peer-mesh loop-suppression guard: a
// size-bounded, restart-surviving record of propagation ids already
// processed by register-peer and exchange-peers handshakes, plus the
// AMP federation layer's separate delivered-envelope replay guard.
package propagation

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aimaestro/meshhost/internal/atomicfile"
)

// maxLogEntries bounds the on-disk propagation log; once exceeded the
// oldest entries are evicted, per spec.md's "small, size-bounded" guard.
const maxLogEntries = 10_000

// entry is one line of the on-disk propagation log.
type entry struct {
	ID       string    `json:"id"`
	FirstSeen time.Time `json:"firstSeenAt"`
}

// Guard implements hostsconfig.PropagationGuard: an in-memory LRU for
// O(1) lookups mirrored to a bounded on-disk log so a short-window replay
// is still suppressed across a process restart.
type Guard struct {
	path string
	mu   sync.Mutex
	lru  *lru.Cache[string, time.Time]
}

// New opens a Guard persisting to <dataDir>/propagation/log.json, loading
// any entries already recorded.
func New(dataDir string) (*Guard, error) {
	cache, err := lru.New[string, time.Time](maxLogEntries)
	if err != nil {
		return nil, err
	}
	g := &Guard{path: filepath.Join(dataDir, "propagation", "log.json"), lru: cache}
	if err := g.load(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Guard) load() error {
	data, err := os.ReadFile(g.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing propagation log: %w", err)
	}
	for _, e := range entries {
		g.lru.Add(e.ID, e.FirstSeen)
	}
	return nil
}

// Seen reports whether id has already been recorded.
func (g *Guard) Seen(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lru.Contains(id)
}

// Record persists id as seen, evicting the oldest entry if the bounded
// log is full. Safe to call for an id already recorded (no-op write).
func (g *Guard) Record(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lru.Contains(id) {
		return nil
	}
	g.lru.Add(id, time.Now())
	return g.flush()
}

func (g *Guard) flush() error {
	keys := g.lru.Keys()
	entries := make([]entry, 0, len(keys))
	for _, k := range keys {
		if ts, ok := g.lru.Peek(k); ok {
			entries = append(entries, entry{ID: k, FirstSeen: ts})
		}
	}
	return atomicfile.WriteJSON(g.path, entries)
}

// FederationLog implements the federation in-bound replay guard: one
// empty marker file per delivered envelope id under
// <dataDir>/federation/delivered/<base64url(id)>, garbage-collected at
// most once per hour for files older than 24h.
type FederationLog struct {
	dir        string
	mu         sync.Mutex
	lastGC     time.Time
	gcInterval time.Duration
	maxAge     time.Duration
}

// NewFederationLog opens a FederationLog rooted at dataDir.
func NewFederationLog(dataDir string) *FederationLog {
	return &FederationLog{
		dir:        filepath.Join(dataDir, "federation", "delivered"),
		gcInterval: time.Hour,
		maxAge:     24 * time.Hour,
	}
}

func base64URLSafe(id string) string {
	// filepath-safe encoding of an arbitrary envelope id; envelope ids are
	// already "msg_{unix_ms}_{rand7}" (alnum + underscore), but this keeps
	// the guard safe against ids from less disciplined senders.
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// SeenOrRecord reports whether id has already been delivered; if not, it
// atomically records it as delivered (marker-file creation is exclusive,
// so concurrent federation deliveries of the same id race safely).
func (f *FederationLog) SeenOrRecord(id string) (alreadySeen bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.maybeGC()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return false, fmt.Errorf("creating federation delivered directory: %w", err)
	}
	path := filepath.Join(f.dir, base64URLSafe(id))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("recording federation delivery: %w", err)
	}
	_ = file.Close()
	return false, nil
}

// maybeGC removes marker files older than maxAge, at most once per
// gcInterval. Caller must hold f.mu.
func (f *FederationLog) maybeGC() {
	if time.Since(f.lastGC) < f.gcInterval {
		return
	}
	f.lastGC = time.Now()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-f.maxAge)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(f.dir, e.Name()))
	}
}
