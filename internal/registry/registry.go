package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aimaestro/meshhost/internal/atomicfile"
	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/google/uuid"
)

var agentNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// Registry owns Agent records and their on-disk directory
// (<data>/agents/<uuid>/) for one host. A single process-wide mutex wraps
// every read-modify-write; reads hand back an atomic-snapshot copy so
// callers never observe a record mid-mutation.
type Registry struct {
	dataDir string
	mu      sync.RWMutex
	agents  map[string]Agent // id -> agent
}

// New opens a Registry rooted at dataDir, loading any agents already
// persisted on disk.
func New(dataDir string) (*Registry, error) {
	r := &Registry{dataDir: dataDir, agents: map[string]Agent{}}
	if err := r.loadAll(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) agentDir(id string) string {
	return filepath.Join(r.dataDir, "agents", id)
}

func (r *Registry) recordPath(id string) string {
	return filepath.Join(r.agentDir(id), "agent.json")
}

func (r *Registry) loadAll() error {
	root := filepath.Join(r.dataDir, "agents")
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading agents directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(r.recordPath(e.Name()))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading agent %s: %w", e.Name(), err)
		}
		var a Agent
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("parsing agent %s: %w", e.Name(), err)
		}
		r.agents[a.ID] = a
	}
	return nil
}

func (r *Registry) persist(a Agent) error {
	return atomicfile.WriteJSON(r.recordPath(a.ID), a)
}

// Create inserts a new agent, enforcing the (hostId, name) uniqueness
// invariant and, when ampRegistered is true, the agent-name pattern.
func (r *Registry) Create(a Agent, ampRegistered bool) (Agent, error) {
	if a.Name == "" {
		return Agent{}, errs.New(errs.MissingField, "agent name is required")
	}
	if ampRegistered && !agentNamePattern.MatchString(a.Name) {
		return Agent{}, errs.New(errs.InvalidField, "agent name does not match the AMP naming pattern")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.agents {
		if existing.HostID == a.HostID && existing.Name == a.Name {
			return Agent{}, errs.New(errs.NameTaken, "agent name already in use on this host")
		}
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	if err := r.persist(a); err != nil {
		return Agent{}, err
	}
	r.agents[a.ID] = a
	return a, nil
}

// Get returns a snapshot copy of the agent with the given id.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// FindByName returns the agent with the given (hostId, name), if any.
func (r *Registry) FindByName(hostID, name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.agents {
		if a.HostID == hostID && a.Name == name {
			return a, true
		}
	}
	return Agent{}, false
}

// List returns a snapshot copy of every agent on this host.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// Update applies fn to the current record for id and persists the result.
// fn receives a copy; its return value replaces the stored record.
func (r *Registry) Update(id string, fn func(Agent) (Agent, error)) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return Agent{}, errs.New(errs.NotFound, "agent not found")
	}
	updated, err := fn(a)
	if err != nil {
		return Agent{}, err
	}
	updated.ID = a.ID
	if err := r.persist(updated); err != nil {
		return Agent{}, err
	}
	r.agents[id] = updated
	return updated, nil
}

// FindByNameAnyHost returns the first agent matching name regardless of
// hostId, used by mesh discovery when the caller doesn't know which host
// an address resolves to.
func (r *Registry) FindByNameAnyHost(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.agents {
		if a.Name == name {
			return a, true
		}
	}
	return Agent{}, false
}

// Search returns every agent whose name, alias, or label contains query,
// case-insensitively.
func (r *Registry) Search(query string) []Agent {
	q := strings.ToLower(query)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Agent
	for _, a := range r.agents {
		if strings.Contains(strings.ToLower(a.Name), q) ||
			strings.Contains(strings.ToLower(a.Alias), q) ||
			strings.Contains(strings.ToLower(a.Label), q) {
			out = append(out, a)
		}
	}
	return out
}

// MarkAMPRegistered attaches an AMPIdentity and a metadata.amp sub-object
// to the agent, per the AMP registration path.
func (r *Registry) MarkAMPRegistered(id string, identity AMPIdentity, ampMetadata map[string]any) (Agent, error) {
	return r.Update(id, func(a Agent) (Agent, error) {
		a.AMPIdentity = &identity
		if a.Metadata == nil {
			a.Metadata = map[string]any{}
		}
		a.Metadata["amp"] = ampMetadata
		return a, nil
	})
}

// AMPRegistered returns every agent carrying an AMPIdentity.
func (r *Registry) AMPRegistered() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Agent
	for _, a := range r.agents {
		if a.AMPIdentity != nil {
			out = append(out, a)
		}
	}
	return out
}

// MergeAMPMetadata applies a deep merge of patch into the agent's Metadata["amp"]
// and Preferences-shaped metadata key, per the spec's "merges deeply only
// under metadata.amp and preferences" rule. Other top-level fields in
// patch replace the corresponding field wholesale (handled by callers via
// Update); this helper is for the metadata sub-object merge specifically.
func MergeAMPMetadata(existing, patch map[string]any) map[string]any {
	if existing == nil {
		existing = map[string]any{}
	}
	amp, _ := existing["amp"].(map[string]any)
	if amp == nil {
		amp = map[string]any{}
	}
	if incoming, ok := patch["amp"].(map[string]any); ok {
		for k, v := range incoming {
			amp[k] = v
		}
	}
	existing["amp"] = amp

	prefs, _ := existing["preferences"].(map[string]any)
	if prefs == nil {
		prefs = map[string]any{}
	}
	if incoming, ok := patch["preferences"].(map[string]any); ok {
		for k, v := range incoming {
			prefs[k] = v
		}
	}
	existing["preferences"] = prefs
	return existing
}

// TouchActivity stamps an agent's lastActive time to now.
func (r *Registry) TouchActivity(id string) error {
	_, err := r.Update(id, func(a Agent) (Agent, error) {
		now := time.Now()
		a.LastActive = &now
		return a, nil
	})
	return err
}

// SoftDelete marks an agent deleted by moving its directory aside rather
// than removing it, per the spec's "soft-delete (with backup)" path.
func (r *Registry) SoftDelete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return errs.New(errs.NotFound, "agent not found")
	}
	backup := r.agentDir(id) + ".deleted." + time.Now().UTC().Format("20060102T150405")
	if err := os.Rename(r.agentDir(id), backup); err != nil {
		return fmt.Errorf("backing up agent directory: %w", err)
	}
	delete(r.agents, id)
	return nil
}

// HardDelete removes the agent directory and the record entirely. Callers
// are responsible for revoking API keys and wiping mailbox directories
// before calling this (those live in other packages).
func (r *Registry) HardDelete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return errs.New(errs.NotFound, "agent not found")
	}
	if err := os.RemoveAll(r.agentDir(id)); err != nil {
		return fmt.Errorf("removing agent directory: %w", err)
	}
	delete(r.agents, id)
	return nil
}

// PeerAgentChecker queries a single peer for whether it knows an agent by
// address, used by CheckMeshAgentExists's concurrent fan-out.
type PeerAgentChecker func(ctx context.Context, peerID, address string) (bool, error)

// CheckMeshAgentExists asks every peer concurrently whether address
// exists anywhere on the mesh, returning as soon as the first peer
// confirms it (or once all peers have answered no / timed out).
func CheckMeshAgentExists(ctx context.Context, peerIDs []string, address string, check PeerAgentChecker) (bool, error) {
	if len(peerIDs) == 0 {
		return false, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	found := make(chan bool, len(peerIDs))

	for _, peerID := range peerIDs {
		peerID := peerID
		g.Go(func() error {
			ok, err := check(gctx, peerID, address)
			if err != nil {
				return nil //nolint:nilerr // peer errors are non-fatal to mesh discovery
			}
			if ok {
				found <- true
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case ok := <-found:
		return ok, nil
	case err := <-done:
		select {
		case ok := <-found:
			return ok, nil
		default:
			return false, err
		}
	}
}
