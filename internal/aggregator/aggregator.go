// Package aggregator implements the fleet-wide agent view: a concurrent
// fan-out across the local host and every enabled peer, with a
// size-bounded per-peer cache so a peer that's briefly unreachable still
// contributes its last-known agent list instead of dropping out.
package aggregator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/aimaestro/meshhost/internal/hostsconfig"
	"github.com/aimaestro/meshhost/internal/meshclient"
	"github.com/aimaestro/meshhost/internal/registry"
)

// peerFetchTimeout bounds each peer fetch in the fan-out.
// selfFetchTimeout is not applied: the local fetch is an in-memory
// registry read (see fetchSelf).
const (
	selfFetchTimeout = 8 * time.Second
	peerFetchTimeout = 3 * time.Second
	peerCacheSize    = 64
)

// systemAgentPrefix marks internal agents that never appear in the public
// fleet view.
const systemAgentPrefix = "_aim-"

// Agent is one fleet member, stamped with the host it came from.
type Agent struct {
	ID       string
	Name     string
	Online   bool
	HostID   string // empty for the local host, so clients use relative URLs
	HostName string
	HostURL  string
	Cached   bool // true when served from the per-peer fallback cache
}

// Stats is the single-pass rollup computed alongside the merged list.
type Stats struct {
	Total           int
	Online          int
	Offline         int
	Orphans         int // agents whose host is no longer a known peer
	Cached          int
	NewlyRegistered int
}

// Result is loadAllAgents's return value.
type Result struct {
	Agents Stats
	List   []Agent
}

// LocalSource fetches the local host's agents. registry.Registry
// satisfies it directly.
type LocalSource interface {
	List() []registry.Agent
}

// PeerSource fetches a peer's public agent list. meshclient.Client
// satisfies it.
type PeerSource interface {
	FetchAgents(ctx context.Context, peer hostsconfig.Host) ([]meshclient.AgentSummary, error)
}

// Aggregator owns the per-peer fallback caches and the dependencies
// needed to fan out a fleet-wide agent fetch.
type Aggregator struct {
	local LocalSource
	peers PeerSource
	hosts *hostsconfig.Store

	mu            sync.Mutex
	warmWG        sync.WaitGroup
	peerCache     map[string]*lru.Cache[string, meshclient.AgentSummary]
	seenAgents    map[string]bool // ids seen across the aggregator's lifetime, for newlyRegistered
	firstCallDone bool
}

// New builds an Aggregator. local fetches this host's agents; peers
// fetches a remote host's; hosts supplies the current peer list.
func New(local LocalSource, peers PeerSource, hosts *hostsconfig.Store) *Aggregator {
	return &Aggregator{
		local:      local,
		peers:      peers,
		hosts:      hosts,
		peerCache:  make(map[string]*lru.Cache[string, meshclient.AgentSummary]),
		seenAgents: make(map[string]bool),
	}
}

// LoadAllAgents fans out to the local host and every enabled peer
// concurrently, merges the results, filters system agents, sorts
// online-first then by name, and computes the stats rollup.
//
// On the very first call, the self fetch completing is enough to return:
// peer fetches continue but their results are folded into the cache only
// (the spec's first-paint optimization). Every subsequent call waits for
// the full fan-out.
func (a *Aggregator) LoadAllAgents(ctx context.Context) (Result, error) {
	a.mu.Lock()
	isFirstCall := !a.firstCallDone
	a.mu.Unlock()

	selfAgents := a.fetchSelf(ctx)

	if isFirstCall {
		a.mu.Lock()
		a.firstCallDone = true
		a.mu.Unlock()
		a.warmWG.Add(1)
		go a.fanOutPeersIntoCache(context.Background())
		return a.buildResult(selfAgents, nil), nil
	}

	// A refresh that races the first call's background warm waits for it,
	// so the merged list always reflects at least one completed peer pass.
	a.warmWG.Wait()

	peerAgents, err := a.fetchPeers(ctx)
	if err != nil {
		return Result{}, err
	}
	return a.buildResult(selfAgents, peerAgents), nil
}

// fetchSelf reads the local registry directly, with no timer of its own
// and without consulting ctx: an in-memory registry read never blocks
// long enough to need one.
func (a *Aggregator) fetchSelf(ctx context.Context) []Agent {
	out := make([]Agent, 0, len(a.local.List()))
	for _, ag := range a.local.List() {
		out = append(out, Agent{
			ID:     ag.ID,
			Name:   ag.Name,
			Online: isOnline(ag),
		})
	}
	return out
}

// fanOutPeersIntoCache runs the peer fetches without blocking the first
// call's response, warming the per-peer cache for the next call.
func (a *Aggregator) fanOutPeersIntoCache(ctx context.Context) {
	defer a.warmWG.Done()
	_, _ = a.fetchPeers(ctx)
}

func (a *Aggregator) fetchPeers(ctx context.Context) ([]Agent, error) {
	if a.peers == nil || a.hosts == nil {
		return nil, nil
	}
	hosts, err := a.hosts.List()
	if err != nil {
		return nil, err
	}

	type peerResult struct {
		host   hostsconfig.Host
		agents []meshclient.AgentSummary
		cached bool
	}
	results := make([]peerResult, len(hosts))

	g, gctx := errgroup.WithContext(ctx)
	for i, h := range hosts {
		if h.Type != hostsconfig.TypeRemote || !h.Enabled {
			continue
		}
		i, h := i, h
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, peerFetchTimeout)
			defer cancel()
			fetched, err := a.peers.FetchAgents(fetchCtx, h)
			if err != nil {
				cached := a.cachedAgentsFor(h.ID)
				results[i] = peerResult{host: h, agents: cached, cached: true}
				return nil
			}
			a.warmCache(h.ID, fetched)
			results[i] = peerResult{host: h, agents: fetched}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Agent, 0)
	for _, r := range results {
		if r.host.ID == "" {
			continue
		}
		for _, summary := range r.agents {
			out = append(out, Agent{
				ID:       summary.ID,
				Name:     summary.Name,
				Online:   summary.Online,
				HostID:   r.host.ID,
				HostName: r.host.Name,
				HostURL:  r.host.URL,
				Cached:   r.cached,
			})
		}
	}
	return out, nil
}

func (a *Aggregator) warmCache(hostID string, agents []meshclient.AgentSummary) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cache, ok := a.peerCache[hostID]
	if !ok {
		var err error
		cache, err = lru.New[string, meshclient.AgentSummary](peerCacheSize)
		if err != nil {
			return
		}
		a.peerCache[hostID] = cache
	}
	for _, agent := range agents {
		cache.Add(agent.ID, agent)
	}
}

func (a *Aggregator) cachedAgentsFor(hostID string) []meshclient.AgentSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	cache, ok := a.peerCache[hostID]
	if !ok {
		return nil
	}
	out := make([]meshclient.AgentSummary, 0, cache.Len())
	for _, key := range cache.Keys() {
		if v, ok := cache.Get(key); ok {
			out = append(out, v)
		}
	}
	return out
}

// buildResult filters, sorts, and computes stats over the merged agent
// list in a single pass.
func (a *Aggregator) buildResult(selfAgents, peerAgents []Agent) Result {
	merged := make([]Agent, 0, len(selfAgents)+len(peerAgents))
	merged = append(merged, selfAgents...)
	merged = append(merged, peerAgents...)

	filtered := merged[:0]
	for _, ag := range merged {
		if strings.HasPrefix(ag.Name, systemAgentPrefix) {
			continue
		}
		filtered = append(filtered, ag)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Online != filtered[j].Online {
			return filtered[i].Online
		}
		return strings.ToLower(filtered[i].Name) < strings.ToLower(filtered[j].Name)
	})

	stats := Stats{Total: len(filtered)}
	a.mu.Lock()
	for _, ag := range filtered {
		if ag.Online {
			stats.Online++
		} else {
			stats.Offline++
		}
		if ag.Cached {
			stats.Cached++
		}
		if ag.HostID != "" && !a.hostKnown(ag.HostID) {
			stats.Orphans++
		}
		if !a.seenAgents[ag.ID] {
			stats.NewlyRegistered++
			a.seenAgents[ag.ID] = true
		}
	}
	a.mu.Unlock()

	return Result{Agents: stats, List: filtered}
}

func (a *Aggregator) hostKnown(hostID string) bool {
	if a.hosts == nil {
		return true
	}
	host, err := a.hosts.FindByAnyIdentifier(hostID)
	return err == nil && host != nil
}

func isOnline(ag registry.Agent) bool {
	sess := ag.CanonicalSession()
	return sess != nil && sess.Status == registry.SessionOnline
}
