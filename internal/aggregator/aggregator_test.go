package aggregator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimaestro/meshhost/internal/hostsconfig"
	"github.com/aimaestro/meshhost/internal/meshclient"
	"github.com/aimaestro/meshhost/internal/registry"
)

type fakeLocal struct{ agents []registry.Agent }

func (f *fakeLocal) List() []registry.Agent { return f.agents }

type fakePeerSource struct {
	byHost map[string][]meshclient.AgentSummary
	fail   map[string]bool
}

func (f *fakePeerSource) FetchAgents(ctx context.Context, peer hostsconfig.Host) ([]meshclient.AgentSummary, error) {
	if f.fail[peer.ID] {
		return nil, errors.New("peer unreachable")
	}
	return f.byHost[peer.ID], nil
}

func newTestHosts(t *testing.T) *hostsconfig.Store {
	t.Helper()
	dir := t.TempDir()
	hosts := hostsconfig.NewStore(dir)
	require.NoError(t, hosts.AddHost(hostsconfig.Host{ID: "self", URL: "http://self.local", Type: hostsconfig.TypeSelf, Enabled: true}))
	require.NoError(t, hosts.AddHost(hostsconfig.Host{ID: "peer-a", Name: "Peer A", URL: "http://peer-a.local", Type: hostsconfig.TypeRemote, Enabled: true}))
	return hosts
}

func TestLoadAllAgentsFirstCallReturnsSelfOnly(t *testing.T) {
	local := &fakeLocal{agents: []registry.Agent{{ID: "a1", Name: "alice"}}}
	peers := &fakePeerSource{byHost: map[string][]meshclient.AgentSummary{"peer-a": {{ID: "b1", Name: "bob"}}}}
	hosts := newTestHosts(t)

	agg := New(local, peers, hosts)
	result, err := agg.LoadAllAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, result.List, 1)
	assert.Equal(t, "alice", result.List[0].Name)
	assert.Equal(t, 1, result.Agents.Total)
}

func TestLoadAllAgentsMergesSelfAndPeers(t *testing.T) {
	local := &fakeLocal{agents: []registry.Agent{{ID: "a1", Name: "alice"}}}
	peers := &fakePeerSource{byHost: map[string][]meshclient.AgentSummary{"peer-a": {{ID: "b1", Name: "bob", Online: true}}}}
	hosts := newTestHosts(t)

	agg := New(local, peers, hosts)
	_, err := agg.LoadAllAgents(context.Background())
	require.NoError(t, err)

	result, err := agg.LoadAllAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, result.List, 2)
	// online-first: bob (online) sorts before alice (offline)
	assert.Equal(t, "bob", result.List[0].Name)
	assert.Equal(t, "alice", result.List[1].Name)
	assert.Equal(t, 2, result.Agents.Total)
	assert.Equal(t, 1, result.Agents.Online)
	assert.Equal(t, 1, result.Agents.Offline)
}

func TestLoadAllAgentsFiltersSystemAgents(t *testing.T) {
	local := &fakeLocal{agents: []registry.Agent{{ID: "sys1", Name: "_aim-worker"}, {ID: "a1", Name: "alice"}}}
	hosts := newTestHosts(t)
	agg := New(local, &fakePeerSource{}, hosts)

	_, err := agg.LoadAllAgents(context.Background())
	require.NoError(t, err)
	result, err := agg.LoadAllAgents(context.Background())
	require.NoError(t, err)

	require.Len(t, result.List, 1)
	assert.Equal(t, "alice", result.List[0].Name)
}

func TestLoadAllAgentsFallsBackToCacheOnPeerError(t *testing.T) {
	local := &fakeLocal{}
	hosts := newTestHosts(t)
	peers := &fakePeerSource{byHost: map[string][]meshclient.AgentSummary{"peer-a": {{ID: "b1", Name: "bob"}}}}
	agg := New(local, peers, hosts)

	_, err := agg.LoadAllAgents(context.Background())
	require.NoError(t, err)
	_, err = agg.LoadAllAgents(context.Background())
	require.NoError(t, err)

	peers.fail = map[string]bool{"peer-a": true}
	result, err := agg.LoadAllAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, result.List, 1)
	assert.Equal(t, "bob", result.List[0].Name)
	assert.True(t, result.List[0].Cached)
	assert.Equal(t, 1, result.Agents.Cached)
}

func TestLoadAllAgentsTracksNewlyRegistered(t *testing.T) {
	local := &fakeLocal{agents: []registry.Agent{{ID: "a1", Name: "alice"}}}
	hosts := newTestHosts(t)
	agg := New(local, &fakePeerSource{}, hosts)

	first, err := agg.LoadAllAgents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Agents.NewlyRegistered)

	local.agents = append(local.agents, registry.Agent{ID: "a2", Name: "bob"})
	second, err := agg.LoadAllAgents(context.Background())
	require.NoError(t, err)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Agents.NewlyRegistered)
}
