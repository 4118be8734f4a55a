package peermesh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimaestro/meshhost/internal/hostsconfig"
)

type fakeProber struct {
	healthy map[string]bool
	sess    map[string]int
}

func (f *fakeProber) ProbeHealth(ctx context.Context, peer hostsconfig.Host) bool {
	return f.healthy[peer.ID]
}

func (f *fakeProber) SessionsCount(ctx context.Context, peer hostsconfig.Host) (int, error) {
	return f.sess[peer.ID], nil
}

func (f *fakeProber) DockerInfo(ctx context.Context, peer hostsconfig.Host) (map[string]any, error) {
	return map[string]any{"available": true}, nil
}

func newTestHosts(t *testing.T) *hostsconfig.Store {
	t.Helper()
	hosts := hostsconfig.NewStore(t.TempDir())
	require.NoError(t, hosts.AddHost(hostsconfig.Host{ID: "alpha", URL: "http://alpha", Type: hostsconfig.TypeRemote, Enabled: true}))
	require.NoError(t, hosts.AddHost(hostsconfig.Host{ID: "beta", URL: "http://beta", Type: hostsconfig.TypeRemote, Enabled: true}))
	require.NoError(t, hosts.AddHost(hostsconfig.Host{ID: "self", URL: "http://self", Type: hostsconfig.TypeSelf, Enabled: true}))
	return hosts
}

func TestSyncReportsSyncedAndFailed(t *testing.T) {
	hosts := newTestHosts(t)
	prober := &fakeProber{healthy: map[string]bool{"alpha": true, "beta": false}}
	d := New(hosts, prober)

	result, err := d.Sync(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha"}, result.Synced)
	assert.ElementsMatch(t, []string{"beta"}, result.Failed)

	list, err := hosts.List()
	require.NoError(t, err)
	for _, h := range list {
		if h.ID == "alpha" {
			assert.NotNil(t, h.SyncedAt)
		}
	}
}

func TestStatusSkipsDetailsForUnhealthyPeer(t *testing.T) {
	hosts := newTestHosts(t)
	prober := &fakeProber{healthy: map[string]bool{"alpha": true, "beta": false}, sess: map[string]int{"alpha": 3}}
	d := New(hosts, prober)

	statuses, err := d.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byID := map[string]PeerStatus{}
	for _, s := range statuses {
		byID[s.HostID] = s
	}
	assert.True(t, byID["alpha"].Healthy)
	assert.Equal(t, 3, byID["alpha"].Sessions)
	assert.False(t, byID["beta"].Healthy)
	assert.Zero(t, byID["beta"].Sessions)
}
