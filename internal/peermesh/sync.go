// Package peermesh implements the Peer Mesh's active side: health
// probing and session/docker status rollups across every known remote
// host. The passive side (register-peer/exchange-peers handshakes) lives
// in internal/hostsconfig, since it only ever mutates the Hosts Config;
// this package is the one that reaches out over the network.
package peermesh

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aimaestro/meshhost/internal/hostsconfig"
)

// syncTimeout bounds a single peer's health probe during Sync.
const syncTimeout = 5 * time.Second

// Prober is the outbound calls a Driver needs from meshclient.Client.
type Prober interface {
	ProbeHealth(ctx context.Context, peer hostsconfig.Host) bool
	SessionsCount(ctx context.Context, peer hostsconfig.Host) (int, error)
	DockerInfo(ctx context.Context, peer hostsconfig.Host) (map[string]any, error)
}

// Driver runs the mesh sync and status rollups the Hosts HTTP routes
// need: POST/GET /hosts/sync and the mesh status view.
type Driver struct {
	hosts *hostsconfig.Store
	peers Prober
}

// New builds a Driver over hosts, calling out through peers.
func New(hosts *hostsconfig.Store, peers Prober) *Driver {
	return &Driver{hosts: hosts, peers: peers}
}

// SyncResult reports which remote hosts answered their health probe
// during a Sync run and which did not.
type SyncResult struct {
	Synced []string `json:"synced"`
	Failed []string `json:"failed"`
}

// Sync probes every enabled remote host concurrently and stamps SyncedAt
// on the ones that answer, per spec.md §4.G's fan-out-and-collect shape
// for mesh-wide operations.
func (d *Driver) Sync(ctx context.Context) (SyncResult, error) {
	hosts, err := d.hosts.List()
	if err != nil {
		return SyncResult{}, err
	}

	var remotes []hostsconfig.Host
	for _, h := range hosts {
		if h.Type == hostsconfig.TypeRemote && h.Enabled {
			remotes = append(remotes, h)
		}
	}
	if len(remotes) == 0 {
		return SyncResult{}, nil
	}

	type outcome struct {
		id string
		ok bool
	}
	outcomes := make(chan outcome, len(remotes))

	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range remotes {
		h := h
		g.Go(func() error {
			outcomes <- outcome{id: h.ID, ok: d.peers.ProbeHealth(gctx, h)}
			return nil
		})
	}
	_ = g.Wait()
	close(outcomes)

	result := SyncResult{}
	for o := range outcomes {
		if o.ok {
			result.Synced = append(result.Synced, o.id)
			now := time.Now()
			_, _ = d.hosts.UpdateHost(o.id, func(h hostsconfig.Host) (hostsconfig.Host, error) {
				h.SyncedAt = &now
				return h, nil
			})
		} else {
			result.Failed = append(result.Failed, o.id)
		}
	}
	return result, nil
}

// PeerStatus is one remote host's rolled-up status.
type PeerStatus struct {
	HostID   string         `json:"hostId"`
	Healthy  bool           `json:"healthy"`
	Sessions int            `json:"sessions,omitempty"`
	Docker   map[string]any `json:"docker,omitempty"`
}

// Status fans out a health probe plus session count and docker info to
// every enabled remote host concurrently, returning a best-effort status
// snapshot (a peer that fails health simply reports Healthy=false with
// no sessions/docker fields).
func (d *Driver) Status(ctx context.Context) ([]PeerStatus, error) {
	hosts, err := d.hosts.List()
	if err != nil {
		return nil, err
	}

	var remotes []hostsconfig.Host
	for _, h := range hosts {
		if h.Type == hostsconfig.TypeRemote && h.Enabled {
			remotes = append(remotes, h)
		}
	}
	if len(remotes) == 0 {
		return nil, nil
	}

	results := make([]PeerStatus, len(remotes))
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range remotes {
		i, h := i, h
		g.Go(func() error {
			status := PeerStatus{HostID: h.ID, Healthy: d.peers.ProbeHealth(gctx, h)}
			if status.Healthy {
				if n, err := d.peers.SessionsCount(gctx, h); err == nil {
					status.Sessions = n
				}
				if info, err := d.peers.DockerInfo(gctx, h); err == nil {
					status.Docker = info
				}
			}
			results[i] = status
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}
