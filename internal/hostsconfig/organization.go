package hostsconfig

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aimaestro/meshhost/internal/errs"
)

// maxPropagationDepth is the hop limit a register-peer/exchange-peers
// request may carry before being rejected outright.
const maxPropagationDepth = 3

// PropagationSource describes who originated a peer handshake request and
// how far it has traveled, used for loop suppression.
type PropagationSource struct {
	Initiator        string `json:"initiator,omitempty"`
	PropagationDepth int    `json:"propagationDepth"`
	PropagationID    string `json:"propagationId,omitempty"`
}

// RegisterPeerRequest is the inbound body of a register-peer handshake.
type RegisterPeerRequest struct {
	Host         Host               `json:"host"`
	Source       *PropagationSource `json:"source,omitempty"`
	Organization *Organization      `json:"organization,omitempty"`
}

// RegisterPeerResult is returned to the caller on success.
type RegisterPeerResult struct {
	Registered   bool         `json:"registered"`
	AlreadyKnown bool         `json:"alreadyKnown"`
	Self         Host         `json:"host"`
	KnownHosts   []Host       `json:"knownHosts"`
	Organization Organization `json:"organization"`
}

// PropagationGuard tracks handshake ids already processed, so a replayed
// register-peer/exchange-peers request becomes a no-op. Implementations
// typically back this with the propagation package's bounded log; here it
// is a minimal interface so hostsconfig stays decoupled from that store.
type PropagationGuard interface {
	Seen(id string) bool
	Record(id string) error
}

// RegisterPeer runs the register-peer handshake: depth/loop/self guards,
// organization adoption, identifier dedup, then insertion.
func (s *Store) RegisterPeer(req RegisterPeerRequest, guard PropagationGuard) (*RegisterPeerResult, error) {
	if req.Source != nil {
		if req.Source.PropagationDepth > maxPropagationDepth {
			return nil, errs.New(errs.InvalidRequest, "propagation depth exceeds limit")
		}
		if req.Source.PropagationID != "" && guard != nil && guard.Seen(req.Source.PropagationID) {
			self, err := s.Self()
			if err != nil {
				return nil, err
			}
			known, err := s.peersExcept("")
			if err != nil {
				return nil, err
			}
			org, err := s.Organization()
			if err != nil {
				return nil, err
			}
			return &RegisterPeerResult{Registered: false, AlreadyKnown: true, Self: selfOrEmpty(self), KnownHosts: known, Organization: org}, nil
		}
	}

	self, err := s.Self()
	if err != nil {
		return nil, err
	}
	if self != nil && self.ID == req.Host.ID {
		return nil, errs.New(errs.InvalidRequest, "host is self")
	}

	if err := s.AdoptOrganization(req.Organization); err != nil {
		return nil, err
	}

	conflict, err := s.Dedupe(req.Host)
	if err != nil {
		return nil, err
	}

	if !conflict {
		source := "peer-registration"
		if req.Source != nil && req.Source.Initiator != "" {
			source = req.Source.Initiator
		}
		peer := req.Host
		peer.Type = TypeRemote
		peer.Enabled = true
		peer.SyncSource = source
		now := time.Now()
		peer.SyncedAt = &now
		if err := s.AddHost(peer); err != nil && err != ErrAlreadyKnown {
			return nil, err
		}
	}

	if req.Source != nil && req.Source.PropagationID != "" && guard != nil {
		if err := guard.Record(req.Source.PropagationID); err != nil {
			return nil, fmt.Errorf("recording propagation id: %w", err)
		}
	}

	known, err := s.peersExcept(req.Host.ID)
	if err != nil {
		return nil, err
	}
	org, err := s.Organization()
	if err != nil {
		return nil, err
	}
	return &RegisterPeerResult{
		Registered:   !conflict,
		AlreadyKnown: conflict,
		Self:         selfOrEmpty(self),
		KnownHosts:   known,
		Organization: org,
	}, nil
}

func selfOrEmpty(self *Host) Host {
	if self == nil {
		return Host{}
	}
	return *self
}

// peersExcept returns every stored host except the one matching id (used
// to avoid handing a peer its own entry back).
func (s *Store) peersExcept(id string) ([]Host, error) {
	hosts, err := s.List()
	if err != nil {
		return nil, err
	}
	out := make([]Host, 0, len(hosts))
	for _, h := range hosts {
		if h.ID != id {
			out = append(out, h)
		}
	}
	return out, nil
}

// ExchangePeersRequest is the inbound body of a bulk exchange-peers
// handshake.
type ExchangePeersRequest struct {
	FromHost      Host          `json:"fromHost"`
	KnownHosts    []Host        `json:"knownHosts"`
	Organization  *Organization `json:"organization,omitempty"`
	PropagationID string        `json:"propagationId,omitempty"`
}

// ExchangePeersResult reports the outcome of a bulk exchange.
type ExchangePeersResult struct {
	NewlyAdded   []string `json:"newlyAdded"`
	AlreadyKnown []string `json:"alreadyKnown"`
	Unreachable  []string `json:"unreachable"`
}

// HealthProbe checks whether a candidate peer is reachable, used to gate
// which incoming hosts get added during exchange-peers. Callers supply a
// concrete probe (e.g. an HTTP GET of /api/config with a 5s timeout).
type HealthProbe func(h Host) bool

// ExchangePeers runs the exchange-peers handshake: for each incoming
// host, skip self/self-aliases/sender/already-known, then probe survivors
// concurrently and only add the reachable ones.
func (s *Store) ExchangePeers(req ExchangePeersRequest, guard PropagationGuard, probe HealthProbe) (*ExchangePeersResult, error) {
	if req.PropagationID != "" && guard != nil && guard.Seen(req.PropagationID) {
		return &ExchangePeersResult{}, nil
	}
	if err := s.AdoptOrganization(req.Organization); err != nil {
		return nil, err
	}

	self, err := s.Self()
	if err != nil {
		return nil, err
	}
	existing, err := s.List()
	if err != nil {
		return nil, err
	}

	var candidates []Host
	for _, h := range req.KnownHosts {
		if self != nil && h.ID == self.ID {
			continue
		}
		if h.ID == req.FromHost.ID {
			continue
		}
		known := false
		for _, e := range existing {
			if e.ID == h.ID {
				known = true
				break
			}
		}
		if known {
			continue
		}
		if identifierConflict(existing, h) {
			continue
		}
		candidates = append(candidates, h)
	}

	type probeOutcome struct {
		host      Host
		reachable bool
	}
	outcomes := make([]probeOutcome, len(candidates))
	g, _ := errgroup.WithContext(context.Background())
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			outcomes[i] = probeOutcome{host: c, reachable: probe == nil || probe(c)}
			return nil
		})
	}
	_ = g.Wait()

	result := &ExchangePeersResult{}
	for _, o := range outcomes {
		if !o.reachable {
			result.Unreachable = append(result.Unreachable, o.host.ID)
			continue
		}
		peer := o.host
		peer.Type = TypeRemote
		peer.Enabled = true
		peer.SyncSource = "exchange-peers"
		now := time.Now()
		peer.SyncedAt = &now
		if err := s.AddHost(peer); err != nil {
			if err == ErrAlreadyKnown {
				result.AlreadyKnown = append(result.AlreadyKnown, peer.ID)
				continue
			}
			return nil, err
		}
		result.NewlyAdded = append(result.NewlyAdded, peer.ID)
	}

	if req.PropagationID != "" && guard != nil {
		if err := guard.Record(req.PropagationID); err != nil {
			return nil, fmt.Errorf("recording propagation id: %w", err)
		}
	}

	return result, nil
}
