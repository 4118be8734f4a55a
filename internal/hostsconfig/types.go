// Package hostsconfig owns the Hosts Config: the list of mesh peers this
// host knows about, and the single global Organization value. The Peer
// Mesh mutates this state only through the store's lock-protected calls.
package hostsconfig

import "time"

// HostType distinguishes the local host entry from remote peers.
type HostType string

const (
	TypeSelf   HostType = "self"
	TypeRemote HostType = "remote"
)

// Host is one entry in the mesh's host list. Exactly one entry has
// Type=self. Aliases collects every hostname/IP/URL the host is also
// known by, used for duplicate detection during peer handshakes.
type Host struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Type        HostType   `json:"type"`
	Aliases     []string   `json:"aliases,omitempty"`
	Enabled     bool       `json:"enabled"`
	Description string     `json:"description,omitempty"`
	SyncedAt    *time.Time `json:"syncedAt,omitempty"`
	SyncSource  string     `json:"syncSource,omitempty"`
	Tailscale   bool       `json:"tailscale,omitempty"`
}

// identifiers returns every string that must be unique across the mesh
// for this host: its id, its url, and all aliases.
func (h Host) identifiers() []string {
	ids := make([]string, 0, len(h.Aliases)+2)
	ids = append(ids, h.ID, h.URL)
	ids = append(ids, h.Aliases...)
	return ids
}

// Organization is the mesh-wide tenant label. It is write-once: once set,
// any attempt to set a different value is a mismatch error.
type Organization struct {
	Organization string    `json:"organization"`
	SetAt        time.Time `json:"setAt"`
	SetBy        string    `json:"setBy"`
}

// IsSet reports whether an organization value has been recorded.
func (o Organization) IsSet() bool {
	return o.Organization != ""
}
