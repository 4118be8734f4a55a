// Package registry owns Agent records and their on-disk directory: the
// canonical source of truth for which agents exist on this host, their
// AMP identity, and the API keys issued to them. Session metadata lives
// here too, but the existence of the underlying terminal session is
// owned by the session supervisor.
package registry

import "time"

// SessionStatus reports whether the terminal multiplexer has a live
// session for this agent.
type SessionStatus string

const (
	SessionOnline  SessionStatus = "online"
	SessionOffline SessionStatus = "offline"
)

// AgentSession is one tmux-backed session slot for an agent. sessions[0],
// when present, is the canonical session.
type AgentSession struct {
	Index            int           `json:"index"`
	TmuxSessionName  string        `json:"tmuxSessionName"`
	WorkingDirectory string        `json:"workingDirectory"`
	Status           SessionStatus `json:"status"`
	StartedAt        *time.Time    `json:"startedAt,omitempty"`
}

// AMPIdentity is the AMP-facing identity attached to a registered agent.
type AMPIdentity struct {
	Fingerprint  string    `json:"fingerprint"`
	PublicKeyHex string    `json:"publicKeyHex"`
	KeyAlgorithm string    `json:"keyAlgorithm"`
	CreatedAt    time.Time `json:"createdAt"`
	AMPAddress   string    `json:"ampAddress"`
	Tenant       string    `json:"tenant"`
}

// Tools groups an agent's tool-access configuration.
type Tools struct {
	Repositories []string `json:"repositories,omitempty"`
}

// Agent is a registered agent on this host.
type Agent struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Label            string         `json:"label,omitempty"`
	Alias            string         `json:"alias,omitempty"`
	HostID           string         `json:"hostId"`
	CreatedAt        time.Time      `json:"createdAt"`
	LastActive       *time.Time     `json:"lastActive,omitempty"`
	Avatar           string         `json:"avatar,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	Owner            string         `json:"owner,omitempty"`
	Team             string         `json:"team,omitempty"`
	Program          string         `json:"program,omitempty"`
	Model            string         `json:"model,omitempty"`
	WorkingDirectory string         `json:"workingDirectory,omitempty"`
	ProgramArgs      []string       `json:"programArgs,omitempty"`
	Sessions         []AgentSession `json:"sessions,omitempty"`
	Tools            Tools          `json:"tools"`
	Hooks            map[string]any `json:"hooks,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	AMPIdentity      *AMPIdentity   `json:"ampIdentity,omitempty"`
}

// CanonicalSession returns sessions[0], or nil if the agent has none.
func (a Agent) CanonicalSession() *AgentSession {
	if len(a.Sessions) == 0 {
		return nil
	}
	return &a.Sessions[0]
}

// Folder returns tags[0], the sidebar "folder" grouping.
func (a Agent) Folder() string {
	if len(a.Tags) == 0 {
		return ""
	}
	return a.Tags[0]
}

// SubFolder returns tags[1], the sidebar "sub-folder" grouping.
func (a Agent) SubFolder() string {
	if len(a.Tags) < 2 {
		return ""
	}
	return a.Tags[1]
}

// ApiKey is an issued credential; only its SHA-256 hash is persisted.
type ApiKey struct {
	Hash      string     `json:"hash"`
	AgentID   string     `json:"agentId"`
	TenantID  string     `json:"tenantId"`
	Address   string     `json:"address"`
	CreatedAt time.Time  `json:"createdAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}
