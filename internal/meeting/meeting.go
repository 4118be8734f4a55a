// Package meeting stores Meeting records: spec.md §3.1's grouping of
// agents into a named session with a designated active speaker. The
// Message Store's meeting-thread listing (spec.md §4.I) reads a
// meeting's participant list to scan their mailboxes; this package only
// owns the meeting record itself.
package meeting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aimaestro/meshhost/internal/atomicfile"
	"github.com/aimaestro/meshhost/internal/errs"
)

// Status is a meeting's lifecycle state.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Meeting groups agents into a named, optionally team-scoped session.
type Meeting struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	AgentIDs      []string   `json:"agentIds"`
	TeamID        string     `json:"teamId,omitempty"`
	Status        Status     `json:"status"`
	ActiveAgentID string     `json:"activeAgentId,omitempty"`
	SidebarMode   bool       `json:"sidebarMode"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastActiveAt  *time.Time `json:"lastActiveAt,omitempty"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
}

type document struct {
	Meetings []Meeting `json:"meetings"`
}

// Store owns every meeting, persisted as a single JSON file.
type Store struct {
	path string
	mu   sync.Mutex
	data document
}

// New opens a Store at <dataDir>/meetings.json.
func New(dataDir string) (*Store, error) {
	s := &Store{path: filepath.Join(dataDir, "meetings.json")}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.data); err != nil {
		return fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) persist() error {
	return atomicfile.WriteJSON(s.path, s.data)
}

// Create registers a new meeting with a fresh ID, Status set to active
// and CreatedAt set to now, overwriting any values passed in for them.
func (s *Store) Create(m Meeting) (Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Name == "" {
		return Meeting{}, errs.New(errs.MissingField, "name is required")
	}
	m.ID = uuid.NewString()
	m.Status = StatusActive
	m.CreatedAt = time.Now()
	s.data.Meetings = append(s.data.Meetings, m)
	if err := s.persist(); err != nil {
		return Meeting{}, err
	}
	return m, nil
}

// List returns every meeting.
func (s *Store) List() []Meeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Meeting, len(s.data.Meetings))
	copy(out, s.data.Meetings)
	return out
}

// Get returns the meeting with the given id.
func (s *Store) Get(id string) (Meeting, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.data.Meetings {
		if m.ID == id {
			return m, true
		}
	}
	return Meeting{}, false
}

// Update applies fn to the stored meeting and stamps LastActiveAt.
func (s *Store) Update(id string, fn func(Meeting) (Meeting, error)) (Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.data.Meetings {
		if m.ID != id {
			continue
		}
		updated, err := fn(m)
		if err != nil {
			return Meeting{}, err
		}
		now := time.Now()
		updated.LastActiveAt = &now
		s.data.Meetings[i] = updated
		if err := s.persist(); err != nil {
			return Meeting{}, err
		}
		return updated, nil
	}
	return Meeting{}, errs.New(errs.NotFound, "meeting not found")
}

// End marks a meeting ended.
func (s *Store) End(id string) (Meeting, error) {
	return s.Update(id, func(m Meeting) (Meeting, error) {
		m.Status = StatusEnded
		now := time.Now()
		m.EndedAt = &now
		return m, nil
	})
}

// Delete removes a meeting by id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.data.Meetings {
		if m.ID == id {
			s.data.Meetings = append(s.data.Meetings[:i], s.data.Meetings[i+1:]...)
			return s.persist()
		}
	}
	return errs.New(errs.NotFound, "meeting not found")
}
