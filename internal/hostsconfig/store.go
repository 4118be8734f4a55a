package hostsconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/aimaestro/meshhost/internal/atomicfile"
	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/aimaestro/meshhost/internal/lock"
)

var hostIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrAlreadyKnown is returned by AddHost when the host (by id) is already
// present; callers treat this as a successful no-op.
var ErrAlreadyKnown = fmt.Errorf("host already known")

// document is the on-disk shape of the hosts config file.
type document struct {
	Hosts        []Host        `json:"hosts"`
	Organization *Organization `json:"organization,omitempty"`
}

// Store owns the Host list and the Organization value for one data
// directory. All reads and writes go through a single process-wide mutex
// plus a cross-process flock, mirroring the spec's single-mutex model for
// the hosts file.
type Store struct {
	path     string
	lockPath string
	mu       sync.Mutex
}

// NewStore opens (without yet reading) the hosts config store rooted at
// dataDir.
func NewStore(dataDir string) *Store {
	return &Store{
		path:     filepath.Join(dataDir, "hosts.json"),
		lockPath: filepath.Join(dataDir, "hosts.json.lock"),
	}
}

func (s *Store) load() (document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return document{}, nil
	}
	if err != nil {
		return document{}, fmt.Errorf("reading hosts config: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("parsing hosts config: %w", err)
	}
	return doc, nil
}

func (s *Store) save(doc document) error {
	return atomicfile.WriteJSON(s.path, doc)
}

// withLock serializes read-modify-write across both goroutines in this
// process (mu) and separate processes sharing dataDir (flock).
func (s *Store) withLock(fn func(doc *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := lock.Acquire(s.lockPath)
	if err != nil {
		return fmt.Errorf("locking hosts config: %w", err)
	}
	defer release()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	return s.save(doc)
}

// List returns a snapshot copy of the current host list.
func (s *Store) List() ([]Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Host, len(doc.Hosts))
	copy(out, doc.Hosts)
	return out, nil
}

// Self returns the host entry with Type=self, if any.
func (s *Store) Self() (*Host, error) {
	hosts, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := range hosts {
		if hosts[i].Type == TypeSelf {
			return &hosts[i], nil
		}
	}
	return nil, nil
}

// Organization returns the current organization value, or a zero value if
// unset.
func (s *Store) Organization() (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return Organization{}, err
	}
	if doc.Organization == nil {
		return Organization{}, nil
	}
	return *doc.Organization, nil
}

// SetOrganization sets the organization value for the first time. Once
// set it is immutable; see AdoptOrganization for the mesh handshake path.
func (s *Store) SetOrganization(value, setBy string) error {
	return s.withLock(func(doc *document) error {
		if doc.Organization != nil && doc.Organization.Organization != "" {
			if doc.Organization.Organization != value {
				return errs.New(errs.InvalidRequest, "organization already set to a different value")
			}
			return nil
		}
		doc.Organization = &Organization{Organization: value, SetAt: time.Now(), SetBy: setBy}
		return nil
	})
}

// AdoptOrganization is the peer-handshake variant: it silently adopts the
// incoming value if none is set locally yet, and returns a 409-mapped
// mismatch error if a different value is already recorded. A nil or
// unset incoming organization is a no-op.
func (s *Store) AdoptOrganization(incoming *Organization) error {
	if incoming == nil || incoming.Organization == "" {
		return nil
	}
	return s.withLock(func(doc *document) error {
		if doc.Organization == nil || doc.Organization.Organization == "" {
			adopted := *incoming
			doc.Organization = &adopted
			return nil
		}
		if doc.Organization.Organization != incoming.Organization {
			return errs.New(errs.InvalidRequest, "organization mismatch").WithFields(map[string]any{
				"local":    doc.Organization.Organization,
				"incoming": incoming.Organization,
			})
		}
		return nil
	})
}

// validateHost checks the id pattern and url presence invariants.
func validateHost(h Host) error {
	if !hostIDPattern.MatchString(h.ID) {
		return errs.New(errs.InvalidField, "host id must match ^[A-Za-z0-9_-]+$")
	}
	if h.URL == "" {
		return errs.New(errs.MissingField, "host url is required")
	}
	return nil
}

// identifierConflict reports whether any identifier of candidate collides
// with any identifier of an existing host other than itself.
func identifierConflict(hosts []Host, candidate Host) bool {
	incoming := make(map[string]bool)
	for _, id := range candidate.identifiers() {
		if id != "" {
			incoming[id] = true
		}
	}
	for _, existing := range hosts {
		if existing.ID == candidate.ID {
			continue
		}
		for _, id := range existing.identifiers() {
			if id != "" && incoming[id] {
				return true
			}
		}
	}
	return false
}

// AddHost inserts a new host, enforcing the pairwise-disjoint identifier
// invariant across id/url/aliases. Adding a host whose id already exists
// returns ErrAlreadyKnown and leaves the list unchanged (idempotent
// addHost per the testable-properties round-trip requirement).
func (s *Store) AddHost(h Host) error {
	if err := validateHost(h); err != nil {
		return err
	}
	return s.withLock(func(doc *document) error {
		for _, existing := range doc.Hosts {
			if existing.ID == h.ID {
				return ErrAlreadyKnown
			}
		}
		if identifierConflict(doc.Hosts, h) {
			return errs.New(errs.InvalidField, "host identifier collides with an existing peer")
		}
		doc.Hosts = append(doc.Hosts, h)
		return nil
	})
}

// RemoveHost deletes a host by id. Missing ids are a no-op.
func (s *Store) RemoveHost(id string) error {
	return s.withLock(func(doc *document) error {
		out := doc.Hosts[:0]
		for _, h := range doc.Hosts {
			if h.ID != id {
				out = append(out, h)
			}
		}
		doc.Hosts = out
		return nil
	})
}

// UpdateHost applies patch to the host with the given id and persists the
// result. patch receives a copy of the current record; its return value
// replaces the stored one. ID is not mutable via patch.
func (s *Store) UpdateHost(id string, patch func(Host) (Host, error)) (Host, error) {
	var updated Host
	err := s.withLock(func(doc *document) error {
		for i := range doc.Hosts {
			if doc.Hosts[i].ID != id {
				continue
			}
			next, err := patch(doc.Hosts[i])
			if err != nil {
				return err
			}
			next.ID = id
			doc.Hosts[i] = next
			updated = next
			return nil
		}
		return errs.New(errs.NotFound, "host not found")
	})
	if err != nil {
		return Host{}, err
	}
	return updated, nil
}

// FindByAnyIdentifier returns the host whose id, url, or any alias
// matches identifier (nil if none does), used to resolve a peer from an arbitrary hostname/URL the
// mesh has seen it under.
func (s *Store) FindByAnyIdentifier(identifier string) (*Host, error) {
	hosts, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := range hosts {
		for _, id := range hosts[i].identifiers() {
			if id == identifier {
				return &hosts[i], nil
			}
		}
	}
	return nil, nil
}

// Dedupe reports whether any stored host (other than one with the
// incoming host's own id) already shares an identifier with the incoming
// host's id, url or aliases.
func (s *Store) Dedupe(incoming Host) (bool, error) {
	hosts, err := s.List()
	if err != nil {
		return false, err
	}
	return identifierConflict(hosts, incoming), nil
}
