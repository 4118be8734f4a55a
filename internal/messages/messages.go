// Package messages implements the per-agent Message Store: three logical
// mailboxes (inbox, sent, archived) backed by one JSON file per message,
// plus the meeting-thread listing helper.
package messages

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aimaestro/meshhost/internal/atomicfile"
	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/aimaestro/meshhost/internal/protocol"
)

// Status is a message's lifecycle state. Exactly one holds at a time.
type Status string

const (
	StatusUnread   Status = "unread"
	StatusRead     Status = "read"
	StatusArchived Status = "archived"
)

// Box names the mailbox a message file lives under.
type Box string

const (
	BoxInbox    Box = "inbox"
	BoxSent     Box = "sent"
	BoxArchived Box = "archived"
)

// defaultPreviewLength is the default content.message truncation length
// for listing previews.
const defaultPreviewLength = 2000

// Message is one stored AMP delivery.
type Message struct {
	ID                 string           `json:"id"`
	From               string           `json:"from"`
	FromAlias          string           `json:"fromAlias,omitempty"`
	FromLabel          string           `json:"fromLabel,omitempty"`
	To                 string            `json:"to"`
	ToAlias            string            `json:"toAlias,omitempty"`
	Subject            string            `json:"subject"`
	Content            protocol.Payload  `json:"content"`
	Priority           protocol.Priority `json:"priority"`
	Timestamp          time.Time        `json:"timestamp"`
	Status             Status           `json:"status"`
	InReplyTo          string           `json:"inReplyTo,omitempty"`
	ThreadID           string           `json:"threadId,omitempty"`
	DeliveredVia       string           `json:"deliveredVia"`
	SenderPublicKeyHex string           `json:"senderPublicKeyHex,omitempty"`
	SignatureVerified  *bool            `json:"signatureVerified,omitempty"`
}

// Summary is the listing projection of a Message, with a truncated
// preview in place of the full payload.
type Summary struct {
	ID                 string            `json:"id"`
	From               string            `json:"from"`
	To                 string            `json:"to"`
	Subject            string            `json:"subject"`
	Preview            string            `json:"preview"`
	Status             Status            `json:"status"`
	Priority           protocol.Priority `json:"priority"`
	Type               protocol.PayloadType `json:"type"`
	Timestamp          time.Time         `json:"timestamp"`
	ThreadID           string            `json:"threadId,omitempty"`
	InReplyTo          string            `json:"inReplyTo,omitempty"`
	DeliveredVia       string            `json:"deliveredVia"`
	SenderPublicKeyHex string            `json:"senderPublicKeyHex,omitempty"`
	SignatureVerified  *bool             `json:"signatureVerified,omitempty"`
}

func (m Message) summary(previewLength int) Summary {
	if previewLength <= 0 {
		previewLength = defaultPreviewLength
	}
	preview := m.Content.Message
	if len(preview) > previewLength {
		preview = preview[:previewLength]
	}
	return Summary{
		ID: m.ID, From: m.From, To: m.To, Subject: m.Subject, Preview: preview,
		Status: m.Status, Priority: m.Priority, Type: m.Content.Type,
		Timestamp: m.Timestamp, ThreadID: m.ThreadID, InReplyTo: m.InReplyTo,
		DeliveredVia: m.DeliveredVia, SenderPublicKeyHex: m.SenderPublicKeyHex,
		SignatureVerified: m.SignatureVerified,
	}
}

// ListOptions filters and shapes a mailbox listing.
type ListOptions struct {
	Status        Status // empty = any
	Priority      protocol.Priority
	From          string
	To            string
	Limit         int // 0 = all
	PreviewLength int // 0 = defaultPreviewLength
}

// Store owns the three mailbox directories for every agent name on this
// host: <data>/messages/{inbox,sent,archived}/<name>/<id>.json.
type Store struct {
	dataDir string
	mu      sync.Mutex
}

// New opens a Store rooted at dataDir.
func New(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (s *Store) boxDir(box Box, name string) string {
	return filepath.Join(s.dataDir, "messages", string(box), name)
}

func (s *Store) path(box Box, name, id string) string {
	return filepath.Join(s.boxDir(box, name), id+".json")
}

// Deliver writes m into recipientName's inbox and a copy into
// senderName's sent box (senderName may be empty for system/meeting
// messages with no local sender mailbox).
func (s *Store) Deliver(recipientName, senderName string, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(BoxInbox, recipientName, m); err != nil {
		return err
	}
	if senderName != "" {
		if err := s.write(BoxSent, senderName, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) write(box Box, name string, m Message) error {
	if err := os.MkdirAll(s.boxDir(box, name), 0o755); err != nil {
		return fmt.Errorf("creating mailbox directory: %w", err)
	}
	return atomicfile.WriteJSON(s.path(box, name, m.ID), m)
}

func (s *Store) read(box Box, name, id string) (Message, error) {
	data, err := os.ReadFile(s.path(box, name, id))
	if os.IsNotExist(err) {
		return Message{}, errs.New(errs.NotFound, "message not found")
	}
	if err != nil {
		return Message{}, fmt.Errorf("reading message: %w", err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("parsing message: %w", err)
	}
	return m, nil
}

func (s *Store) loadAll(box Box, name string) ([]Message, error) {
	entries, err := os.ReadDir(s.boxDir(box, name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading mailbox: %w", err)
	}
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.boxDir(box, name), e.Name()))
		if err != nil {
			continue
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// List returns a newest-first listing of box for name, filtered and
// shaped by opts.
func (s *Store) List(box Box, name string, opts ListOptions) ([]Summary, error) {
	s.mu.Lock()
	all, err := s.loadAll(box, name)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var filtered []Message
	for _, m := range all {
		if opts.Status != "" && m.Status != opts.Status {
			continue
		}
		if opts.Priority != "" && m.Priority != opts.Priority {
			continue
		}
		if opts.From != "" && m.From != opts.From {
			continue
		}
		if opts.To != "" && m.To != opts.To {
			continue
		}
		filtered = append(filtered, m)
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Timestamp.After(filtered[j].Timestamp) })

	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	out := make([]Summary, 0, len(filtered))
	for _, m := range filtered {
		out = append(out, m.summary(opts.PreviewLength))
	}
	return out, nil
}

// MarkAsRead transitions a message to read. Calling it twice is a no-op
// that still returns success.
func (s *Store) MarkAsRead(name, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read(BoxInbox, name, id)
	if err != nil {
		return err
	}
	if m.Status == StatusRead {
		return nil
	}
	m.Status = StatusRead
	return s.write(BoxInbox, name, m)
}

// Archive moves a message from inbox to archived, setting its status.
func (s *Store) Archive(name, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read(BoxInbox, name, id)
	if err != nil {
		return err
	}
	m.Status = StatusArchived
	if err := s.write(BoxArchived, name, m); err != nil {
		return err
	}
	return os.Remove(s.path(BoxInbox, name, id))
}

// Delete removes a message from the given box outright.
func (s *Store) Delete(box Box, name, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(box, name, id)); err != nil {
		if os.IsNotExist(err) {
			return errs.New(errs.NotFound, "message not found")
		}
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

// UnreadCount returns the number of unread inbox messages for name.
func (s *Store) UnreadCount(name string) (int, error) {
	all, err := s.loadAll(BoxInbox, name)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range all {
		if m.Status == StatusUnread {
			n++
		}
	}
	return n, nil
}

// SentCount returns the number of messages name has sent.
func (s *Store) SentCount(name string) (int, error) {
	all, err := s.loadAll(BoxSent, name)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// WipeAgent removes all three mailbox directories for name, per hard
// delete's "wipes the agent directory and the three per-name mailbox
// directories" requirement.
func (s *Store) WipeAgent(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, box := range []Box{BoxInbox, BoxSent, BoxArchived} {
		if err := os.RemoveAll(s.boxDir(box, name)); err != nil {
			return fmt.Errorf("wiping %s mailbox: %w", box, err)
		}
	}
	return nil
}

// meetingSubjectPrefix identifies a meeting-thread message by its subject
// line, per spec.md §4.I.
func meetingSubjectPrefix(meetingID string) string {
	return fmt.Sprintf("[MEETING:%s]", meetingID)
}

var meetingTimestampKeyLayout = "2006-01-02T15:04:05"

// MeetingMessages scans inbox+sent of every participant plus the
// pseudo-sender "maestro", filters by the meeting's subject prefix and
// an optional since cutoff, de-duplicates broadcast copies by
// (from, preview, timestamp-to-second), and returns them ascending by
// timestamp.
func (s *Store) MeetingMessages(meetingID string, participants []string, since *time.Time) ([]Summary, error) {
	prefix := meetingSubjectPrefix(meetingID)
	names := append(append([]string{}, participants...), "maestro")

	var all []Message
	seen := map[string]bool{}
	for _, name := range names {
		for _, box := range []Box{BoxInbox, BoxSent} {
			msgs, err := s.loadAll(box, name)
			if err != nil {
				return nil, err
			}
			for _, m := range msgs {
				if !strings.HasPrefix(m.Subject, prefix) {
					continue
				}
				if since != nil && m.Timestamp.Before(*since) {
					continue
				}
				key := m.From + "|" + m.Content.Message + "|" + m.Timestamp.Format(meetingTimestampKeyLayout)
				if seen[key] {
					continue
				}
				seen[key] = true
				all = append(all, m)
			}
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })

	out := make([]Summary, 0, len(all))
	for _, m := range all {
		out = append(out, m.summary(0))
	}
	return out, nil
}

// ValidMailboxName reports whether name is safe to use as a mailbox
// directory component (prevents path traversal via alias/session names).
func ValidMailboxName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "/\\.")
}
