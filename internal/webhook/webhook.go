// Package webhook implements the Webhook entity (spec.md §3.1) and a
// best-effort HMAC-signed delivery path fed by the event bus. This is
// deliberately minimal per spec.md's "out of scope: webhook fan-out"
// framing: enough to exercise the entity's lifecycle and one delivery
// attempt per event, not a full retry/backoff delivery guarantee system.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aimaestro/meshhost/internal/atomicfile"
	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/aimaestro/meshhost/internal/eventbus"
)

// maxFailures disables a webhook after this many consecutive failed
// deliveries, so a dead endpoint stops costing worker-pool capacity.
const maxFailures = 10

// workerCount bounds how many deliveries run concurrently.
const workerCount = 4

// deliveryTimeout bounds a single POST.
const deliveryTimeout = 5 * time.Second

// Status is a webhook's enabled/disabled lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Webhook is a registered delivery target, per spec.md §3.1.
type Webhook struct {
	ID                 string     `json:"id"`
	URL                string     `json:"url"`
	Events             []string   `json:"events"`
	Secret             string     `json:"secret"`
	Status             Status     `json:"status"`
	FailureCount       int        `json:"failureCount"`
	LastDeliveryAt     *time.Time `json:"lastDeliveryAt,omitempty"`
	LastDeliveryStatus string     `json:"lastDeliveryStatus,omitempty"`
}

// subscribesTo reports whether w wants to receive eventName.
func (w Webhook) subscribesTo(eventName string) bool {
	for _, e := range w.Events {
		if e == eventName {
			return true
		}
	}
	return false
}

type document struct {
	Webhooks []Webhook `json:"webhooks"`
}

// Store owns the registered webhooks, persisted as a single JSON file.
type Store struct {
	path string
	mu   sync.Mutex
	data document
}

// New opens a Store at <dataDir>/webhooks.json, loading any existing
// entries.
func New(dataDir string) (*Store, error) {
	s := &Store{path: filepath.Join(dataDir, "webhooks.json")}
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

// Create registers a new webhook, defaulting Status to active.
func (s *Store) Create(w Webhook) (Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.URL == "" {
		return Webhook{}, errs.New(errs.MissingField, "url is required")
	}
	w.ID = uuid.NewString()
	w.Status = StatusActive
	w.FailureCount = 0
	s.data.Webhooks = append(s.data.Webhooks, w)
	if err := s.persist(); err != nil {
		return Webhook{}, err
	}
	return w, nil
}

// List returns every registered webhook.
func (s *Store) List() []Webhook {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Webhook, len(s.data.Webhooks))
	copy(out, s.data.Webhooks)
	return out
}

// Get returns the webhook with the given id.
func (s *Store) Get(id string) (Webhook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.data.Webhooks {
		if w.ID == id {
			return w, true
		}
	}
	return Webhook{}, false
}

// Delete removes a webhook by id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.data.Webhooks {
		if w.ID == id {
			s.data.Webhooks = append(s.data.Webhooks[:i], s.data.Webhooks[i+1:]...)
			return s.persist()
		}
	}
	return errs.New(errs.NotFound, "webhook not found")
}

// recordDelivery updates a webhook's delivery bookkeeping, disabling it
// once it crosses maxFailures consecutive failures.
func (s *Store) recordDelivery(id string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data.Webhooks {
		if s.data.Webhooks[i].ID != id {
			continue
		}
		now := time.Now()
		s.data.Webhooks[i].LastDeliveryAt = &now
		if ok {
			s.data.Webhooks[i].FailureCount = 0
			s.data.Webhooks[i].LastDeliveryStatus = "ok"
		} else {
			s.data.Webhooks[i].FailureCount++
			s.data.Webhooks[i].LastDeliveryStatus = "error"
			if s.data.Webhooks[i].FailureCount >= maxFailures {
				s.data.Webhooks[i].Status = StatusDisabled
			}
		}
		_ = s.persist()
		return
	}
}

func (s *Store) persist() error {
	return atomicfile.WriteJSON(s.path, s.data)
}

// Dispatcher subscribes to an event bus and delivers matching events to
// every active webhook via a bounded worker pool, fire-and-forget.
type Dispatcher struct {
	store  *Store
	client *http.Client
	jobs   chan job
	wg     sync.WaitGroup
}

type job struct {
	webhook Webhook
	event   string
	payload []byte
}

// NewDispatcher starts workerCount delivery workers draining an internal
// job queue. Call Subscribe to start forwarding bus events into it.
func NewDispatcher(store *Store) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		client: &http.Client{Timeout: deliveryTimeout},
		jobs:   make(chan job, 256),
	}
	for i := 0; i < workerCount; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Subscribe wires a dispatcher to bus, translating eventbus.Event values
// into webhook deliveries keyed by a synthetic event name.
func (d *Dispatcher) Subscribe(bus *eventbus.Bus, eventName string) func() {
	events, unsubscribe := bus.Subscribe()
	go func() {
		for evt := range events {
			d.Dispatch(eventName, evt)
		}
	}()
	return unsubscribe
}

// Dispatch enqueues a delivery of payload to every active webhook
// subscribed to eventName. Non-blocking: when the queue is full, the
// deliveries that do not fit are dropped rather than stalling the publisher.
func (d *Dispatcher) Dispatch(eventName string, payload any) {
	raw, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: eventName, Data: payload})
	if err != nil {
		return
	}
	for _, w := range d.store.List() {
		if w.Status != StatusActive || !w.subscribesTo(eventName) {
			continue
		}
		select {
		case d.jobs <- job{webhook: w, event: eventName, payload: raw}:
		default:
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		ok := d.deliver(j)
		d.store.recordDelivery(j.webhook.ID, ok)
	}
}

// Test delivers a single synthetic "test" event to w synchronously and
// reports whether the endpoint accepted it, without touching w's
// recorded failure count.
func (d *Dispatcher) Test(w Webhook) bool {
	raw, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: "test", Data: map[string]string{"message": "this is a test delivery"}})
	if err != nil {
		return false
	}
	return d.deliver(job{webhook: w, event: "test", payload: raw})
}

func (d *Dispatcher) deliver(j job) bool {
	req, err := http.NewRequest(http.MethodPost, j.webhook.URL, bytes.NewReader(j.payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", j.event)
	req.Header.Set("X-Webhook-Signature", sign(j.webhook.Secret, j.payload))

	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// sign computes the hex-encoded HMAC-SHA256 of payload under secret.
func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Close stops accepting new jobs and waits for in-flight deliveries to
// finish.
func (d *Dispatcher) Close() {
	close(d.jobs)
	d.wg.Wait()
}
