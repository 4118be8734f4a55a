package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateThenList(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	created, err := store.Create(Webhook{URL: "https://example.com/hook", Events: []string{"message.delivered"}, Secret: "shh"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, StatusActive, created.Status)

	list := store.List()
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
}

func TestCreateRejectsMissingURL(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = store.Create(Webhook{})
	require.Error(t, err)
}

func TestDeleteRemovesWebhook(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	created, err := store.Create(Webhook{URL: "https://example.com/hook"})
	require.NoError(t, err)

	require.NoError(t, store.Delete(created.ID))
	_, ok := store.Get(created.ID)
	assert.False(t, ok)
}

func TestDispatcherDeliversSignedPayload(t *testing.T) {
	var mu sync.Mutex
	var gotSignature, gotEvent string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Webhook-Event")
		gotBody = body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := New(t.TempDir())
	require.NoError(t, err)
	created, err := store.Create(Webhook{URL: srv.URL, Events: []string{"message.delivered"}, Secret: "topsecret"})
	require.NoError(t, err)

	d := NewDispatcher(store)
	defer d.Close()

	d.Dispatch("message.delivered", map[string]string{"id": "m1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotEvent != ""
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "message.delivered", gotEvent)

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(gotBody)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSignature)

	updated, ok := store.Get(created.ID)
	require.True(t, ok)
	assert.Equal(t, "ok", updated.LastDeliveryStatus)
}

func TestDispatcherSkipsUnsubscribedEvent(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = store.Create(Webhook{URL: srv.URL, Events: []string{"organization.set"}})
	require.NoError(t, err)

	d := NewDispatcher(store)
	defer d.Close()
	d.Dispatch("message.delivered", map[string]string{"id": "m1"})

	time.Sleep(50 * time.Millisecond)
	assert.False(t, called)
}

func TestDispatcherDisablesAfterMaxFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store, err := New(t.TempDir())
	require.NoError(t, err)
	created, err := store.Create(Webhook{URL: srv.URL, Events: []string{"peer.registered"}})
	require.NoError(t, err)

	d := NewDispatcher(store)
	defer d.Close()

	for i := 0; i < maxFailures; i++ {
		d.Dispatch("peer.registered", map[string]string{"n": "x"})
		require.Eventually(t, func() bool {
			w, _ := store.Get(created.ID)
			return w.FailureCount == i+1 || w.Status == StatusDisabled
		}, 2*time.Second, 10*time.Millisecond)
	}

	final, ok := store.Get(created.ID)
	require.True(t, ok)
	assert.Equal(t, StatusDisabled, final.Status)
}
