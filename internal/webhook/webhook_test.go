package webhook_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgw/internal/config"
	"github.com/kadirpekel/agentgw/internal/webhook"
)

func TestDispatcher_DeliversToMatchingSubscriptionOnly(t *testing.T) {
	var hits int32
	var lastSecret string
	var lastBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		lastSecret = r.Header.Get("X-Webhook-Secret")
		_ = json.NewDecoder(r.Body).Decode(&lastBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	subs := []config.WebhookSubscriptionConfig{
		{Name: "sub1", URL: srv.URL, Events: []string{"agent.completed"}, Secret: "shh", Enabled: true},
		{Name: "sub2", URL: srv.URL, Events: []string{"tool.executed"}, Enabled: true},
		{Name: "sub3-disabled", URL: srv.URL, Events: []string{"agent.completed"}, Enabled: false},
	}
	d := webhook.New(subs, nil)

	d.Publish(webhook.Event{Kind: webhook.EventAgentCompleted, Data: map[string]any{"session_id": "s1"}})
	d.Close()

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, "shh", lastSecret)
	assert.Equal(t, "agent.completed", lastBody["event"])
}

func TestDispatcher_RetriesOnNonOKStatus(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	subs := []config.WebhookSubscriptionConfig{
		{Name: "sub1", URL: srv.URL, Events: []string{"tool.executed"}, Enabled: true},
	}
	d := webhook.New(subs, nil)
	d.Publish(webhook.Event{Kind: webhook.EventToolExecuted, Data: map[string]any{}})
	d.Close()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Delivered)
}

func TestDispatcher_PublishDoesNotBlock(t *testing.T) {
	d := webhook.New(nil, nil)
	defer d.Close()
	// No subscriptions match, so fanOut is a no-op; Publish itself
	// should never block regardless.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Publish(webhook.Event{Kind: webhook.EventSessionCreated})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked unexpectedly")
	}
	require.NotNil(t, d)
}
