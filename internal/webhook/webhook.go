// Package webhook implements the outbound WebhookDispatcher, grounded
// on the stats/queue shape of the teacher's
// internal/gateway.WebhookHooks — inverted from that package's inbound
// request handling to spec.md §4.9's outbound fan-out: an in-process
// event queue drained by a worker goroutine, POSTing each event to
// every enabled subscription whose event set matches.
package webhook

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agentgw/internal/config"
	"github.com/kadirpekel/agentgw/internal/httpclient"
)

// maxConcurrentDeliveries bounds how many subscriptions a single
// event is fanned out to at once.
const maxConcurrentDeliveries = 8

// EventKind is one of the fixed webhook event kinds, per spec.md §3.
type EventKind string

const (
	EventAgentStarted    EventKind = "agent.started"
	EventAgentCompleted  EventKind = "agent.completed"
	EventAgentFailed     EventKind = "agent.failed"
	EventToolExecuted    EventKind = "tool.executed"
	EventSessionCreated  EventKind = "session.created"
	EventFeedbackReceived EventKind = "feedback.received"
)

// Event is one item placed on the dispatcher's queue.
type Event struct {
	Kind EventKind
	Data map[string]any
}

// payload is the wire body POSTed to every matching subscription.
type payload struct {
	Event     EventKind `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Subscription is one enabled webhook target.
type Subscription struct {
	Name   string
	URL    string
	Events map[EventKind]bool
	Secret string
}

// Stats tracks delivery outcomes, matching the teacher's
// WebhookStats shape (total/by-outcome counters, last activity time).
type Stats struct {
	mu         sync.Mutex
	Attempted  int64
	Delivered  int64
	Dropped    int64
	LastEventAt time.Time
}

func (s *Stats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Attempted: s.Attempted, Delivered: s.Delivered, Dropped: s.Dropped, LastEventAt: s.LastEventAt}
}

const (
	deliveryTimeout = 30 * time.Second
	maxAttempts     = 3
)

// Dispatcher consumes an in-process event queue and fans events out to
// subscriptions, fire-and-forget with respect to the producer.
type Dispatcher struct {
	client        *httpclient.Client
	subscriptions []Subscription
	queue         chan Event
	stats         Stats
	logger        *slog.Logger

	wg   sync.WaitGroup
	done chan struct{}
}

// New builds a Dispatcher from configured subscriptions and starts its
// background worker. Close stops the worker and drains in-flight sends.
func New(subs []config.WebhookSubscriptionConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: deliveryTimeout}),
			httpclient.WithMaxRetries(maxAttempts-1),
			httpclient.WithBaseDelay(time.Second),
			httpclient.WithRetryStrategy(func(statusCode int) httpclient.RetryStrategy {
				return httpclient.ConservativeRetry
			}),
		),
		queue:  make(chan Event, 256),
		logger: logger,
		done:   make(chan struct{}),
	}
	for _, s := range subs {
		if !s.Enabled {
			continue
		}
		events := make(map[EventKind]bool, len(s.Events))
		for _, e := range s.Events {
			events[EventKind(e)] = true
		}
		d.subscriptions = append(d.subscriptions, Subscription{Name: s.Name, URL: s.URL, Events: events, Secret: s.Secret})
	}

	d.wg.Add(1)
	go d.run()
	return d
}

// Publish enqueues ev for fan-out without blocking the caller. If the
// queue is full the event is dropped and counted, per spec.md's
// "no persistent queue" design — a daemon restart or a saturated queue
// both drop undelivered events rather than block producers.
func (d *Dispatcher) Publish(ev Event) {
	select {
	case d.queue <- ev:
	default:
		d.stats.mu.Lock()
		d.stats.Dropped++
		d.stats.mu.Unlock()
		d.logger.Warn("webhook queue full, dropping event", "event", ev.Kind)
	}
}

// Close stops the worker after it has delivered the events already
// queued. Events published after Close are queued but never delivered.
func (d *Dispatcher) Close() {
	close(d.done)
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.fanOut(ev)
		case <-d.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case ev := <-d.queue:
					d.fanOut(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) fanOut(ev Event) {
	d.stats.mu.Lock()
	d.stats.LastEventAt = time.Now()
	d.stats.mu.Unlock()

	body, err := json.Marshal(payload{Event: ev.Kind, Timestamp: time.Now(), Data: ev.Data})
	if err != nil {
		d.logger.Error("marshal webhook event", "event", ev.Kind, "error", err)
		return
	}

	g := &errgroup.Group{}
	g.SetLimit(maxConcurrentDeliveries)
	for _, sub := range d.subscriptions {
		if !sub.Events[ev.Kind] {
			continue
		}
		sub := sub
		g.Go(func() error {
			d.deliver(sub, ev.Kind, body)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) deliver(sub Subscription, kind EventKind, body []byte) {
	d.stats.mu.Lock()
	d.stats.Attempted++
	d.stats.mu.Unlock()

	req, err := http.NewRequest(http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("build webhook request", "subscription", sub.Name, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if sub.Secret != "" {
		req.Header.Set("X-Webhook-Secret", sub.Secret)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("webhook delivery failed", "subscription", sub.Name, "event", kind, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logger.Warn("webhook delivery rejected", "subscription", sub.Name, "event", kind, "status", resp.StatusCode)
		return
	}

	d.stats.mu.Lock()
	d.stats.Delivered++
	d.stats.mu.Unlock()
}

// Stats returns a point-in-time snapshot of delivery counters, for
// GET /daemon/status.
func (d *Dispatcher) Stats() Stats {
	return d.stats.snapshot()
}
