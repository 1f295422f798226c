// Package pipeline buffers tracker events in memory and delivers them to the
// collector in batches. What may leave the browser session is a first-class
// allow-list policy: by default only user-submitted feedback is ever
// transmitted, every other push is a deliberate no-op.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Event type names shared with the collector.
const (
	TypeFeedback = "ux_feedback"
	TypeIssue    = "ux_issue"
)

// DefaultFlushInterval paces periodic delivery.
const DefaultFlushInterval = 10 * time.Second

// finalFlushTimeout bounds the teardown send; there is no second chance
// after unload, so a hung collector must not block teardown.
const finalFlushTimeout = 2 * time.Second

// Event is one timestamped tracker event.
type Event struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// Batch is the wire body posted to {apiUrl}/api/events.
type Batch struct {
	SessionID string  `json:"sessionId"`
	ProjectID string  `json:"projectId"`
	Events    []Event `json:"events"`
}

// Policy is the transmission allow-list. Types outside the policy are
// dropped by Push.
type Policy map[string]bool

// DefaultPolicy transmits feedback submissions only; detection stays local
// until the user consents to a report.
func DefaultPolicy() Policy { return Policy{TypeFeedback: true} }

// Queue is the in-memory outbound buffer with periodic and final delivery.
type Queue struct {
	mu     sync.Mutex
	events []Event

	policy    Policy
	sessionID string
	projectID string
	endpoint  string
	client    *http.Client
	interval  time.Duration
	now       func() time.Time
	debug     bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Config wires a Queue.
type Config struct {
	APIURL    string
	SessionID string
	ProjectID string
	Policy    Policy
	Interval  time.Duration
	Client    *http.Client
	Debug     bool
}

// New constructs a queue; Run starts the flush loop.
func New(cfg Config) *Queue {
	q := &Queue{
		policy:    cfg.Policy,
		sessionID: cfg.SessionID,
		projectID: cfg.ProjectID,
		endpoint:  cfg.APIURL + "/api/events",
		client:    cfg.Client,
		interval:  cfg.Interval,
		now:       time.Now,
		debug:     cfg.Debug,
		stopCh:    make(chan struct{}),
	}
	if q.policy == nil {
		q.policy = DefaultPolicy()
	}
	if q.client == nil {
		q.client = &http.Client{Timeout: 10 * time.Second}
	}
	if q.interval <= 0 {
		q.interval = DefaultFlushInterval
	}
	return q
}

// Push appends a timestamped event if its type is allow-listed; all other
// types are dropped.
func (q *Queue) Push(eventType string, data map[string]interface{}) {
	if !q.policy[eventType] {
		q.tracef("drop %s: not allow-listed", eventType)
		return
	}
	ev := Event{Type: eventType, Data: data, Timestamp: q.now().UnixMilli()}
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
	q.tracef("queued %s", eventType)
}

// Len reports the buffered event count.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Run flushes every interval until the context is cancelled or Stop is
// called. The caller is responsible for the final teardown flush.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := q.Flush(ctx); err != nil {
				q.tracef("flush failed, batch requeued: %v", err)
			}
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		}
	}
}

// Stop halts the flush loop.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}

// Flush sends the buffered batch. On failure the batch is requeued at the
// front so ordering is preserved and delivery stays at-least-once.
func (q *Queue) Flush(ctx context.Context) error {
	batch := q.take()
	if len(batch) == 0 {
		return nil
	}
	if err := q.send(ctx, batch); err != nil {
		q.requeueFront(batch)
		return err
	}
	return nil
}

// FinalFlush performs the single unload-time delivery attempt. Failures are
// accepted as silent loss: nothing is requeued because there is no next
// flush.
func (q *Queue) FinalFlush() {
	batch := q.take()
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	if err := q.send(ctx, batch); err != nil {
		q.tracef("final flush lost %d event(s): %v", len(batch), err)
	}
}

func (q *Queue) take() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.events
	q.events = nil
	return batch
}

func (q *Queue) requeueFront(batch []Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(batch, q.events...)
}

func (q *Queue) send(ctx context.Context, events []Event) error {
	body, err := json.Marshal(Batch{
		SessionID: q.sessionID,
		ProjectID: q.projectID,
		Events:    events,
	})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("post events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post events: HTTP %d", resp.StatusCode)
	}
	q.tracef("delivered %d event(s)", len(events))
	return nil
}

func (q *Queue) tracef(format string, args ...interface{}) {
	if q.debug {
		log.Printf("[PIPELINE] "+format, args...)
	}
}
