package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/platinummonkey/ratchet/pkg/clock"
	"github.com/platinummonkey/ratchet/pkg/events"
	"github.com/platinummonkey/ratchet/pkg/observability"
	"github.com/platinummonkey/ratchet/pkg/store"
)

// Endpoint is a registered webhook receiver.
type Endpoint struct {
	ID  string `json:"id"`
	URL string `json:"url"`
	// Kinds filters delivery; empty subscribes to every event kind.
	Kinds       []events.Kind `json:"kinds,omitempty"`
	Secret      string        `json:"secret,omitempty"`
	Active      bool          `json:"active"`
	Description string        `json:"description,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (e *Endpoint) wants(kind events.Kind) bool {
	if len(e.Kinds) == 0 {
		return true
	}
	for _, k := range e.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Dispatcher fans billing events out to registered endpoints. It implements
// events.Sink; Emit returns immediately and deliveries, including retries,
// run in the background.
type Dispatcher struct {
	client *http.Client
	policy *RetryPolicy
	logger *observability.Logger
	ids    store.IDGenerator
	clk    clock.Clock

	// mu guards the endpoint table and the closed flag. Emit holds it while
	// adding to wg so a concurrent Close cannot start waiting between the
	// closed check and the add.
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	isClosed  bool

	// wg tracks in-flight deliveries so Close can drain them.
	wg sync.WaitGroup
	// closed interrupts retry backoff sleeps.
	closed chan struct{}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(policy *RetryPolicy, logger *observability.Logger, ids store.IDGenerator, clk clock.Clock) *Dispatcher {
	if policy == nil {
		policy = NewRetryPolicy(DefaultRetryConfig())
	}
	return &Dispatcher{
		client:    &http.Client{Timeout: 10 * time.Second},
		policy:    policy,
		logger:    logger,
		ids:       ids,
		clk:       clk,
		endpoints: make(map[string]*Endpoint),
		closed:    make(chan struct{}),
	}
}

// Register adds an endpoint and returns its assigned id.
func (d *Dispatcher) Register(ep *Endpoint) (string, error) {
	if ep.URL == "" {
		return "", fmt.Errorf("endpoint URL is required")
	}
	now := d.clk.Now()
	ep.ID = d.ids.NewID()
	ep.Active = true
	ep.CreatedAt = now
	ep.UpdatedAt = now

	d.mu.Lock()
	d.endpoints[ep.ID] = ep
	d.mu.Unlock()
	return ep.ID, nil
}

// Unregister removes an endpoint.
func (d *Dispatcher) Unregister(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.endpoints[id]; !ok {
		return fmt.Errorf("endpoint %q not found", id)
	}
	delete(d.endpoints, id)
	return nil
}

// SetActive enables or disables an endpoint without unregistering it.
func (d *Dispatcher) SetActive(id string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ep, ok := d.endpoints[id]
	if !ok {
		return fmt.Errorf("endpoint %q not found", id)
	}
	ep.Active = active
	ep.UpdatedAt = d.clk.Now()
	return nil
}

// List returns all registered endpoints.
func (d *Dispatcher) List() []*Endpoint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		cp := *ep
		out = append(out, &cp)
	}
	return out
}

// Emit implements events.Sink. Delivery is asynchronous; an event emitted
// after Close is dropped.
func (d *Dispatcher) Emit(ctx context.Context, e events.Event) error {
	d.mu.RLock()
	if d.isClosed {
		d.mu.RUnlock()
		return fmt.Errorf("dispatcher is closed")
	}
	targets := make([]*Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		if ep.Active && ep.wants(e.Kind) {
			cp := *ep
			targets = append(targets, &cp)
		}
	}
	d.wg.Add(len(targets))
	d.mu.RUnlock()

	for _, ep := range targets {
		go func(ep *Endpoint) {
			defer d.wg.Done()
			d.deliver(ep, e)
		}(ep)
	}
	return nil
}

// Close stops accepting events and waits for in-flight deliveries. Closing
// twice is safe.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.isClosed {
		d.isClosed = true
		close(d.closed)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// deliver posts the event, retrying with backoff until the policy gives up.
func (d *Dispatcher) deliver(ep *Endpoint, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		d.logf(ep, e, fmt.Errorf("failed to marshal event: %w", err))
		return
	}

	attempts := 0
	for {
		attempts++
		err := d.send(ep, e, payload)
		if err == nil {
			return
		}
		if !d.policy.ShouldRetry(attempts, err) {
			d.logf(ep, e, fmt.Errorf("giving up after %d attempts: %w", attempts, err))
			return
		}
		select {
		case <-d.closed:
			d.logf(ep, e, fmt.Errorf("dispatcher closed during retry: %w", err))
			return
		case <-time.After(d.policy.NextRetryDelay(attempts)):
		}
	}
}

func (d *Dispatcher) send(ep *Endpoint, e events.Event, payload []byte) error {
	req, err := http.NewRequest(http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ratchet-Event", string(e.Kind))
	req.Header.Set("X-Ratchet-Event-ID", e.ID)
	req.Header.Set("X-Ratchet-Delivery", d.clk.Now().Format(time.RFC3339))
	if ep.Secret != "" {
		req.Header.Set("X-Ratchet-Signature", Sign(payload, ep.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) logf(ep *Endpoint, e events.Event, err error) {
	if d.logger == nil {
		return
	}
	d.logger.WithError(err).WithFields(map[string]interface{}{
		"endpoint": ep.ID,
		"url":      ep.URL,
		"event":    e.ID,
		"kind":     string(e.Kind),
	}).Warn("webhook delivery failed")
}

// Sign generates the HMAC-SHA256 signature for a payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies a webhook signature.
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
