// Package webhook implements outbound event delivery: a signed JSON
// envelope POSTed to a configured endpoint, fire-and-forget from the
// caller's point of view, retried on a bounded exponential schedule.
// Delivery failures are logged and never surface back to the capture that
// triggered them -- on webhook failure the user still sees success.
package webhook

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

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"misir/internal/config"
	"misir/internal/observability"
)

// Logger is the structured-fields logging contract shared across services.
type Logger interface {
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any) {}
func (noopLogger) Warn(string, map[string]any) {}

// Dedupe collapses an accidental double Dispatch of the same event type and
// payload within a short TTL window. A nil Dedupe disables the check.
type Dedupe interface {
	SeenRecently(ctx context.Context, key string) bool
}

// Dispatcher sends outbound webhook events. Every Dispatch call is
// fire-and-forget: it spawns a tracked goroutine and returns immediately,
// with Drain blocking for in-flight deliveries at shutdown.
type Dispatcher struct {
	client   *http.Client
	endpoint string
	secret   string
	maxTries int
	initial  time.Duration
	max      time.Duration

	dedupe Dedupe
	logger Logger

	wg      sync.WaitGroup
	closing chan struct{}
	once    sync.Once
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

func WithLogger(l Logger) Option           { return func(d *Dispatcher) { d.logger = l } }
func WithDedupe(dd Dedupe) Option          { return func(d *Dispatcher) { d.dedupe = dd } }
func WithHTTPClient(c *http.Client) Option { return func(d *Dispatcher) { d.client = c } }

// New wires a Dispatcher from webhook configuration. An empty endpoint
// makes Dispatch a no-op, for local development with no subscriber
// configured.
func New(cfg config.WebhookConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:   observability.NewHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		endpoint: cfg.Endpoint,
		secret:   cfg.Secret,
		maxTries: cfg.MaxAttempts,
		initial:  cfg.InitialBackoff,
		max:      cfg.MaxBackoff,
		logger:   noopLogger{},
		closing:  make(chan struct{}),
	}
	if d.maxTries <= 0 {
		d.maxTries = 6 // initial attempt + up to 5 retries
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Envelope is the JSON body every webhook POST carries.
type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      any       `json:"data"`
}

// Dispatch fires eventType with payload at the configured endpoint. It
// never blocks the caller past envelope construction and never returns an
// error.
func (d *Dispatcher) Dispatch(eventType string, payload any) {
	if d.endpoint == "" {
		return
	}
	env := Envelope{ID: uuid.NewString(), Type: eventType, CreatedAt: time.Now().UTC(), Data: payload}
	if d.dedupe != nil && d.dedupe.SeenRecently(context.Background(), dedupeKey(env.Type, payload)) {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Warn("webhook dispatch goroutine panicked", map[string]any{"recovered": r})
			}
		}()
		d.deliver(env)
	}()
}

func (d *Dispatcher) deliver(env Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		d.logger.Warn("webhook envelope marshal failed", map[string]any{"error": err.Error(), "event": env.Type})
		return
	}
	sig := signature(d.secret, body)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = firstPositive(d.initial, 500*time.Millisecond)
	bo.MaxInterval = firstPositive(d.max, 300*time.Second)
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	for attempt := 1; attempt <= d.maxTries; attempt++ {
		select {
		case <-d.closing:
			return
		default:
		}
		if d.send(env, body, sig, attempt) {
			return
		}
		if attempt == d.maxTries {
			d.logger.Warn("webhook delivery exhausted retries", map[string]any{"event": env.Type, "id": env.ID, "attempts": attempt})
			return
		}
		wait := bo.NextBackOff()
		select {
		case <-time.After(wait):
		case <-d.closing:
			return
		}
	}
}

func (d *Dispatcher) send(env Envelope, body []byte, sig string, attempt int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		d.logger.Warn("webhook request construction failed", map[string]any{"error": err.Error()})
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Misir-Signature", sig)
	req.Header.Set("X-Misir-Event", env.Type)
	req.Header.Set("X-Misir-Delivery-Attempt", fmt.Sprintf("%d", attempt))

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("webhook delivery attempt failed", map[string]any{"error": err.Error(), "attempt": attempt, "event": env.Type})
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		d.logger.Warn("webhook delivery rejected", map[string]any{"status": resp.StatusCode, "attempt": attempt, "event": env.Type})
		return false
	}
	return true
}

// dedupeKey derives a stable identity for an event from its type and
// payload content, not the envelope's random delivery id -- two Dispatch
// calls describing the same underlying event (e.g. a retried capture
// reporting the same artifact_id/signal_id) collapse to the same key,
// while distinct events never collide.
func dedupeKey(eventType string, payload any) string {
	body, err := json.Marshal(payload)
	if err != nil {
		return eventType
	}
	sum := sha256.Sum256(body)
	return eventType + ":" + hex.EncodeToString(sum[:])
}

func signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func firstPositive(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// Drain blocks until every in-flight delivery goroutine exits or ctx is
// canceled, whichever comes first. Further sends in progress past ctx's
// deadline are abandoned via the closing channel -- delivery is
// at-least-once, never exactly-once.
func (d *Dispatcher) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.once.Do(func() { close(d.closing) })
	}
}
