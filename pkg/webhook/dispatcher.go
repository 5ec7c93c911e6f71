// Package webhook delivers signed notifications to subscriber endpoints with
// retries, per-endpoint circuit breaking and a bounded dead letter queue.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/flywheelhq/flywheel/pkg/eventbus"
	"github.com/flywheelhq/flywheel/pkg/events"
	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/persistence"
)

const (
	maxAttempts     = 5
	attemptTimeout  = 10 * time.Second
	baseBackoff     = time.Second
	maxBackoff      = 32 * time.Second
	maxJitter       = time.Second
	maxPayloadBytes = 256 * 1024
)

const (
	signatureHeader   = "X-Flywheel-Signature"
	eventTypeHeader   = "X-Flywheel-Event"
	deliveryIDHeader  = "X-Flywheel-Delivery-Id"
	idempotencyHeader = "X-Flywheel-Idempotency-Key"
)

var errCircuitOpen = errors.New("circuit open")

// envelope is the wire shape every subscriber receives.
type envelope struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      eventbus.Event `json:"data"`
}

// Dispatcher fans notifications out to all matching subscriptions of an
// organization. Deliveries run concurrently per endpoint; Shutdown waits for
// in-flight work.
type Dispatcher struct {
	store  persistence.WebhookStore
	client *http.Client
	clock  clockwork.Clock
	logger *slog.Logger

	mu       sync.Mutex
	circuits map[string]*circuit

	log *deliveryLog
	dlq *deadLetterQueue
	wg  sync.WaitGroup
}

func New(store persistence.WebhookStore, clock clockwork.Clock, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		client:   &http.Client{Timeout: attemptTimeout},
		clock:    clock,
		logger:   logger.With("module", "webhook"),
		circuits: make(map[string]*circuit),
		log:      newDeliveryLog(),
		dlq:      newDeadLetterQueue(),
	}
}

// Shutdown blocks until in-flight deliveries finish or the context expires.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook dispatcher shutdown: %w", ctx.Err())
	}
}

// Dispatch delivers one notification to every matching active subscription of
// the organization and blocks until all endpoints have been attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, orgID string, event eventbus.Event) error {
	subs, err := d.store.WebhooksByOrg(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to resolve subscriptions: %w", err)
	}

	eventType := event.GetType()
	deliveryID := uuid.New().String()

	payload, err := json.Marshal(envelope{
		ID:        deliveryID,
		Event:     string(eventType),
		Timestamp: d.clock.Now().UTC(),
		Data:      event,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	var delivered sync.WaitGroup

	for _, sub := range subs {
		if sub.Status != models.WebhookActive || !subscribes(sub, eventType) {
			continue
		}

		d.wg.Add(1)
		delivered.Add(1)

		go func(sub *models.WebhookSubscription) {
			defer d.wg.Done()
			defer delivered.Done()

			d.deliver(ctx, orgID, sub, string(eventType), deliveryID, payload)
		}(sub)
	}

	delivered.Wait()

	return nil
}

// subscribes matches a subscription's event list against the notification
// type. Exact matches go through the subscription's own SubscribesTo; legacy
// names from older subscription definitions are canonicalized first.
func subscribes(sub *models.WebhookSubscription, eventType events.EventType) bool {
	if sub.SubscribesTo(string(eventType)) {
		return true
	}

	for _, t := range sub.EventTypes {
		if events.Canonical(t) == eventType {
			return true
		}
	}

	return false
}

func (d *Dispatcher) deliver(ctx context.Context, orgID string, sub *models.WebhookSubscription, eventType, deliveryID string, payload []byte) {
	attempts, statusCode, err := d.attemptDelivery(ctx, sub, eventType, deliveryID, payload)

	// An open circuit means no attempt was made: the dispatch is skipped and
	// leaves no trace in the DLQ or the rolling success rate.
	if errors.Is(err, errCircuitOpen) {
		d.logger.DebugContext(ctx, "webhook delivery skipped, circuit open",
			"subscription_id", sub.ID, "event_type", eventType)

		return
	}

	success := err == nil
	if success {
		d.circuitFor(sub.ID).RecordSuccess()
	} else {
		d.circuitFor(sub.ID).RecordFailure()

		d.dlq.Push(&models.DeadLetter{
			ID:             uuid.New().String(),
			SubscriptionID: sub.ID,
			EventType:      eventType,
			Payload:        payload,
			Attempts:       attempts,
			LastError:      err.Error(),
			StatusCode:     statusCode,
			Status:         models.DeadLetterPending,
			FailedAt:       d.clock.Now().UTC(),
		})

		d.logger.WarnContext(ctx, "webhook delivery failed",
			"subscription_id", sub.ID, "event_type", eventType,
			"attempts", attempts, "error", err)
	}

	if recErr := d.store.RecordDelivery(ctx, orgID, sub.ID, success); recErr != nil {
		d.logger.ErrorContext(ctx, "failed to record delivery outcome",
			"subscription_id", sub.ID, "error", recErr)
	}
}

// attemptDelivery runs the retry loop for one endpoint. The delivery id, and
// with it the idempotency key, stays fixed across retries; the delivery log
// tells attempts apart by their Attempt number. It returns the number of
// attempts made, the last HTTP status observed (0 for network errors) and the
// final error, nil on success.
func (d *Dispatcher) attemptDelivery(ctx context.Context, sub *models.WebhookSubscription, eventType, deliveryID string, payload []byte) (int, int, error) {
	if len(payload) > maxPayloadBytes {
		return 0, 0, fmt.Errorf("payload %d bytes exceeds %d byte limit", len(payload), maxPayloadBytes)
	}

	if !d.circuitFor(sub.ID).Allow() {
		return 0, 0, errCircuitOpen
	}

	var (
		lastErr    error
		statusCode int
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := d.sleep(ctx, backoff(attempt-1)); err != nil {
				return attempt - 1, statusCode, lastErr
			}
		}

		start := d.clock.Now()

		statusCode, lastErr = d.post(ctx, sub, eventType, deliveryID, payload)

		d.log.Append(models.DeliveryAttempt{
			DeliveryID:     deliveryID,
			SubscriptionID: sub.ID,
			EventType:      eventType,
			Attempt:        attempt,
			StatusCode:     statusCode,
			Success:        lastErr == nil,
			Error:          errString(lastErr),
			Duration:       d.clock.Since(start),
			Timestamp:      start.UTC(),
		})

		if lastErr == nil {
			return attempt, statusCode, nil
		}

		if !retryable(statusCode, lastErr) {
			return attempt, statusCode, lastErr
		}
	}

	return maxAttempts, statusCode, lastErr
}

func (d *Dispatcher) post(ctx context.Context, sub *models.WebhookSubscription, eventType, deliveryID string, payload []byte) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, Sign(sub.Secret, payload))
	req.Header.Set(eventTypeHeader, eventType)
	req.Header.Set(deliveryIDHeader, deliveryID)
	req.Header.Set(idempotencyHeader, deliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}

	return resp.StatusCode, fmt.Errorf("endpoint returned %d", resp.StatusCode)
}

// Sign computes the hex HMAC-SHA256 signature header value for a payload.
// Exported so receivers in tests and docs can verify with the same code.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)

	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// retryable reports whether a failed attempt should be retried: network
// errors, 5xx and 429. Other 4xx responses are permanent.
func retryable(statusCode int, err error) bool {
	if err == nil {
		return false
	}

	if statusCode == 0 {
		return true
	}

	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}

// backoff returns the pause before retry n (1-based): exponential from 1s,
// capped at 32s, with up to 1s of jitter.
func backoff(n int) time.Duration {
	pause := baseBackoff << (n - 1)
	if pause > maxBackoff {
		pause = maxBackoff
	}

	return pause + rand.N(maxJitter)
}

func (d *Dispatcher) sleep(ctx context.Context, pause time.Duration) error {
	select {
	case <-d.clock.After(pause):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) circuitFor(subscriptionID string) *circuit {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.circuits[subscriptionID]
	if !ok {
		c = newCircuit(d.clock)
		d.circuits[subscriptionID] = c
	}

	return c
}

// RecentDeliveries exposes the bounded delivery log, newest last.
func (d *Dispatcher) RecentDeliveries(n int) []models.DeliveryAttempt {
	return d.log.Recent(n)
}

// DeadLetters returns the pending dead letter entries, oldest first.
func (d *Dispatcher) DeadLetters() []*models.DeadLetter {
	return d.dlq.Pending()
}

// ReplayDeadLetter redelivers a dead-lettered payload to its original
// subscription. The entry is marked replayed only when redelivery succeeds.
func (d *Dispatcher) ReplayDeadLetter(ctx context.Context, orgID, id string) error {
	entry, ok := d.dlq.Get(id)
	if !ok {
		return fmt.Errorf("dead letter %s not found", id)
	}

	if entry.Status != models.DeadLetterPending {
		return fmt.Errorf("dead letter %s already replayed", id)
	}

	sub, err := d.store.WebhookByID(ctx, orgID, entry.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to resolve subscription: %w", err)
	}

	// A replay is a fresh delivery of the retained payload, so it gets its
	// own delivery id rather than reusing one the receiver may have already
	// deduplicated.
	_, _, err = d.attemptDelivery(ctx, sub, entry.EventType, uuid.New().String(), entry.Payload)

	success := err == nil
	if success {
		d.circuitFor(sub.ID).RecordSuccess()
		d.dlq.MarkReplayed(id)
	}

	if recErr := d.store.RecordDelivery(ctx, orgID, sub.ID, success); recErr != nil {
		d.logger.ErrorContext(ctx, "failed to record delivery outcome",
			"subscription_id", sub.ID, "error", recErr)
	}

	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
