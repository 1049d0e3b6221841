// Package notify delivers notifications in the background. Delivery failures are logged and dropped.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"staybook_escrow/internal/adapters/observability"
	"staybook_escrow/internal/domain"
)

// Sender performs one delivery.
type Sender interface {
	Send(ctx context.Context, n domain.Notification) error
}

// Dispatcher bounds in-flight deliveries. When every slot is busy the notification is dropped.
type Dispatcher struct {
	sender  Sender
	sem     *semaphore.Weighted
	timeout time.Duration
	wg      sync.WaitGroup
}

var _ domain.Notifier = (*Dispatcher)(nil)

func NewDispatcher(sender Sender, maxInFlight int, timeout time.Duration) *Dispatcher {
	if maxInFlight <= 0 {
		maxInFlight = 8
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{sender: sender, sem: semaphore.NewWeighted(int64(maxInFlight)), timeout: timeout}
}

// Notify never blocks the caller on delivery. The caller's cancellation does not cancel delivery.
func (d *Dispatcher) Notify(ctx context.Context, n domain.Notification) {
	if !d.sem.TryAcquire(1) {
		observability.ObserveExternal("notify", n.Kind, http.StatusTooManyRequests, 0)
		log.Warn().Str("kind", n.Kind).Str("booking_id", n.BookingID).Msg("notification dropped, dispatcher saturated")
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		start := time.Now()
		err := d.sender.Send(sctx, n)
		status := http.StatusOK
		if err != nil {
			status = http.StatusBadGateway
			log.Error().Err(err).Str("kind", n.Kind).Str("booking_id", n.BookingID).
				Str("recipient", n.Recipient).Msg("notification delivery failed")
		}
		observability.ObserveExternal("notify", n.Kind, status, time.Since(start))
	}()
}

// Wait blocks until in-flight deliveries finish. Used on shutdown and in tests.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// LogSender writes notifications to the structured log. It is the default when no webhook is set.
type LogSender struct{}

func (LogSender) Send(_ context.Context, n domain.Notification) error {
	ev := log.Info().Str("kind", n.Kind).Str("booking_id", n.BookingID).Str("recipient", n.Recipient)
	for k, v := range n.Fields {
		ev = ev.Str(k, v)
	}
	ev.Msg("notification")
	return nil
}

// WebhookSender POSTs the notification as JSON.
type WebhookSender struct {
	URL string
	HC  *http.Client
}

type webhookBody struct {
	Kind      string            `json:"kind"`
	BookingID string            `json:"booking_id,omitempty"`
	Recipient string            `json:"recipient"`
	Fields    map[string]string `json:"fields,omitempty"`
}

func (s WebhookSender) Send(ctx context.Context, n domain.Notification) error {
	b, err := json.Marshal(webhookBody{Kind: n.Kind, BookingID: n.BookingID, Recipient: n.Recipient, Fields: n.Fields})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	hc := s.HC
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
