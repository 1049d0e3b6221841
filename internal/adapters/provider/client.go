// Package provider talks to the payment provider's transfer and refund API.
package provider

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"staybook_escrow/internal/adapters/observability"
	"staybook_escrow/internal/domain"
)

type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter
}

var _ domain.PaymentProvider = (*Client)(nil)

func New(base, key string, rps int) (*Client, error) {
	if key == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if base == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 20 * time.Second},
		key:  key,
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

var (
	ErrDeclined     = errors.New("provider: declined")
	ErrUnauthorized = errors.New("provider: unauthorized")
	ErrUnavailable  = errors.New("provider: unavailable")
	ErrAmbiguous    = errors.New("provider: outcome unknown")
)

type transferBody struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
	Reference   string `json:"reference"`
}

type refundBody struct {
	Charge    string `json:"charge"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

type result struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// InitiateTransfer pays out to a connected account. The reference doubles as the Idempotency-Key.
func (c *Client) InitiateTransfer(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	body := transferBody{
		Amount:      req.Amount.Decimal(req.Currency).StringFixed(domain.Exponent(req.Currency)),
		Currency:    strings.ToLower(req.Currency),
		Destination: req.Recipient,
		Reference:   req.Reference,
	}
	return c.call(ctx, "transfer", "/v1/transfers", req.Reference, body)
}

// ProcessRefund refunds part of the guest's original charge.
func (c *Client) ProcessRefund(ctx context.Context, req domain.RefundRequest) (domain.TransferResult, error) {
	body := refundBody{
		Charge:    req.TransactionReference,
		Amount:    req.Amount.Decimal(req.Currency).StringFixed(domain.Exponent(req.Currency)),
		Currency:  strings.ToLower(req.Currency),
		Reference: req.Reference,
	}
	return c.call(ctx, "refund", "/v1/refunds", req.Reference, body)
}

func (c *Client) call(ctx context.Context, op, path, reference string, body any) (domain.TransferResult, error) {
	res, err := c.post(ctx, path, reference, body)
	if err != nil {
		return domain.TransferResult{}, classify(op, reference, err)
	}
	return domain.TransferResult{ProviderID: res.ID}, nil
}

// classify maps transport outcomes onto the escrow's retry model. Only answers that prove
// nothing moved are retryable; a 5xx or a broken connection may have been processed.
func classify(op, reference string, err error) error {
	te := &domain.TransferError{Op: op, Reference: reference, Err: err}
	switch {
	case errors.Is(err, ErrUnavailable):
		te.Retryable = true
	case errors.Is(err, ErrDeclined), errors.Is(err, ErrUnauthorized):
	default:
		te.ReviewRequired = true
	}
	return te
}

// post sends one idempotent POST with client-side rate limiting and retries.
// 429 and 503 are retried honoring Retry-After; other 5xx and network errors are retried with
// the same Idempotency-Key and reported ambiguous when retries run out.
func (c *Client) post(ctx context.Context, path, reference string, body any) (result, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return result{}, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return result{}, err
	}

	var lastErr error
	for i := 0; i < 4; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
		if err != nil {
			return result{}, err
		}
		req.Header.Set("Authorization", "Bearer "+c.key)
		req.Header.Set("Idempotency-Key", reference)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "staybook-escrow/1.0")

		start := time.Now()
		resp, err := c.hc.Do(req)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		observability.ObserveExternal("provider", path, status, time.Since(start))
		if err != nil {
			if ctx.Err() != nil {
				return result{}, ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %v", ErrAmbiguous, err)
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return result{}, ctx.Err()
			}
			return result{}, lastErr
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var out result
			err := json.NewDecoder(resp.Body).Decode(&out)
			resp.Body.Close()
			if err != nil {
				return result{}, fmt.Errorf("%w: decode: %v", ErrAmbiguous, err)
			}
			if out.Status == "failed" {
				return result{}, fmt.Errorf("%w: %s", ErrDeclined, out.Message)
			}
			return out, nil

		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return result{}, ErrUnauthorized

		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			wait := retryAfter(resp)
			cause := ErrAmbiguous
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
				cause = ErrUnavailable
			}
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("%w: remote %d", cause, resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return result{}, ctx.Err()
			}
			return result{}, lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return result{}, fmt.Errorf("%w: status %d: %s", ErrDeclined, resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}
	return result{}, lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date). Returns 0 if absent or invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff doubles from 200ms with up to 50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
