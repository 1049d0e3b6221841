package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook_escrow/internal/adapters/provider"
	"staybook_escrow/internal/domain"
)

func newClient(t *testing.T, h http.HandlerFunc) *provider.Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	cl, err := provider.New(ts.URL, "test-key", 100)
	require.NoError(t, err)
	return cl
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestInitiateTransfer_SendsIdempotencyKeyAndMajorUnits(t *testing.T) {
	var got map[string]string
	var key, auth string
	cl := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		key, auth = r.Header.Get("Idempotency-Key"), r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "tr_123", "status": "succeeded"})
	})

	res, err := cl.InitiateTransfer(ctx(t), domain.TransferRequest{
		Amount: 88_000, Currency: "USD", Recipient: "acct_h1", Reference: "release-room:p1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tr_123", res.ProviderID)
	assert.Equal(t, "release-room:p1", key)
	assert.Equal(t, "Bearer test-key", auth)
	assert.Equal(t, "880.00", got["amount"])
	assert.Equal(t, "usd", got["currency"])
	assert.Equal(t, "acct_h1", got["destination"])
}

func TestProcessRefund_ZeroDecimalCurrency(t *testing.T) {
	var got map[string]string
	cl := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "re_1"})
	})

	_, err := cl.ProcessRefund(ctx(t), domain.RefundRequest{
		TransactionReference: "ch_1", Amount: 5_000, Currency: "JPY", Reference: "cancel-guest:p1",
	})
	require.NoError(t, err)
	assert.Equal(t, "5000", got["amount"])
	assert.Equal(t, "ch_1", got["charge"])
}

func TestTransfer_RetriesUnavailableThenSucceeds(t *testing.T) {
	var hits int32
	cl := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "tr_9"})
	})

	res, err := cl.InitiateTransfer(ctx(t), domain.TransferRequest{Amount: 1, Currency: "USD", Recipient: "a", Reference: "r"})
	require.NoError(t, err)
	assert.Equal(t, "tr_9", res.ProviderID)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestTransfer_ExhaustedUnavailableIsRetryable(t *testing.T) {
	cl := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := cl.InitiateTransfer(ctx(t), domain.TransferRequest{Amount: 1, Currency: "USD", Recipient: "a", Reference: "r"})
	te, ok := domain.AsTransfer(err)
	require.True(t, ok)
	assert.True(t, te.Retryable)
	assert.False(t, te.ReviewRequired)
	assert.ErrorIs(t, err, provider.ErrUnavailable)
}

func TestTransfer_InternalErrorIsAmbiguous(t *testing.T) {
	cl := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := cl.InitiateTransfer(ctx(t), domain.TransferRequest{Amount: 1, Currency: "USD", Recipient: "a", Reference: "r"})
	te, ok := domain.AsTransfer(err)
	require.True(t, ok)
	assert.True(t, te.ReviewRequired)
	assert.ErrorIs(t, err, provider.ErrAmbiguous)
}

func TestTransfer_DeclinedIsNeitherRetryableNorReview(t *testing.T) {
	var hits int32
	cl := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"account closed"}`))
	})

	_, err := cl.InitiateTransfer(ctx(t), domain.TransferRequest{Amount: 1, Currency: "USD", Recipient: "a", Reference: "r"})
	te, ok := domain.AsTransfer(err)
	require.True(t, ok)
	assert.False(t, te.Retryable)
	assert.False(t, te.ReviewRequired)
	assert.ErrorIs(t, err, provider.ErrDeclined)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestTransfer_FailedStatusIsDeclined(t *testing.T) {
	cl := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "tr_1", "status": "failed", "message": "insufficient platform balance"})
	})

	_, err := cl.InitiateTransfer(ctx(t), domain.TransferRequest{Amount: 1, Currency: "USD", Recipient: "a", Reference: "r"})
	assert.ErrorIs(t, err, provider.ErrDeclined)
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := provider.New("http://localhost", "", 1)
	assert.Error(t, err)
}

func TestSandbox_IdempotentByReference(t *testing.T) {
	s := provider.NewSandbox()
	a, err := s.InitiateTransfer(context.Background(), domain.TransferRequest{Amount: 5, Currency: "USD", Reference: "x"})
	require.NoError(t, err)
	b, err := s.InitiateTransfer(context.Background(), domain.TransferRequest{Amount: 5, Currency: "USD", Reference: "x"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
