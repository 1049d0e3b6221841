package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"staybook_escrow/internal/app"
	"staybook_escrow/internal/domain"
	"staybook_escrow/internal/finance"
)

// Health is what /healthz reports. Checks ping external dependencies.
type Health struct {
	Finance finance.Health
	Checks  map[string]func(context.Context) error
}

type Handlers struct {
	Escrow   *app.EscrowService
	Disputes *app.DisputeService
	Wallets  *app.WalletService
	Health   Health
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", h.healthz)

	s.mux.Route("/v1", func(r chi.Router) {
		r.Get("/wallets/{ownerType}/{ownerID}", h.getWallet)
		r.Get("/wallets/{ownerType}/{ownerID}/transactions", h.listTransactions)
		r.Post("/wallets/{ownerType}/{ownerID}/withdrawals", h.withdraw)

		r.Get("/bookings/{bookingID}/escrow-events", h.listEvents)
		r.Post("/bookings/{bookingID}/payments", h.initiatePayment)
		r.Post("/bookings/{bookingID}/cancellation", h.cancel)
		r.Post("/bookings/{bookingID}/disputes", h.openDispute)

		r.Post("/payments/{paymentID}/hold", h.holdFunds)
		r.Post("/payments/{paymentID}/actual-fee", h.recordActualFee)

		r.Post("/disputes/{disputeID}/response", h.respond)
		r.Post("/disputes/{disputeID}/adjudication", h.adjudicate)
		r.Post("/disputes/{disputeID}/retry", h.retry)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeErr maps domain errors onto problem responses.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var cfg *domain.ConfigurationError
	switch {
	case domain.IsValidation(err):
		writeProblem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeProblem(w, http.StatusUnprocessableEntity, "Insufficient balance", err.Error())
	case domain.IsConflict(err):
		writeProblem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.As(err, &cfg):
		writeProblem(w, http.StatusInternalServerError, "Configuration error", err.Error())
	default:
		if te, ok := domain.AsTransfer(err); ok {
			switch {
			case te.Retryable:
				w.Header().Set("Retry-After", "30")
				writeProblem(w, http.StatusServiceUnavailable, "Payment provider unavailable", te.Error())
			case te.ReviewRequired:
				writeProblem(w, http.StatusBadGateway, "Settlement requires manual review", te.Error())
			default:
				writeProblem(w, http.StatusBadGateway, "Payment provider declined", te.Error())
			}
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`, body
}

// writeCached serves a GET body with a weak ETag and honors If-None-Match.
func writeCached(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("failed to write body")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error())
		return false
	}
	return true
}

func owner(r *http.Request) domain.WalletOwner {
	return domain.WalletOwner{
		Type: domain.OwnerType(strings.ToUpper(chi.URLParam(r, "ownerType"))),
		ID:   chi.URLParam(r, "ownerID"),
	}
}

func (h *Handlers) healthz(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"status": "ok"}
	status := http.StatusOK
	if !h.Health.Finance.Healthy {
		out["status"] = "degraded"
		out["finance_config"] = h.Health.Finance.Reason
	}
	checks := map[string]string{}
	for name, check := range h.Health.Checks {
		if err := check(r.Context()); err != nil {
			checks[name] = err.Error()
			out["status"] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	if len(checks) > 0 {
		out["checks"] = checks
	}
	writeJSON(w, status, out)
}

func (h *Handlers) getWallet(w http.ResponseWriter, r *http.Request) {
	wal, err := h.Wallets.Balance(r.Context(), owner(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeCached(w, r, toWallet(wal))
}

func (h *Handlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > 200 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 200")
			return
		}
		limit = l
	}
	pg := domain.PageQuery{Limit: limit}
	if c := r.URL.Query().Get("cursor"); c != "" {
		pg.Cursor = &c
	}
	page, err := h.Wallets.ListTransactions(r.Context(), owner(r), pg)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := txPageDTO{Items: make([]txDTO, 0, len(page.Items)), NextCursor: page.NextCursor}
	for _, t := range page.Items {
		out.Items = append(out.Items, toTx(t))
	}
	writeCached(w, r, out)
}

func (h *Handlers) withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawReq
	if !decode(w, r, &req) {
		return
	}
	o := owner(r)
	wal, err := h.Wallets.Balance(r.Context(), o)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	tx, err := h.Wallets.Withdraw(r.Context(), o, wal.Currency, domain.Money(req.Amount), req.PayoutAccount, req.Reference)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTx(tx))
}

func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := h.Escrow.ListEvents(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]eventDTO, 0, len(evs))
	for _, e := range evs {
		out = append(out, toEvent(e))
	}
	writeCached(w, r, map[string]any{"items": out})
}

func (h *Handlers) initiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiateReq
	if !decode(w, r, &req) {
		return
	}
	corridor := domain.Corridor(strings.ToUpper(req.Corridor))
	if corridor == "" {
		corridor = domain.CorridorLocal
	}
	p, err := h.Escrow.InitiatePayment(r.Context(), chi.URLParam(r, "bookingID"), corridor)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayment(p))
}

func (h *Handlers) holdFunds(w http.ResponseWriter, r *http.Request) {
	var req holdReq
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Escrow.HoldFunds(r.Context(), chi.URLParam(r, "paymentID"), req.BookingID, req.ProviderReference,
		domain.FeeBreakdown{RoomFee: domain.Money(req.RoomFee), SecurityDeposit: domain.Money(req.SecurityDeposit)})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayment(p))
}

func (h *Handlers) recordActualFee(w http.ResponseWriter, r *http.Request) {
	var req actualFeeReq
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.Escrow.RecordActualFee(r.Context(), chi.URLParam(r, "paymentID"),
		domain.Corridor(strings.ToUpper(req.Corridor)), domain.Money(req.ProviderProcessingCharge))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reconciliationDTO{
		Quoted: int64(rec.Quoted.Total), Actual: int64(rec.Actual.Total),
		Charge: int64(rec.ProviderProcessingCharge), Variance: int64(rec.Variance),
	})
}

func (h *Handlers) cancel(w http.ResponseWriter, r *http.Request) {
	rb, err := h.Escrow.Cancel(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRefund(rb))
}

func (h *Handlers) openDispute(w http.ResponseWriter, r *http.Request) {
	var req openDisputeReq
	if !decode(w, r, &req) {
		return
	}
	bookingID := chi.URLParam(r, "bookingID")
	cat := domain.DisputeCategory(strings.ToUpper(req.Category))
	var (
		d   domain.Dispute
		err error
	)
	switch domain.DisputeSubject(strings.ToUpper(req.Subject)) {
	case domain.SubjectRoomFee:
		d, err = h.Disputes.OpenRoomFeeDispute(r.Context(), bookingID, req.ActorID, cat, req.Note)
	case domain.SubjectSecurityDeposit:
		d, err = h.Disputes.OpenDepositDispute(r.Context(), bookingID, req.ActorID, cat, domain.Money(req.ClaimedAmount), req.Note)
	default:
		err = domain.Invalid("subject", "must be ROOM_FEE or SECURITY_DEPOSIT")
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDispute(d))
}

// settlementResult writes the dispute even when execution failed after the decision was recorded.
func settlementResult(w http.ResponseWriter, r *http.Request, d domain.Dispute, err error) {
	if err != nil {
		if te, ok := domain.AsTransfer(err); ok && te.ReviewRequired && d.ID != "" {
			writeJSON(w, http.StatusAccepted, toDispute(d))
			return
		}
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDispute(d))
}

func (h *Handlers) respond(w http.ResponseWriter, r *http.Request) {
	var req respondReq
	if !decode(w, r, &req) {
		return
	}
	d, err := h.Disputes.Respond(r.Context(), chi.URLParam(r, "disputeID"), req.ResponderID,
		domain.DisputeResponse(strings.ToUpper(req.Response)))
	settlementResult(w, r, d, err)
}

func (h *Handlers) adjudicate(w http.ResponseWriter, r *http.Request) {
	var req adjudicateReq
	if !decode(w, r, &req) {
		return
	}
	d, err := h.Disputes.Adjudicate(r.Context(), chi.URLParam(r, "disputeID"), req.AdminID,
		domain.DisputeOutcome(strings.ToUpper(req.Outcome)), req.Note)
	settlementResult(w, r, d, err)
}

func (h *Handlers) retry(w http.ResponseWriter, r *http.Request) {
	var req retryReq
	if !decode(w, r, &req) {
		return
	}
	d, err := h.Disputes.RetrySettlement(r.Context(), chi.URLParam(r, "disputeID"), req.AdminID)
	settlementResult(w, r, d, err)
}
