package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"staybook_escrow/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const (
	errDuplicateEntry = 1062
	errLockWait       = 1205
	errDeadlock       = 1213
)

func mysqlErrNumber(err error) uint16 {
	var me *mysqldrv.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// mapErr turns driver errors into domain errors. Anything else passes through.
func mapErr(err error, resource, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrNotFound
	case mysqlErrNumber(err) == errDuplicateEntry:
		return domain.Conflict(resource, id, "already exists")
	}
	return err
}

func valTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func valJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

type repo struct {
	q     querier
	clock domain.Clock
}

func (r *repo) now() time.Time { return r.clock.Now().UTC() }

// Payments

func scanPayment(s scanner) (domain.Payment, error) {
	var (
		p                      domain.Payment
		serviceFee, commission []byte
		heldAt                 sql.NullTime
	)
	err := s.Scan(
		&p.ID, &p.BookingID, &p.GuestID, &p.HostID, &p.HostPayoutAccount, &p.Currency, &p.ProviderReference,
		&p.RoomFee, &p.CleaningFee, &p.SecurityDeposit, &serviceFee, &commission,
		&p.ActualServiceFee, &p.FeeVariance, &p.FeeReconciled, &p.Status,
		&p.RoomFeeHeld, &p.DepositHeld, &p.RoomFeeFrozen, &p.DepositFrozen,
		&p.RoomFeeToGuest, &p.RoomFeeToHost, &p.RoomFeeToPlatform, &p.DepositToGuest, &p.DepositToHost,
		&p.ReviewRequired, &p.ReviewDetail, &p.CheckIn, &p.CheckOut, &heldAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := json.Unmarshal(serviceFee, &p.ServiceFee); err != nil {
		return domain.Payment{}, err
	}
	if err := json.Unmarshal(commission, &p.Commission); err != nil {
		return domain.Payment{}, err
	}
	p.CheckIn, p.CheckOut = p.CheckIn.UTC(), p.CheckOut.UTC()
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	p.HeldAt = timePtr(heldAt)
	return p, nil
}

func (r *repo) CreatePayment(ctx context.Context, p domain.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	p.UpdatedAt = p.CreatedAt
	fee, err := valJSON(p.ServiceFee)
	if err != nil {
		return err
	}
	comm, err := valJSON(p.Commission)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, insertPaymentSQL,
		p.ID, p.BookingID, p.GuestID, p.HostID, p.HostPayoutAccount, p.Currency, p.ProviderReference,
		p.RoomFee, p.CleaningFee, p.SecurityDeposit, fee, comm,
		p.ActualServiceFee, p.FeeVariance, p.FeeReconciled, p.Status,
		p.RoomFeeHeld, p.DepositHeld, p.RoomFeeFrozen, p.DepositFrozen,
		p.RoomFeeToGuest, p.RoomFeeToHost, p.RoomFeeToPlatform, p.DepositToGuest, p.DepositToHost,
		p.ReviewRequired, p.ReviewDetail, p.CheckIn.UTC(), p.CheckOut.UTC(), valTime(p.HeldAt), p.CreatedAt, p.UpdatedAt,
	)
	return mapErr(err, "payment", p.BookingID)
}

func (r *repo) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	p, err := scanPayment(r.q.QueryRowContext(ctx, getPaymentSQL, id))
	return p, mapErr(err, "payment", id)
}

func (r *repo) GetPaymentByBooking(ctx context.Context, bookingID string) (domain.Payment, error) {
	p, err := scanPayment(r.q.QueryRowContext(ctx, getPaymentByBookingSQL, bookingID))
	return p, mapErr(err, "payment", bookingID)
}

func (r *repo) LockPaymentByBooking(ctx context.Context, bookingID string) (domain.Payment, error) {
	p, err := scanPayment(r.q.QueryRowContext(ctx, getPaymentByBookingSQL+" FOR UPDATE", bookingID))
	return p, mapErr(err, "payment", bookingID)
}

func (r *repo) UpdatePayment(ctx context.Context, p domain.Payment) error {
	fee, err := valJSON(p.ServiceFee)
	if err != nil {
		return err
	}
	comm, err := valJSON(p.Commission)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, updatePaymentSQL,
		p.ProviderReference, fee, comm,
		p.ActualServiceFee, p.FeeVariance, p.FeeReconciled, p.Status,
		p.RoomFeeHeld, p.DepositHeld, p.RoomFeeFrozen, p.DepositFrozen,
		p.RoomFeeToGuest, p.RoomFeeToHost, p.RoomFeeToPlatform, p.DepositToGuest, p.DepositToHost,
		p.ReviewRequired, p.ReviewDetail, valTime(p.HeldAt), r.now(),
		p.ID,
	)
	return affected(res, err, "payment", p.ID)
}

// affected reports ErrNotFound when an update matched no row.
func affected(res sql.Result, err error, resource, id string) error {
	if err != nil {
		return mapErr(err, resource, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) HostMonthlyVolume(ctx context.Context, hostID string, from, to time.Time) (domain.Money, error) {
	var sum int64
	err := r.q.QueryRowContext(ctx, hostMonthlyVolumeSQL, hostID, from.UTC(), to.UTC()).Scan(&sum)
	return domain.Money(sum), err
}

func (r *repo) listPayments(ctx context.Context, query string, args ...any) ([]domain.Payment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repo) ListReleaseCandidates(ctx context.Context, checkInBefore time.Time, after domain.SweepCursor, limit int) ([]domain.Payment, error) {
	at := cursorAt(after)
	return r.listPayments(ctx, listReleaseCandidatesSQL, checkInBefore.UTC(), checkInBefore.UTC(), at, at, after.ID, limit)
}

func (r *repo) ListDepositReturnCandidates(ctx context.Context, checkOutBefore time.Time, after domain.SweepCursor, limit int) ([]domain.Payment, error) {
	at := cursorAt(after)
	return r.listPayments(ctx, listDepositCandidatesSQL, checkOutBefore.UTC(), at, at, after.ID, limit)
}

// Escrow events

func scanEvent(s scanner) (domain.EscrowEvent, error) {
	var e domain.EscrowEvent
	err := s.Scan(&e.ID, &e.BookingID, &e.PaymentID, &e.Type, &e.Amount, &e.From, &e.To,
		&e.Reference, &e.ProviderTransferID, &e.Note, &e.CreatedAt)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, err
}

func (r *repo) AppendEvent(ctx context.Context, e domain.EscrowEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	_, err := r.q.ExecContext(ctx, insertEventSQL,
		e.ID, e.BookingID, e.PaymentID, e.Type, e.Amount, e.From, e.To,
		e.Reference, e.ProviderTransferID, e.Note, e.CreatedAt.UTC())
	return mapErr(err, "escrow_event", e.Reference)
}

func (r *repo) FindEventByReference(ctx context.Context, reference string) (domain.EscrowEvent, bool, error) {
	e, err := scanEvent(r.q.QueryRowContext(ctx, findEventByReferenceSQL, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EscrowEvent{}, false, nil
	}
	if err != nil {
		return domain.EscrowEvent{}, false, err
	}
	return e, true, nil
}

func (r *repo) ListEvents(ctx context.Context, bookingID string) ([]domain.EscrowEvent, error) {
	rows, err := r.q.QueryContext(ctx, listEventsSQL, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.EscrowEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Disputes

func scanDispute(s scanner) (domain.Dispute, error) {
	var (
		d                       domain.Dispute
		settlements, resolution []byte
		resolvedAt              sql.NullTime
	)
	err := s.Scan(
		&d.ID, &d.BookingID, &d.PaymentID, &d.Subject, &d.Category, &d.Status, &d.OpenedBy, &d.Responder, &d.Note,
		&d.ClaimedAmount, &d.CapAmount, &settlements, &d.ClaimOutcome, &d.Response, &d.Outcome, &d.DecidedBy, &d.AdminNote,
		&resolution, &d.FailureDetail, &d.ResponseDeadline, &d.CreatedAt, &d.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		return domain.Dispute{}, err
	}
	if err := json.Unmarshal(settlements, &d.Settlements); err != nil {
		return domain.Dispute{}, err
	}
	if len(resolution) > 0 && string(resolution) != "null" {
		var s domain.Settlement
		if err := json.Unmarshal(resolution, &s); err != nil {
			return domain.Dispute{}, err
		}
		d.Resolution = &s
	}
	d.ResponseDeadline = d.ResponseDeadline.UTC()
	d.CreatedAt, d.UpdatedAt = d.CreatedAt.UTC(), d.UpdatedAt.UTC()
	d.ResolvedAt = timePtr(resolvedAt)
	return d, nil
}

func resolutionArg(s *domain.Settlement) (any, error) {
	if s == nil {
		return nil, nil
	}
	return valJSON(s)
}

func (r *repo) CreateDispute(ctx context.Context, d domain.Dispute) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.now()
	}
	d.UpdatedAt = d.CreatedAt
	settlements, err := valJSON(d.Settlements)
	if err != nil {
		return err
	}
	resolution, err := resolutionArg(d.Resolution)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, insertDisputeSQL,
		d.ID, d.BookingID, d.PaymentID, d.Subject, d.Category, d.Status, d.OpenedBy, d.Responder, d.Note,
		d.ClaimedAmount, d.CapAmount, settlements, d.ClaimOutcome, d.Response, d.Outcome, d.DecidedBy, d.AdminNote,
		resolution, d.FailureDetail, d.ResponseDeadline.UTC(), d.CreatedAt, d.UpdatedAt, valTime(d.ResolvedAt),
	)
	if mysqlErrNumber(err) == errDuplicateEntry {
		return domain.Conflict("dispute", d.BookingID, "an active dispute already exists for this subject")
	}
	return err
}

func (r *repo) GetDispute(ctx context.Context, id string) (domain.Dispute, error) {
	d, err := scanDispute(r.q.QueryRowContext(ctx, getDisputeSQL, id))
	return d, mapErr(err, "dispute", id)
}

func (r *repo) LockDispute(ctx context.Context, id string) (domain.Dispute, error) {
	d, err := scanDispute(r.q.QueryRowContext(ctx, getDisputeSQL+" FOR UPDATE", id))
	return d, mapErr(err, "dispute", id)
}

func (r *repo) UpdateDispute(ctx context.Context, d domain.Dispute) error {
	resolution, err := resolutionArg(d.Resolution)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, updateDisputeSQL,
		d.Status, d.Response, d.Outcome, d.DecidedBy, d.AdminNote,
		resolution, d.FailureDetail, r.now(), valTime(d.ResolvedAt),
		d.ID,
	)
	return affected(res, err, "dispute", d.ID)
}

func (r *repo) FindActiveDispute(ctx context.Context, bookingID string, subject domain.DisputeSubject) (domain.Dispute, bool, error) {
	d, err := scanDispute(r.q.QueryRowContext(ctx, findActiveDisputeSQL, bookingID, subject))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Dispute{}, false, nil
	}
	if err != nil {
		return domain.Dispute{}, false, err
	}
	return d, true, nil
}

func (r *repo) ListStaleDisputes(ctx context.Context, deadlineBefore time.Time, after domain.SweepCursor, limit int) ([]domain.Dispute, error) {
	at := cursorAt(after)
	return r.listDisputes(ctx, listStaleDisputesSQL, deadlineBefore.UTC(), at, at, after.ID, limit)
}

func (r *repo) ListStuckSettlements(ctx context.Context, updatedBefore time.Time, after domain.SweepCursor, limit int) ([]domain.Dispute, error) {
	at := cursorAt(after)
	return r.listDisputes(ctx, listStuckSettlementsSQL, updatedBefore.UTC(), at, at, after.ID, limit)
}

// cursorAt is the keyset time bound for after. The zero cursor maps to the epoch so the
// driver never sends a zero DATETIME.
func cursorAt(after domain.SweepCursor) time.Time {
	if after.At.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return after.At.UTC()
}

func (r *repo) listDisputes(ctx context.Context, query string, args ...any) ([]domain.Dispute, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Wallets. Balances and journal amounts are DECIMAL major units in the table.

func scanWallet(s scanner) (domain.Wallet, error) {
	var (
		w                  domain.Wallet
		available, pending decimal.Decimal
	)
	if err := s.Scan(&w.ID, &w.OwnerType, &w.OwnerID, &w.Currency, &available, &pending, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return domain.Wallet{}, err
	}
	w.Available = domain.MoneyFromDecimal(available, w.Currency)
	w.Pending = domain.MoneyFromDecimal(pending, w.Currency)
	w.CreatedAt, w.UpdatedAt = w.CreatedAt.UTC(), w.UpdatedAt.UTC()
	return w, nil
}

func walletID(owner domain.WalletOwner, currency string) string {
	return domain.Reference("wallet", string(owner.Type), owner.ID, currency)
}

func (r *repo) LockWallet(ctx context.Context, owner domain.WalletOwner, currency string) (domain.Wallet, error) {
	id := walletID(owner, currency)
	now := r.now()
	if _, err := r.q.ExecContext(ctx, ensureWalletSQL, id, owner.Type, owner.ID, currency, now, now); err != nil {
		return domain.Wallet{}, err
	}
	return r.LockWalletByID(ctx, id)
}

func (r *repo) LockWalletByID(ctx context.Context, id string) (domain.Wallet, error) {
	w, err := scanWallet(r.q.QueryRowContext(ctx, lockWalletSQL, id))
	return w, mapErr(err, "wallet", id)
}

func (r *repo) GetWallet(ctx context.Context, owner domain.WalletOwner) (domain.Wallet, error) {
	w, err := scanWallet(r.q.QueryRowContext(ctx, getWalletSQL, owner.Type, owner.ID))
	return w, mapErr(err, "wallet", owner.ID)
}

func (r *repo) UpdateWallet(ctx context.Context, w domain.Wallet) error {
	res, err := r.q.ExecContext(ctx, updateWalletSQL,
		w.Available.Decimal(w.Currency), w.Pending.Decimal(w.Currency), r.now(), w.ID)
	return affected(res, err, "wallet", w.ID)
}

func scanWalletTx(s scanner) (domain.WalletTransaction, error) {
	var (
		tx       domain.WalletTransaction
		amount   decimal.Decimal
		currency string
	)
	err := s.Scan(&tx.ID, &tx.WalletID, &tx.Type, &tx.Source, &amount, &tx.Reference, &tx.Status, &tx.FailureReason,
		&tx.CreatedAt, &tx.UpdatedAt, &currency)
	if err != nil {
		return domain.WalletTransaction{}, err
	}
	tx.Amount = domain.MoneyFromDecimal(amount, currency)
	tx.CreatedAt, tx.UpdatedAt = tx.CreatedAt.UTC(), tx.UpdatedAt.UTC()
	return tx, nil
}

func (r *repo) AppendWalletTransaction(ctx context.Context, tx domain.WalletTransaction) error {
	var currency string
	if err := r.q.QueryRowContext(ctx, walletCurrencySQL, tx.WalletID).Scan(&currency); err != nil {
		return mapErr(err, "wallet", tx.WalletID)
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = r.now()
	}
	tx.UpdatedAt = tx.CreatedAt
	_, err := r.q.ExecContext(ctx, insertWalletTxSQL,
		tx.ID, tx.WalletID, tx.Type, tx.Source, tx.Amount.Decimal(currency), tx.Reference, tx.Status, tx.FailureReason,
		tx.CreatedAt, tx.UpdatedAt)
	return mapErr(err, "wallet_transaction", tx.Reference)
}

func (r *repo) FindWalletTransaction(ctx context.Context, walletID, reference string) (domain.WalletTransaction, bool, error) {
	tx, err := scanWalletTx(r.q.QueryRowContext(ctx, findWalletTxSQL, walletID, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WalletTransaction{}, false, nil
	}
	if err != nil {
		return domain.WalletTransaction{}, false, err
	}
	return tx, true, nil
}

func (r *repo) LockWalletTransaction(ctx context.Context, id string) (domain.WalletTransaction, error) {
	tx, err := scanWalletTx(r.q.QueryRowContext(ctx, lockWalletTxSQL, id))
	return tx, mapErr(err, "wallet_transaction", id)
}

func (r *repo) UpdateWalletTransaction(ctx context.Context, tx domain.WalletTransaction) error {
	res, err := r.q.ExecContext(ctx, updateWalletTxSQL, tx.Status, tx.FailureReason, r.now(), tx.ID)
	return affected(res, err, "wallet_transaction", tx.ID)
}

// ListWalletTransactions pages newest first. One extra row is read to decide whether a next cursor exists.
func (r *repo) ListWalletTransactions(ctx context.Context, walletID string, pg domain.PageQuery) (domain.TransactionsPage, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if pg.Cursor != nil {
		rows, err = r.q.QueryContext(ctx, listWalletTxAfterSQL, walletID, *pg.Cursor, walletID, pg.Limit+1)
	} else {
		rows, err = r.q.QueryContext(ctx, listWalletTxSQL, walletID, pg.Limit+1)
	}
	if err != nil {
		return domain.TransactionsPage{}, err
	}
	defer rows.Close()

	var out domain.TransactionsPage
	for rows.Next() {
		tx, err := scanWalletTx(rows)
		if err != nil {
			return domain.TransactionsPage{}, err
		}
		out.Items = append(out.Items, tx)
	}
	if err := rows.Err(); err != nil {
		return domain.TransactionsPage{}, err
	}
	if len(out.Items) > pg.Limit {
		out.Items = out.Items[:pg.Limit]
		next := out.Items[pg.Limit-1].ID
		out.NextCursor = &next
	}
	return out, nil
}
