// Package mysql is the InnoDB-backed domain.Store. Units of work run at SERIALIZABLE and lock the
// rows they mutate with SELECT ... FOR UPDATE.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"staybook_escrow/internal/domain"
)

const maxTxAttempts = 3

// Store runs plain calls on the pool and units of work on a dedicated transaction.
type Store struct {
	*repo
	db *sql.DB
}

var _ domain.Store = (*Store)(nil)

func New(db *sql.DB, clock domain.Clock) *Store {
	return &Store{repo: &repo{q: db, clock: clock}, db: db}
}

// InTx retries the whole unit of work when InnoDB picks it as a deadlock victim or a lock wait times out.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r domain.Repository) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		n := mysqlErrNumber(err)
		if n != errDeadlock && n != errLockWait {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("unit of work aborted by lock conflict, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*25) * time.Millisecond):
		}
	}
	return fmt.Errorf("unit of work failed after %d attempts: %w", maxTxAttempts, err)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, r domain.Repository) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	if err := fn(ctx, &repo{q: tx, clock: s.clock}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Bookings reads the booking read model replicated into the bookings table.
type Bookings struct{ db *sql.DB }

func NewBookings(db *sql.DB) *Bookings { return &Bookings{db: db} }

func (b *Bookings) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	var (
		bk        domain.Booking
		confirmed sql.NullTime
	)
	err := b.db.QueryRowContext(ctx, getBookingSQL, id).Scan(
		&bk.ID, &bk.GuestID, &bk.HostID, &bk.HostPayoutAccount, &bk.PropertyID, &bk.Status,
		&bk.CheckIn, &bk.CheckOut, &confirmed, &bk.RoomFee, &bk.CleaningFee, &bk.SecurityDeposit, &bk.Currency,
	)
	if err != nil {
		return domain.Booking{}, mapErr(err, "booking", id)
	}
	bk.CheckIn, bk.CheckOut = bk.CheckIn.UTC(), bk.CheckOut.UTC()
	bk.CheckInConfirmedAt = timePtr(confirmed)
	return bk, nil
}

// Upsert is used by the booking replication feed and by tests.
func (b *Bookings) Upsert(ctx context.Context, bk domain.Booking) error {
	_, err := b.db.ExecContext(ctx, upsertBookingSQL,
		bk.ID, bk.GuestID, bk.HostID, bk.HostPayoutAccount, bk.PropertyID, bk.Status,
		bk.CheckIn.UTC(), bk.CheckOut.UTC(), valTime(bk.CheckInConfirmedAt),
		bk.RoomFee, bk.CleaningFee, bk.SecurityDeposit, bk.Currency,
	)
	return err
}
