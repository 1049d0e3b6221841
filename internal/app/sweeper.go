package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"staybook_escrow/internal/adapters/observability"
	"staybook_escrow/internal/domain"
)

// Sweep names, used as metric labels.
const (
	SweepRoomFeeRelease   = "room_fee_release"
	SweepDepositReturn    = "deposit_return"
	SweepStaleDisputes    = "stale_disputes"
	SweepStuckSettlements = "stuck_settlements"
)

// SweepReport counts what one run did with the rows it visited.
type SweepReport struct {
	Sweep   string
	Visited int
	Pages   int
	Done    int64
	Skipped int64
	Failed  int64
}

// Sweeper drives the time-gated transitions. Each run walks every due row in keyset pages of
// batch rows using a single snapshot of now, so rows that keep failing or being skipped never
// hide the rows behind them. Every row is re-validated by the service call in its own unit of work.
type Sweeper struct {
	d        Deps
	escrow   *EscrowService
	disputes *DisputeService
	workers  int
	batch    int
}

func NewSweeper(d Deps, escrow *EscrowService, disputes *DisputeService, workers, batch int) *Sweeper {
	if workers <= 0 {
		workers = 1
	}
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{d: d.withDefaults(), escrow: escrow, disputes: disputes, workers: workers, batch: batch}
}

// RunAll runs the sweeps in order.
func (s *Sweeper) RunAll(ctx context.Context) ([]SweepReport, error) {
	var out []SweepReport
	for _, run := range []func(context.Context) (SweepReport, error){
		s.RunRoomFeeReleases, s.RunDepositReturns, s.RunStaleDisputes, s.RunStuckSettlements,
	} {
		rep, err := run(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, rep)
	}
	return out, nil
}

// sweepRow is one candidate: the id handed to the service call and its keyset position.
type sweepRow struct {
	id  string
	pos domain.SweepCursor
}

func paymentRows(ps []domain.Payment, key func(domain.Payment) time.Time) []sweepRow {
	out := make([]sweepRow, len(ps))
	for i, p := range ps {
		out[i] = sweepRow{id: p.BookingID, pos: domain.SweepCursor{At: key(p), ID: p.ID}}
	}
	return out
}

func disputeRows(ds []domain.Dispute, key func(domain.Dispute) time.Time) []sweepRow {
	out := make([]sweepRow, len(ds))
	for i, d := range ds {
		out[i] = sweepRow{id: d.ID, pos: domain.SweepCursor{At: key(d), ID: d.ID}}
	}
	return out
}

func (s *Sweeper) RunRoomFeeReleases(ctx context.Context) (SweepReport, error) {
	cutoff := s.d.now().Add(-s.d.Finance.Escrow.RoomFeeReleaseGrace)
	return s.sweep(ctx, SweepRoomFeeRelease, func(ctx context.Context, after domain.SweepCursor) ([]sweepRow, error) {
		ps, err := s.d.Store.ListReleaseCandidates(ctx, cutoff, after, s.batch)
		return paymentRows(ps, func(p domain.Payment) time.Time { return p.CheckIn }), err
	}, func(ctx context.Context, bookingID string) error {
		_, err := s.escrow.ReleaseRoomFeeSplit(ctx, bookingID)
		return err
	})
}

func (s *Sweeper) RunDepositReturns(ctx context.Context) (SweepReport, error) {
	cutoff := s.d.now().Add(-s.d.Finance.Escrow.DepositReturnGrace)
	return s.sweep(ctx, SweepDepositReturn, func(ctx context.Context, after domain.SweepCursor) ([]sweepRow, error) {
		ps, err := s.d.Store.ListDepositReturnCandidates(ctx, cutoff, after, s.batch)
		return paymentRows(ps, func(p domain.Payment) time.Time { return p.CheckOut }), err
	}, func(ctx context.Context, bookingID string) error {
		_, err := s.escrow.ReturnSecurityDeposit(ctx, bookingID)
		return err
	})
}

func (s *Sweeper) RunStaleDisputes(ctx context.Context) (SweepReport, error) {
	now := s.d.now()
	return s.sweep(ctx, SweepStaleDisputes, func(ctx context.Context, after domain.SweepCursor) ([]sweepRow, error) {
		ds, err := s.d.Store.ListStaleDisputes(ctx, now, after, s.batch)
		return disputeRows(ds, func(d domain.Dispute) time.Time { return d.ResponseDeadline }), err
	}, func(ctx context.Context, id string) error {
		_, err := s.disputes.EscalateStale(ctx, id)
		return err
	})
}

// RunStuckSettlements parks disputes that have sat in SETTLING past SettlementStaleAfter.
func (s *Sweeper) RunStuckSettlements(ctx context.Context) (SweepReport, error) {
	cutoff := s.d.now().Add(-s.d.Finance.Disputes.SettlementStaleAfter)
	return s.sweep(ctx, SweepStuckSettlements, func(ctx context.Context, after domain.SweepCursor) ([]sweepRow, error) {
		ds, err := s.d.Store.ListStuckSettlements(ctx, cutoff, after, s.batch)
		return disputeRows(ds, func(d domain.Dispute) time.Time { return d.UpdatedAt }), err
	}, func(ctx context.Context, id string) error {
		_, err := s.disputes.ParkStuckSettlement(ctx, id)
		return err
	})
}

// sweep pages through list until a short page and fans every page out to fn.
func (s *Sweeper) sweep(ctx context.Context, name string,
	list func(context.Context, domain.SweepCursor) ([]sweepRow, error),
	fn func(context.Context, string) error,
) (SweepReport, error) {
	rep := SweepReport{Sweep: name}
	var after domain.SweepCursor
	for {
		rows, err := list(ctx, after)
		if err != nil {
			return rep, err
		}
		if len(rows) == 0 {
			break
		}
		rep.Pages++
		if err := s.fanOut(ctx, &rep, rows, fn); err != nil {
			return rep, err
		}
		if len(rows) < s.batch {
			break
		}
		after = rows[len(rows)-1].pos
	}
	log.Info().Str("sweep", name).Int("visited", rep.Visited).Int("pages", rep.Pages).Int64("done", rep.Done).
		Int64("skipped", rep.Skipped).Int64("failed", rep.Failed).Msg("sweep finished")
	return rep, nil
}

// fanOut runs fn for every row with at most s.workers in flight. Rows that no longer qualify
// (validation or conflict) are skipped silently; other failures are logged and counted.
func (s *Sweeper) fanOut(ctx context.Context, rep *SweepReport, rows []sweepRow, fn func(context.Context, string) error) error {
	sem := semaphore.NewWeighted(int64(s.workers))
	var wg sync.WaitGroup
	defer wg.Wait()

	for _, row := range rows {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		rep.Visited++
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer sem.Release(1)

			err := fn(ctx, id)
			switch {
			case err == nil:
				atomic.AddInt64(&rep.Done, 1)
				observability.ObserveSweepRow(rep.Sweep, "done")
			case domain.IsRejected(err):
				atomic.AddInt64(&rep.Skipped, 1)
				observability.ObserveSweepRow(rep.Sweep, "skipped")
			default:
				atomic.AddInt64(&rep.Failed, 1)
				observability.ObserveSweepRow(rep.Sweep, "failed")
				log.Warn().Err(err).Str("sweep", rep.Sweep).Str("id", id).Msg("sweep row failed")
			}
		}(row.id)
	}
	return nil
}
