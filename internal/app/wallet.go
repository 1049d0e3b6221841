package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"staybook_escrow/internal/adapters/observability"
	"staybook_escrow/internal/domain"
)

// WalletService keeps the host and platform ledgers. Every balance change is paired
// with a journal entry in the same unit of work.
type WalletService struct {
	d Deps
}

func NewWalletService(d Deps) *WalletService {
	return &WalletService{d: d.withDefaults()}
}

func balanceKey(owner domain.WalletOwner) string {
	return fmt.Sprintf("wallet:%s:%s", strings.ToLower(string(owner.Type)), owner.ID)
}

func validOwner(owner domain.WalletOwner) error {
	if owner.Type != domain.OwnerHost && owner.Type != domain.OwnerPlatform {
		return domain.Invalid("owner_type", "must be HOST or PLATFORM")
	}
	if owner.ID == "" {
		return domain.Invalid("owner_id", "required")
	}
	return nil
}

// entry is one journal line to apply inside a unit of work.
type entry struct {
	owner     domain.WalletOwner
	currency  string
	amount    domain.Money
	source    domain.TxSource
	reference string
}

// applyCredit credits available balance. A reference already journaled for the wallet is a no-op.
func applyCredit(ctx context.Context, r domain.Repository, e entry) (domain.WalletTransaction, error) {
	if e.amount < 0 {
		return domain.WalletTransaction{}, domain.Invalid("amount", "must not be negative")
	}
	w, err := r.LockWallet(ctx, e.owner, e.currency)
	if err != nil {
		return domain.WalletTransaction{}, err
	}
	if tx, ok, err := r.FindWalletTransaction(ctx, w.ID, e.reference); err != nil || ok {
		return tx, err
	}
	tx := domain.WalletTransaction{
		ID: uuid.NewString(), WalletID: w.ID, Type: domain.TxCredit, Source: e.source,
		Amount: e.amount, Reference: e.reference, Status: domain.TxCompleted,
	}
	if err := r.AppendWalletTransaction(ctx, tx); err != nil {
		return domain.WalletTransaction{}, err
	}
	w.Available += e.amount
	return tx, r.UpdateWallet(ctx, w)
}

// applyPaidOut journals host earnings that the escrow already transferred to the payout account:
// a CREDIT under e.reference and a COMPLETED DIRECT_PAYOUT debit, so nothing is left to withdraw.
func applyPaidOut(ctx context.Context, r domain.Repository, e entry) error {
	if e.amount <= 0 {
		return nil
	}
	if _, err := applyCredit(ctx, r, e); err != nil {
		return err
	}
	_, err := applyDebit(ctx, r, entry{e.owner, e.currency, e.amount, domain.SourceDirectPayout, domain.Reference(domain.RefDirectPayout, e.reference)}, false)
	return err
}

// applyDebit removes available balance, or fails with ErrInsufficientBalance and changes nothing.
// With pending set the amount moves to the pending partition and the entry stays PENDING.
func applyDebit(ctx context.Context, r domain.Repository, e entry, pending bool) (domain.WalletTransaction, error) {
	if e.amount <= 0 {
		return domain.WalletTransaction{}, domain.Invalid("amount", "must be positive")
	}
	w, err := r.LockWallet(ctx, e.owner, e.currency)
	if err != nil {
		return domain.WalletTransaction{}, err
	}
	if tx, ok, err := r.FindWalletTransaction(ctx, w.ID, e.reference); err != nil || ok {
		return tx, err
	}
	if w.Available < e.amount {
		return domain.WalletTransaction{}, domain.ErrInsufficientBalance
	}
	tx := domain.WalletTransaction{
		ID: uuid.NewString(), WalletID: w.ID, Type: domain.TxDebit, Source: e.source,
		Amount: e.amount, Reference: e.reference, Status: domain.TxCompleted,
	}
	w.Available -= e.amount
	if pending {
		w.Pending += e.amount
		tx.Status = domain.TxPending
	}
	if err := r.AppendWalletTransaction(ctx, tx); err != nil {
		return domain.WalletTransaction{}, err
	}
	return tx, r.UpdateWallet(ctx, w)
}

func (s *WalletService) invalidate(ctx context.Context, owners ...domain.WalletOwner) {
	for _, o := range owners {
		_ = s.d.Cache.Del(ctx, balanceKey(o))
	}
}

func (s *WalletService) GetOrCreateWallet(ctx context.Context, owner domain.WalletOwner, currency string) (domain.Wallet, error) {
	if err := validOwner(owner); err != nil {
		return domain.Wallet{}, err
	}
	var w domain.Wallet
	err := s.d.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		var err error
		w, err = r.LockWallet(ctx, owner, currency)
		return err
	})
	return w, err
}

func (s *WalletService) Credit(ctx context.Context, owner domain.WalletOwner, currency string, amount domain.Money, source domain.TxSource, reference string) (domain.WalletTransaction, error) {
	if err := validOwner(owner); err != nil {
		return domain.WalletTransaction{}, err
	}
	if reference == "" {
		return domain.WalletTransaction{}, domain.Invalid("reference", "required")
	}
	var tx domain.WalletTransaction
	err := s.d.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		var err error
		tx, err = applyCredit(ctx, r, entry{owner, currency, amount, source, reference})
		return err
	})
	if err != nil {
		return domain.WalletTransaction{}, err
	}
	s.invalidate(ctx, owner)
	return tx, nil
}

func (s *WalletService) Debit(ctx context.Context, owner domain.WalletOwner, currency string, amount domain.Money, source domain.TxSource, reference string) (domain.WalletTransaction, error) {
	if err := validOwner(owner); err != nil {
		return domain.WalletTransaction{}, err
	}
	if reference == "" {
		return domain.WalletTransaction{}, domain.Invalid("reference", "required")
	}
	var tx domain.WalletTransaction
	err := s.d.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		var err error
		tx, err = applyDebit(ctx, r, entry{owner, currency, amount, source, reference}, false)
		return err
	})
	if err != nil {
		return domain.WalletTransaction{}, err
	}
	s.invalidate(ctx, owner)
	return tx, nil
}

// LockFundsForWithdrawal moves amount from available to pending behind a PENDING journal entry.
func (s *WalletService) LockFundsForWithdrawal(ctx context.Context, owner domain.WalletOwner, currency string, amount domain.Money, reference string) (domain.WalletTransaction, error) {
	if err := validOwner(owner); err != nil {
		return domain.WalletTransaction{}, err
	}
	if reference == "" {
		return domain.WalletTransaction{}, domain.Invalid("reference", "required")
	}
	var tx domain.WalletTransaction
	err := s.d.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		var err error
		tx, err = applyDebit(ctx, r, entry{owner, currency, amount, domain.SourceWithdrawal, reference}, true)
		return err
	})
	if err != nil {
		return domain.WalletTransaction{}, err
	}
	s.invalidate(ctx, owner)
	return tx, nil
}

// finishWithdrawal moves a PENDING withdrawal to its final status. Repeating the same outcome is a no-op.
func (s *WalletService) finishWithdrawal(ctx context.Context, txID string, to domain.TxStatus, reason string) (domain.WalletTransaction, error) {
	var (
		tx    domain.WalletTransaction
		owner domain.WalletOwner
	)
	err := s.d.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		var err error
		if tx, err = r.LockWalletTransaction(ctx, txID); err != nil {
			return err
		}
		if tx.Source != domain.SourceWithdrawal || tx.Type != domain.TxDebit {
			return domain.Conflict("wallet_transaction", txID, "not a withdrawal")
		}
		if tx.Status == to {
			return nil
		}
		if tx.Status != domain.TxPending {
			return domain.Conflict("wallet_transaction", txID, "withdrawal already "+strings.ToLower(string(tx.Status)))
		}
		w, err := r.LockWalletByID(ctx, tx.WalletID)
		if err != nil {
			return err
		}
		owner = domain.WalletOwner{Type: w.OwnerType, ID: w.OwnerID}
		w.Pending -= tx.Amount
		if to == domain.TxFailed {
			w.Available += tx.Amount
			tx.FailureReason = reason
		}
		tx.Status = to
		if err := r.UpdateWallet(ctx, w); err != nil {
			return err
		}
		return r.UpdateWalletTransaction(ctx, tx)
	})
	if err != nil {
		return domain.WalletTransaction{}, err
	}
	if owner.ID != "" {
		s.invalidate(ctx, owner)
	}
	return tx, nil
}

func (s *WalletService) CompleteWithdrawal(ctx context.Context, txID string) (domain.WalletTransaction, error) {
	return s.finishWithdrawal(ctx, txID, domain.TxCompleted, "")
}

func (s *WalletService) FailWithdrawal(ctx context.Context, txID, reason string) (domain.WalletTransaction, error) {
	return s.finishWithdrawal(ctx, txID, domain.TxFailed, reason)
}

// Withdraw locks funds, pays them out and completes the entry. A failure that proves nothing moved
// releases the funds; anything ambiguous leaves the entry PENDING for an operator.
func (s *WalletService) Withdraw(ctx context.Context, owner domain.WalletOwner, currency string, amount domain.Money, payoutAccount, reference string) (domain.WalletTransaction, error) {
	if payoutAccount == "" {
		return domain.WalletTransaction{}, domain.Invalid("payout_account", "required")
	}
	tx, err := s.LockFundsForWithdrawal(ctx, owner, currency, amount, reference)
	if err != nil {
		return domain.WalletTransaction{}, err
	}
	if tx.Status != domain.TxPending {
		return tx, nil
	}
	ref := domain.Reference(domain.RefWithdrawal, tx.ID)
	_, err = s.d.Provider.InitiateTransfer(ctx, domain.TransferRequest{
		Amount: tx.Amount, Currency: currency, Recipient: payoutAccount, Reference: ref,
	})
	if err != nil {
		te := asTransferError("withdrawal", ref, err)
		observability.ObserveTransfer("transfer", transferOutcome(te))
		if !te.ReviewRequired {
			if _, ferr := s.FailWithdrawal(ctx, tx.ID, err.Error()); ferr != nil {
				return tx, errors.Join(te, ferr)
			}
		} else {
			log.Error().Err(err).Str("tx_id", tx.ID).Str("reference", ref).Msg("withdrawal left pending for review")
		}
		return tx, te
	}
	observability.ObserveTransfer("transfer", "ok")
	return s.CompleteWithdrawal(ctx, tx.ID)
}
