// Package ledger owns wallet balances and their append-only history.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/apperr"
	"github.com/servicehub/backend/internal/audit"
	"github.com/servicehub/backend/internal/metrics"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/store"
)

type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	AdjustBalance(ctx context.Context, id string, delta money.Amount) (money.Amount, error)
	AppendEntry(ctx context.Context, e *models.LedgerEntry) error
	ListEntries(ctx context.Context, f store.EntryFilter) ([]models.LedgerEntry, error)
}

// Listener is told about every entry after it has been written.
type Listener interface {
	EntryAppended(ctx context.Context, e models.LedgerEntry)
}

// Ledger pairs every balance mutation with exactly one history entry. The
// balance write is a single conditional update in the store; the per-user
// lock stripe keeps this process's entries in the order their mutations
// applied.
type Ledger struct {
	store    Store
	listener Listener
	audit    *audit.Logger
	logger   *zap.Logger
	now      func() time.Time

	locks [lockStripes]sync.Mutex
}

const lockStripes = 256

func New(st Store, listener Listener, auditor *audit.Logger, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditor == nil {
		auditor = audit.NewLogger(logger)
	}
	return &Ledger{
		store:    st,
		listener: listener,
		audit:    auditor,
		logger:   logger.Named("ledger"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// userLock maps userID onto a fixed set of stripes. Users sharing a stripe
// serialize against each other.
func (l *Ledger) userLock(userID string) *sync.Mutex {
	return &l.locks[xxhash.Sum64String(userID)%lockStripes]
}

// Debit fails with InsufficientFunds when the balance is below amount at
// apply time.
func (l *Ledger) Debit(ctx context.Context, userID string, amount money.Amount, description, ref string) (money.Amount, error) {
	return l.apply(ctx, userID, models.EntryDebit, amount, description, ref)
}

func (l *Ledger) Credit(ctx context.Context, userID string, amount money.Amount, description, ref string) (money.Amount, error) {
	return l.apply(ctx, userID, models.EntryCredit, amount, description, ref)
}

// CreditOnce credits amount unless a credit referencing ref already exists.
// It reports whether this call moved money.
func (l *Ledger) CreditOnce(ctx context.Context, userID string, amount money.Amount, description, ref string) (money.Amount, bool, error) {
	if !amount.IsPositive() {
		return 0, false, apperr.New(apperr.Validation, "Amount must be greater than zero")
	}
	if ref == "" {
		return 0, false, apperr.New(apperr.Validation, "Reference is required")
	}

	lock := l.userLock(userID)
	lock.Lock()
	existing, err := l.store.ListEntries(ctx, store.EntryFilter{
		UserID:    userID,
		Types:     []models.EntryType{models.EntryCredit},
		Reference: ref,
		Limit:     1,
	})
	if err != nil {
		lock.Unlock()
		return 0, false, apperr.Wrap(apperr.Internal, "Failed to load wallet history", err)
	}
	if len(existing) > 0 {
		lock.Unlock()
		bal, err := l.Balance(ctx, userID)
		return bal, false, err
	}
	bal, entry, ok, err := l.applyLocked(ctx, userID, models.EntryCredit, amount, description, ref)
	lock.Unlock()
	if err != nil {
		return 0, false, err
	}
	if ok {
		l.notify(ctx, entry)
	}
	return bal, true, nil
}

// Refund is a credit recorded as the compensation of an earlier debit.
func (l *Ledger) Refund(ctx context.Context, userID string, amount money.Amount, description, ref string) (money.Amount, error) {
	return l.apply(ctx, userID, models.EntryRefund, amount, description, ref)
}

// RecordPending writes an informational entry without touching the balance.
func (l *Ledger) RecordPending(ctx context.Context, userID string, amount money.Amount, description, ref string) error {
	if !amount.IsPositive() {
		return apperr.New(apperr.Validation, "Amount must be greater than zero")
	}
	lock := l.userLock(userID)
	lock.Lock()
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		lock.Unlock()
		return translate(err)
	}
	entry := l.newEntry(userID, models.EntryPendingCredit, amount, description, ref, u.Balance)
	ok := l.appendEntry(ctx, entry)
	lock.Unlock()

	if ok {
		l.notify(ctx, entry)
	}
	return nil
}

// SetBalance moves the balance to target by crediting or debiting the
// difference, so the history still sums to the balance.
func (l *Ledger) SetBalance(ctx context.Context, userID string, target money.Amount, description string) (money.Amount, error) {
	if target < 0 {
		return 0, apperr.New(apperr.Validation, "Wallet balance cannot be negative")
	}

	lock := l.userLock(userID)
	lock.Lock()
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		lock.Unlock()
		return 0, translate(err)
	}
	diff := target - u.Balance
	if diff == 0 {
		lock.Unlock()
		return u.Balance, nil
	}

	typ, amount := models.EntryCredit, diff
	if diff < 0 {
		typ, amount = models.EntryDebit, -diff
	}
	bal, entry, ok, err := l.applyLocked(ctx, userID, typ, amount, description, "")
	lock.Unlock()
	if err != nil {
		return 0, err
	}
	if ok {
		l.notify(ctx, entry)
	}
	return bal, nil
}

func (l *Ledger) Balance(ctx context.Context, userID string) (money.Amount, error) {
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return 0, translate(err)
	}
	return u.Balance, nil
}

// History returns the user's entries, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := l.store.ListEntries(ctx, store.EntryFilter{UserID: userID, Limit: limit})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to load payment history", err)
	}
	return entries, nil
}

func (l *Ledger) apply(ctx context.Context, userID string, typ models.EntryType, amount money.Amount, description, ref string) (money.Amount, error) {
	if !amount.IsPositive() {
		return 0, apperr.New(apperr.Validation, "Amount must be greater than zero")
	}

	lock := l.userLock(userID)
	lock.Lock()
	bal, entry, ok, err := l.applyLocked(ctx, userID, typ, amount, description, ref)
	lock.Unlock()
	if err != nil {
		return 0, err
	}

	if ok {
		l.notify(ctx, entry)
	}
	return bal, nil
}

// applyLocked must be called with the user's lock held.
func (l *Ledger) applyLocked(ctx context.Context, userID string, typ models.EntryType, amount money.Amount, description, ref string) (money.Amount, models.LedgerEntry, bool, error) {
	delta := amount
	if typ == models.EntryDebit {
		delta = -amount
	}

	bal, err := l.store.AdjustBalance(ctx, userID, delta)
	if err != nil {
		return 0, models.LedgerEntry{}, false, translate(err)
	}

	entry := l.newEntry(userID, typ, amount, description, ref, bal)
	ok := l.appendEntry(ctx, entry)
	return bal, entry, ok, nil
}

func (l *Ledger) newEntry(userID string, typ models.EntryType, amount money.Amount, description, ref string, balanceAfter money.Amount) models.LedgerEntry {
	return models.LedgerEntry{
		ID:           ulid.Make().String(),
		UserID:       userID,
		Type:         typ,
		Amount:       amount,
		Description:  description,
		Reference:    ref,
		BalanceAfter: balanceAfter,
		CreatedAt:    l.now(),
	}
}

// appendEntry is best effort: the balance mutation already happened and is
// not rolled back when its history write fails.
func (l *Ledger) appendEntry(ctx context.Context, e models.LedgerEntry) bool {
	if err := l.store.AppendEntry(context.WithoutCancel(ctx), &e); err != nil {
		metrics.LedgerWriteFailures.Inc()
		l.logger.Error("failed to write ledger entry",
			zap.String("user_id", e.UserID),
			zap.String("type", string(e.Type)),
			zap.Stringer("amount", e.Amount),
			zap.String("reference", e.Reference),
			zap.Error(err),
		)
		l.audit.LogError(e.Reference, e.UserID, e.Amount, "LEDGER_HISTORY_WRITE_FAILED", err)
		return false
	}

	metrics.LedgerEntries.WithLabelValues(string(e.Type)).Inc()
	l.audit.LogLedgerEntry(e)
	return true
}

func (l *Ledger) notify(ctx context.Context, e models.LedgerEntry) {
	if l.listener != nil {
		l.listener.EntryAppended(ctx, e)
	}
}

func translate(err error) error {
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		return apperr.Wrap(apperr.InsufficientFunds, "Insufficient wallet balance", err)
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, "User not found", err)
	case errors.Is(err, money.ErrRange):
		return apperr.Wrap(apperr.Validation, "Wallet balance out of range", err)
	default:
		return apperr.Wrap(apperr.Internal, "Failed to update wallet", err)
	}
}
