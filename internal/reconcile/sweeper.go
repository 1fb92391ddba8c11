package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/audit"
	"github.com/servicehub/backend/internal/metrics"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/store"
)

type SweepStore interface {
	GetRecord(ctx context.Context, id string) (*models.Record, error)
	ListRecords(ctx context.Context, f store.RecordFilter) ([]models.Record, error)
	ListEntries(ctx context.Context, f store.EntryFilter) ([]models.LedgerEntry, error)
}

type SweepConfig struct {
	Interval time.Duration
	Lookback time.Duration
	// Grace should exceed the longest provider timeout.
	Grace time.Duration
}

type Finding struct {
	Reference string       `json:"reference"`
	UserID    string       `json:"userId"`
	Amount    money.Amount `json:"amount"`
	At        time.Time    `json:"at"`
	Reason    string       `json:"reason"`
}

type Report struct {
	Unresolved     []Finding `json:"unresolved"`
	MissingRefunds []Finding `json:"missingRefunds"`
}

// Sweeper looks for money held against outcomes nobody recorded. It only
// reports; whether the provider did the work is unknown from here.
type Sweeper struct {
	store  SweepStore
	cfg    SweepConfig
	audit  *audit.Logger
	logger *zap.Logger
	now    func() time.Time
}

func NewSweeper(st SweepStore, cfg SweepConfig, auditor *audit.Logger, logger *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditor == nil {
		auditor = audit.NewLogger(logger)
	}
	return &Sweeper{
		store:  st,
		cfg:    cfg,
		audit:  auditor,
		logger: logger.Named("sweeper"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("reservation sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	now := s.now()
	since := now.Add(-s.cfg.Lookback)
	until := now.Add(-s.cfg.Grace)
	report := &Report{}

	debits, err := s.store.ListEntries(ctx, store.EntryFilter{
		Types: []models.EntryType{models.EntryDebit},
		Since: since,
		Until: until,
	})
	if err != nil {
		return nil, err
	}

	for _, d := range debits {
		if d.Reference == "" {
			continue
		}
		if _, err := s.store.GetRecord(ctx, d.Reference); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		refunded, err := s.hasRefund(ctx, d.Reference)
		if err != nil {
			return nil, err
		}
		if refunded {
			continue
		}
		report.Unresolved = append(report.Unresolved, Finding{
			Reference: d.Reference,
			UserID:    d.UserID,
			Amount:    d.Amount,
			At:        d.CreatedAt,
			Reason:    "debit has neither a record nor a refund",
		})
	}

	settled, err := s.store.ListRecords(ctx, store.RecordFilter{
		Statuses: []models.RecordStatus{models.StatusRefunded, models.StatusFailed},
		Since:    since,
	})
	if err != nil {
		return nil, err
	}
	for _, rec := range settled {
		refunded, err := s.hasRefund(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		if refunded {
			continue
		}
		report.MissingRefunds = append(report.MissingRefunds, Finding{
			Reference: rec.ID,
			UserID:    rec.UserID,
			Amount:    rec.Price,
			At:        rec.UpdatedAt,
			Reason:    "record is " + string(rec.Status) + " but no refund entry exists",
		})
	}

	metrics.UnresolvedReservations.Set(float64(len(report.Unresolved)))
	metrics.MissingRefunds.Set(float64(len(report.MissingRefunds)))

	for _, f := range report.Unresolved {
		s.audit.LogOperation(f.Reference, f.UserID, "UNRESOLVED_RESERVATION", map[string]string{
			"amount": f.Amount.String(),
			"reason": f.Reason,
		})
	}
	for _, f := range report.MissingRefunds {
		s.audit.LogOperation(f.Reference, f.UserID, "MISSING_REFUND", map[string]string{
			"amount": f.Amount.String(),
			"reason": f.Reason,
		})
	}
	if len(report.Unresolved)+len(report.MissingRefunds) > 0 {
		s.logger.Warn("reservation sweep found discrepancies",
			zap.Int("unresolved", len(report.Unresolved)),
			zap.Int("missing_refunds", len(report.MissingRefunds)),
		)
	}
	return report, nil
}

func (s *Sweeper) hasRefund(ctx context.Context, ref string) (bool, error) {
	refunds, err := s.store.ListEntries(ctx, store.EntryFilter{
		Types:     []models.EntryType{models.EntryRefund},
		Reference: ref,
		Limit:     1,
	})
	if err != nil {
		return false, err
	}
	return len(refunds) > 0, nil
}
