package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/store/memory"
)

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-time.Hour)

	entry := func(id string, typ models.EntryType, ref string, at time.Time) {
		require.NoError(t, st.AppendEntry(ctx, &models.LedgerEntry{
			ID: id, UserID: "u1", Type: typ, Amount: money.FromMajor(150), Reference: ref, CreatedAt: at,
		}))
	}

	// Debit with a persisted record: fine.
	entry("e1", models.EntryDebit, "rec-ok", old)
	require.NoError(t, st.CreateRecord(ctx, &models.Record{ID: "rec-ok", UserID: "u1", Status: models.StatusSubmitted, UpdatedAt: old}))

	// Debit compensated by a refund: fine.
	entry("e2", models.EntryDebit, "rec-refunded", old)
	entry("e3", models.EntryRefund, "rec-refunded", old)

	// Debit with nothing after it: unresolved.
	entry("e4", models.EntryDebit, "rec-lost", old)

	// Too recent to judge.
	entry("e5", models.EntryDebit, "rec-inflight", now.Add(-time.Minute))

	// Admin debit without reference is ignored.
	entry("e6", models.EntryDebit, "", old)

	// Refunded record without its refund entry.
	require.NoError(t, st.CreateRecord(ctx, &models.Record{ID: "rec-owed", UserID: "u1", Price: money.FromMajor(150), Status: models.StatusRefunded, UpdatedAt: old}))
	entry("e7", models.EntryDebit, "rec-owed", old)

	s := NewSweeper(st, SweepConfig{Lookback: 24 * time.Hour, Grace: 5 * time.Minute}, nil, zap.NewNop())
	s.now = func() time.Time { return now }

	report, err := s.Sweep(ctx)
	require.NoError(t, err)

	require.Len(t, report.Unresolved, 1)
	assert.Equal(t, "rec-lost", report.Unresolved[0].Reference)
	require.Len(t, report.MissingRefunds, 1)
	assert.Equal(t, "rec-owed", report.MissingRefunds[0].Reference)
}
