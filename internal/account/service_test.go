package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/apperr"
	"github.com/servicehub/backend/internal/ledger"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/pricing"
	"github.com/servicehub/backend/internal/store/memory"
)

func setup(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.CreateUser(ctx, &models.User{ID: "u1", Name: "Asha", Mobile: "9876543210"}))
	require.NoError(t, st.CreateUser(ctx, &models.User{ID: "u2", Name: "Ravi", Mobile: "9876543211", Blocked: true}))

	lg := ledger.New(st, nil, nil, zap.NewNop())
	return NewService(st, pricing.NewResolver(st), lg), st
}

func TestService_Profile(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	u, err := svc.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", u.Name)

	_, err = svc.Profile(ctx, "u2")
	assert.True(t, apperr.Is(err, apperr.Forbidden))

	_, err = svc.Profile(ctx, "nobody")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestService_Services(t *testing.T) {
	ctx := context.Background()
	svc, st := setup(t)

	now := time.Now().UTC()
	require.NoError(t, st.CreateService(ctx, &models.Service{ID: "s1", Name: "PAN", DefaultPrice: money.FromMajor(100), Active: true, CreatedAt: now}))
	require.NoError(t, st.CreateService(ctx, &models.Service{ID: "s2", Name: "Off", DefaultPrice: money.FromMajor(100), Active: false, CreatedAt: now}))
	require.NoError(t, st.UpsertPriceOverride(ctx, models.PriceOverride{UserID: "u1", ServiceID: "s1", Price: money.FromMajor(80)}))

	services, err := svc.Services(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "s1", services[0].ID)
	assert.Equal(t, money.FromMajor(80), services[0].Price)
	assert.True(t, services[0].HasOverride)
}

func TestService_RecordsAndDownload(t *testing.T) {
	ctx := context.Background()
	svc, st := setup(t)

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateRecord(ctx, &models.Record{
		ID: "r1", Kind: models.KindLicensePDF, UserID: "u1", Status: models.StatusCompleted,
		Payload:   models.Payload{License: &models.LicensePayload{DLNo: "MH1220110012345", PDFData: "JVBERi0x"}},
		CreatedAt: base, UpdatedAt: base,
	}))
	require.NoError(t, st.CreateRecord(ctx, &models.Record{
		ID: "r2", Kind: models.KindExam, UserID: "u1", Status: models.StatusSubmitted, Token: "tok-2",
		Payload:   models.Payload{Exam: &models.ExamPayload{ApplNo: "APP1"}},
		CreatedAt: base.Add(time.Minute), UpdatedAt: base.Add(time.Minute),
	}))

	t.Run("list omits documents", func(t *testing.T) {
		records, err := svc.Records(ctx, "u1", "", 0)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "r2", records[0].ID)
		assert.Empty(t, records[1].Payload.License.PDFData)
	})

	t.Run("download own completed record", func(t *testing.T) {
		doc, err := svc.Download(ctx, "u1", "r1")
		require.NoError(t, err)
		assert.Equal(t, "DL_MH1220110012345.pdf", doc.Filename)
		assert.Equal(t, "JVBERi0x", doc.PDFData)
		assert.Equal(t, "application/pdf", doc.MimeType)
	})

	t.Run("someone else's record", func(t *testing.T) {
		_, err := svc.Download(ctx, "u2", "r1")
		assert.True(t, apperr.Is(err, apperr.NotFound))
	})

	t.Run("not completed", func(t *testing.T) {
		_, err := svc.DownloadByToken(ctx, "u1", "tok-2")
		assert.True(t, apperr.Is(err, apperr.Validation))
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := svc.DownloadByToken(ctx, "u1", "nope")
		assert.True(t, apperr.Is(err, apperr.UnknownToken))
	})
}
