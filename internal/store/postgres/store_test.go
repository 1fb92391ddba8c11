package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/store"
)

var fixed = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(db)
	s.now = func() time.Time { return fixed }
	return s, mock
}

func TestStore_CreateUser(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	u := &models.User{ID: "u1", Name: "Asha", Mobile: "9876543210", PasswordHash: "h", CreatedAt: fixed, UpdatedAt: fixed}

	t.Run("inserted", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").
			WithArgs("u1", "Asha", "9876543210", "h", int64(0), false, fixed, fixed).
			WillReturnResult(sqlmock.NewResult(1, 1))

		assert.NoError(t, s.CreateUser(ctx, u))
	})

	t.Run("duplicate mobile via lib/pq", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").
			WillReturnError(&pq.Error{Code: "23505"})

		assert.ErrorIs(t, s.CreateUser(ctx, u), store.ErrDuplicate)
	})

	t.Run("duplicate mobile via pgx", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").
			WillReturnError(&pgconn.PgError{Code: "23505"})

		assert.ErrorIs(t, s.CreateUser(ctx, u), store.ErrDuplicate)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AdjustBalance(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	t.Run("applied", func(t *testing.T) {
		mock.ExpectQuery("UPDATE users SET balance = balance \\+ \\$1, updated_at = \\$2 WHERE id = \\$3 AND balance \\+ \\$1 >= 0 RETURNING balance").
			WithArgs(int64(-15000), fixed, "u1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(5000)))

		bal, err := s.AdjustBalance(ctx, "u1", money.FromMajor(-150))
		require.NoError(t, err)
		assert.Equal(t, money.FromMajor(50), bal)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		mock.ExpectQuery("UPDATE users SET balance").
			WithArgs(int64(-15000), fixed, "u1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM users WHERE id = \\$1\\)").
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := s.AdjustBalance(ctx, "u1", money.FromMajor(-150))
		assert.ErrorIs(t, err, store.ErrInsufficientFunds)
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectQuery("UPDATE users SET balance").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := s.AdjustBalance(ctx, "ghost", money.FromMajor(10))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetUser(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, mobile, password_hash, balance, blocked, created_at, updated_at FROM users WHERE id = \\$1").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "mobile", "password_hash", "balance", "blocked", "created_at", "updated_at"}).
			AddRow("u1", "Asha", "9876543210", "h", int64(25050), true, fixed, fixed))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(25050), u.Balance)
	assert.True(t, u.Blocked)

	mock.ExpectQuery("SELECT .* FROM users WHERE id = \\$1").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err = s.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_TransitionRecord(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	msg := "done"

	t.Run("applied", func(t *testing.T) {
		mock.ExpectExec("UPDATE records SET status = \\$1, updated_at = \\$2, .* WHERE id = \\$7 AND status IN \\(\\$8, \\$9\\)").
			WithArgs("success", fixed, sql.NullString{}, sql.NullString{String: "done", Valid: true},
				sql.NullTime{}, sql.NullTime{}, "r1", "pending", "processing").
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := s.TransitionRecord(ctx, "r1",
			[]models.RecordStatus{models.StatusPending, models.StatusProcessing},
			store.RecordUpdate{Status: models.StatusSuccess, AdminMessage: &msg})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("already moved on", func(t *testing.T) {
		mock.ExpectExec("UPDATE records SET").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM records WHERE id = \\$1\\)").
			WithArgs("r1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		ok, err := s.TransitionRecord(ctx, "r1", []models.RecordStatus{models.StatusPending},
			store.RecordUpdate{Status: models.StatusFailed})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing", func(t *testing.T) {
		mock.ExpectExec("UPDATE records SET").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := s.TransitionRecord(ctx, "nope", []models.RecordStatus{models.StatusPending},
			store.RecordUpdate{Status: models.StatusFailed})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetRecordByToken(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	cols := []string{"id", "kind", "user_id", "user_name", "user_mobile", "service_id", "service_name", "price",
		"status", "token", "admin_message", "payload", "created_at", "updated_at", "last_checked_at", "completed_at"}
	mock.ExpectQuery("SELECT .* FROM records WHERE token = \\$1").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"r1", "exam", "u1", "Asha", "9876543210", "s1", "LLR Exam", int64(15000),
			"submitted", "tok-1", "", []byte(`{"exam":{"applno":"APP1","queue":"3"}}`), fixed, fixed, fixed, nil))

	r, err := s.GetRecordByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, models.KindExam, r.Kind)
	assert.Equal(t, money.FromMajor(150), r.Price)
	require.NotNil(t, r.Payload.Exam)
	assert.Equal(t, "APP1", r.Payload.Exam.ApplNo)
	require.NotNil(t, r.LastCheckedAt)
	assert.Nil(t, r.CompletedAt)

	_, err = s.GetRecordByToken(ctx, "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListEntries(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	since := fixed.Add(-24 * time.Hour)
	until := fixed.Add(-5 * time.Minute)

	mock.ExpectQuery("SELECT .* FROM ledger_entries WHERE type IN \\(\\$1\\) AND reference = \\$2 AND created_at >= \\$3 AND created_at < \\$4 ORDER BY seq DESC LIMIT \\$5").
		WithArgs("refund", "r1", since, until, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "type", "amount", "description", "reference", "balance_after", "created_at"}).
			AddRow("e1", "u1", "refund", int64(15000), "Refund", "r1", int64(30000), fixed))

	entries, err := s.ListEntries(ctx, store.EntryFilter{
		Types:     []models.EntryType{models.EntryRefund},
		Reference: "r1",
		Since:     since,
		Until:     until,
		Limit:     1,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntryRefund, entries[0].Type)
	assert.Equal(t, money.FromMajor(300), entries[0].BalanceAfter)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MarkPaymentSucceeded(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE payments SET status = \\$1, updated_at = \\$2 WHERE txn_id = \\$3 AND status <> \\$1").
		WithArgs("success", fixed, "TXN1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := s.MarkPaymentSucceeded(ctx, "TXN1")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("UPDATE payments SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM payments WHERE txn_id = \\$1\\)").
		WithArgs("TXN1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err = s.MarkPaymentSucceeded(ctx, "TXN1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteService(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	t.Run("removes overrides with the service", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM price_overrides WHERE service_id = \\$1").
			WithArgs("s1").
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec("DELETE FROM services WHERE id = \\$1").
			WithArgs("s1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, s.DeleteService(ctx, "s1"))
	})

	t.Run("unknown service rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM price_overrides").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM services").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		assert.ErrorIs(t, s.DeleteService(ctx, "ghost"), store.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateService(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	active := false
	price := money.FromMajor(99)

	mock.ExpectQuery("UPDATE services SET updated_at = \\$1, default_price = \\$2, active = \\$3 WHERE id = \\$4 RETURNING").
		WithArgs(fixed, int64(9900), false, "s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "default_price", "active", "fields", "created_at", "updated_at"}).
			AddRow("s1", "PAN", "desc", int64(9900), false, []byte(`[{"name":"aadhaar","required":true}]`), fixed, fixed))

	svc, err := s.UpdateService(ctx, "s1", store.ServiceUpdate{DefaultPrice: &price, Active: &active})
	require.NoError(t, err)
	assert.Equal(t, price, svc.DefaultPrice)
	require.Len(t, svc.Fields, 1)
	assert.True(t, svc.Fields[0].Required)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(nil))
	assert.False(t, isUniqueViolation(errors.New("boom")))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
}
