package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/store"
)

// newTestStore connects to MONGO_URI and gives every test its own database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx, nil))

	name := fmt.Sprintf("servicehub_test_%d", time.Now().UnixNano())
	s := New(client, name)
	require.NoError(t, s.Migrate(ctx))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = client.Database(name).Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return s
}

func seedUser(t *testing.T, s *Store, id, mobile string, balance money.Amount) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.CreateUser(context.Background(), &models.User{
		ID: id, Name: "Test", Mobile: mobile, PasswordHash: "x",
		Balance: balance, CreatedAt: now, UpdatedAt: now,
	}))
}

func TestStore_Users(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "9876543210", money.FromMajor(100))

	err := s.CreateUser(ctx, &models.User{ID: "u2", Mobile: "9876543210"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	u, err := s.GetUserByMobile(ctx, "9876543210")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	require.NoError(t, s.SetUserBlocked(ctx, "u1", true))
	u, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Blocked)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.SetUserBlocked(ctx, "missing", true), store.ErrNotFound)
}

func TestStore_AdjustBalance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "9876543210", money.FromMajor(100))

	bal, err := s.AdjustBalance(ctx, "u1", -money.FromMajor(40))
	require.NoError(t, err)
	assert.Equal(t, money.FromMajor(60), bal)

	_, err = s.AdjustBalance(ctx, "u1", -money.FromMajor(61))
	assert.ErrorIs(t, err, store.ErrInsufficientFunds)

	bal, err = s.AdjustBalance(ctx, "u1", money.FromMajor(15))
	require.NoError(t, err)
	assert.Equal(t, money.FromMajor(75), bal)

	_, err = s.AdjustBalance(ctx, "missing", money.FromMajor(1))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ServicesAndOverrides(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	svc := &models.Service{ID: "s1", Name: "PAN", DefaultPrice: money.FromMajor(50), Active: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateService(ctx, svc))
	require.NoError(t, s.CreateService(ctx, &models.Service{ID: "s2", Name: "Old", CreatedAt: now, UpdatedAt: now}))

	active, err := s.ListServices(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "s1", active[0].ID)

	price := money.FromMajor(70)
	updated, err := s.UpdateService(ctx, "s1", store.ServiceUpdate{DefaultPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, price, updated.DefaultPrice)
	assert.Equal(t, "PAN", updated.Name)

	require.NoError(t, s.UpsertPriceOverride(ctx, models.PriceOverride{UserID: "u1", ServiceID: "s1", Price: money.FromMajor(30)}))
	require.NoError(t, s.UpsertPriceOverride(ctx, models.PriceOverride{UserID: "u1", ServiceID: "s1", Price: money.FromMajor(35)}))
	o, err := s.GetPriceOverride(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, money.FromMajor(35), o.Price)

	require.NoError(t, s.DeleteService(ctx, "s1"))
	_, err = s.GetPriceOverride(ctx, "u1", "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteService(ctx, "s1"), store.ErrNotFound)
}

func TestStore_TransitionRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := &models.Record{
		ID: "r1", Kind: models.KindExam, UserID: "u1", Price: money.FromMajor(10),
		Status: models.StatusSubmitted, Token: "tok-1", CreatedAt: now, UpdatedAt: now,
		Payload: models.Payload{Exam: &models.ExamPayload{ApplNo: "A1", DOB: "01-01-2000"}},
	}
	require.NoError(t, s.CreateRecord(ctx, rec))

	ok, err := s.TransitionRecord(ctx, "r1", []models.RecordStatus{models.StatusSubmitted}, store.RecordUpdate{Status: models.StatusCompleted})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionRecord(ctx, "r1", []models.RecordStatus{models.StatusSubmitted}, store.RecordUpdate{Status: models.StatusRefunded})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.TransitionRecord(ctx, "missing", []models.RecordStatus{models.StatusSubmitted}, store.RecordUpdate{Status: models.StatusFailed})
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.GetRecordByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.Payload.Exam)
	assert.Equal(t, "A1", got.Payload.Exam.ApplNo)

	// Records without a token must not collide on the sparse unique index.
	require.NoError(t, s.CreateRecord(ctx, &models.Record{ID: "r2", UserID: "u1", Status: models.StatusSuccess, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.CreateRecord(ctx, &models.Record{ID: "r3", UserID: "u1", Status: models.StatusSuccess, CreatedAt: now, UpdatedAt: now}))
}

func TestStore_ListEntriesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Millisecond)

	for i, id := range []string{"01A", "01B", "01C"} {
		require.NoError(t, s.AppendEntry(ctx, &models.LedgerEntry{
			ID: id, UserID: "u1", Type: models.EntryDebit, Amount: money.FromMajor(int64(i + 1)), CreatedAt: at,
		}))
	}

	entries, err := s.ListEntries(ctx, store.EntryFilter{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "01C", entries[0].ID)
	assert.Equal(t, "01B", entries[1].ID)
}

func TestStore_MarkPaymentSucceeded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreatePayment(ctx, &models.Payment{ID: "p1", TxnID: "TXN1", UserID: "u1", Status: models.PaymentPending, CreatedAt: now, UpdatedAt: now}))
	assert.ErrorIs(t, s.CreatePayment(ctx, &models.Payment{ID: "p2", TxnID: "TXN1"}), store.ErrDuplicate)

	ok, err := s.MarkPaymentSucceeded(ctx, "TXN1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkPaymentSucceeded(ctx, "TXN1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.MarkPaymentSucceeded(ctx, "TXN404")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordFilter(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := recordFilter(store.RecordFilter{
		UserID:   "u1",
		Statuses: []models.RecordStatus{models.StatusSubmitted},
		Since:    since,
	})
	assert.Equal(t, "u1", f["userId"])
	assert.Equal(t, bson.M{"$in": []models.RecordStatus{models.StatusSubmitted}}, f["status"])
	assert.Equal(t, bson.M{"$gte": since}, f["updatedAt"])
	assert.NotContains(t, f, "kind")
}
