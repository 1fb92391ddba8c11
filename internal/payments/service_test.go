package payments

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/apperr"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/store/memory"
)

type pendingCall struct {
	userID string
	amount money.Amount
	desc   string
	ref    string
}

type fakeLedger struct {
	calls []pendingCall
	err   error
}

func (f *fakeLedger) RecordPending(ctx context.Context, userID string, amount money.Amount, description, ref string) error {
	f.calls = append(f.calls, pendingCall{userID, amount, description, ref})
	return f.err
}

func newTestService(t *testing.T) (*Service, *memory.Store, *fakeLedger, redismock.ClientMock) {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.CreateUser(context.Background(), &models.User{ID: "u1", Name: "Asha", Mobile: "9876543210"}))
	require.NoError(t, st.CreateUser(context.Background(), &models.User{ID: "u2", Name: "Ravi", Mobile: "9876543211", Blocked: true}))

	rdb, mock := redismock.NewClientMock()
	lg := &fakeLedger{}
	svc := NewService(st, lg, rdb, Config{
		MinimumAmount:   money.FromMajor(200),
		UPIID:           "pay@example",
		PayeeName:       "Service Hub",
		PaymentLinkBase: "https://pay.example/payment",
		QRTTL:           10 * time.Minute,
	}, zap.NewNop())
	return svc, st, lg, mock
}

func TestService_CreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending order", func(t *testing.T) {
		svc, st, lg, mock := newTestService(t)
		mock.Regexp().ExpectSet(`payment_qr:TXN[0-9A-F]{16}`, `.+`, 10*time.Minute).SetVal("OK")

		order, err := svc.CreateOrder(ctx, "u1", money.FromMajor(500))
		require.NoError(t, err)

		p := order.Payment
		assert.Regexp(t, `^TXN[0-9A-F]{16}$`, p.TxnID)
		assert.Equal(t, models.PaymentPending, p.Status)
		assert.Equal(t, money.FromMajor(500), p.Amount)
		assert.Contains(t, p.UPILink, "upi://pay?")
		assert.Contains(t, p.UPILink, "am=500.00")
		assert.Contains(t, p.UPILink, "pa=pay%40example")
		assert.Equal(t, "https://pay.example/payment?token="+p.TxnID, p.PaymentLink)
		assert.Equal(t, "u1", order.User.ID)

		png, err := base64.StdEncoding.DecodeString(order.QRCode)
		require.NoError(t, err)
		assert.Equal(t, "\x89PNG", string(png[:4]))

		stored, err := st.GetPaymentByTxn(ctx, p.TxnID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPending, stored.Status)

		require.Len(t, lg.calls, 1)
		assert.Equal(t, "Payment initiated - "+p.TxnID, lg.calls[0].desc)
		assert.Equal(t, p.TxnID, lg.calls[0].ref)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("below minimum", func(t *testing.T) {
		svc, _, lg, _ := newTestService(t)

		_, err := svc.CreateOrder(ctx, "u1", money.FromMajor(199))
		assert.True(t, apperr.Is(err, apperr.Validation))
		assert.Equal(t, "Minimum amount is ₹200", apperr.MessageOf(err))
		assert.Empty(t, lg.calls)
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.CreateOrder(ctx, "nobody", money.FromMajor(300))
		assert.True(t, apperr.Is(err, apperr.NotFound))
	})

	t.Run("blocked user", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.CreateOrder(ctx, "u2", money.FromMajor(300))
		assert.True(t, apperr.Is(err, apperr.Forbidden))
	})

	t.Run("pending entry failure does not fail the order", func(t *testing.T) {
		svc, _, lg, mock := newTestService(t)
		lg.err = errors.New("write failed")
		mock.Regexp().ExpectSet(`payment_qr:.*`, `.+`, 10*time.Minute).SetVal("OK")

		order, err := svc.CreateOrder(ctx, "u1", money.FromMajor(200))
		require.NoError(t, err)
		assert.NotEmpty(t, order.Payment.TxnID)
	})
}

func TestService_QRCode(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, st *memory.Store) {
		require.NoError(t, st.CreatePayment(ctx, &models.Payment{
			ID: "p1", TxnID: "TXN0000000000000001", UserID: "u1",
			Amount: money.FromMajor(250), Status: models.PaymentPending,
			UPILink: "upi://pay?am=250.00&pa=pay%40example",
		}))
	}

	t.Run("served from cache", func(t *testing.T) {
		svc, st, _, mock := newTestService(t)
		seed(t, st)
		mock.ExpectGet("payment_qr:TXN0000000000000001").SetVal("cached-image")

		img, err := svc.QRCode(ctx, "u1", "TXN0000000000000001")
		require.NoError(t, err)
		assert.Equal(t, "cached-image", img)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("regenerated on miss", func(t *testing.T) {
		svc, st, _, mock := newTestService(t)
		seed(t, st)
		mock.ExpectGet("payment_qr:TXN0000000000000001").RedisNil()
		mock.Regexp().ExpectSet(`payment_qr:TXN0000000000000001`, `.+`, 10*time.Minute).SetVal("OK")

		img, err := svc.QRCode(ctx, "u1", "TXN0000000000000001")
		require.NoError(t, err)
		assert.NotEmpty(t, img)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other user's order", func(t *testing.T) {
		svc, st, _, _ := newTestService(t)
		seed(t, st)

		_, err := svc.QRCode(ctx, "u2", "TXN0000000000000001")
		assert.True(t, apperr.Is(err, apperr.NotFound))
	})
}

func TestService_History(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService(t)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, txn := range []string{"TXNA", "TXNB", "TXNC"} {
		require.NoError(t, st.CreatePayment(ctx, &models.Payment{
			ID: txn, TxnID: txn, UserID: "u1", Amount: money.FromMajor(200),
			Status: models.PaymentPending, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	payments, err := svc.History(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, payments, 3)
	assert.Equal(t, "TXNC", payments[0].TxnID)
}
