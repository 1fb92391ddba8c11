// Package payments creates wallet top-up orders and their UPI QR codes.
package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"net/url"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/apperr"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/store"
)

type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPaymentByTxn(ctx context.Context, txnID string) (*models.Payment, error)
	ListPayments(ctx context.Context, userID string, limit int) ([]models.Payment, error)
}

type PendingRecorder interface {
	RecordPending(ctx context.Context, userID string, amount money.Amount, description, ref string) error
}

type Config struct {
	MinimumAmount   money.Amount
	UPIID           string
	PayeeName       string
	PaymentLinkBase string
	QRTTL           time.Duration
}

// Order is what the client needs to pay: the stored payment, a QR image of
// the UPI link and the account it will credit.
type Order struct {
	Payment *models.Payment `json:"payment"`
	QRCode  string          `json:"qrCode"`
	User    *models.User    `json:"user"`
}

type Service struct {
	store  Store
	ledger PendingRecorder
	redis  *redis.Client
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewService accepts a nil redis client; QR images are then regenerated on
// every read.
func NewService(st Store, ledger PendingRecorder, rdb *redis.Client, cfg Config, logger *zap.Logger) *Service {
	if cfg.MinimumAmount <= 0 {
		cfg.MinimumAmount = money.FromMajor(200)
	}
	if cfg.UPIID == "" {
		cfg.UPIID = "payment@jkdigitalcenter.in"
	}
	if cfg.PayeeName == "" {
		cfg.PayeeName = "JK Digital Center"
	}
	if cfg.QRTTL <= 0 {
		cfg.QRTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		ledger: ledger,
		redis:  rdb,
		cfg:    cfg,
		logger: logger.Named("payments"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) CreateOrder(ctx context.Context, userID string, amount money.Amount) (*Order, error) {
	if amount < s.cfg.MinimumAmount {
		return nil, apperr.Newf(apperr.Validation, "Minimum amount is ₹%s", s.cfg.MinimumAmount.Decimal().String())
	}

	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "User not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load user", err)
	}
	if user.Blocked {
		return nil, apperr.New(apperr.Forbidden, "Your account has been blocked. Please contact administrator.")
	}

	txnID := newTxnID()
	now := s.now()
	p := &models.Payment{
		ID:          uuid.NewString(),
		TxnID:       txnID,
		UserID:      user.ID,
		Amount:      amount,
		Status:      models.PaymentPending,
		UPIID:       s.cfg.UPIID,
		UPILink:     s.upiLink(txnID, amount),
		PaymentLink: s.paymentLink(txnID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	qr, err := encodeQR(p.UPILink)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to generate QR code", err)
	}

	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to create payment order", err)
	}
	s.cacheQR(ctx, txnID, qr)

	desc := "Payment initiated - " + txnID
	if err := s.ledger.RecordPending(ctx, user.ID, amount, desc, txnID); err != nil {
		s.logger.Warn("pending entry not recorded", zap.String("txn_id", txnID), zap.Error(err))
	}

	s.logger.Info("payment order created",
		zap.String("txn_id", txnID),
		zap.String("user_id", user.ID),
		zap.Stringer("amount", amount),
	)
	return &Order{Payment: p, QRCode: qr, User: user}, nil
}

// QRCode returns the base64 PNG for a caller's own order, from cache when it
// is still there.
func (s *Service) QRCode(ctx context.Context, userID, txnID string) (string, error) {
	p, err := s.store.GetPaymentByTxn(ctx, txnID)
	if errors.Is(err, store.ErrNotFound) {
		return "", apperr.New(apperr.NotFound, "Payment not found")
	}
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to load payment", err)
	}
	if p.UserID != userID {
		return "", apperr.New(apperr.NotFound, "Payment not found")
	}

	if s.redis != nil {
		img, err := s.redis.Get(ctx, qrKey(txnID)).Result()
		if err == nil {
			return img, nil
		}
		if err != redis.Nil {
			s.logger.Warn("qr cache read failed", zap.String("txn_id", txnID), zap.Error(err))
		}
	}

	img, err := encodeQR(p.UPILink)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to generate QR code", err)
	}
	s.cacheQR(ctx, txnID, img)
	return img, nil
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]models.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	payments, err := s.store.ListPayments(ctx, userID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load payments", err)
	}
	return payments, nil
}

func (s *Service) cacheQR(ctx context.Context, txnID, img string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, qrKey(txnID), img, s.cfg.QRTTL).Err(); err != nil {
		s.logger.Warn("qr cache write failed", zap.String("txn_id", txnID), zap.Error(err))
	}
}

func (s *Service) upiLink(txnID string, amount money.Amount) string {
	q := url.Values{}
	q.Set("pa", s.cfg.UPIID)
	q.Set("pn", s.cfg.PayeeName)
	q.Set("am", amount.String())
	q.Set("cu", "INR")
	q.Set("tr", txnID)
	return "upi://pay?" + q.Encode()
}

func (s *Service) paymentLink(txnID string) string {
	if s.cfg.PaymentLinkBase == "" {
		return ""
	}
	return s.cfg.PaymentLinkBase + "?token=" + url.QueryEscape(txnID)
}

func qrKey(txnID string) string {
	return fmt.Sprintf("payment_qr:%s", txnID)
}

func newTxnID() string {
	return "TXN" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
}

func encodeQR(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
