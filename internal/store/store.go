// Package store declares the persistence contracts shared by the memory,
// Postgres and Mongo backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrDuplicate         = errors.New("store: duplicate key")
	ErrInsufficientFunds = errors.New("store: insufficient funds")
)

type Users interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByMobile(ctx context.Context, mobile string) (*models.User, error)
	SetUserBlocked(ctx context.Context, id string, blocked bool) error
	// AdjustBalance adds delta to the balance in one conditional write. A
	// negative delta fails with ErrInsufficientFunds when the balance would
	// drop below zero at apply time.
	AdjustBalance(ctx context.Context, id string, delta money.Amount) (money.Amount, error)
}

type ServiceUpdate struct {
	Name         *string
	Description  *string
	DefaultPrice *money.Amount
	Active       *bool
	Fields       []models.FieldSpec
}

type Services interface {
	CreateService(ctx context.Context, s *models.Service) error
	GetService(ctx context.Context, id string) (*models.Service, error)
	ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error)
	UpdateService(ctx context.Context, id string, upd ServiceUpdate) (*models.Service, error)
	// DeleteService removes the service and every price override for it.
	DeleteService(ctx context.Context, id string) error
}

type Prices interface {
	UpsertPriceOverride(ctx context.Context, o models.PriceOverride) error
	GetPriceOverride(ctx context.Context, userID, serviceID string) (*models.PriceOverride, error)
	ListPriceOverrides(ctx context.Context, userID string) ([]models.PriceOverride, error)
}

type RecordFilter struct {
	UserID   string
	Kind     models.RecordKind
	Statuses []models.RecordStatus
	Since    time.Time
	Limit    int
}

// RecordUpdate is applied by TransitionRecord. Nil fields are left alone.
type RecordUpdate struct {
	Status        models.RecordStatus
	Payload       *models.Payload
	AdminMessage  *string
	LastCheckedAt *time.Time
	CompletedAt   *time.Time
}

type Records interface {
	CreateRecord(ctx context.Context, r *models.Record) error
	GetRecord(ctx context.Context, id string) (*models.Record, error)
	GetRecordByToken(ctx context.Context, token string) (*models.Record, error)
	// ListRecords returns newest first.
	ListRecords(ctx context.Context, f RecordFilter) ([]models.Record, error)
	// TransitionRecord applies upd only while the stored status is one of
	// from, and reports whether it did.
	TransitionRecord(ctx context.Context, id string, from []models.RecordStatus, upd RecordUpdate) (bool, error)
	// TouchRecord stamps the last provider check without changing status.
	TouchRecord(ctx context.Context, id string, at time.Time) error
}

type EntryFilter struct {
	UserID    string
	Types     []models.EntryType
	Reference string
	Since     time.Time
	Until     time.Time
	Limit     int
}

type Ledger interface {
	AppendEntry(ctx context.Context, e *models.LedgerEntry) error
	// ListEntries returns newest first.
	ListEntries(ctx context.Context, f EntryFilter) ([]models.LedgerEntry, error)
}

type Payments interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPaymentByTxn(ctx context.Context, txnID string) (*models.Payment, error)
	ListPayments(ctx context.Context, userID string, limit int) ([]models.Payment, error)
	// MarkPaymentSucceeded flips a payment to success unless it already is,
	// and reports whether this call did it.
	MarkPaymentSucceeded(ctx context.Context, txnID string) (bool, error)
}

type Admins interface {
	CreateAdmin(ctx context.Context, a *models.Admin) error
	GetAdminByUsername(ctx context.Context, username string) (*models.Admin, error)
}

type Store interface {
	Users
	Services
	Prices
	Records
	Ledger
	Payments
	Admins
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

func StatusIn(s models.RecordStatus, set []models.RecordStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func TypeIn(t models.EntryType, set []models.EntryType) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == t {
			return true
		}
	}
	return false
}
