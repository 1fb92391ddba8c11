package handlers

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/servicehub/backend/internal/account"
	"github.com/servicehub/backend/internal/admin"
	"github.com/servicehub/backend/internal/apperr"
	"github.com/servicehub/backend/internal/auth"
	"github.com/servicehub/backend/internal/fulfillment"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/payments"
	"github.com/servicehub/backend/internal/provider"
	"github.com/servicehub/backend/internal/reconcile"
	"github.com/servicehub/backend/internal/store"
)

type stubAuthenticator map[string]*auth.Claims

func (s stubAuthenticator) Authenticate(_ context.Context, token string) (*auth.Claims, error) {
	if c, ok := s[token]; ok {
		return c, nil
	}
	return nil, apperr.New(apperr.Unauthorized, "Invalid token")
}

type MockSessions struct {
	mock.Mock
}

func (m *MockSessions) LoginUser(ctx context.Context, mobile, password string) (*auth.Session, error) {
	args := m.Called(ctx, mobile, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Session), args.Error(1)
}

func (m *MockSessions) LoginAdmin(ctx context.Context, username, password string) (*auth.Session, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Session), args.Error(1)
}

func (m *MockSessions) Logout(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockSessions) Refresh(claims *auth.Claims) (*auth.Session, error) {
	args := m.Called(claims)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Session), args.Error(1)
}

type MockAccounts struct {
	mock.Mock
}

func (m *MockAccounts) Profile(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockAccounts) Services(ctx context.Context, userID string) ([]models.PricedService, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PricedService), args.Error(1)
}

func (m *MockAccounts) History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LedgerEntry), args.Error(1)
}

func (m *MockAccounts) Records(ctx context.Context, userID string, kind models.RecordKind, limit int) ([]models.Record, error) {
	args := m.Called(ctx, userID, kind, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Record), args.Error(1)
}

func (m *MockAccounts) Download(ctx context.Context, userID, recordID string) (*account.Document, error) {
	args := m.Called(ctx, userID, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.Document), args.Error(1)
}

func (m *MockAccounts) DownloadByToken(ctx context.Context, userID, token string) (*account.Document, error) {
	args := m.Called(ctx, userID, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.Document), args.Error(1)
}

type MockFulfiller struct {
	mock.Mock
}

func (m *MockFulfiller) SubmitServiceRequest(ctx context.Context, userID, serviceID string, fields models.FieldData) (*fulfillment.Receipt, error) {
	args := m.Called(ctx, userID, serviceID, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.Receipt), args.Error(1)
}

func (m *MockFulfiller) SubmitExam(ctx context.Context, userID, serviceID string, req provider.ExamRequest) (*fulfillment.Receipt, error) {
	args := m.Called(ctx, userID, serviceID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.Receipt), args.Error(1)
}

func (m *MockFulfiller) GenerateLicensePDF(ctx context.Context, userID, serviceID string, req provider.LicenseRequest) (*fulfillment.Receipt, error) {
	args := m.Called(ctx, userID, serviceID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.Receipt), args.Error(1)
}

// MockReconciler serves exam checks, payment callbacks and request
// resolution.
type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) CheckExamStatus(ctx context.Context, userID, token string) (*reconcile.ExamCheckResult, error) {
	args := m.Called(ctx, userID, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconcile.ExamCheckResult), args.Error(1)
}

func (m *MockReconciler) HandlePaymentCallback(ctx context.Context, txnID string) (*reconcile.CallbackResult, error) {
	args := m.Called(ctx, txnID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconcile.CallbackResult), args.Error(1)
}

func (m *MockReconciler) ResolveServiceRequest(ctx context.Context, requestID string, status models.RecordStatus, adminMessage string) (*models.Record, error) {
	args := m.Called(ctx, requestID, status, adminMessage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Record), args.Error(1)
}

type MockPayments struct {
	mock.Mock
}

func (m *MockPayments) CreateOrder(ctx context.Context, userID string, amount money.Amount) (*payments.Order, error) {
	args := m.Called(ctx, userID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Order), args.Error(1)
}

func (m *MockPayments) QRCode(ctx context.Context, userID, txnID string) (string, error) {
	args := m.Called(ctx, userID, txnID)
	return args.String(0), args.Error(1)
}

func (m *MockPayments) History(ctx context.Context, userID string, limit int) ([]models.Payment, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Payment), args.Error(1)
}

type MockAdmin struct {
	mock.Mock
}

func (m *MockAdmin) CreateUser(ctx context.Context, in admin.CreateUserInput) (*models.User, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockAdmin) SetUserBlocked(ctx context.Context, userID string, blocked bool) error {
	return m.Called(ctx, userID, blocked).Error(0)
}

func (m *MockAdmin) SetServicePrice(ctx context.Context, userID, serviceID string, price money.Amount) error {
	return m.Called(ctx, userID, serviceID, price).Error(0)
}

func (m *MockAdmin) AdjustWallet(ctx context.Context, userID string, target money.Amount) (money.Amount, error) {
	args := m.Called(ctx, userID, target)
	return args.Get(0).(money.Amount), args.Error(1)
}

func (m *MockAdmin) CreateService(ctx context.Context, in admin.CreateServiceInput) (*models.Service, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Service), args.Error(1)
}

func (m *MockAdmin) ListServices(ctx context.Context) ([]models.Service, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Service), args.Error(1)
}

func (m *MockAdmin) UpdateService(ctx context.Context, serviceID string, upd store.ServiceUpdate) (*models.Service, error) {
	args := m.Called(ctx, serviceID, upd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Service), args.Error(1)
}

func (m *MockAdmin) ToggleService(ctx context.Context, serviceID string, active bool) (*models.Service, error) {
	args := m.Called(ctx, serviceID, active)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Service), args.Error(1)
}

func (m *MockAdmin) DeleteService(ctx context.Context, serviceID string) error {
	return m.Called(ctx, serviceID).Error(0)
}

func (m *MockAdmin) UserServicePrices(ctx context.Context, userID string) ([]admin.ServicePrice, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]admin.ServicePrice), args.Error(1)
}

type stubHub struct {
	userID string
}

func (h *stubHub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	h.userID = userID
	w.WriteHeader(http.StatusNoContent)
}
