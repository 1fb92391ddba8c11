// Package admin holds the operations behind the administrator console.
package admin

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/apperr"
	"github.com/servicehub/backend/internal/audit"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/store"
)

type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	SetUserBlocked(ctx context.Context, id string, blocked bool) error
	CreateService(ctx context.Context, s *models.Service) error
	GetService(ctx context.Context, id string) (*models.Service, error)
	ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error)
	UpdateService(ctx context.Context, id string, upd store.ServiceUpdate) (*models.Service, error)
	DeleteService(ctx context.Context, id string) error
	UpsertPriceOverride(ctx context.Context, o models.PriceOverride) error
}

type Wallet interface {
	SetBalance(ctx context.Context, userID string, target money.Amount, description string) (money.Amount, error)
}

type PasswordHasher interface {
	HashPassword(password string) (string, error)
}

type Pricer interface {
	ResolveAll(ctx context.Context, userID string, services []models.Service) ([]models.PricedService, error)
}

type CreateUserInput struct {
	Name     string
	Mobile   string
	Password string
}

type CreateServiceInput struct {
	Name         string
	Description  string
	DefaultPrice money.Amount
	Fields       []models.FieldSpec
}

// ServicePrice is one row of a user's price sheet.
type ServicePrice struct {
	ServiceID   string       `json:"serviceId"`
	ServiceName string       `json:"serviceName"`
	Price       money.Amount `json:"price" swaggertype:"number"`
	HasOverride bool         `json:"hasCustomPrice"`
}

type Service struct {
	store  Store
	wallet Wallet
	hasher PasswordHasher
	pricer Pricer
	audit  *audit.Logger
	logger *zap.Logger
	now    func() time.Time
}

func NewService(st Store, wallet Wallet, hasher PasswordHasher, pricer Pricer, auditor *audit.Logger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditor == nil {
		auditor = audit.NewLogger(logger)
	}
	return &Service{
		store:  st,
		wallet: wallet,
		hasher: hasher,
		pricer: pricer,
		audit:  auditor,
		logger: logger.Named("admin"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*models.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Mobile = strings.TrimSpace(in.Mobile)
	if in.Name == "" || in.Mobile == "" || in.Password == "" {
		return nil, apperr.New(apperr.Validation, "Name, mobile number, and password are required")
	}
	if !validMobile(in.Mobile) {
		return nil, apperr.New(apperr.Validation, "Mobile number must be exactly 10 digits")
	}

	hash, err := s.hasher.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to hash password", err)
	}

	now := s.now()
	u := &models.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Mobile:       in.Mobile,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.New(apperr.Validation, "User with this mobile number already exists")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to create user", err)
	}

	s.logger.Info("user created", zap.String("user_id", u.ID))
	return u, nil
}

func (s *Service) SetUserBlocked(ctx context.Context, userID string, blocked bool) error {
	if err := s.store.SetUserBlocked(ctx, userID, blocked); err != nil {
		return notFoundOr(err, "User not found")
	}
	s.audit.LogOperation(userID, userID, "USER_BLOCK_CHANGED", map[string]string{
		"blocked": strconv.FormatBool(blocked),
	})
	return nil
}

// SetServicePrice upserts the user's price for a service. Zero is a valid
// override and means the service cannot be bought by that user.
func (s *Service) SetServicePrice(ctx context.Context, userID, serviceID string, price money.Amount) error {
	if price < 0 {
		return apperr.New(apperr.Validation, "Price cannot be negative")
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return notFoundOr(err, "User not found")
	}
	if _, err := s.store.GetService(ctx, serviceID); err != nil {
		return notFoundOr(err, "Service not found")
	}

	err := s.store.UpsertPriceOverride(ctx, models.PriceOverride{
		UserID:    userID,
		ServiceID: serviceID,
		Price:     price,
		UpdatedAt: s.now(),
	})
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to set service price", err)
	}
	s.audit.LogOperation(serviceID, userID, "PRICE_OVERRIDE_SET", map[string]string{
		"service_id": serviceID,
		"price":      price.String(),
	})
	return nil
}

// AdjustWallet brings the balance to target through the ledger.
func (s *Service) AdjustWallet(ctx context.Context, userID string, target money.Amount) (money.Amount, error) {
	bal, err := s.wallet.SetBalance(ctx, userID, target, "Wallet balance set by admin to ₹"+target.String())
	if err != nil {
		return 0, err
	}
	s.logger.Info("wallet adjusted by admin", zap.String("user_id", userID), zap.Stringer("balance", bal))
	return bal, nil
}

func (s *Service) CreateService(ctx context.Context, in CreateServiceInput) (*models.Service, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" || in.Description == "" {
		return nil, apperr.New(apperr.Validation, "Name and description are required")
	}
	if in.DefaultPrice < 0 {
		return nil, apperr.New(apperr.Validation, "Default price cannot be negative")
	}
	if in.Fields == nil {
		in.Fields = []models.FieldSpec{}
	}

	now := s.now()
	svc := &models.Service{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Description:  in.Description,
		DefaultPrice: in.DefaultPrice,
		Active:       true,
		Fields:       in.Fields,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateService(ctx, svc); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to create service", err)
	}
	s.logger.Info("service created", zap.String("service_id", svc.ID), zap.String("name", svc.Name))
	return svc, nil
}

func (s *Service) ListServices(ctx context.Context) ([]models.Service, error) {
	services, err := s.store.ListServices(ctx, false)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load services", err)
	}
	return services, nil
}

func (s *Service) UpdateService(ctx context.Context, serviceID string, upd store.ServiceUpdate) (*models.Service, error) {
	if upd.DefaultPrice != nil && *upd.DefaultPrice < 0 {
		return nil, apperr.New(apperr.Validation, "Default price cannot be negative")
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, apperr.New(apperr.Validation, "Name cannot be empty")
	}
	svc, err := s.store.UpdateService(ctx, serviceID, upd)
	if err != nil {
		return nil, notFoundOr(err, "Service not found")
	}
	return svc, nil
}

func (s *Service) ToggleService(ctx context.Context, serviceID string, active bool) (*models.Service, error) {
	return s.UpdateService(ctx, serviceID, store.ServiceUpdate{Active: &active})
}

func (s *Service) UpdateServicePrice(ctx context.Context, serviceID string, price money.Amount) (*models.Service, error) {
	return s.UpdateService(ctx, serviceID, store.ServiceUpdate{DefaultPrice: &price})
}

// DeleteService drops the service and its overrides. Records already
// written keep their own copy of the name and price.
func (s *Service) DeleteService(ctx context.Context, serviceID string) error {
	if err := s.store.DeleteService(ctx, serviceID); err != nil {
		return notFoundOr(err, "Service not found")
	}
	s.logger.Info("service deleted", zap.String("service_id", serviceID))
	return nil
}

func (s *Service) UserServicePrices(ctx context.Context, userID string) ([]ServicePrice, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, notFoundOr(err, "User not found")
	}
	services, err := s.store.ListServices(ctx, false)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load services", err)
	}
	priced, err := s.pricer.ResolveAll(ctx, userID, services)
	if err != nil {
		return nil, err
	}

	out := make([]ServicePrice, 0, len(priced))
	for _, p := range priced {
		out = append(out, ServicePrice{
			ServiceID:   p.ID,
			ServiceName: p.Name,
			Price:       p.Price,
			HasOverride: p.HasOverride,
		})
	}
	return out, nil
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.NotFound, msg)
	}
	return apperr.Wrap(apperr.Internal, "store operation failed", err)
}

func validMobile(m string) bool {
	if len(m) != 10 {
		return false
	}
	for _, c := range m {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
