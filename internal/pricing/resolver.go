package pricing

import (
	"context"
	"errors"

	"github.com/servicehub/backend/internal/apperr"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/store"
)

type OverrideStore interface {
	GetPriceOverride(ctx context.Context, userID, serviceID string) (*models.PriceOverride, error)
	ListPriceOverrides(ctx context.Context, userID string) ([]models.PriceOverride, error)
}

// Resolver picks the price a user pays for a service. An override always
// wins over the default, even when it is zero.
type Resolver struct {
	store OverrideStore
}

func NewResolver(st OverrideStore) *Resolver {
	return &Resolver{store: st}
}

func (r *Resolver) Resolve(ctx context.Context, userID string, svc *models.Service) (money.Amount, error) {
	price := svc.DefaultPrice

	o, err := r.store.GetPriceOverride(ctx, userID, svc.ID)
	switch {
	case err == nil:
		price = o.Price
	case errors.Is(err, store.ErrNotFound):
	default:
		return 0, apperr.Wrap(apperr.Internal, "Failed to load service price", err)
	}

	if price <= 0 {
		return 0, apperr.New(apperr.PriceNotConfigured, "Service price not set for your account. Please contact administrator.")
	}
	return price, nil
}

// ResolveAll prices every service for one user with a single override read.
// Services whose price is not configured are reported with price zero.
func (r *Resolver) ResolveAll(ctx context.Context, userID string, services []models.Service) ([]models.PricedService, error) {
	overrides, err := r.store.ListPriceOverrides(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to load service prices", err)
	}
	byService := make(map[string]money.Amount, len(overrides))
	for _, o := range overrides {
		byService[o.ServiceID] = o.Price
	}

	out := make([]models.PricedService, 0, len(services))
	for _, svc := range services {
		ps := models.PricedService{Service: svc, Price: svc.DefaultPrice}
		if p, ok := byService[svc.ID]; ok {
			ps.Price = p
			ps.HasOverride = true
		}
		if ps.Price < 0 {
			ps.Price = 0
		}
		out = append(out, ps)
	}
	return out, nil
}
