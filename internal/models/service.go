package models

import (
	"strings"
	"time"

	"github.com/servicehub/backend/internal/money"
)

// FieldSpec describes one input a service asks the user for.
type FieldSpec struct {
	Name        string   `json:"name" bson:"name"`
	Label       string   `json:"label,omitempty" bson:"label,omitempty"`
	Type        string   `json:"type,omitempty" bson:"type,omitempty"`
	Required    bool     `json:"required,omitempty" bson:"required,omitempty"`
	Placeholder string   `json:"placeholder,omitempty" bson:"placeholder,omitempty"`
	Options     []string `json:"options,omitempty" bson:"options,omitempty"`
}

type Service struct {
	ID           string       `json:"id" bson:"_id" db:"id"`
	Name         string       `json:"name" bson:"name" db:"name" example:"Driving Licence PDF"`
	Description  string       `json:"description" bson:"description" db:"description"`
	DefaultPrice money.Amount `json:"defaultPrice" bson:"defaultPrice" db:"default_price" swaggertype:"number" example:"300"`
	Active       bool         `json:"isActive" bson:"active" db:"active"`
	Fields       []FieldSpec  `json:"fields" bson:"fields" db:"fields"`
	CreatedAt    time.Time    `json:"createdAt" bson:"createdAt" db:"created_at"`
	UpdatedAt    time.Time    `json:"updatedAt" bson:"updatedAt" db:"updated_at"`
}

// MissingFields lists required fields that data leaves absent or blank, in
// schema order.
func (s *Service) MissingFields(data FieldData) []string {
	var missing []string
	for _, f := range s.Fields {
		if !f.Required {
			continue
		}
		v, ok := data.Get(f.Name)
		if !ok || v == nil {
			missing = append(missing, f.Name)
			continue
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// PriceOverride is a per-user price for one service.
type PriceOverride struct {
	UserID    string       `json:"userId" bson:"userId" db:"user_id"`
	ServiceID string       `json:"serviceId" bson:"serviceId" db:"service_id"`
	Price     money.Amount `json:"price" bson:"price" db:"price" swaggertype:"number"`
	UpdatedAt time.Time    `json:"updatedAt" bson:"updatedAt" db:"updated_at"`
}

// PricedService is a service as seen by one user.
type PricedService struct {
	Service
	Price       money.Amount `json:"price" swaggertype:"number"`
	HasOverride bool         `json:"hasCustomPrice"`
}
