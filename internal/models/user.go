package models

import (
	"time"

	"github.com/servicehub/backend/internal/money"
)

// User is a wallet holder. Balance changes only through the ledger.
type User struct {
	ID           string       `json:"id" bson:"_id" db:"id" example:"5f0c7a52-8f9d-4c3b-9a57-0e0b1c3f7d11"`
	Name         string       `json:"name" bson:"name" db:"name" example:"Ravi Kumar"`
	Mobile       string       `json:"mobile" bson:"mobile" db:"mobile" example:"9876543210"`
	PasswordHash string       `json:"-" bson:"passwordHash" db:"password_hash"`
	Balance      money.Amount `json:"walletBalance" bson:"balance" db:"balance" swaggertype:"number" example:"500.00"`
	Blocked      bool         `json:"isBlocked" bson:"blocked" db:"blocked"`
	CreatedAt    time.Time    `json:"createdAt" bson:"createdAt" db:"created_at"`
	UpdatedAt    time.Time    `json:"updatedAt" bson:"updatedAt" db:"updated_at"`
}

type Admin struct {
	ID           string    `json:"id" bson:"_id" db:"id"`
	Username     string    `json:"username" bson:"username" db:"username"`
	PasswordHash string    `json:"-" bson:"passwordHash" db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt" db:"created_at"`
}
