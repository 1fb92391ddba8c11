package models

import (
	"time"

	"github.com/servicehub/backend/internal/money"
)

type EntryType string

const (
	EntryDebit         EntryType = "debit"
	EntryCredit        EntryType = "credit"
	EntryRefund        EntryType = "refund"
	EntryPendingCredit EntryType = "pending_credit"
)

// LedgerEntry is an append-only record of one balance event. Amount is always
// a positive magnitude; Signed gives its effect on the balance.
type LedgerEntry struct {
	ID           string       `json:"id" bson:"_id" db:"id"`
	UserID       string       `json:"userId" bson:"userId" db:"user_id"`
	Type         EntryType    `json:"type" bson:"type" db:"type"`
	Amount       money.Amount `json:"amount" bson:"amount" db:"amount" swaggertype:"number"`
	Description  string       `json:"description" bson:"description" db:"description"`
	Reference    string       `json:"reference,omitempty" bson:"reference,omitempty" db:"reference"`
	BalanceAfter money.Amount `json:"balanceAfter" bson:"balanceAfter" db:"balance_after" swaggertype:"number"`
	CreatedAt    time.Time    `json:"createdAt" bson:"createdAt" db:"created_at"`
}

func (e LedgerEntry) Signed() money.Amount {
	switch e.Type {
	case EntryDebit:
		return -e.Amount
	case EntryCredit, EntryRefund:
		return e.Amount
	default:
		return 0
	}
}
