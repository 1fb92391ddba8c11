package models

import (
	"time"

	"github.com/servicehub/backend/internal/money"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
)

// Payment is a wallet top-up order placed with the payment gateway.
type Payment struct {
	ID          string        `json:"id" bson:"_id" db:"id"`
	TxnID       string        `json:"txnId" bson:"txnId" db:"txn_id" example:"TXN3F9A0C12B7D44E10"`
	UserID      string        `json:"userId" bson:"userId" db:"user_id"`
	Amount      money.Amount  `json:"amount" bson:"amount" db:"amount" swaggertype:"number"`
	Status      PaymentStatus `json:"status" bson:"status" db:"status"`
	UPIID       string        `json:"upiId" bson:"upiId" db:"upi_id"`
	UPILink     string        `json:"upiLink" bson:"upiLink" db:"upi_link"`
	PaymentLink string        `json:"paymentLink" bson:"paymentLink" db:"payment_link"`
	CreatedAt   time.Time     `json:"createdAt" bson:"createdAt" db:"created_at"`
	UpdatedAt   time.Time     `json:"updatedAt" bson:"updatedAt" db:"updated_at"`
}
