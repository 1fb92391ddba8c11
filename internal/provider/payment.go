package provider

import (
	"context"
	"net/url"
	"time"
)

type PaymentConfig struct {
	StatusURL string
	Timeout   time.Duration
}

// PaymentGateway verifies top-up orders with the payment gateway.
type PaymentGateway struct {
	client *Client
	cfg    PaymentConfig
}

func NewPaymentGateway(client *Client, cfg PaymentConfig) *PaymentGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &PaymentGateway{client: client, cfg: cfg}
}

type OrderStatus struct {
	TxnID   string
	Paid    bool
	Code    string
	Message string
}

// OrderStatus asks the gateway whether txnID has been paid. Only a
// transport or parse failure is an error; an unpaid order is a result.
func (g *PaymentGateway) OrderStatus(ctx context.Context, txnID string) (*OrderStatus, error) {
	const name = "payment_status"

	env, err := g.client.get(ctx, name, g.cfg.StatusURL, url.Values{"txnid": {txnID}}, g.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &OrderStatus{
		TxnID:   txnID,
		Paid:    env.Status == CodeSuccess,
		Code:    string(env.Status),
		Message: env.Message,
	}, nil
}
