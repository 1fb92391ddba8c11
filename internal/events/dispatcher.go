package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/metrics"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
)

type EntryPublisher interface {
	Publish(ctx context.Context, e models.LedgerEntry) error
}

type BalanceUpdate struct {
	EntryID     string           `json:"entryId"`
	Type        models.EntryType `json:"type"`
	Amount      money.Amount     `json:"amount"`
	Balance     money.Amount     `json:"balance"`
	Description string           `json:"description"`
}

// Dispatcher delivers appended ledger entries to Kafka and to the websocket
// hub. Both are best effort; failures are logged and counted.
type Dispatcher struct {
	kafka   EntryPublisher
	hub     *Hub
	timeout time.Duration
	logger  *zap.Logger
}

func NewDispatcher(kafka EntryPublisher, hub *Hub, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{kafka: kafka, hub: hub, timeout: 5 * time.Second, logger: logger}
}

func (d *Dispatcher) EntryAppended(ctx context.Context, e models.LedgerEntry) {
	if d.kafka != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		if err := d.kafka.Publish(pctx, e); err != nil {
			metrics.EventPublishErrors.Inc()
			d.logger.Warn("failed to publish ledger entry",
				zap.String("entry_id", e.ID),
				zap.String("user_id", e.UserID),
				zap.Error(err),
			)
		}
		cancel()
	}

	if d.hub != nil {
		d.hub.Notify(e.UserID, Message{
			Type:      "balance_update",
			Timestamp: e.CreatedAt,
			Data: BalanceUpdate{
				EntryID:     e.ID,
				Type:        e.Type,
				Amount:      e.Amount,
				Balance:     e.BalanceAfter,
				Description: e.Description,
			},
		})
	}
}
