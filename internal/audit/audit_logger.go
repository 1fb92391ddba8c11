package audit

import (
	"time"

	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
)

type Event struct {
	Timestamp     time.Time         `json:"timestamp"`
	EventType     string            `json:"event_type"`
	CorrelationID string            `json:"correlation_id"`
	UserID        string            `json:"user_id"`
	Amount        money.Amount      `json:"amount"`
	Status        string            `json:"status"`
	Details       map[string]string `json:"details,omitempty"`
}

// Logger writes one structured audit line per money-relevant event.
type Logger struct {
	log *zap.Logger
}

func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log.Named("audit")}
}

func (a *Logger) LogLedgerEntry(e models.LedgerEntry) {
	a.emit(Event{
		Timestamp:     e.CreatedAt,
		EventType:     "LEDGER_" + string(e.Type),
		CorrelationID: e.Reference,
		UserID:        e.UserID,
		Amount:        e.Amount,
		Status:        "SUCCESS",
		Details: map[string]string{
			"entry_id":      e.ID,
			"balance_after": e.BalanceAfter.String(),
			"description":   e.Description,
		},
	})
}

func (a *Logger) LogProviderFailure(correlationID, userID, provider string, amount money.Amount, err error) {
	a.emit(Event{
		Timestamp:     time.Now().UTC(),
		EventType:     "PROVIDER_FAILURE",
		CorrelationID: correlationID,
		UserID:        userID,
		Amount:        amount,
		Status:        "FAILED",
		Details:       map[string]string{"provider": provider, "error": err.Error()},
	})
}

func (a *Logger) LogTransition(correlationID, userID string, from, to models.RecordStatus) {
	a.emit(Event{
		Timestamp:     time.Now().UTC(),
		EventType:     "RECORD_TRANSITION",
		CorrelationID: correlationID,
		UserID:        userID,
		Status:        string(to),
		Details:       map[string]string{"from": string(from)},
	})
}

func (a *Logger) LogError(correlationID, userID string, amount money.Amount, operation string, err error) {
	a.emit(Event{
		Timestamp:     time.Now().UTC(),
		EventType:     operation,
		CorrelationID: correlationID,
		UserID:        userID,
		Amount:        amount,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	})
}

func (a *Logger) LogOperation(correlationID, userID, operation string, details map[string]string) {
	a.emit(Event{
		Timestamp:     time.Now().UTC(),
		EventType:     operation,
		CorrelationID: correlationID,
		UserID:        userID,
		Status:        "SUCCESS",
		Details:       details,
	})
}

func (a *Logger) emit(e Event) {
	a.log.Info("audit",
		zap.Time("timestamp", e.Timestamp),
		zap.String("event_type", e.EventType),
		zap.String("correlation_id", e.CorrelationID),
		zap.String("user_id", e.UserID),
		zap.Stringer("amount", e.Amount),
		zap.String("status", e.Status),
		zap.Any("details", e.Details),
	)
}
