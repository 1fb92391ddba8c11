// Package reconcile applies asynchronous outcomes to stored records and the
// ledger. Every money movement here sits behind a conditional status
// transition, so replays never credit twice.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/apperr"
	"github.com/servicehub/backend/internal/audit"
	"github.com/servicehub/backend/internal/metrics"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/provider"
	"github.com/servicehub/backend/internal/store"
)

type Store interface {
	GetRecord(ctx context.Context, id string) (*models.Record, error)
	GetRecordByToken(ctx context.Context, token string) (*models.Record, error)
	TransitionRecord(ctx context.Context, id string, from []models.RecordStatus, upd store.RecordUpdate) (bool, error)
	TouchRecord(ctx context.Context, id string, at time.Time) error
	GetPaymentByTxn(ctx context.Context, txnID string) (*models.Payment, error)
	MarkPaymentSucceeded(ctx context.Context, txnID string) (bool, error)
}

type Wallet interface {
	CreditOnce(ctx context.Context, userID string, amount money.Amount, description, ref string) (money.Amount, bool, error)
	Refund(ctx context.Context, userID string, amount money.Amount, description, ref string) (money.Amount, error)
}

type ExamStatusChecker interface {
	CheckExam(ctx context.Context, token string) (*provider.ExamStatus, error)
}

type PaymentVerifier interface {
	OrderStatus(ctx context.Context, txnID string) (*provider.OrderStatus, error)
}

type Reconciler struct {
	store    Store
	wallet   Wallet
	exams    ExamStatusChecker
	payments PaymentVerifier
	audit    *audit.Logger
	logger   *zap.Logger
	now      func() time.Time
}

func NewReconciler(st Store, wallet Wallet, exams ExamStatusChecker, payments PaymentVerifier, auditor *audit.Logger, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditor == nil {
		auditor = audit.NewLogger(logger)
	}
	return &Reconciler{
		store:    st,
		wallet:   wallet,
		exams:    exams,
		payments: payments,
		audit:    auditor,
		logger:   logger.Named("reconcile"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var openExamStatuses = []models.RecordStatus{models.StatusSubmitted, models.StatusProcessing}

type ExamCheckResult struct {
	Record       *models.Record
	Status       models.RecordStatus
	Message      string
	PDFAvailable bool
	Refunded     money.Amount
}

// CheckExamStatus asks the exam provider about token and applies the
// answer. userID, when set, must own the record.
func (r *Reconciler) CheckExamStatus(ctx context.Context, userID, token string) (*ExamCheckResult, error) {
	if token == "" {
		return nil, apperr.New(apperr.Validation, "Token is required")
	}

	rec, err := r.store.GetRecordByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Wrap(apperr.UnknownToken, "Invalid token", err)
		}
		return nil, apperr.Wrap(apperr.Internal, "Failed to load exam record", err)
	}
	if rec.Kind != models.KindExam || (userID != "" && rec.UserID != userID) {
		return nil, apperr.New(apperr.UnknownToken, "Invalid token")
	}

	// Settled records are answered from storage.
	if rec.Status.Terminal() {
		return r.examResult(rec, ""), nil
	}

	status, err := r.exams.CheckExam(ctx, token)
	checkedAt := r.now()
	if err != nil {
		if terr := r.store.TouchRecord(context.WithoutCancel(ctx), rec.ID, checkedAt); terr != nil {
			r.logger.Warn("failed to stamp exam check", zap.String("record_id", rec.ID), zap.Error(terr))
		}
		metrics.Reconciliations.WithLabelValues("exam", "error").Inc()
		return nil, statusCheckError(err)
	}

	payload := models.Payload{}
	if rec.Payload.Exam != nil {
		exam := *rec.Payload.Exam
		payload.Exam = &exam
	} else {
		payload.Exam = &models.ExamPayload{}
	}
	upd := store.RecordUpdate{Payload: &payload, LastCheckedAt: &checkedAt}

	switch status.State {
	case provider.ExamCompleted:
		upd.Status = models.StatusCompleted
		upd.CompletedAt = &checkedAt
		payload.Exam.PDFData = status.PDFData
		payload.Exam.Filename = status.Filename
		payload.Exam.Remarks = status.Remarks
	case provider.ExamProcessing:
		upd.Status = models.StatusProcessing
		payload.Exam.Queue = status.Queue
		payload.Exam.Remarks = status.Remarks
	case provider.ExamRefunded:
		upd.Status = models.StatusRefunded
		payload.Exam.RefundReason = status.Reason
	}

	applied, err := r.store.TransitionRecord(context.WithoutCancel(ctx), rec.ID, openExamStatuses, upd)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to update exam status", err)
	}
	if !applied {
		// Someone else settled it between our read and write.
		current, err := r.store.GetRecord(ctx, rec.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "Failed to load exam record", err)
		}
		return r.examResult(current, ""), nil
	}

	r.audit.LogTransition(rec.ID, rec.UserID, rec.Status, upd.Status)
	metrics.Reconciliations.WithLabelValues("exam", string(upd.Status)).Inc()

	rec.Status = upd.Status
	rec.Payload = payload
	rec.LastCheckedAt = &checkedAt
	rec.CompletedAt = upd.CompletedAt
	rec.UpdatedAt = checkedAt

	result := r.examResult(rec, status.Message)
	if upd.Status == models.StatusRefunded {
		applno := ""
		if rec.Payload.Exam != nil {
			applno = rec.Payload.Exam.ApplNo
		}
		r.refund(ctx, rec, fmt.Sprintf("Refund for LLR exam - Application: %s", applno))
		result.Refunded = rec.Price
	}
	return result, nil
}

func (r *Reconciler) examResult(rec *models.Record, message string) *ExamCheckResult {
	res := &ExamCheckResult{Record: rec, Status: rec.Status, Message: message}
	if rec.Status == models.StatusCompleted && rec.Payload.Exam != nil && rec.Payload.Exam.PDFData != "" {
		res.PDFAvailable = true
	}
	if rec.Status == models.StatusRefunded {
		res.Refunded = rec.Price
		if message == "" && rec.Payload.Exam != nil {
			res.Message = rec.Payload.Exam.RefundReason
		}
	}
	return res
}

// ResolveServiceRequest records an administrator's decision on a pending
// request. A failed request is refunded exactly once.
func (r *Reconciler) ResolveServiceRequest(ctx context.Context, requestID string, status models.RecordStatus, adminMessage string) (*models.Record, error) {
	if status != models.StatusSuccess && status != models.StatusFailed {
		return nil, apperr.New(apperr.Validation, "Invalid status. Must be 'success' or 'failed'")
	}

	rec, err := r.store.GetRecord(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, "Service request not found", err)
		}
		return nil, apperr.Wrap(apperr.Internal, "Failed to load service request", err)
	}
	if rec.Kind != models.KindServiceRequest {
		return nil, apperr.New(apperr.NotFound, "Service request not found")
	}

	now := r.now()
	applied, err := r.store.TransitionRecord(context.WithoutCancel(ctx), rec.ID, []models.RecordStatus{models.StatusPending}, store.RecordUpdate{
		Status:       status,
		AdminMessage: &adminMessage,
		CompletedAt:  &now,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to update service request", err)
	}
	if !applied {
		current, err := r.store.GetRecord(ctx, rec.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "Failed to load service request", err)
		}
		if current.Status == status {
			return current, nil
		}
		return nil, apperr.Newf(apperr.Validation, "Service request already resolved as %s", current.Status)
	}

	r.audit.LogTransition(rec.ID, rec.UserID, rec.Status, status)
	metrics.Reconciliations.WithLabelValues("service_request", string(status)).Inc()

	from := rec.Status
	rec.Status = status
	rec.AdminMessage = adminMessage
	rec.CompletedAt = &now
	rec.UpdatedAt = now

	if status == models.StatusFailed {
		r.refund(ctx, rec, fmt.Sprintf("Refund for %s service (request failed)", rec.ServiceName))
	}
	r.logger.Info("service request resolved",
		zap.String("record_id", rec.ID),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
	)
	return rec, nil
}

type CallbackResult struct {
	TxnID    string
	Credited bool
	Paid     bool
	Balance  money.Amount
}

// HandlePaymentCallback verifies txnID with the gateway and credits the
// wallet once per transaction id.
func (r *Reconciler) HandlePaymentCallback(ctx context.Context, txnID string) (*CallbackResult, error) {
	if txnID == "" {
		return nil, apperr.New(apperr.Validation, "Token is required")
	}

	status, err := r.payments.OrderStatus(ctx, txnID)
	if err != nil {
		metrics.Reconciliations.WithLabelValues("payment", "error").Inc()
		return nil, statusCheckError(err)
	}
	res := &CallbackResult{TxnID: txnID, Paid: status.Paid}
	if !status.Paid {
		metrics.Reconciliations.WithLabelValues("payment", "unpaid").Inc()
		return res, nil
	}

	payment, err := r.store.GetPaymentByTxn(ctx, txnID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Wrap(apperr.UnknownToken, "Unknown transaction", err)
		}
		return nil, apperr.Wrap(apperr.Internal, "Failed to load payment", err)
	}

	// A payment already marked success may still lack its credit when an
	// earlier callback failed between the two writes. The credit is keyed on
	// txnID, so replays settle to exactly one.
	marked, err := r.store.MarkPaymentSucceeded(context.WithoutCancel(ctx), txnID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to update payment", err)
	}

	bal, credited, err := r.wallet.CreditOnce(context.WithoutCancel(ctx), payment.UserID, payment.Amount,
		fmt.Sprintf("Wallet top-up via payment gateway - %s", txnID), txnID)
	if err != nil {
		r.logger.Error("payment marked success but credit failed",
			zap.String("txn_id", txnID),
			zap.String("user_id", payment.UserID),
			zap.Error(err),
		)
		r.audit.LogError(txnID, payment.UserID, payment.Amount, "PAYMENT_CREDIT_FAILED", err)
		return nil, apperr.Wrap(apperr.Internal, "Failed to credit wallet", err)
	}
	if !credited {
		metrics.Reconciliations.WithLabelValues("payment", "duplicate").Inc()
		return res, nil
	}
	if !marked {
		r.logger.Warn("credited previously settled payment",
			zap.String("txn_id", txnID),
			zap.String("user_id", payment.UserID),
		)
		r.audit.LogOperation(txnID, payment.UserID, "PAYMENT_CREDIT_RECOVERED", map[string]string{
			"amount": payment.Amount.String(),
		})
	}

	metrics.Reconciliations.WithLabelValues("payment", string(models.PaymentSuccess)).Inc()
	res.Credited = true
	res.Balance = bal
	return res, nil
}

func (r *Reconciler) refund(ctx context.Context, rec *models.Record, description string) {
	if _, err := r.wallet.Refund(context.WithoutCancel(ctx), rec.UserID, rec.Price, description, rec.ID); err != nil {
		r.logger.Error("refund after transition failed",
			zap.String("record_id", rec.ID),
			zap.String("user_id", rec.UserID),
			zap.Error(err),
		)
		r.audit.LogError(rec.ID, rec.UserID, rec.Price, "REFUND_FAILED", err)
	}
}

func statusCheckError(err error) error {
	switch provider.OutcomeOf(err) {
	case provider.Rejected:
		return apperr.Wrap(apperr.ProviderRejected, "Status check rejected by provider", err)
	case provider.Malformed:
		return apperr.Wrap(apperr.MalformedResponse, "Invalid response from service provider", err)
	default:
		return apperr.Wrap(apperr.ProviderUnavailable, "Status service temporarily unavailable", err)
	}
}
