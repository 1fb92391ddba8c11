// Package fulfillment drives a paid request end to end: validate, price,
// reserve funds, call the provider, then keep or compensate the debit.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
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
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetService(ctx context.Context, id string) (*models.Service, error)
	CreateRecord(ctx context.Context, r *models.Record) error
}

type Wallet interface {
	Debit(ctx context.Context, userID string, amount money.Amount, description, ref string) (money.Amount, error)
	Refund(ctx context.Context, userID string, amount money.Amount, description, ref string) (money.Amount, error)
}

type Pricer interface {
	Resolve(ctx context.Context, userID string, svc *models.Service) (money.Amount, error)
}

type ExamProvider interface {
	SubmitExam(ctx context.Context, req provider.ExamRequest) (*provider.ExamReceipt, error)
}

type LicenseProvider interface {
	GeneratePDF(ctx context.Context, req provider.LicenseRequest) (*provider.LicenseDocument, error)
}

type Orchestrator struct {
	store    Store
	wallet   Wallet
	pricer   Pricer
	exams    ExamProvider
	licenses LicenseProvider
	audit    *audit.Logger
	logger   *zap.Logger
	now      func() time.Time
}

func NewOrchestrator(st Store, wallet Wallet, pricer Pricer, exams ExamProvider, licenses LicenseProvider, auditor *audit.Logger, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditor == nil {
		auditor = audit.NewLogger(logger)
	}
	return &Orchestrator{
		store:    st,
		wallet:   wallet,
		pricer:   pricer,
		exams:    exams,
		licenses: licenses,
		audit:    auditor,
		logger:   logger.Named("fulfillment"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Receipt is what a caller gets back from a successful submission.
type Receipt struct {
	Record  *models.Record
	Balance money.Amount
	Message string
}

type quote struct {
	user    *models.User
	service *models.Service
	price   money.Amount
}

// prepare runs every check that must pass before money moves. Nothing it
// does has side effects.
func (o *Orchestrator) prepare(ctx context.Context, userID, serviceID string) (*quote, error) {
	if userID == "" || serviceID == "" {
		return nil, apperr.New(apperr.Validation, "User ID and service ID are required")
	}

	user, err := o.store.GetUser(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err, "User not found")
	}
	if user.Blocked {
		return nil, apperr.New(apperr.Forbidden, "Your account has been blocked. Please contact administrator.")
	}

	svc, err := o.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, notFoundOr(err, "Service not found")
	}
	if !svc.Active {
		return nil, apperr.New(apperr.Forbidden, "Service unavailable")
	}

	price, err := o.pricer.Resolve(ctx, userID, svc)
	if err != nil {
		return nil, err
	}

	if user.Balance < price {
		return nil, apperr.New(apperr.InsufficientFunds, "Insufficient wallet balance")
	}
	return &quote{user: user, service: svc, price: price}, nil
}

func (o *Orchestrator) newRecord(q *quote, id string, kind models.RecordKind, status models.RecordStatus) *models.Record {
	now := o.now()
	return &models.Record{
		ID:          id,
		Kind:        kind,
		UserID:      q.user.ID,
		UserName:    q.user.Name,
		UserMobile:  q.user.Mobile,
		ServiceID:   q.service.ID,
		ServiceName: q.service.Name,
		Price:       q.price,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SubmitServiceRequest charges for a manually fulfilled service and queues
// it for an administrator.
func (o *Orchestrator) SubmitServiceRequest(ctx context.Context, userID, serviceID string, fields models.FieldData) (*Receipt, error) {
	kind := string(models.KindServiceRequest)

	q, err := o.prepare(ctx, userID, serviceID)
	if err != nil {
		metrics.Fulfillments.WithLabelValues(kind, "declined").Inc()
		return nil, err
	}
	if missing := q.service.MissingFields(fields); len(missing) > 0 {
		metrics.Fulfillments.WithLabelValues(kind, "declined").Inc()
		return nil, apperr.New(apperr.Validation, "Missing required fields: "+strings.Join(missing, ", "))
	}

	recordID := uuid.NewString()
	bal, err := o.wallet.Debit(ctx, userID, q.price, fmt.Sprintf("Payment for %s service", q.service.Name), recordID)
	if err != nil {
		metrics.Fulfillments.WithLabelValues(kind, "declined").Inc()
		return nil, err
	}

	rec := o.newRecord(q, recordID, models.KindServiceRequest, models.StatusPending)
	rec.Payload = models.Payload{Fields: fields}

	if err := o.store.CreateRecord(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Error("failed to persist service request", zap.String("record_id", recordID), zap.Error(err))
		o.compensate(ctx, q, recordID, fmt.Sprintf("Refund for %s service", q.service.Name))
		metrics.Fulfillments.WithLabelValues(kind, "compensated").Inc()
		return nil, apperr.Wrap(apperr.Internal, "Failed to submit service request", err)
	}

	metrics.Fulfillments.WithLabelValues(kind, "submitted").Inc()
	return &Receipt{Record: rec, Balance: bal, Message: "Service request submitted successfully"}, nil
}

// SubmitExam books a learner's licence exam.
func (o *Orchestrator) SubmitExam(ctx context.Context, userID, serviceID string, req provider.ExamRequest) (*Receipt, error) {
	kind := string(models.KindExam)

	req = req.Normalize()
	if req.ApplNo == "" || req.DOB == "" || req.Password == "" {
		return nil, apperr.New(apperr.Validation, "Application number, date of birth and password are required")
	}

	q, err := o.prepare(ctx, userID, serviceID)
	if err != nil {
		metrics.Fulfillments.WithLabelValues(kind, "declined").Inc()
		return nil, err
	}

	recordID := uuid.NewString()
	bal, err := o.wallet.Debit(ctx, userID, q.price,
		fmt.Sprintf("Payment for %s service - Application: %s", q.service.Name, req.ApplNo), recordID)
	if err != nil {
		metrics.Fulfillments.WithLabelValues(kind, "declined").Inc()
		return nil, err
	}

	// Funds are held; the call runs to completion even if the client goes away.
	receipt, perr := o.exams.SubmitExam(context.WithoutCancel(ctx), req)
	if perr != nil {
		o.audit.LogProviderFailure(recordID, userID, "exam_submit", q.price, perr)
		o.compensate(ctx, q, recordID, fmt.Sprintf("Refund for %s - Application: %s", q.service.Name, req.ApplNo))
		metrics.Fulfillments.WithLabelValues(kind, provider.OutcomeOf(perr).String()).Inc()
		return nil, providerError(perr)
	}

	rec := o.newRecord(q, recordID, models.KindExam, models.StatusSubmitted)
	rec.Token = receipt.Token
	rec.Payload = models.Payload{Exam: &models.ExamPayload{
		ApplNo:    receipt.ApplNo,
		ApplName:  receipt.ApplName,
		DOB:       receipt.DOB,
		ExamType:  req.ExamType,
		Queue:     receipt.Queue,
		RTOCode:   receipt.RTOCode,
		RTOName:   receipt.RTOName,
		StateCode: receipt.StateCode,
		StateName: receipt.StateName,
	}}
	o.persist(ctx, rec)

	metrics.Fulfillments.WithLabelValues(kind, "submitted").Inc()
	return &Receipt{Record: rec, Balance: bal, Message: "LLR exam request submitted successfully!"}, nil
}

// GenerateLicensePDF fetches a driving licence PDF.
func (o *Orchestrator) GenerateLicensePDF(ctx context.Context, userID, serviceID string, req provider.LicenseRequest) (*Receipt, error) {
	kind := string(models.KindLicensePDF)

	req = req.Normalize()
	if req.DLNo == "" {
		return nil, apperr.New(apperr.Validation, "DL number is required")
	}

	q, err := o.prepare(ctx, userID, serviceID)
	if err != nil {
		metrics.Fulfillments.WithLabelValues(kind, "declined").Inc()
		return nil, err
	}

	recordID := uuid.NewString()
	bal, err := o.wallet.Debit(ctx, userID, q.price,
		fmt.Sprintf("Payment for %s service - DL: %s", q.service.Name, req.DLNo), recordID)
	if err != nil {
		metrics.Fulfillments.WithLabelValues(kind, "declined").Inc()
		return nil, err
	}

	doc, perr := o.licenses.GeneratePDF(context.WithoutCancel(ctx), req)
	if perr != nil {
		o.audit.LogProviderFailure(recordID, userID, "license_pdf", q.price, perr)
		o.compensate(ctx, q, recordID, fmt.Sprintf("Refund for %s - DL: %s", q.service.Name, req.DLNo))
		metrics.Fulfillments.WithLabelValues(kind, provider.OutcomeOf(perr).String()).Inc()
		return nil, providerError(perr)
	}

	rec := o.newRecord(q, recordID, models.KindLicensePDF, models.StatusCompleted)
	completed := rec.CreatedAt
	rec.CompletedAt = &completed
	rec.Payload = models.Payload{License: &models.LicensePayload{
		DLNo:        req.DLNo,
		PDFType:     req.PDFType,
		BloodGroup:  req.BloodGroup,
		AddressType: req.AddressType,
		Name:        doc.Name,
		DOB:         doc.DOB,
		PDFData:     doc.PDFData,
	}}
	o.persist(ctx, rec)

	metrics.Fulfillments.WithLabelValues(kind, "completed").Inc()
	return &Receipt{Record: rec, Balance: bal, Message: "PDF generated successfully"}, nil
}

// persist stores the record of a provider success. The provider has already
// done the work, so a failed write keeps the debit and is left for the
// reservation sweep.
func (o *Orchestrator) persist(ctx context.Context, rec *models.Record) {
	if err := o.store.CreateRecord(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Error("failed to persist fulfillment record",
			zap.String("record_id", rec.ID),
			zap.String("kind", string(rec.Kind)),
			zap.String("user_id", rec.UserID),
			zap.Error(err),
		)
		o.audit.LogError(rec.ID, rec.UserID, rec.Price, "RECORD_PERSIST_FAILED", err)
	}
}

// compensate returns a held debit. A failed refund is logged and audited;
// the sweep reports it as an unresolved reservation.
func (o *Orchestrator) compensate(ctx context.Context, q *quote, recordID, description string) {
	if _, err := o.wallet.Refund(context.WithoutCancel(ctx), q.user.ID, q.price, description, recordID); err != nil {
		o.logger.Error("compensating refund failed",
			zap.String("record_id", recordID),
			zap.String("user_id", q.user.ID),
			zap.Stringer("amount", q.price),
			zap.Error(err),
		)
		o.audit.LogError(recordID, q.user.ID, q.price, "COMPENSATION_FAILED", err)
	}
}

func providerError(err error) error {
	var pe *provider.Error
	msg := ""
	if errors.As(err, &pe) {
		msg = pe.Message
	}

	switch provider.OutcomeOf(err) {
	case provider.Rejected:
		if msg == "" {
			msg = "Request rejected by service provider"
		}
		return apperr.Wrap(apperr.ProviderRejected, msg, err)
	case provider.Malformed:
		return apperr.Wrap(apperr.MalformedResponse, "Invalid response from service provider", err)
	default:
		return apperr.Wrap(apperr.ProviderUnavailable, "Service temporarily unavailable. Please try again later.", err)
	}
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Wrap(apperr.NotFound, msg, err)
	}
	return apperr.Wrap(apperr.Internal, "Failed to load request data", err)
}
