package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/fulfillment"
	mw "github.com/servicehub/backend/internal/middleware"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/provider"
	"github.com/servicehub/backend/internal/reconcile"
)

type Fulfiller interface {
	SubmitServiceRequest(ctx context.Context, userID, serviceID string, fields models.FieldData) (*fulfillment.Receipt, error)
	SubmitExam(ctx context.Context, userID, serviceID string, req provider.ExamRequest) (*fulfillment.Receipt, error)
	GenerateLicensePDF(ctx context.Context, userID, serviceID string, req provider.LicenseRequest) (*fulfillment.Receipt, error)
}

type ExamStatusChecker interface {
	CheckExamStatus(ctx context.Context, userID, token string) (*reconcile.ExamCheckResult, error)
}

type FulfillmentHandler struct {
	orchestrator Fulfiller
	exams        ExamStatusChecker
	validator    *ValidationHelper
	logger       *zap.Logger
}

func NewFulfillmentHandler(orchestrator Fulfiller, exams ExamStatusChecker, logger *zap.Logger) *FulfillmentHandler {
	return &FulfillmentHandler{
		orchestrator: orchestrator,
		exams:        exams,
		validator:    NewValidationHelper(),
		logger:       logger.Named("fulfillment_handler"),
	}
}

type serviceRequest struct {
	ServiceID string           `json:"serviceId" validate:"required"`
	FieldData models.FieldData `json:"fieldData"`
}

type licenseRequest struct {
	ServiceID   string `json:"serviceId" validate:"required"`
	DLNo        string `json:"dlno" validate:"required"`
	PDFType     string `json:"type"`
	BloodGroup  string `json:"blood"`
	AddressType string `json:"addrtype"`
}

type examRequest struct {
	ServiceID string `json:"serviceId" validate:"required"`
	ApplNo    string `json:"applno" validate:"required"`
	DOB       string `json:"dob" validate:"required"`
	Password  string `json:"pass" validate:"required"`
	PIN       string `json:"pin"`
	ExamType  string `json:"type"`
}

// SubmitServiceRequest charges for a manually fulfilled service
// @Summary Submit service request
// @Tags Services
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body serviceRequest true "Service request"
// @Success 201 {object} object{success=bool,message=string,request=models.Record,walletBalance=number}
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /user/service-request [post]
func (h *FulfillmentHandler) SubmitServiceRequest(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	receipt, err := h.orchestrator.SubmitServiceRequest(r.Context(), mw.UserID(r.Context()), req.ServiceID, req.FieldData)
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendReceipt(w, http.StatusCreated, "request", receipt)
}

// GenerateLicensePDF fetches a driving licence PDF
// @Summary Generate DL PDF
// @Tags DL
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body licenseRequest true "Licence details"
// @Success 200 {object} object{success=bool,message=string,pdf=models.Record,walletBalance=number}
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /dl/generate-pdf [post]
func (h *FulfillmentHandler) GenerateLicensePDF(w http.ResponseWriter, r *http.Request) {
	var req licenseRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	receipt, err := h.orchestrator.GenerateLicensePDF(r.Context(), mw.UserID(r.Context()), req.ServiceID, provider.LicenseRequest{
		DLNo:        req.DLNo,
		PDFType:     req.PDFType,
		BloodGroup:  req.BloodGroup,
		AddressType: req.AddressType,
	})
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	// The document is returned inline; list views strip it.
	sendJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       receipt.Message,
		"pdf":           receipt.Record,
		"walletBalance": receipt.Balance,
	})
}

// SubmitExam books an LLR exam
// @Summary Submit LLR exam
// @Tags LLR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body examRequest true "Applicant details"
// @Success 200 {object} object{success=bool,message=string,exam=models.Record,walletBalance=number}
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /llr/submit-exam [post]
func (h *FulfillmentHandler) SubmitExam(w http.ResponseWriter, r *http.Request) {
	var req examRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	receipt, err := h.orchestrator.SubmitExam(r.Context(), mw.UserID(r.Context()), req.ServiceID, provider.ExamRequest{
		ApplNo:   req.ApplNo,
		DOB:      req.DOB,
		Password: req.Password,
		PIN:      req.PIN,
		ExamType: req.ExamType,
	})
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendReceipt(w, http.StatusOK, "exam", receipt)
}

// CheckExamStatus reconciles an LLR exam with the provider
// @Summary Check LLR status
// @Tags LLR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body tokenRequest true "Exam token"
// @Success 200 {object} object{success=bool,status=string,message=string,pdfAvailable=bool,record=models.Record}
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /llr/check-status [post]
func (h *FulfillmentHandler) CheckExamStatus(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	res, err := h.exams.CheckExamStatus(r.Context(), mw.UserID(r.Context()), req.Token)
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}

	body := map[string]any{
		"success":      true,
		"status":       res.Status,
		"message":      res.Message,
		"pdfAvailable": res.PDFAvailable,
		"record":       res.Record.Summary(),
	}
	if res.Refunded > 0 {
		body["refundAmount"] = res.Refunded
	}
	sendJSON(w, http.StatusOK, body)
}

func sendReceipt(w http.ResponseWriter, status int, key string, receipt *fulfillment.Receipt) {
	sendJSON(w, status, map[string]any{
		"success":       true,
		"message":       receipt.Message,
		key:             receipt.Record.Summary(),
		"walletBalance": receipt.Balance,
	})
}
