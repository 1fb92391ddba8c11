package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/account"
	mw "github.com/servicehub/backend/internal/middleware"
	"github.com/servicehub/backend/internal/models"
)

type AccountService interface {
	ProfileReader
	Services(ctx context.Context, userID string) ([]models.PricedService, error)
	History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
	Records(ctx context.Context, userID string, kind models.RecordKind, limit int) ([]models.Record, error)
	Download(ctx context.Context, userID, recordID string) (*account.Document, error)
	DownloadByToken(ctx context.Context, userID, token string) (*account.Document, error)
}

type UserHandler struct {
	accounts  AccountService
	validator *ValidationHelper
	logger    *zap.Logger
}

func NewUserHandler(accounts AccountService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		accounts:  accounts,
		validator: NewValidationHelper(),
		logger:    logger.Named("user_handler"),
	}
}

// Profile returns the caller's account
// @Summary User profile
// @Tags User
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{user=models.User}
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /user/profile [get]
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.Profile(r.Context(), mw.UserID(r.Context()))
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"user": user})
}

// Services lists the active catalogue at the caller's prices
// @Summary Available services
// @Tags User
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{services=[]models.PricedService}
// @Router /user/services [get]
func (h *UserHandler) Services(w http.ResponseWriter, r *http.Request) {
	services, err := h.accounts.Services(r.Context(), mw.UserID(r.Context()))
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"services": services})
}

// PaymentHistory lists wallet ledger entries, newest first
// @Summary Wallet history
// @Tags User
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum entries" default(50)
// @Success 200 {object} object{history=[]models.LedgerEntry}
// @Router /user/payment-history [get]
func (h *UserHandler) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.accounts.History(r.Context(), mw.UserID(r.Context()), queryLimit(r, 50, 500))
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// ServiceRequests lists the caller's manually fulfilled requests
// @Summary My service requests
// @Tags User
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{requests=[]models.Record}
// @Router /user/service-requests [get]
func (h *UserHandler) ServiceRequests(w http.ResponseWriter, r *http.Request) {
	h.listRecords(w, r, models.KindServiceRequest, "requests")
}

// LicensePDFs lists the caller's generated DL documents
// @Summary My DL PDFs
// @Tags DL
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{pdfs=[]models.Record}
// @Router /dl/user-pdfs [get]
func (h *UserHandler) LicensePDFs(w http.ResponseWriter, r *http.Request) {
	h.listRecords(w, r, models.KindLicensePDF, "pdfs")
}

// ExamTokens lists the caller's LLR exam submissions
// @Summary My LLR tokens
// @Tags LLR
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{tokens=[]models.Record}
// @Router /llr/user-tokens [get]
func (h *UserHandler) ExamTokens(w http.ResponseWriter, r *http.Request) {
	h.listRecords(w, r, models.KindExam, "tokens")
}

func (h *UserHandler) listRecords(w http.ResponseWriter, r *http.Request, kind models.RecordKind, key string) {
	records, err := h.accounts.Records(r.Context(), mw.UserID(r.Context()), kind, queryLimit(r, 50, 500))
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{key: records})
}

// DownloadLicensePDF returns a stored DL document
// @Summary Download DL PDF
// @Tags DL
// @Produce json
// @Security BearerAuth
// @Param pdfId path string true "Record ID"
// @Success 200 {object} object{success=bool,document=account.Document}
// @Failure 404 {object} ErrorResponse
// @Router /dl/download-pdf/{pdfId} [get]
func (h *UserHandler) DownloadLicensePDF(w http.ResponseWriter, r *http.Request) {
	doc, err := h.accounts.Download(r.Context(), mw.UserID(r.Context()), chi.URLParam(r, "pdfId"))
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"success": true, "document": doc})
}

type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// DownloadExamPDF returns the result document of a completed LLR exam
// @Summary Download LLR PDF
// @Tags LLR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body tokenRequest true "Exam token"
// @Success 200 {object} object{success=bool,document=account.Document}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /llr/download-pdf [post]
func (h *UserHandler) DownloadExamPDF(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	doc, err := h.accounts.DownloadByToken(r.Context(), mw.UserID(r.Context()), req.Token)
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"success": true, "document": doc})
}
