package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	mw "github.com/servicehub/backend/internal/middleware"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/payments"
	"github.com/servicehub/backend/internal/reconcile"
)

type PaymentService interface {
	CreateOrder(ctx context.Context, userID string, amount money.Amount) (*payments.Order, error)
	QRCode(ctx context.Context, userID, txnID string) (string, error)
	History(ctx context.Context, userID string, limit int) ([]models.Payment, error)
}

type CallbackHandler interface {
	HandlePaymentCallback(ctx context.Context, txnID string) (*reconcile.CallbackResult, error)
}

type PaymentHandler struct {
	payments  PaymentService
	callbacks CallbackHandler
	validator *ValidationHelper
	logger    *zap.Logger
}

func NewPaymentHandler(payments PaymentService, callbacks CallbackHandler, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments:  payments,
		callbacks: callbacks,
		validator: NewValidationHelper(),
		logger:    logger.Named("payment_handler"),
	}
}

type createOrderRequest struct {
	Amount money.Amount `json:"amount" validate:"required,gt=0" swaggertype:"number"`
}

// CreateOrder starts a wallet top-up
// @Summary Create payment order
// @Description Create a pending UPI payment and return its QR code
// @Tags Payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createOrderRequest true "Top-up amount in rupees"
// @Success 200 {object} object{success=bool,order=payments.Order}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /payment/create-order [post]
func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	order, err := h.payments.CreateOrder(r.Context(), mw.UserID(r.Context()), req.Amount)
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"success": true, "order": order})
}

// History lists the caller's top-up orders
// @Summary Payment gateway history
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum orders" default(10)
// @Success 200 {object} object{payments=[]models.Payment}
// @Router /payment/gateway-history [get]
func (h *PaymentHandler) History(w http.ResponseWriter, r *http.Request) {
	list, err := h.payments.History(r.Context(), mw.UserID(r.Context()), queryLimit(r, 10, 100))
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"payments": list})
}

// QRCode returns the QR image for one of the caller's orders
// @Summary Payment QR code
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param txnId path string true "Transaction ID"
// @Success 200 {object} object{txnId=string,qrCode=string}
// @Failure 404 {object} ErrorResponse
// @Router /payment/qr/{txnId} [get]
func (h *PaymentHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "txnId")
	img, err := h.payments.QRCode(r.Context(), mw.UserID(r.Context()), txnID)
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"txnId": txnID, "qrCode": img})
}

// Callback is called by the payment gateway once an order settles. The
// payload is never trusted; the order is verified with the gateway.
// @Summary Payment callback
// @Tags Payments
// @Produce json
// @Param token query string true "Transaction ID"
// @Success 200 {object} object{status=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /payment/callback [post]
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	res, err := h.callbacks.HandlePaymentCallback(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	h.logger.Info("payment callback handled",
		zap.String("txn_id", res.TxnID),
		zap.Bool("paid", res.Paid),
		zap.Bool("credited", res.Credited),
	)
	sendJSON(w, http.StatusOK, map[string]any{"status": "ok", "paid": res.Paid, "credited": res.Credited})
}
