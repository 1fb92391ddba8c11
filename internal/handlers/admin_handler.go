package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/admin"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/store"
)

type AdminService interface {
	CreateUser(ctx context.Context, in admin.CreateUserInput) (*models.User, error)
	SetUserBlocked(ctx context.Context, userID string, blocked bool) error
	SetServicePrice(ctx context.Context, userID, serviceID string, price money.Amount) error
	AdjustWallet(ctx context.Context, userID string, target money.Amount) (money.Amount, error)
	CreateService(ctx context.Context, in admin.CreateServiceInput) (*models.Service, error)
	ListServices(ctx context.Context) ([]models.Service, error)
	UpdateService(ctx context.Context, serviceID string, upd store.ServiceUpdate) (*models.Service, error)
	ToggleService(ctx context.Context, serviceID string, active bool) (*models.Service, error)
	DeleteService(ctx context.Context, serviceID string) error
	UserServicePrices(ctx context.Context, userID string) ([]admin.ServicePrice, error)
}

type RequestResolver interface {
	ResolveServiceRequest(ctx context.Context, requestID string, status models.RecordStatus, adminMessage string) (*models.Record, error)
}

type AdminHandler struct {
	admin     AdminService
	requests  RequestResolver
	validator *ValidationHelper
	logger    *zap.Logger
}

func NewAdminHandler(svc AdminService, requests RequestResolver, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		admin:     svc,
		requests:  requests,
		validator: NewValidationHelper(),
		logger:    logger.Named("admin_handler"),
	}
}

type createUserRequest struct {
	Name     string `json:"name" validate:"required"`
	Mobile   string `json:"mobile" validate:"required,len=10,numeric"`
	Password string `json:"password" validate:"required"`
}

type toggleUserRequest struct {
	UserID    string `json:"userId" validate:"required"`
	IsBlocked *bool  `json:"isBlocked" validate:"required"`
}

type servicePriceRequest struct {
	UserID    string        `json:"userId" validate:"required"`
	ServiceID string        `json:"serviceId" validate:"required"`
	Price     *money.Amount `json:"price" validate:"required" swaggertype:"number"`
}

type walletRequest struct {
	UserID        string        `json:"userId" validate:"required"`
	WalletBalance *money.Amount `json:"walletBalance" validate:"required" swaggertype:"number"`
}

type createServiceRequest struct {
	Name         string             `json:"name" validate:"required"`
	Description  string             `json:"description" validate:"required"`
	DefaultPrice money.Amount       `json:"defaultPrice" swaggertype:"number"`
	Fields       []models.FieldSpec `json:"fields" validate:"dive"`
}

type updateServiceRequest struct {
	Name         *string            `json:"name"`
	Description  *string            `json:"description"`
	DefaultPrice *money.Amount      `json:"defaultPrice" swaggertype:"number"`
	Fields       []models.FieldSpec `json:"fields"`
}

type toggleServiceRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

type respondRequest struct {
	Status       models.RecordStatus `json:"status" validate:"required,oneof=success failed" swaggertype:"string"`
	AdminMessage string              `json:"adminMessage"`
}

// CreateUser registers a wallet user
// @Summary Create user
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createUserRequest true "New user"
// @Success 201 {object} object{success=bool,user=models.User}
// @Failure 400 {object} ErrorResponse
// @Router /admin/create-user [post]
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	user, err := h.admin.CreateUser(r.Context(), admin.CreateUserInput{Name: req.Name, Mobile: req.Mobile, Password: req.Password})
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "User created successfully", "user": user})
}

// ToggleUserStatus blocks or unblocks a user
// @Summary Block or unblock user
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body toggleUserRequest true "Block status"
// @Success 200 {object} object{success=bool,message=string}
// @Failure 404 {object} ErrorResponse
// @Router /admin/toggle-user-status [put]
func (h *AdminHandler) ToggleUserStatus(w http.ResponseWriter, r *http.Request) {
	var req toggleUserRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	if err := h.admin.SetUserBlocked(r.Context(), req.UserID, *req.IsBlocked); err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	status := "unblocked"
	if *req.IsBlocked {
		status = "blocked"
	}
	sendJSON(w, http.StatusOK, map[string]any{"success": true, "message": "User " + status + " successfully"})
}

// SetServicePrice sets a per-user price override
// @Summary Set user service price
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body servicePriceRequest true "Override"
// @Success 200 {object} object{success=bool,message=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/set-service-price [put]
func (h *AdminHandler) SetServicePrice(w http.ResponseWriter, r *http.Request) {
	var req servicePriceRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	if err := h.admin.SetServicePrice(r.Context(), req.UserID, req.ServiceID, *req.Price); err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Service price updated successfully"})
}

// UpdateWallet moves a user's balance to the given value through the ledger
// @Summary Set wallet balance
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body walletRequest true "Target balance"
// @Success 200 {object} object{success=bool,walletBalance=number}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/update-wallet [put]
func (h *AdminHandler) UpdateWallet(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	bal, err := h.admin.AdjustWallet(r.Context(), req.UserID, *req.WalletBalance)
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       "Wallet balance updated successfully",
		"walletBalance": bal,
	})
}

// CreateService adds a catalogue entry
// @Summary Create service
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createServiceRequest true "Service"
// @Success 201 {object} object{success=bool,service=models.Service}
// @Failure 400 {object} ErrorResponse
// @Router /admin/services [post]
func (h *AdminHandler) CreateService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	svc, err := h.admin.CreateService(r.Context(), admin.CreateServiceInput{
		Name:         req.Name,
		Description:  req.Description,
		DefaultPrice: req.DefaultPrice,
		Fields:       req.Fields,
	})
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "Service created successfully", "service": svc})
}

// ListServices returns every service, active or not
// @Summary List services
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{services=[]models.Service}
// @Router /admin/services [get]
func (h *AdminHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.admin.ListServices(r.Context())
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"services": services})
}

// UpdateService edits a catalogue entry
// @Summary Update service
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param serviceId path string true "Service ID"
// @Param request body updateServiceRequest true "Changed fields"
// @Success 200 {object} object{success=bool,service=models.Service}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/services/{serviceId} [put]
func (h *AdminHandler) UpdateService(w http.ResponseWriter, r *http.Request) {
	var req updateServiceRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	svc, err := h.admin.UpdateService(r.Context(), chi.URLParam(r, "serviceId"), store.ServiceUpdate{
		Name:         req.Name,
		Description:  req.Description,
		DefaultPrice: req.DefaultPrice,
		Fields:       req.Fields,
	})
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"success": true, "service": svc})
}

// ToggleService activates or retires a service
// @Summary Toggle service
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param serviceId path string true "Service ID"
// @Param request body toggleServiceRequest true "Active flag"
// @Success 200 {object} object{success=bool,service=models.Service}
// @Failure 404 {object} ErrorResponse
// @Router /admin/services/{serviceId}/toggle [put]
func (h *AdminHandler) ToggleService(w http.ResponseWriter, r *http.Request) {
	var req toggleServiceRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	svc, err := h.admin.ToggleService(r.Context(), chi.URLParam(r, "serviceId"), *req.IsActive)
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"success": true, "service": svc})
}

// DeleteService removes a service and its price overrides
// @Summary Delete service
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param serviceId path string true "Service ID"
// @Success 200 {object} object{success=bool,message=string}
// @Failure 404 {object} ErrorResponse
// @Router /admin/services/{serviceId} [delete]
func (h *AdminHandler) DeleteService(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteService(r.Context(), chi.URLParam(r, "serviceId")); err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Service deleted successfully"})
}

// RespondToRequest resolves a pending service request
// @Summary Resolve service request
// @Description Marks the request success or failed; failed requests are refunded
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param requestId path string true "Request ID"
// @Param request body respondRequest true "Resolution"
// @Success 200 {object} object{success=bool,request=models.Record}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/service-request/{requestId}/respond [put]
func (h *AdminHandler) RespondToRequest(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.requests.ResolveServiceRequest(r.Context(), chi.URLParam(r, "requestId"), req.Status, req.AdminMessage)
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Request updated successfully", "request": rec})
}

// UserServicePrices returns a user's effective price sheet
// @Summary User price sheet
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Success 200 {object} object{prices=[]admin.ServicePrice}
// @Failure 404 {object} ErrorResponse
// @Router /admin/user-service-prices/{userId} [get]
func (h *AdminHandler) UserServicePrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.admin.UserServicePrices(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"prices": prices})
}
