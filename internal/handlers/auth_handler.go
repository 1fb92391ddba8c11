package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/auth"
	mw "github.com/servicehub/backend/internal/middleware"
	"github.com/servicehub/backend/internal/models"
)

type SessionService interface {
	LoginUser(ctx context.Context, mobile, password string) (*auth.Session, error)
	LoginAdmin(ctx context.Context, username, password string) (*auth.Session, error)
	Logout(ctx context.Context, token string) error
	Refresh(claims *auth.Claims) (*auth.Session, error)
}

type ProfileReader interface {
	Profile(ctx context.Context, userID string) (*models.User, error)
}

type AuthHandler struct {
	sessions  SessionService
	profiles  ProfileReader
	validator *ValidationHelper
	logger    *zap.Logger
}

func NewAuthHandler(sessions SessionService, profiles ProfileReader, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:  sessions,
		profiles:  profiles,
		validator: NewValidationHelper(),
		logger:    logger.Named("auth_handler"),
	}
}

type userLoginRequest struct {
	Mobile   string `json:"mobile" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type adminLoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginUser authenticates a wallet user
// @Summary User login
// @Description Exchange mobile number and password for a bearer token
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body userLoginRequest true "Credentials"
// @Success 200 {object} object{success=bool,session=auth.Session}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) LoginUser(w http.ResponseWriter, r *http.Request) {
	var req userLoginRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	session, err := h.sessions.LoginUser(r.Context(), req.Mobile, req.Password)
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"success": true, "session": session})
}

// LoginAdmin authenticates an administrator
// @Summary Admin login
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body adminLoginRequest true "Credentials"
// @Success 200 {object} object{success=bool,session=auth.Session}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /admin/login [post]
func (h *AuthHandler) LoginAdmin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if !h.validator.decodeJSON(w, r, &req) {
		return
	}

	session, err := h.sessions.LoginAdmin(r.Context(), req.Username, req.Password)
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"success": true, "session": session})
}

// Logout revokes the caller's token
// @Summary Logout
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{success=bool}
// @Failure 401 {object} ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context(), mw.TokenFrom(r.Context())); err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully"})
}

// Refresh returns the caller's current profile and a fresh token
// @Summary Refresh session
// @Tags User
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{success=bool,user=models.User,session=auth.Session}
// @Failure 403 {object} ErrorResponse
// @Router /user/refresh [get]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	claims := mw.ClaimsFrom(r.Context())

	user, err := h.profiles.Profile(r.Context(), claims.UserID)
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	session, err := h.sessions.Refresh(claims)
	if err != nil {
		sendAppError(w, h.logger, err)
		return
	}
	session.User = user
	sendJSON(w, http.StatusOK, map[string]any{"success": true, "user": user, "session": session})
}
