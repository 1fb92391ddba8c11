package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/apperr"
)

const maxBodyBytes = 1_048_576

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Kind    string            `json:"kind,omitempty"`    // Error kind
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{validator: validator.New()}
}

func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// decodeJSON reads exactly one JSON object into dst and validates it.
func (vh *ValidationHelper) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		sendError(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		sendError(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := vh.ValidateStruct(dst); err != nil {
		sendError(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// sendError sends a JSON error response
func sendError(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	resp := ErrorResponse{Error: message, Kind: string(apperr.Validation)}
	if statusCode != http.StatusBadRequest {
		resp.Kind = ""
	}

	var verrs validator.ValidationErrors
	if errors.As(validationErr, &verrs) {
		resp.Details = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			resp.Details[fe.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", fe.Tag())
		}
	}
	sendJSON(w, statusCode, resp)
}

// sendAppError maps an error from the service layer to a status code.
// Internal faults are logged with their cause, which never reaches the client.
func sendAppError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	sendJSON(w, status, ErrorResponse{Error: apperr.MessageOf(err), Kind: string(kind)})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation, apperr.PriceNotConfigured:
		return http.StatusBadRequest
	case apperr.NotFound, apperr.UnknownToken:
		return http.StatusNotFound
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.InsufficientFunds:
		return http.StatusPaymentRequired
	case apperr.ProviderRejected:
		return http.StatusUnprocessableEntity
	case apperr.ProviderUnavailable:
		return http.StatusServiceUnavailable
	case apperr.MalformedResponse:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// queryLimit reads ?limit=, falling back to def and capping at max.
func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
