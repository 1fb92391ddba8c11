package handlers

import (
	"net/http"

	mw "github.com/servicehub/backend/internal/middleware"
)

type SocketServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string)
}

// WalletSocket streams balance updates for the authenticated user.
// @Summary Wallet updates
// @Description Upgrades to a websocket that receives balance_update messages
// @Tags User
// @Security BearerAuth
// @Param access_token query string false "Bearer token, for clients that cannot set headers"
// @Success 101
// @Failure 401 {object} ErrorResponse
// @Router /ws/wallet [get]
func WalletSocket(hub SocketServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, mw.UserID(r.Context()))
	}
}
