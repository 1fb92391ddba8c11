package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/servicehub/backend/internal/auth"
	mw "github.com/servicehub/backend/internal/middleware"
)

type Handlers struct {
	Auth        *AuthHandler
	User        *UserHandler
	Fulfillment *FulfillmentHandler
	Payment     *PaymentHandler
	Admin       *AdminHandler
	Hub         SocketServer
}

// Routes builds the /api subtree.
func (hs Handlers) Routes(authn mw.Authenticator) chi.Router {
	r := chi.NewRouter()

	// Public endpoints (no auth required)
	r.Post("/auth/login", hs.Auth.LoginUser)
	r.Post("/admin/login", hs.Auth.LoginAdmin)
	r.Post("/payment/callback", hs.Payment.Callback)

	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(authn))

		r.Post("/auth/logout", hs.Auth.Logout)
		r.Get("/ws/wallet", WalletSocket(hs.Hub))

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(auth.RoleUser))

			r.Get("/user/profile", hs.User.Profile)
			r.Get("/user/refresh", hs.Auth.Refresh)
			r.Get("/user/services", hs.User.Services)
			r.Get("/user/payment-history", hs.User.PaymentHistory)
			r.Get("/user/service-requests", hs.User.ServiceRequests)
			r.Post("/user/service-request", hs.Fulfillment.SubmitServiceRequest)

			r.Post("/dl/generate-pdf", hs.Fulfillment.GenerateLicensePDF)
			r.Get("/dl/user-pdfs", hs.User.LicensePDFs)
			r.Get("/dl/download-pdf/{pdfId}", hs.User.DownloadLicensePDF)

			r.Post("/llr/submit-exam", hs.Fulfillment.SubmitExam)
			r.Post("/llr/check-status", hs.Fulfillment.CheckExamStatus)
			r.Post("/llr/download-pdf", hs.User.DownloadExamPDF)
			r.Get("/llr/user-tokens", hs.User.ExamTokens)

			r.Post("/payment/create-order", hs.Payment.CreateOrder)
			r.Get("/payment/gateway-history", hs.Payment.History)
			r.Get("/payment/qr/{txnId}", hs.Payment.QRCode)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(auth.RoleAdmin))

			r.Post("/admin/create-user", hs.Admin.CreateUser)
			r.Put("/admin/toggle-user-status", hs.Admin.ToggleUserStatus)
			r.Put("/admin/set-service-price", hs.Admin.SetServicePrice)
			r.Put("/admin/update-wallet", hs.Admin.UpdateWallet)
			r.Get("/admin/user-service-prices/{userId}", hs.Admin.UserServicePrices)

			r.Get("/admin/services", hs.Admin.ListServices)
			r.Post("/admin/services", hs.Admin.CreateService)
			r.Put("/admin/services/{serviceId}", hs.Admin.UpdateService)
			r.Put("/admin/services/{serviceId}/toggle", hs.Admin.ToggleService)
			r.Delete("/admin/services/{serviceId}", hs.Admin.DeleteService)

			r.Put("/admin/service-request/{requestId}/respond", hs.Admin.RespondToRequest)
		})
	})

	return r
}
