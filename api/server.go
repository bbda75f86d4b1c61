/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/loans/*          Loan servicing
  /api/scenarios/*      Demo scenarios
  /*                    Landing page

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/loans", func(r chi.Router) {
			r.Get("/", h.ListLoans)
			r.Post("/", h.SubmitLoan)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetLoan)
				r.Get("/schedule", h.GetSchedule)
				r.Get("/transactions", h.GetTransactions)
				r.Get("/charges", h.GetCharges)
				r.Get("/journal", h.GetJournal)
				r.Get("/quote", h.GetQuote)

				r.Post("/approve", h.ApproveLoan)
				r.Post("/undo-approval", h.UndoApproval)
				r.Post("/disburse", h.Disburse)
				r.Post("/repayments", h.MakeRepayment)

				r.Post("/charges", h.AddCharge)
				r.Route("/charges/{chargeID}", func(r chi.Router) {
					r.Put("/", h.UpdateCharge)
					r.Delete("/", h.DeleteCharge)
					r.Post("/pay", h.PayCharge)
					r.Post("/waive", h.WaiveCharge)
					r.Post("/undo-waive", h.UndoWaiveCharge)
					r.Post("/adjust", h.AdjustCharge)
				})

				r.Post("/charge-off", h.ChargeOff)
				r.Post("/undo-charge-off", h.UndoChargeOff)
				r.Post("/foreclose", h.Foreclose)
				r.Post("/refund", h.Refund)
				r.Post("/accrual", h.RunAccrual)

				r.Post("/transactions/{txID}/reverse", h.ReverseTransaction)
			})
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	// Landing page
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Loan Servicing Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Loan Servicing Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/loans">/api/loans</a> - List loans</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List demo scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
