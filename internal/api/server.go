// Package api — HTTP API движка на chi.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"bintex.app/engine/internal/features/accounts"
	"bintex.app/engine/internal/features/bonus"
	"bintex.app/engine/internal/features/catalog"
	"bintex.app/engine/internal/features/purchase"
	"bintex.app/engine/internal/features/rewards"
	"bintex.app/engine/internal/features/wheel"
	"bintex.app/engine/internal/middleware"
)

// Services — операции движка, доступные через API.
// Bonuses и Wheel могут быть nil (функция выключена флагом).
type Services struct {
	Accounts  *accounts.Service
	Catalog   *catalog.Catalog
	Purchases *purchase.Service
	Rewards   *rewards.Service
	Bonuses   *bonus.Service
	Wheel     *wheel.Service
}

// Config — зависимости роутера.
type Config struct {
	Services       Services
	Authenticator  *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	Idempotency    *middleware.Idempotency
	AdminKeyHash   string
	MetricsHandler http.Handler
}

// Handler — обработчики API.
type Handler struct {
	svc Services
}

// NewRouter собирает маршруты.
func NewRouter(cfg Config) http.Handler {
	h := &Handler{svc: cfg.Services}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/packs", h.listPacks)
		if h.svc.Wheel != nil {
			v1.Get("/wheel", h.wheelTable)
		}

		v1.Group(func(pr chi.Router) {
			pr.Use(cfg.Authenticator.Middleware)
			if cfg.RateLimiter != nil {
				pr.Use(cfg.RateLimiter.Middleware)
			}

			pr.Post("/accounts", h.register)

			pr.Route("/me", func(me chi.Router) {
				me.Get("/", h.me)
				me.Get("/transactions", h.transactions)
				me.Post("/accruals", h.accrue)
				if h.svc.Bonuses != nil {
					me.Get("/network", h.network)
					me.Post("/bonuses", h.evaluateBonuses)
				}

				me.Group(func(idem chi.Router) {
					if cfg.Idempotency != nil {
						idem.Use(cfg.Idempotency.Middleware)
					}
					idem.Post("/purchases", h.purchase)
					idem.Post("/withdrawals", h.withdraw)
					if h.svc.Wheel != nil {
						idem.Post("/spins", h.spin)
					}
				})
			})
		})

		v1.Route("/admin", func(ar chi.Router) {
			ar.Use(middleware.AdminGuard(cfg.AdminKeyHash))
			if cfg.Idempotency != nil {
				ar.Use(cfg.Idempotency.Middleware)
			}
			ar.Post("/accounts/{id}/deposits", h.adminDeposit)
			if h.svc.Wheel != nil {
				ar.Post("/accounts/{id}/spins", h.adminGrantSpins)
			}
		})
	})

	return r
}
