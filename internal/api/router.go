package api

import (
	"net/http"
	"time"

	"wallet-referrals/internal/attribution"
	"wallet-referrals/internal/metrics"
	"wallet-referrals/internal/webhook"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Config зависимости HTTP роутера
type Config struct {
	Referrals       ReferralService
	Tracker         *attribution.Tracker
	Sessions        attribution.SessionResolver
	Webhooks        *webhook.Handler
	Metrics         *metrics.Handler
	RegistrationURL string
	Logger          *zap.Logger
}

// NewRouter собирает HTTP роутер сервиса
func NewRouter(cfg Config) http.Handler {
	if cfg.Sessions == nil {
		cfg.Sessions = attribution.HeaderSessionResolver{}
	}

	h := &handlers{
		referrals:       cfg.Referrals,
		sessions:        cfg.Sessions,
		registrationURL: cfg.RegistrationURL,
		logger:          cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)

	if cfg.Metrics != nil {
		r.Get("/health", cfg.Metrics.HealthHandler)
		r.Handle("/metrics", cfg.Metrics.MetricsHandler())
	}

	// Вебхуки сами проверяют метод и подпись
	if cfg.Webhooks != nil {
		r.HandleFunc("/hooks/registration", cfg.Webhooks.HandleRegistration)
		r.HandleFunc("/hooks/order-status", cfg.Webhooks.HandleOrderStatus)
	}

	r.Group(func(site chi.Router) {
		if cfg.Tracker != nil {
			site.Use(attribution.Middleware(cfg.Tracker, cfg.Sessions, cfg.Logger))
		}

		site.Get("/join", h.join)

		site.Route("/api", func(api chi.Router) {
			api.Route("/users/{id}", func(u chi.Router) {
				u.Use(h.userFromPath)
				h.mountReferralRoutes(u)
			})
			api.Route("/me", func(me chi.Router) {
				me.Use(h.userFromSession)
				h.mountReferralRoutes(me)
			})
		})
	})

	return r
}

func (h *handlers) mountReferralRoutes(r chi.Router) {
	r.Get("/referral-code", h.referralCode)
	r.Get("/referral-link", h.referralLink)
	r.Get("/referrer", h.referrer)
	r.Get("/referred", h.referred)
	r.Get("/stats", h.stats)
}

// requestLogger пишет в zap каждый обработанный запрос
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("HTTP запрос",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())))
		})
	}
}
