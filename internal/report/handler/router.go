package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stpericial/stpericial-backend/internal/auth"
	"github.com/stpericial/stpericial-backend/internal/auth/jwt"
	"github.com/stpericial/stpericial-backend/pkg/httputil"
	"github.com/stpericial/stpericial-backend/pkg/i18n"
	"github.com/stpericial/stpericial-backend/pkg/logger"
	"github.com/stpericial/stpericial-backend/pkg/permissions"
)

// HealthCheck reports the state of one dependency
type HealthCheck func(ctx context.Context) interface{}

// RouterConfig wires the report service's HTTP surface
type RouterConfig struct {
	Service     string
	Reports     *ReportHandler
	Tokens      *jwt.Manager
	CORSOrigins []string
	Health      map[string]HealthCheck
	Metrics     http.Handler
	Logger      *logger.Logger
}

// NewRouter builds the chi router of the report service
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(cfg.Logger))
	r.Use(httputil.Recoverer(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(i18n.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":  "healthy",
			"service": cfg.Service,
		}
		for name, check := range cfg.Health {
			body[name] = check(r.Context())
		}
		httputil.JSON(w, http.StatusOK, body)
	})

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metrics)

	h := cfg.Reports
	generate := auth.RequirePermission(permissions.ReportsGenerate)
	read := auth.RequirePermission(permissions.ReportsRead)
	export := auth.RequirePermission(permissions.ReportsExport)
	send := auth.RequirePermission(permissions.ReportsSend)
	verify := auth.RequirePermission(permissions.ReportsVerify)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Authenticate(cfg.Tokens, cfg.Logger))

		r.Route("/cases/{caseId}", func(r chi.Router) {
			r.With(generate).Post("/general-reports", h.GenerateGeneralReport)
			r.With(generate).Post("/expert-reports", h.GenerateExpertReports)
		})

		r.Route("/general-reports/{id}", func(r chi.Router) {
			r.With(read).Get("/", h.GetGeneralReport)
			r.With(export).Get("/pdf", h.ExportGeneralReport)
			r.With(send).Post("/email", h.SendGeneralReport)
			r.With(verify).Get("/verify", h.VerifyGeneralReport)
		})

		r.With(generate).Post("/expert-reports", h.CreateExpertReport)
		r.Route("/expert-reports/{id}", func(r chi.Router) {
			r.With(read).Get("/", h.GetExpertReport)
			r.With(export).Get("/pdf", h.ExportExpertReport)
			r.With(send).Post("/email", h.SendExpertReport)
			r.With(verify).Get("/verify", h.VerifyExpertReport)
		})
	})

	return r
}
