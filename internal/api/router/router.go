package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-whatsapp-ai/internal/http/middleware"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/messaging"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes unmounted.
type Config struct {
	Logger             *logging.Logger
	WhatsApp           *messaging.WebhookHandler
	Inbox              http.Handler
	Health             *handlers.HealthHandler
	AdminPauses        *handlers.AdminPausesHandler
	AdminTenants       *handlers.AdminTenantsHandler
	AdminReminders     *handlers.AdminRemindersHandler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	// WebhookRateLimit is requests per minute per client IP; 0 disables it.
	WebhookRateLimit int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealthHandler(nil)
	}
	r.Get("/health", health.Live)
	r.Get("/ready", health.Ready)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Channel webhooks
	r.Group(func(hooks chi.Router) {
		hooks.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit))
		if cfg.WhatsApp != nil {
			hooks.Get("/webhook", cfg.WhatsApp.Verify)
			hooks.Post("/webhook", cfg.WhatsApp.Receive)
		}
		if cfg.Inbox != nil {
			hooks.Post("/chatwoot", cfg.Inbox.ServeHTTP)
		}
	})

	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			if len(cfg.CORSAllowedOrigins) > 0 {
				admin.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
			}
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))

			if cfg.AdminPauses != nil {
				admin.Route("/pauses/{phone}", func(p chi.Router) {
					p.Get("/", cfg.AdminPauses.Get)
					p.Put("/", cfg.AdminPauses.Put)
					p.Delete("/", cfg.AdminPauses.Delete)
				})
			}
			if cfg.AdminTenants != nil {
				admin.Post("/tenants", cfg.AdminTenants.Upsert)
				admin.With(requireTenantID).Get("/tenants/{tenantID}", cfg.AdminTenants.Get)
			}
			if cfg.AdminReminders != nil {
				admin.Post("/reminders/run", cfg.AdminReminders.Run)
			}
		})
	}

	return r
}
