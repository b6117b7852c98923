package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/appointment-scheduler/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/appointment-scheduler/internal/http/middleware"
	"github.com/wolfman30/appointment-scheduler/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Scheduling         *handlers.SchedulingHandler
	Health             http.Handler
	MetricsHandler     http.Handler
	TokenParser        httpmiddleware.TokenParser
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealthHandler(nil)
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Handle("/health", health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.Scheduling == nil {
		return r
	}
	h := cfg.Scheduling

	r.Group(func(api chi.Router) {
		if cfg.RateLimitRPS > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		}

		api.Route("/patient", func(p chi.Router) {
			p.Get("/slots/{doctorID}", h.ListSlots)
			p.Post("/appointment/book", h.BookAppointment)
			p.Put("/appointment/{appointmentID}/reschedule", h.RescheduleAppointment)
			p.Delete("/appointment/{appointmentID}", h.CancelAppointment)
			p.Get("/{patientID}/cancellations", h.CancellationHistory)
		})

		api.Route("/doctor", func(d chi.Router) {
			d.Post("/login", h.DoctorLogin)
			// Doctors administer only their own schedule.
			d.Route("/{doctorID}", func(own chi.Router) {
				own.Use(httpmiddleware.DoctorJWT(cfg.TokenParser))
				own.Use(httpmiddleware.RequireOwnSchedule)
				own.Get("/schedule", h.GetSchedule)
				own.Get("/availability", h.GetAvailability)
				own.Post("/availability", h.SetAvailability)
				own.Post("/blocks", h.BlockTimeSlot)
				own.Get("/cancellation-policy", h.CancellationPolicy)
			})
		})
	})

	return r
}
