package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/appointment-scheduler/cmd/mainconfig"
	"github.com/wolfman30/appointment-scheduler/internal/api/router"
	"github.com/wolfman30/appointment-scheduler/internal/app/bootstrap"
	"github.com/wolfman30/appointment-scheduler/internal/appointments"
	"github.com/wolfman30/appointment-scheduler/internal/calendar"
	appconfig "github.com/wolfman30/appointment-scheduler/internal/config"
	"github.com/wolfman30/appointment-scheduler/internal/doctors"
	"github.com/wolfman30/appointment-scheduler/internal/http/handlers"
	"github.com/wolfman30/appointment-scheduler/internal/notify"
	"github.com/wolfman30/appointment-scheduler/internal/observability/metrics"
	"github.com/wolfman30/appointment-scheduler/internal/patients"
	"github.com/wolfman30/appointment-scheduler/internal/scheduling"
	"github.com/wolfman30/appointment-scheduler/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting appointment scheduler API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	var pool *pgxpool.Pool
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		p, err := bootstrap.BuildPostgresPool(ctx, cfg)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		pool = p
		defer pool.Close()
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	gateway, err := bootstrap.BuildCalendarGateway(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build calendar gateway", "error", err)
		os.Exit(1)
	}

	var awsCfg *aws.Config
	if strings.EqualFold(strings.TrimSpace(cfg.EmailProvider), "ses") {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
		} else {
			awsCfg = &loaded
		}
	}

	metricsHandler, schedulingMetrics := setupMetrics()
	stores := buildStores(pool)
	core, auth := buildCore(cfg, stores, coreDeps{
		Calendar: gateway,
		Locker:   bootstrap.BuildSlotLocker(cfg, redisClient, logger),
		Email:    bootstrap.BuildEmailSender(cfg, awsCfg, logger),
		Metrics:  schedulingMetrics,
		Logger:   logger,
	})

	// Setup router
	r := router.New(&router.Config{
		Logger:             logger,
		Scheduling:         handlers.NewSchedulingHandler(core, logger),
		Health:             handlers.NewHealthHandler(healthChecks(pool, redisClient)),
		MetricsHandler:     metricsHandler,
		TokenParser:        auth,
		CORSAllowedOrigins: cfg.CORSOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics registers the scheduling collectors on a private registry.
func setupMetrics() (http.Handler, *metrics.SchedulingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewSchedulingMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

type stores struct {
	Doctors      doctors.Repository
	Patients     patients.Repository
	Appointments appointments.Repository
}

// buildStores uses Postgres when a pool is available, memory otherwise.
func buildStores(pool *pgxpool.Pool) stores {
	if pool == nil {
		return stores{
			Doctors:      doctors.NewInMemoryRepository(),
			Patients:     patients.NewInMemoryRepository(),
			Appointments: appointments.NewInMemoryRepository(),
		}
	}
	return stores{
		Doctors:      doctors.NewPostgresRepository(pool),
		Patients:     patients.NewPostgresRepository(pool),
		Appointments: appointments.NewPostgresRepository(pool),
	}
}

type coreDeps struct {
	Calendar calendar.Gateway
	Locker   appointments.SlotLocker
	Email    notify.EmailSender
	Metrics  *metrics.SchedulingMetrics
	Logger   *logging.Logger
}

func buildCore(cfg *appconfig.Config, s stores, deps coreDeps) (*scheduling.Core, *doctors.Authenticator) {
	svc := appointments.NewService(appointments.Deps{
		Appointments: s.Appointments,
		Doctors:      s.Doctors,
		Patients:     s.Patients,
		Calendar:     deps.Calendar,
		Locker:       deps.Locker,
		Notifier:     notify.NewAppointmentNotifier(deps.Email, deps.Logger),
		Metrics:      deps.Metrics,
		Logger:       deps.Logger,
	}, appointments.Options{
		SlotDuration:   cfg.SlotDuration,
		GatewayTimeout: cfg.GatewayTimeout,
		StoreTimeout:   cfg.StoreTimeout,
		MaxWindow:      cfg.MaxSlotWindow,
	})
	schedule := doctors.NewScheduleManager(s.Doctors, deps.Calendar, deps.Metrics, deps.Logger, doctors.ScheduleOptions{
		Horizon:        cfg.FreeMarkerHorizon(),
		GatewayTimeout: cfg.GatewayTimeout,
		StoreTimeout:   cfg.StoreTimeout,
	})
	auth := doctors.NewAuthenticator(s.Doctors, cfg.JWTSecret, cfg.JWTTTL)
	return scheduling.NewCore(svc, schedule, auth, deps.Logger), auth
}

func healthChecks(pool *pgxpool.Pool, redisClient *redis.Client) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{}
	if pool != nil {
		checks["postgres"] = pool.Ping
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	return checks
}
