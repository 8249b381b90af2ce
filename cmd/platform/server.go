package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clinicops/platform/internal/ehrsync"
	"github.com/clinicops/platform/internal/jobs"
	"github.com/clinicops/platform/internal/reconciliation"
	"github.com/clinicops/platform/internal/reminder"
	"github.com/clinicops/platform/internal/scenario"
	"github.com/clinicops/platform/internal/shared/auth"
	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/logging"
	"github.com/clinicops/platform/internal/shared/metrics"
	secmiddleware "github.com/clinicops/platform/internal/shared/middleware"
	"github.com/clinicops/platform/internal/shared/types"
	"github.com/clinicops/platform/internal/shared/upload"
)

func runServer(ctx context.Context, app *App) error {
	cfg := app.Config
	log := app.Logger

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Dispatch.RunInServer {
		ticker := jobs.NewTicker(cfg.Dispatch.TickInterval, log,
			jobs.Job{Name: "dispatch-reminders", Run: func(ctx context.Context) error {
				_, err := app.Dispatcher.Dispatch(ctx)
				return err
			}},
			jobs.Job{Name: "run-scenarios", Run: func(ctx context.Context) error {
				_, err := app.Runner.RunDue(ctx)
				return err
			}},
		)
		go ticker.Start(ctx)
		defer ticker.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("env", cfg.Server.Env).
			Bool("eventstore", app.Bus != nil).
			Bool("redis", app.Redis != nil).
			Bool("jobs", cfg.Dispatch.RunInServer).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

func (a *App) router() http.Handler {
	cfg := a.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(a.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)
	r.Use(secmiddleware.NewKeyedRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, nil).Middleware)
	r.Use(secmiddleware.MaxBody(upload.MaxSize + 1<<20))

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", a.readyHandler)
	r.Handle("/metrics", metrics.Handler())

	reminders := reminder.NewHandler(a.Reminders, a.Dispatcher)
	scenarios := scenario.NewHandler(a.Scenarios, a.Runner, a.Publisher, a.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		// Cron triggers
		r.Group(func(r chi.Router) {
			r.Use(auth.CronSecret(cfg.Auth.CronSecret))
			r.Mount("/reminders", reminders.DispatchRoutes())
			r.Mount("/scenario-runs", scenarios.RunRoutes())
		})

		// Staff API
		r.Group(func(r chi.Router) {
			if cfg.IsProduction() {
				r.Use(auth.Middleware(cfg.Auth))
			} else {
				r.Use(auth.DevTenant(types.ID(cfg.Auth.DevTenantID)))
			}
			r.Mount("/reminder-rules", reminders.Routes())
			r.Mount("/scenarios", scenarios.Routes())
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleOffice))
				r.Mount("/reconciliation", reconciliation.NewHandler(a.Reconciliation).Routes())
				r.Mount("/ehr", ehrsync.NewHandler(a.EHR).Routes())
			})
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"server": "ready",
	}

	if err := a.DB.Health(r.Context()); err != nil {
		checks["database"] = "not ready: " + err.Error()
	} else {
		checks["database"] = "ready"
	}

	if a.Bus != nil {
		if err := a.Bus.Health(r.Context()); err != nil {
			checks["eventstore"] = "not ready: " + err.Error()
		} else {
			checks["eventstore"] = "ready"
		}
	} else {
		checks["eventstore"] = "not configured"
	}

	if a.Redis != nil {
		if err := a.Redis.Ping(r.Context()).Err(); err != nil {
			checks["redis"] = "not ready: " + err.Error()
		} else {
			checks["redis"] = "ready"
		}
	} else {
		checks["redis"] = "not configured"
	}

	allReady := true
	for _, status := range checks {
		if status != "ready" && status != "not configured" {
			allReady = false
			break
		}
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	apperrors.WriteJSON(w, status, map[string]any{
		"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
		"checks": checks,
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-Tenant-ID, X-Cron-Secret")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
