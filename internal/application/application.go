package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lomito/escalation-service/internal/config"
	"github.com/lomito/escalation-service/internal/database"
	"github.com/lomito/escalation-service/internal/errs"
	"github.com/lomito/escalation-service/internal/handler"
	"github.com/lomito/escalation-service/internal/router"
	"github.com/lomito/escalation-service/internal/service"
	"github.com/rs/zerolog"
)

// API is the HTTP service (api mode) plus the optional in-process sweep scheduler.
type API struct {
	cfg     *config.Config
	log     zerolog.Logger
	comps   *Components
	httpSrv *http.Server
}

// NewAPI validates config, applies migrations and wires the HTTP server.
func NewAPI(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(ctx, cfg.DatabaseURL(), log); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	comps, err := Build(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	h := router.New(router.Handlers{
		Escalation:   handler.NewEscalationHandler(comps.Escalation, comps.Reminder, comps.Actors, log),
		Inbound:      handler.NewInboundHandler(comps.Inbound, comps.Verifier, log),
		Notification: handler.NewNotificationHandler(comps.Notification, log),
		DB:           comps.Store,
		Gatherer:     comps.Registry,
	}, cfg.CORSAllowedOrigins)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	return &API{cfg: cfg, log: log, comps: comps, httpSrv: httpSrv}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	base := "http://" + a.httpSrv.Addr
	a.log.Info().
		Str("addr", a.httpSrv.Addr).
		Str("swagger", base+"/swagger").
		Str("api", base+"/api/v1/").
		Msg("http server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if a.cfg.SweepInterval > 0 {
		go runScheduler(ctx, a.cfg.SweepInterval, a.comps.Reminder, a.log)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	a.comps.Close(a.log)
	return runErr
}

// Sweeper runs one reminder sweep.
type Sweeper interface {
	RunSweep(ctx context.Context) (*service.SweepResult, error)
}

// runScheduler sweeps on every tick. Ticks that find another sweep running are skipped.
func runScheduler(ctx context.Context, interval time.Duration, s Sweeper, log zerolog.Logger) {
	log = log.With().Str("component", "scheduler").Logger()
	log.Info().Dur("interval", interval).Msg("sweep scheduler started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweep scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunSweep(ctx); err != nil {
				if errors.Is(err, errs.ErrSweepInProgress) {
					log.Debug().Msg("sweep already running elsewhere, tick skipped")
					continue
				}
				log.Error().Err(err).Msg("scheduled sweep failed")
			}
		}
	}
}

// RunSweepOnce wires the services and runs a single sweep (sweep command).
func RunSweepOnce(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*service.SweepResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	comps, err := Build(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	defer comps.Close(log)
	return comps.Reminder.RunSweep(ctx)
}
