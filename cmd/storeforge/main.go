package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/oakmontlabs/storeforge/internal/adapter/content"
	"github.com/oakmontlabs/storeforge/internal/adapter/dispatch"
	"github.com/oakmontlabs/storeforge/internal/adapter/fsm"
	"github.com/oakmontlabs/storeforge/internal/adapter/handoff"
	"github.com/oakmontlabs/storeforge/internal/adapter/otel"
	"github.com/oakmontlabs/storeforge/internal/adapter/plan"
	"github.com/oakmontlabs/storeforge/internal/adapter/secret"
	"github.com/oakmontlabs/storeforge/internal/adapter/sqlite"
	"github.com/oakmontlabs/storeforge/internal/adapter/storefront"
	"github.com/oakmontlabs/storeforge/internal/adapter/token"
	"github.com/oakmontlabs/storeforge/internal/app"
	"github.com/oakmontlabs/storeforge/internal/config"
	"github.com/oakmontlabs/storeforge/internal/domain"

	handler "github.com/oakmontlabs/storeforge/internal/adapter/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// --- Observability ---
	providers, err := otel.Setup(ctx, otel.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	// --- Adapters (out) ---
	db, err := otel.OpenDB(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	cipher, err := secret.New(cfg.CredentialKey)
	if err != nil {
		return fmt.Errorf("credential cipher: %w", err)
	}

	repoImpl, err := sqlite.NewFromDB(db, cipher)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}

	var repo domain.JobRepository = otel.NewTracingRepository(repoImpl)

	plans := plan.New(cfg.PlanLimits, cfg.DefaultSiteLimit)
	handoffMgr := handoff.New(cfg.PartnerClientID, cfg.PartnerClientSecret)
	validator := fsm.New()
	populator := app.NewPopulator(repo, storefront.New(), content.New(), validator)

	taskIdentity := token.NewServiceIdentity(cfg.TaskTokenKey)

	// --- Task dispatch strategy ---
	var dispatcher domain.TaskDispatcher
	var riverClient *dispatch.Client

	switch cfg.DispatchMode {
	case config.DispatchQueued:
		worker := dispatch.NewPopulateWorker(cfg.TaskGatewayURL, taskIdentity)
		riverClient, err = dispatch.Setup(ctx, db, worker)
		if err != nil {
			return fmt.Errorf("river: %w", err)
		}
		dispatcher = dispatch.NewQueued(riverClient)
	default:
		dispatcher = dispatch.NewDirect(populator.Run)
	}
	dispatcher = otel.NewTracingDispatcher(dispatcher)

	// --- Application ---
	svc := app.NewJobService(repo, plans, handoffMgr, dispatcher, validator, cfg.EnforceCompanyQuota)

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(otelchi.Middleware("storeforge", otelchi.WithChiRoutes(router)))

	api := humachi.New(router, huma.DefaultConfig("storeforge", "0.1.0"))
	handler.Register(api, &handler.Handlers{
		Service:   svc,
		Populator: populator,
		Admission: token.NewSharedSecret(cfg.AdmissionSecret),
		Admin:     token.NewAdminVerifier(cfg.AdminTokenKey),
		Tasks:     taskIdentity,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if riverClient != nil {
		if err := riverClient.Start(ctx); err != nil {
			return fmt.Errorf("starting river: %w", err)
		}
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("storeforge listening", "port", cfg.Port, "dispatch_mode", cfg.DispatchMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-done:
	}

	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}

	if riverClient != nil {
		if err := riverClient.Stop(shutdownCtx); err != nil {
			slog.Error("river shutdown", "error", err)
		}
	}

	slog.Info("stopped")
	return nil
}
