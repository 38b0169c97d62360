package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apexdeliver/backend/internal/attribution"
	"github.com/apexdeliver/backend/internal/config"
	"github.com/apexdeliver/backend/internal/handler"
	"github.com/apexdeliver/backend/internal/logging"
	"github.com/apexdeliver/backend/internal/metrics"
	"github.com/apexdeliver/backend/internal/reporter"
	"github.com/apexdeliver/backend/internal/repository"
	"github.com/apexdeliver/backend/internal/service"
	"github.com/apexdeliver/backend/pkg/auth"
	"github.com/apexdeliver/backend/pkg/crm"
)

func main() {
	configPath := flag.String("config", "", "path to leads.yaml (default ./leads.yaml if present)")
	flag.Parse()

	logging.Setup()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal("load config failed", "error", err)
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid config", "error", err)
	}
	if !cfg.CRMConfigured() {
		// Submissions will fail with a configuration error until this is fixed.
		slog.Warn("GHL_API_KEY or GHL_LOCATION_ID not set; lead submissions are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		logging.Fatal("failed to open submission log", "driver", cfg.Database.Driver, "error", err)
	}
	defer repo.Close()

	m := metrics.New()

	crmClient := crm.NewClient(crm.Config{
		BaseURL:          cfg.CRM.BaseURL,
		APIKey:           cfg.CRM.APIKey,
		LocationID:       cfg.CRM.LocationID,
		Timeout:          cfg.CRM.Timeout,
		ConflictStatuses: cfg.CRM.ConflictStatuses,
		Transport:        m.InstrumentTransport(http.DefaultTransport),
	})
	leadService := service.NewLeadService(crmClient, repo, service.LeadServiceConfig{
		PolicyVersion:  cfg.Consent.PolicyVersion,
		UngatedSources: cfg.Consent.UngatedSources,
		Metrics:        m,
	})

	forms := reporter.NewRegistry(reporter.Config{
		RedirectPath:  cfg.Redirect.Path,
		RedirectDelay: cfg.Redirect.Delay,
	}, reporter.TimerScheduler{}, m.FormsTracked)
	go forms.Run(ctx, 5*time.Minute)

	limiter := handler.NewRateLimiter(cfg.Server.RateLimitPerMinute)
	go limiter.Run(ctx, 5*time.Minute)

	h := handler.New(repo, crmClient, cfg.Server.FrontendURL)
	leadHandler := handler.NewLeadHandler(leadService, attribution.NewCollector(), forms)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.Health)
	mux.Handle("GET /metrics", m.Handler())
	mux.Handle("POST /api/leads", limiter.Middleware(http.HandlerFunc(leadHandler.Submit)))

	// 管理 API（オペレーターのみ）
	sessionSecret := auth.SessionSecretBytes(cfg.Auth.SessionSecret)
	operatorOnly := func(next http.Handler) http.Handler {
		next = auth.OperatorMiddleware(cfg.Auth.Operators)(next)
		if cfg.Auth.Required {
			return auth.RequireAuth(sessionSecret)(next)
		}
		return auth.DevAuth(next)
	}
	mux.Handle("GET /api/admin/submissions", operatorOnly(http.HandlerFunc(leadHandler.AdminList)))
	mux.Handle("GET /api/admin/submissions/stats", operatorOnly(http.HandlerFunc(leadHandler.AdminStats)))
	mux.Handle("GET /api/admin/submissions/{id}", operatorOnly(http.HandlerFunc(leadHandler.AdminGet)))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.RequestLogger(handler.SecurityHeaders(h.CORS(mux))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// CRM calls may take up to the client timeout.
		WriteTimeout: cfg.CRM.Timeout + 10*time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", server.Addr, "db_driver", cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
