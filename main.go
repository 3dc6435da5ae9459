package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/username/brokerbridge/backend/src/capability"
	"github.com/username/brokerbridge/backend/src/config"
	"github.com/username/brokerbridge/backend/src/database"
	"github.com/username/brokerbridge/backend/src/handlers"
	"github.com/username/brokerbridge/backend/src/logger"
	"github.com/username/brokerbridge/backend/src/metrics"
	"github.com/username/brokerbridge/backend/src/security"
	"github.com/username/brokerbridge/backend/src/services"
	"github.com/username/brokerbridge/backend/src/snaptrade"
	"github.com/username/brokerbridge/backend/src/store"
	"github.com/username/brokerbridge/backend/src/utils"
	"github.com/username/brokerbridge/backend/src/webhook"
)

// unconfigured stands in for the upstream client when credentials are missing, so every
// data route fails with a resolution error instead of the process refusing to start.
type unconfigured struct{}

func (unconfigured) Targets() []capability.Target { return nil }

func openStore(cfg *config.AppConfig, auth *security.AuthService) (store.Store, error) {
	switch cfg.StoreDriver {
	case "http":
		logger.L.Info("Using remote document store", "baseURL", cfg.StoreBaseURL)
		return store.NewHTTPStore(store.HTTPStoreConfig{
			BaseURL:    cfg.StoreBaseURL,
			Timeout:    cfg.UpstreamTimeout,
			MaxRetries: cfg.UpstreamMaxRetries,
		}, auth.TokenSource(security.Issuer)), nil
	default:
		logger.L.Info("Initializing database...", "path", cfg.DatabasePath)
		db, err := database.InitDB(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		logger.L.Info("Database initialized successfully.")
		return store.NewSQLStore(db), nil
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}
	logger.InitLogger(cfg.LogLevel, cfg.LogFile)
	logger.L.Info("Brokerbridge server starting...", "env", cfg.AppEnv)

	m := metrics.New(prometheus.NewRegistry())

	authService := security.NewAuthService(cfg.StoreSigningKey, cfg.StoreTokenTTL)
	st, err := openStore(cfg, authService)
	if err != nil {
		logger.L.Error("Failed to initialize store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	var provider services.Provider = unconfigured{}
	client, err := snaptrade.NewClient(snaptrade.Config{
		BaseURL:     cfg.UpstreamBaseURL,
		ClientID:    cfg.SnapClientID,
		ConsumerKey: cfg.SnapConsumerKey,
		Timeout:     cfg.UpstreamTimeout,
		MaxRetries:  cfg.UpstreamMaxRetries,
	})
	if err != nil {
		logger.L.Error("Upstream client not configured, data routes will fail", "error", err)
	} else {
		provider = client
	}

	logger.L.Info("Initializing services and handlers...")
	resolver := capability.NewResolver(cfg.ResolverCacheTTL)
	brokerage := services.NewBrokerageService(provider, resolver, m, st, authService, cfg.LookbackWindow)
	notifier := services.NewNotifier(cfg)

	if cfg.WebhookInsecureSkipAuth && !cfg.SkipWebhookAuth() {
		logger.L.Warn("WEBHOOK_INSECURE_SKIP_AUTH ignored outside development")
	}
	authenticator := &webhook.Authenticator{
		ClientID:      cfg.SnapClientID,
		ConsumerKey:   cfg.SnapConsumerKey,
		SharedSecret:  cfg.WebhookSecret,
		SigningSecret: cfg.WebhookSigningSecret,
		InsecureSkip:  cfg.SkipWebhookAuth(),
	}
	ingestor := webhook.NewIngestor(st, notifier, m, cfg.IngestTimeout)

	brokerageHandler := handlers.NewBrokerageHandler(brokerage, cfg.SnapClientID != "", cfg.SnapConsumerKey != "")
	userHandler := handlers.NewUserHandler(brokerage)
	webhookHandler := handlers.NewWebhookHandler(authenticator, ingestor, m)

	logger.L.Info("Configuring routes...")
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/accounts", brokerageHandler.HandleAccounts)
	mux.HandleFunc("GET /api/holdings", brokerageHandler.HandleHoldings)
	mux.HandleFunc("GET /api/positions", brokerageHandler.HandleHoldings)
	mux.HandleFunc("GET /api/activities", brokerageHandler.HandleActivities)
	mux.HandleFunc("GET /api/transactions", brokerageHandler.HandleTransactions)
	mux.HandleFunc("GET /api/status", brokerageHandler.HandleStatus)
	mux.HandleFunc("GET /api/operations", brokerageHandler.HandleOperations)

	mux.HandleFunc("POST /api/register-user", userHandler.RegisterUserHandler)
	mux.HandleFunc("POST /api/login", userHandler.LoginUserHandler)

	mux.HandleFunc("/api/webhook", webhookHandler.HandleWebhook)
	mux.HandleFunc("/api/webhooks/snaptrade", webhookHandler.HandleSnapTradeWebhook)
	mux.HandleFunc("GET /api/webhooks/ping", webhookHandler.HandlePing)

	mux.Handle("GET /metrics", m.Handler())

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			logger.FromContext(r.Context()).Warn("Store ping failed", "error", err)
			utils.SendJSONError(w, "Store unavailable", http.StatusServiceUnavailable)
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Brokerbridge backend is running"})
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := handlers.Chain(mux,
		handlers.RequestIDMiddleware,
		handlers.LoggingMiddleware(mux, m),
		handlers.CORSMiddleware(cfg.AllowedOrigins),
		handlers.RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	serverAddr := ":" + cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.L.Info("Server starting", "address", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("Failed to start server", "error", err)
			stdlog.Fatalf("Failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.L.Info("Shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.L.Error("Graceful shutdown failed", "error", err)
	}
	logger.L.Info("Server stopped gracefully.")
}
