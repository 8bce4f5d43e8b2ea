package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sokocart/sokocart/internal"
	"github.com/sokocart/sokocart/internal/analytics"
	analyticsstore "github.com/sokocart/sokocart/internal/analytics/postgres"
	"github.com/sokocart/sokocart/internal/auth"
	"github.com/sokocart/sokocart/internal/core/events"
	"github.com/sokocart/sokocart/internal/gateway"
	"github.com/sokocart/sokocart/internal/order"
	orderstore "github.com/sokocart/sokocart/internal/order/postgres"
	"github.com/sokocart/sokocart/internal/payment"
	paymentstore "github.com/sokocart/sokocart/internal/payment/postgres"
	"github.com/sokocart/sokocart/internal/product"
	productstore "github.com/sokocart/sokocart/internal/product/postgres"
	"github.com/sokocart/sokocart/internal/review"
	reviewstore "github.com/sokocart/sokocart/internal/review/postgres"
	"github.com/sokocart/sokocart/internal/transport/rest"
	"github.com/sokocart/sokocart/internal/transport/swagger"
	"github.com/sokocart/sokocart/pkg/logger"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config   *internal.Config
	DB       *sqlx.DB
	Gorm     *gorm.DB
	Router   *chi.Mux
	Logger   *slog.Logger
	Verifier *auth.Verifier
	EventBus *events.EventBus

	Payments  *payment.Service
	Orders    *order.Service
	Products  *product.Service
	Reviews   *review.Service
	Analytics *analytics.Service

	Handlers rest.Handlers
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	if err := swagger.ValidateSpec(context.Background(), "./api/openapi.yml"); err != nil {
		fmt.Fprintf(os.Stderr, "OpenAPI contract is broken: %v\n", err)
		os.Exit(1)
	}

	rest.RegisterAllRoutes(deps.Router, deps.DB.DB, deps.Verifier, deps.Handlers, deps.Logger)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			slog.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if config.Observability.Logging.Format == "json" {
		logger.Init("production")
	} else {
		logger.Init("development")
	}
	log := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	publicKey, err := config.Security.GetPublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to load token verification key: %w", err)
	}
	verifier := auth.NewVerifierFromKey(publicKey)

	eventBus := events.NewEventBus(log)

	card, mpesa := buildGateways(config, log)

	paymentRepo := paymentstore.NewPaymentRepository(gormDB)
	orderRepo := orderstore.NewOrderRepository(gormDB)
	productRepo := productstore.NewProductRepository(gormDB)
	reviewRepo := reviewstore.NewReviewRepository(gormDB)
	analyticsRepo := analyticsstore.NewAnalyticsRepository(gormDB)

	productService := product.NewService(productRepo, log)
	orderService := order.NewService(orderRepo, productService, eventBus, log)
	paymentService := payment.NewService(paymentRepo, card, mpesa, eventBus, log)
	reviewService := review.NewService(reviewRepo, productService, log)
	analyticsService := analytics.NewService(analyticsRepo, log)

	product.NewStockEventHandler(productService, log).RegisterEventHandlers(eventBus)

	handlers := rest.Handlers{
		Product:   product.NewHandler(productService, log),
		Order:     order.NewHandler(orderService, log),
		Payment:   payment.NewHandler(paymentService, log),
		Webhook:   payment.NewWebhookHandler(paymentService, log),
		Review:    review.NewHandler(reviewService, log),
		Analytics: analytics.NewHandler(analyticsService, log),
	}

	return &Dependencies{
		Config:    config,
		DB:        db,
		Gorm:      gormDB,
		Router:    chi.NewRouter(),
		Logger:    log,
		Verifier:  verifier,
		EventBus:  eventBus,
		Payments:  paymentService,
		Orders:    orderService,
		Products:  productService,
		Reviews:   reviewService,
		Analytics: analyticsService,
		Handlers:  handlers,
	}, nil
}

// buildGateways returns either the real provider clients or the deterministic
// stub, depending on configuration. The stub serves both rails.
func buildGateways(config *internal.Config, log *slog.Logger) (gateway.CardGateway, gateway.MobileMoneyGateway) {
	if config.Payment.UseStub {
		log.Warn("payment gateways running in stub mode; no real money moves")
		stub := gateway.NewStub()
		return stub, stub
	}

	card := gateway.NewCardClient(gateway.CardConfig{
		APIURL:        config.Payment.Card.APIURL,
		APIKey:        config.Payment.Card.APIKey,
		WebhookSecret: config.Payment.Card.WebhookSecret,
		Timeout:       config.Payment.GatewayTimeout,
	}, log)

	mpesa := gateway.NewMpesaClient(gateway.MpesaConfig{
		ConsumerKey:    config.Payment.Mpesa.ConsumerKey,
		ConsumerSecret: config.Payment.Mpesa.ConsumerSecret,
		Shortcode:      config.Payment.Mpesa.BusinessShortcode,
		Passkey:        config.Payment.Mpesa.Passkey,
		CallbackURL:    config.Payment.Mpesa.CallbackURL,
		BaseURL:        config.Payment.Mpesa.BaseURL(),
		Timeout:        config.Payment.GatewayTimeout,
	}, log)

	return card, mpesa
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
