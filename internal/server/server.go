// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbd888/assetmarket/internal/config"
	"github.com/mbd888/assetmarket/internal/escrow"
	"github.com/mbd888/assetmarket/internal/health"
	"github.com/mbd888/assetmarket/internal/listings"
	"github.com/mbd888/assetmarket/internal/logging"
	"github.com/mbd888/assetmarket/internal/notify"
	"github.com/mbd888/assetmarket/internal/offers"
	"github.com/mbd888/assetmarket/internal/payments"
	"github.com/mbd888/assetmarket/internal/portfolio"
	"github.com/mbd888/assetmarket/internal/realtime"
	"github.com/mbd888/assetmarket/internal/scheduler"
	"github.com/mbd888/assetmarket/internal/sla"
	"github.com/mbd888/assetmarket/internal/subscriptions"
	"github.com/mbd888/assetmarket/internal/sweep"
	"github.com/mbd888/assetmarket/internal/traces"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	notifySvc    *notify.Service
	listingSvc   *listings.Service
	offerSvc     *offers.Service
	escrowSvc    *escrow.Service
	subSvc       *subscriptions.Service
	slaSvc       *sla.Service
	portfolioSvc *portfolio.Service

	sched       *scheduler.Scheduler
	realtimeHub *realtime.Hub
	healthReg   *health.Registry

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	shutdownOtel func(context.Context) error
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}
	s.healthy.Store(true)

	for _, opt := range opts {
		opt(s)
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		listingStore      listings.Store
		offerStore        offers.Store
		escrowStore       escrow.Store
		subStore          subscriptions.Store
		ticketStore       sla.Store
		notifyStore       notify.Store
		portfolioStore    portfolio.Store
		portfolioHoldings portfolio.HoldingSource
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		listingStore = listings.NewPostgresStore(db)
		offerStore = offers.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		subStore = subscriptions.NewPostgresStore(db)
		ticketStore = sla.NewPostgresStore(db)
		notifyStore = notify.NewPostgresStore(db)
		pgPortfolio := portfolio.NewPostgresStore(db)
		portfolioStore = pgPortfolio
		portfolioHoldings = pgPortfolio
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		listingStore = listings.NewMemoryStore()
		offerStore = offers.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
		subStore = subscriptions.NewMemoryStore()
		ticketStore = sla.NewMemoryStore()
		notifyStore = notify.NewMemoryStore()
		memPortfolio := portfolio.NewMemoryStore()
		portfolioStore = memPortfolio
		portfolioHoldings = memPortfolio
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Payment gateway and billing processor (Stripe if configured,
	// auto-confirming demo implementations otherwise)
	var gateway payments.Gateway
	var billing payments.BillingProcessor
	if cfg.StripeAPIKey != "" {
		stripeGW, err := payments.NewStripeGateway(cfg.StripeAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to init stripe gateway: %w", err)
		}
		stripeBilling, err := payments.NewStripeBilling(cfg.StripeAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to init stripe billing: %w", err)
		}
		gateway = stripeGW
		billing = stripeBilling
		s.logger.Info("stripe payments enabled")
	} else {
		gateway = &demoGateway{}
		billing = &demoBilling{}
		s.logger.Info("demo payments enabled (all gateway calls auto-confirm)")
	}

	// Realtime push hub and persisted notifications
	s.realtimeHub = realtime.NewHub(s.logger)
	s.notifySvc = notify.NewService(notifyStore, s.logger).WithPusher(s.realtimeHub)

	// Domain services
	s.listingSvc = listings.NewService(listingStore, s.notifySvc, cfg.ListingFeePct, cfg.ListingMaxAge).
		WithFeeCollector(gateway)
	s.subSvc = subscriptions.NewService(subStore, billing, s.notifySvc)
	s.escrowSvc = escrow.NewService(escrowStore, gateway, &listingMarker{listings: s.listingSvc}, s.notifySvc,
		escrow.CommissionRates{Standard: cfg.CommissionPct, Premium: cfg.PremiumCommissionPct}).
		WithPlanChecker(s.subSvc)
	// Listings refuse to cancel or expire while an escrow is live.
	s.listingSvc.WithSaleGuard(s.escrowSvc)
	s.offerSvc = offers.NewService(offerStore, s.listingSvc, s.escrowSvc, s.notifySvc, cfg.OfferExpiryWarnWindow)
	s.slaSvc = sla.NewService(ticketStore, &staticAdminDirectory{ids: cfg.AdminAccountIDs}, s.notifySvc)
	s.portfolioSvc = portfolio.NewService(portfolioStore, portfolioHoldings)

	// Reconciliation jobs
	s.sched = scheduler.New(s.logger, nil)
	s.sched.Register("offer-expiry", cfg.OfferExpiryInterval, s.offerExpiryJob)
	s.sched.Register("listing-expiry", cfg.ListingExpiryInterval, s.listingSvc.ExpireSweep)
	s.sched.Register("portfolio-recalc", cfg.PortfolioRecalcInterval, s.portfolioSvc.RecalcSweep)
	s.sched.Register("subscription-reconcile", cfg.SubscriptionSyncInterval, s.subSvc.ReconcileSweep)
	s.sched.Register("sla-monitor", cfg.SLAMonitorInterval, s.slaSvc.MonitorSweep)

	// Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// offerExpiryJob runs the expiry transition and the expiring-soon warning
// pass on the same tick.
func (s *Server) offerExpiryJob(ctx context.Context, now time.Time) (*sweep.Result, error) {
	expired, err := s.offerSvc.ExpireSweep(ctx, now)
	if err != nil {
		return expired, err
	}
	warned, err := s.offerSvc.WarnExpiringSweep(ctx, now)
	if err != nil {
		return warned, err
	}
	combined := &sweep.Result{
		Processed: expired.Processed + warned.Processed,
		Skipped:   expired.Skipped + warned.Skipped,
		Failures:  append(expired.Failures, warned.Failures...),
	}
	return combined, nil
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// accountAuthMiddleware resolves the acting account for protected routes.
// The identity layer in front of this service sets X-Account-ID after
// verifying credentials; a missing header means an unauthenticated call.
func (s *Server) accountAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetHeader("X-Account-ID")
		if accountID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "X-Account-ID header is required",
			})
			return
		}
		c.Set("authAccountID", accountID)
		c.Next()
	}
}

// adminAuthMiddleware guards approval, arbitration and scheduler routes.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" || c.GetHeader("X-Admin-Secret") != s.cfg.AdminSecret {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin credentials required",
			})
			return
		}
		accountID := c.GetHeader("X-Account-ID")
		if accountID == "" {
			accountID = "admin"
		}
		c.Set("authAccountID", accountID)
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket for notification push
	s.router.GET("/ws", func(c *gin.Context) {
		accountID := c.Query("account_id")
		if accountID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "account_id query parameter is required",
			})
			return
		}
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request, accountID)
	})

	listingHandler := listings.NewHandler(s.listingSvc)
	offerHandler := offers.NewHandler(s.offerSvc)
	escrowHandler := escrow.NewHandler(s.escrowSvc)
	subHandler := subscriptions.NewHandler(s.subSvc)
	ticketHandler := sla.NewHandler(s.slaSvc)
	notifyHandler := notify.NewHandler(s.notifySvc)
	jobHandler := scheduler.NewHandler(s.sched)

	v1 := s.router.Group("/v1")

	// PUBLIC ROUTES (browse the marketplace)
	listingHandler.RegisterRoutes(v1)

	// PROTECTED ROUTES (acting account required)
	protected := v1.Group("")
	protected.Use(s.accountAuthMiddleware())
	{
		listingHandler.RegisterProtectedRoutes(protected)
		offerHandler.RegisterProtectedRoutes(protected)
		escrowHandler.RegisterProtectedRoutes(protected)
		subHandler.RegisterProtectedRoutes(protected)
		ticketHandler.RegisterProtectedRoutes(protected)
		notifyHandler.RegisterProtectedRoutes(protected)
		protected.GET("/portfolio", s.getPortfolio)
	}

	// ADMIN ROUTES (approval, arbitration, support, job control)
	admin := v1.Group("/admin")
	admin.Use(s.adminAuthMiddleware())
	{
		listingHandler.RegisterAdminRoutes(admin)
		escrowHandler.RegisterAdminRoutes(admin)
		ticketHandler.RegisterAdminRoutes(admin)
		jobHandler.RegisterAdminRoutes(admin)
	}
}

func (s *Server) getPortfolio(c *gin.Context) {
	snap, err := s.portfolioSvc.Get(c.Request.Context(), c.GetString("authAccountID"))
	if err != nil {
		if errors.Is(err, portfolio.ErrPortfolioNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Portfolio not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load portfolio",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolio": snap})
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownOtel, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to init tracing", "error", err)
	} else {
		s.shutdownOtel = shutdownOtel
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	s.sched.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, scheduler)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	s.sched.Stop()

	if s.shutdownOtel != nil {
		if err := s.shutdownOtel(ctx); err != nil {
			s.logger.Warn("tracing shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
