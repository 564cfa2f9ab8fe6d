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
	"github.com/redis/go-redis/v9"

	"github.com/qrfeedback/platform/internal/admin"
	"github.com/qrfeedback/platform/internal/auth"
	"github.com/qrfeedback/platform/internal/config"
	"github.com/qrfeedback/platform/internal/feedback"
	"github.com/qrfeedback/platform/internal/guard"
	"github.com/qrfeedback/platform/internal/health"
	"github.com/qrfeedback/platform/internal/identity"
	"github.com/qrfeedback/platform/internal/lifecycle"
	"github.com/qrfeedback/platform/internal/logging"
	"github.com/qrfeedback/platform/internal/metrics"
	"github.com/qrfeedback/platform/internal/onboarding"
	"github.com/qrfeedback/platform/internal/plans"
	"github.com/qrfeedback/platform/internal/profile"
	"github.com/qrfeedback/platform/internal/ratelimit"
	"github.com/qrfeedback/platform/internal/security"
	"github.com/qrfeedback/platform/internal/tenant"
	"github.com/qrfeedback/platform/internal/traces"
	"github.com/qrfeedback/platform/internal/validation"
)

const providerTimeout = 10 * time.Second

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	version string

	db       *sql.DB       // nil if using in-memory
	redis    *redis.Client // nil without REDIS_URL
	provider identity.Provider

	profiles   profile.Store
	planStore  plans.Store
	planCache  *plans.CachedStore
	requests   onboarding.Store
	renewals   lifecycle.RenewalStore
	businesses tenant.Store
	feedback   feedback.Store

	catalog     *plans.Catalog
	resolver    *auth.Resolver
	tenants     *tenant.Service
	onboarding  *onboarding.Service
	lifecycle   *lifecycle.Service
	feedbackSvc *feedback.Service
	guard       *guard.Guard
	expiryTimer *lifecycle.ExpiryTimer
	health      *health.Registry

	rateLimiter     *ratelimit.Limiter
	authLimiter     *ratelimit.Limiter
	feedbackLimiter *ratelimit.Limiter

	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	traceShutdown func(context.Context) error

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

// WithVersion sets the version reported by /health
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithIdentityProvider sets a custom auth provider (for testing)
func WithIdentityProvider(p identity.Provider) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		version: "dev",
		logger:  logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	// Apply options first (may set provider/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("connected to postgres", "dsn", maskDSN(cfg.DatabaseURL))

		s.profiles = profile.NewPostgresStore(db)
		s.planStore = plans.NewPostgresStore(db)
		s.requests = onboarding.NewPostgresStore(db)
		s.renewals = lifecycle.NewPostgresRenewalStore(db)
		s.businesses = tenant.NewPostgresStore(db)
		s.feedback = feedback.NewPostgresStore(db)
	} else {
		s.logger.Warn("DATABASE_URL not set, using in-memory stores")

		s.profiles = profile.NewMemoryStore()
		s.planStore = plans.NewMemoryStore()
		s.requests = onboarding.NewMemoryStore()
		s.renewals = lifecycle.NewMemoryRenewalStore(s.profiles)
		s.businesses = tenant.NewMemoryStore()
		s.feedback = feedback.NewMemoryStore()
	}

	// Plan catalog cache
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.closeStores()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(redisOpts)
		s.planCache = plans.NewCachedStore(s.planStore, s.redis, cfg.PlanCacheTTL)
		s.planStore = s.planCache
		s.logger.Info("plan catalog cache enabled", "ttl", cfg.PlanCacheTTL.String())
	}

	// Auth provider
	if s.provider == nil {
		if cfg.AuthProviderURL != "" {
			s.provider = identity.NewHTTPProvider(cfg.AuthProviderURL, cfg.AuthServiceKey, providerTimeout)
			s.logger.Info("using hosted auth provider", "url", cfg.AuthProviderURL)
		} else {
			s.provider = identity.NewMemoryProvider()
			s.logger.Warn("AUTH_PROVIDER_URL not set, using in-memory auth provider")
		}
	}
	if err := s.seedDevelopment(ctx); err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to seed development data: %w", err)
	}

	// Tracing
	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.version, s.logger)
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.traceShutdown = shutdown

	// Services
	s.catalog = plans.NewCatalog(s.planStore)
	s.resolver = auth.NewResolver(s.provider, s.profiles)
	s.tenants = tenant.NewService(s.businesses, s.catalog, s.profiles)
	s.onboarding = onboarding.NewService(s.requests, s.provider, s.profiles, s.catalog)
	s.lifecycle = lifecycle.NewService(s.requests, s.renewals, s.profiles, s.provider, s.tenants, s.catalog)
	s.feedbackSvc = feedback.NewService(s.feedback, s.tenants)
	s.guard = guard.New(guard.DefaultRules())
	s.expiryTimer = lifecycle.NewExpiryTimer(s.profiles, cfg.ExpirySweepInterval, s.logger)

	// Health checks
	s.health = health.NewRegistry(3 * time.Second)
	if s.db != nil {
		s.health.RegisterPing("database", s.db.PingContext)
	}
	if s.planCache != nil {
		s.health.RegisterPing("redis", s.planCache.Ping)
	}
	s.health.RegisterPing("auth_provider", s.provider.Ping)

	// Setup router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// seedDevelopment gives the in-memory mode a usable catalog and, when
// DEV_ADMIN_EMAIL is set and the provider is in-memory, a superadmin account.
func (s *Server) seedDevelopment(ctx context.Context) error {
	if s.db == nil {
		if err := s.planStore.ApplyBatch(ctx, nil, developmentPlans()); err != nil {
			return err
		}
	}

	mem, ok := s.provider.(*identity.MemoryProvider)
	if !ok || s.cfg.DevAdminEmail == "" {
		return nil
	}
	user, err := mem.CreateUser(ctx, identity.CreateUserInput{
		Email:          s.cfg.DevAdminEmail,
		Password:       s.cfg.DevAdminPassword,
		FullName:       "Platform Admin",
		EmailConfirmed: true,
	})
	if err != nil {
		return err
	}
	if err := mem.SetAppRole(user.ID, string(profile.RoleSuperadmin)); err != nil {
		return err
	}
	s.logger.Info("seeded development superadmin", "email", user.Email, "user_id", user.ID)
	return nil
}

func developmentPlans() []*plans.Plan {
	return []*plans.Plan{
		{
			ID:            "plan_monthly",
			Name:          "Monthly",
			Price:         2500,
			Currency:      "DZD",
			BillingPeriod: plans.Monthly,
			Features:      map[string]bool{},
			Limits:        plans.Limits{MaxBusinesses: 1, MaxBranches: 1, MaxQRCodes: 5, MaxFeedbackMonthly: 500},
			IsActive:      true,
			SortOrder:     1,
		},
		{
			ID:            "plan_yearly",
			Name:          "Yearly",
			Price:         25000,
			Currency:      "DZD",
			BillingPeriod: plans.Yearly,
			Features:      map[string]bool{"analytics": true},
			Limits:        plans.Limits{MaxBusinesses: 3, MaxBranches: 5, MaxQRCodes: 50},
			IsActive:      true,
			SortOrder:     2,
		},
	}
}

func (s *Server) closeStores() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// maskDSN hides password in connection string for logging
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rl := ratelimit.DefaultConfig()
	rl.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rl)
	s.authLimiter = ratelimit.New(ratelimit.RegistrationConfig())
	s.feedbackLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: 20,
		BurstSize:         5,
		KeyFunc:           ratelimit.ByClientIP,
	})
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())

	// Identity, then the route guard
	s.router.Use(auth.Middleware(s.resolver, s.cfg.SessionCookie))
	s.router.Use(s.guard.Middleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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
		if p, ok := auth.GetPrincipal(c); ok {
			logger = logger.With("user_id", p.UserID)
		}

		// Log level based on status code
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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.health.Handler(s.version))
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	// Sessions, signup and guard decisions
	authGroup := v1.Group("/auth")
	auth.NewHandler(s.provider, s.resolver, s.profiles, s.cfg.SessionCookie, !s.cfg.IsDevelopment()).
		RegisterRoutes(authGroup)
	onboardingHandler := onboarding.NewHandler(s.onboarding)
	onboardingHandler.RegisterRoutes(authGroup, s.authLimiter.Middleware())
	s.guard.RegisterRoutes(authGroup)

	// Public: plan catalog, QR code lookup, feedback submission
	plansHandler := plans.NewHandler(s.catalog)
	plansHandler.RegisterRoutes(v1)
	tenantHandler := tenant.NewHandler(s.tenants)
	tenantHandler.RegisterPublicRoutes(v1)
	feedbackHandler := feedback.NewHandler(s.feedbackSvc)
	feedbackHandler.RegisterPublicRoutes(v1, s.feedbackLimiter.Middleware())

	// Owner dashboard
	owner := v1.Group("/owner", auth.RequireRole(profile.RoleOwner), auth.RequireActiveSubscription())
	tenantHandler.RegisterOwnerRoutes(owner)
	feedbackHandler.RegisterOwnerRoutes(owner)

	// Account pages stay reachable with an expired subscription
	lifecycleHandler := lifecycle.NewHandler(s.lifecycle)
	account := v1.Group("/account", auth.RequireAuth())
	lifecycleHandler.RegisterAccountRoutes(account)

	// Admin
	adminGroup := v1.Group("/admin", auth.RequireRole(profile.RoleAdmin, profile.RoleSuperadmin))
	plansHandler.RegisterAdminRoutes(adminGroup)
	onboardingHandler.RegisterAdminRoutes(adminGroup)
	lifecycleHandler.RegisterAdminRoutes(adminGroup)
	tenantHandler.RegisterAdminRoutes(adminGroup)
	adminHandler := admin.NewHandler(s.profiles, s.provider).WithExpirySweeper(s.expiryTimer)
	if s.planCache != nil {
		adminHandler = adminHandler.WithPlanCache(s.planCache)
	}
	adminHandler.RegisterRoutes(adminGroup)
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

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"postgres", s.db != nil,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start subscription expiry sweeper
	go s.expiryTimer.Start(runCtx)

	// Connection pool gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

	// Cancel the context for all background goroutines (sweeper, db stats)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.expiryTimer.Stop()
	s.logger.Info("expiry timer stopped")

	// Stop rate limiter cleanup goroutines
	for _, l := range []*ratelimit.Limiter{s.rateLimiter, s.authLimiter, s.feedbackLimiter} {
		if l != nil {
			l.Stop()
		}
	}
	s.logger.Info("rate limiters stopped")

	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	// Close database connection pool
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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
