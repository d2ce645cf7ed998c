// Package api exposes the contest, catalog and payment services over a JSON
// HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/handlers"

	"github.com/abelbrown/contestare/internal/audit"
	"github.com/abelbrown/contestare/internal/auth"
	"github.com/abelbrown/contestare/internal/catalog"
	"github.com/abelbrown/contestare/internal/config"
	"github.com/abelbrown/contestare/internal/contest"
	"github.com/abelbrown/contestare/internal/logging"
	"github.com/abelbrown/contestare/internal/metrics"
	"github.com/abelbrown/contestare/internal/payment"
	"github.com/abelbrown/contestare/internal/store"
)

// Services bundles the domain services the handlers call.
type Services struct {
	Auth    *auth.Service
	Contest *contest.Service
	Catalog *catalog.Service
	Payment *payment.Service
}

// Server is the HTTP front end.
type Server struct {
	store    *store.Store
	svc      Services
	cfg      config.ServerConfig
	session  config.SessionConfig
	router   *gin.Engine
	limiter  *ipLimiter
	metrics  *metrics.Metrics
	audit    *audit.Logger
	ring     *audit.RingBuffer
	started  time.Time
	sessions time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request metrics and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAudit attaches the audit logger and the ring buffer read by the debug
// endpoints.
func WithAudit(l *audit.Logger, rb *audit.RingBuffer) Option {
	return func(s *Server) {
		s.audit = l
		s.ring = rb
	}
}

// WithRateLimit throttles the register and login endpoints per client IP.
func WithRateLimit(rl config.RateLimitConfig) Option {
	return func(s *Server) { s.limiter = newIPLimiter(rl.AuthPerMinute, rl.Burst) }
}

// WithSession sets the cookie name, lifetime and secure flag.
func WithSession(sc config.SessionConfig) Option {
	return func(s *Server) {
		s.session = sc
		if sc.TTL > 0 {
			s.sessions = sc.TTL.Std()
		}
	}
}

// New builds the router.
func New(st *store.Store, svc Services, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		store:    st,
		svc:      svc,
		cfg:      cfg,
		session:  config.SessionConfig{CookieName: defaultCookie},
		sessions: auth.DefaultSessionTTL,
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.session.CookieName == "" {
		s.session.CookieName = defaultCookie
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.observe())
	s.router = router
	s.routes()
	return s
}

const defaultCookie = "contestare_session"

func (s *Server) routes() {
	r := s.router
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/pricing", s.handlePricing)

	authAPI := api.Group("/auth")
	{
		authAPI.POST("/register", s.rateLimit(), s.handleRegister)
		authAPI.POST("/login", s.rateLimit(), s.handleLogin)
		authAPI.POST("/logout", s.handleLogout)
		authAPI.GET("/me", s.requireAuth(), s.handleMe)
		authAPI.PUT("/profile", s.requireAuth(), s.handleUpdateProfile)
	}

	// Public catalog
	api.GET("/contracts", s.handleListContracts)
	api.GET("/contracts/:id", s.handleGetContract)
	api.GET("/categories", s.handleCategories)
	api.GET("/popular", s.handlePopular)

	authed := api.Group("", s.requireAuth())
	{
		authed.POST("/infractions", s.handleCreateInfraction)
		authed.GET("/infractions", s.handleListInfractions)
		authed.GET("/infractions/:id", s.handleGetInfraction)
		authed.POST("/infractions/:id/analyze", s.handleAnalyzeInfraction)
		authed.POST("/infractions/:id/contest", s.handleContestInfraction)
		authed.GET("/infractions/:id/document", s.handleInfractionDocument)

		authed.POST("/contracts/:id/purchase", s.handlePurchaseContract)
		authed.GET("/my-contracts", s.handleMyContracts)
		authed.GET("/my-contracts/:id", s.handleMyContract)
		authed.PUT("/my-contracts/:id/customize", s.handleCustomizeContract)
		authed.POST("/my-contracts/:id/download", s.handleDownloadContract)

		authed.POST("/payment/pix", s.handlePixPayment)
		authed.POST("/payment/card", s.handleCardPayment)
		authed.POST("/payment/simulate", s.handleSimulatePayment)
		authed.GET("/payments", s.handleListPayments)
		authed.GET("/payments/:id", s.handleGetPayment)
		authed.GET("/subscription", s.handleSubscription)
		authed.POST("/subscription/cancel", s.handleCancelSubscription)
	}

	if s.cfg.DebugEndpoints {
		debug := api.Group("/debug")
		debug.GET("/events", s.handleDebugEvents)
		debug.GET("/events/stats", s.handleDebugStats)
	}
}

// Handler returns the router wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	opts := []handlers.CORSOption{
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	}
	// Browsers refuse credentials with a wildcard origin.
	if !(len(origins) == 1 && origins[0] == "*") {
		opts = append(opts, handlers.AllowCredentials())
	}
	return handlers.CORS(opts...)(s.router)
}

// Run serves on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout.Std(),
		WriteTimeout: s.cfg.WriteTimeout.Std(),
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logging.Info("HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
