package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-requests/internal/handler"
	"github.com/jwalitptl/clinic-requests/internal/handler/auth"
	"github.com/jwalitptl/clinic-requests/internal/handler/health"
	promHandler "github.com/jwalitptl/clinic-requests/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-requests/internal/middleware"
	"github.com/jwalitptl/clinic-requests/internal/session"
)

const basePath = "/api/v1"

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type RouterConfig struct {
	Mode          string
	RateLimit     rate.Limit
	RateBurst     int
	RateEnabled   bool
	CORSConfig    middleware.CORSConfig
	Security      middleware.SecurityConfig
	Session       middleware.SessionConfig
	MaxBodySize   int64
	Timeout       time.Duration
	MetricsPrefix string
}

type Router struct {
	engine    *gin.Engine
	config    RouterConfig
	sessions  *session.Manager
	handshake handler.Handshake
	healthH   *health.Handler
	authH     *auth.Handler
	gated     []Handler
	metrics   *promHandler.Handler
}

// NewRouter builds the engine and its global middleware chain. Handlers in
// gated only run for sessions with a resolved identity.
func NewRouter(
	sessions *session.Manager,
	healthH *health.Handler,
	authH *auth.Handler,
	gated []Handler,
	registry *prometheus.Registry,
	config RouterConfig,
) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	middleware.RegisterValidators()

	engine := gin.New()

	r := &Router{
		engine:    engine,
		config:    config,
		sessions:  sessions,
		handshake: handler.DefaultHandshake(basePath),
		healthH:   healthH,
		authH:     authH,
		gated:     gated,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		middleware.SecurityHeaders(config.Security),
		middleware.CORS(config.CORSConfig),
		middleware.NoStore(),
	)

	limits := middleware.DefaultSizeLimitConfig()
	if config.MaxBodySize > 0 {
		limits.MaxBodySize = config.MaxBodySize
	}
	engine.Use(middleware.SizeLimit(limits))

	timeout := middleware.DefaultTimeoutConfig()
	if config.Timeout > 0 {
		timeout.Duration = config.Timeout
	}
	engine.Use(middleware.Timeout(timeout))

	if registry != nil {
		r.metrics = promHandler.New(config.MetricsPrefix, registry)
		engine.Use(r.metrics.Middleware())
	}

	return r
}

func (r *Router) Setup() {
	if r.metrics != nil {
		r.engine.GET("/metrics", r.metrics.Handler())
	}

	api := r.engine.Group(basePath)

	// Probes stay outside the session chain.
	r.healthH.RegisterRoutes(api)

	api.Use(middleware.Session(r.sessions, r.config.Session))
	if r.config.RateEnabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.RateLimit,
			Burst: r.config.RateBurst,
		})
		api.Use(limiter.RateLimit())
	}

	requireIdentity := middleware.RequireIdentity(r.handshake)
	r.authH.RegisterRoutes(api, requireIdentity)

	protected := api.Group("")
	protected.Use(requireIdentity)
	for _, h := range r.gated {
		h.RegisterRoutes(protected)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
