package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bonsaipay/internal/config"
	"bonsaipay/internal/domain"
	"bonsaipay/internal/infra/db"
	"bonsaipay/internal/infra/metrics"
	"bonsaipay/internal/infra/ratelimit"
	"bonsaipay/internal/usecase"
)

// Pipeline is the set of request flows the server exposes.
type Pipeline interface {
	Deploy(ctx context.Context, token string) (domain.ActionResult, error)
	Execute(ctx context.Context, token string, params usecase.ExecuteParams) (domain.ActionResult, error)
	Claim(ctx context.Context, token string) (domain.ActionResult, error)
	ExecuteCall(ctx context.Context, token string, dest common.Address) (domain.ActionResult, error)
	Account(ctx context.Context, token string) (domain.AccountRecord, error)
}

type Server struct {
	cfg    config.Config
	store  *db.Store
	r      *gin.Engine
	logger *zap.Logger

	pipeline   Pipeline
	metrics    *metrics.Collectors
	queueDepth func() int

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

type ServerDeps struct {
	Pipeline    Pipeline
	Store       *db.Store
	Metrics     *metrics.Collectors
	RateLimiter domain.RateLimiter
	QueueDepth  func() int
	Logger      *zap.Logger
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	s := &Server{
		cfg:        cfg,
		store:      deps.Store,
		r:          r,
		logger:     logger,
		pipeline:   deps.Pipeline,
		metrics:    deps.Metrics,
		queueDepth: deps.QueueDepth,
	}
	s.initRateLimit(deps.RateLimiter)

	r.Use(s.recovery(), s.requestID(), s.accessLog(), s.observe(), corsMiddleware())
	s.routes()
	return s
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil)
			if err == nil {
				s.rateLimiter = limiter
			} else {
				s.logger.Warn("redis rate limiter unavailable; using memory", zap.Error(err))
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = time.Minute
	if s.cfg.RateLimitWindowSeconds > 0 {
		s.rateLimitWindow = time.Duration(s.cfg.RateLimitWindowSeconds) * time.Second
	}
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	s.r.GET("/deploy", s.rateLimited(routeDeploy), s.handleDeploy)
	s.r.GET("/execute", s.rateLimited(routeExecute), s.handleExecute)
	s.r.GET("/claim", s.rateLimited(routeClaim), s.handleClaim)
	s.r.GET("/execute-call", s.rateLimited(routeExecuteCall), s.handleExecuteCall)
	s.r.GET("/account", s.rateLimited(routeAccount), s.handleAccount)

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Handler() http.Handler {
	return s.r
}

// HTTPServer returns a server bound to the configured address. Request
// handlers can run for as long as a proof takes, so only header reads are
// time bounded.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Close releases the rate limiter backend, if it holds one.
func (s *Server) Close() error {
	if c, ok := s.rateLimiter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
