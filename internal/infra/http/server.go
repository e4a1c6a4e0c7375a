package http

import (
	"context"
	"log"
	"net/http"

	"accesscontrol/internal/config"
	"accesscontrol/internal/domain"
	"accesscontrol/internal/infra/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RegistryReader is the read-only registry surface served over HTTP.
type RegistryReader interface {
	GetDeviceInfo(ctx context.Context, id domain.DeviceID) (domain.DeviceInfo, error)
	GetRevokedCount(ctx context.Context, id domain.DeviceID) (uint64, error)
	IsRevoked(ctx context.Context, id domain.DeviceID, fingerprint domain.Hash) (bool, error)
	TotalDevices(ctx context.Context) (uint64, error)
	Paused(ctx context.Context) (bool, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

type Server struct {
	cfg  config.Config
	r    *gin.Engine
	mode string

	registry RegistryReader
	events   domain.EventLog

	rateLimiter         RateLimiter
	rateLimitFailClosed bool
}

type ServerDeps struct {
	Registry    RegistryReader
	Events      domain.EventLog
	RateLimiter RateLimiter
	// Mode is reported by /healthz, e.g. "memory" or "postgres".
	Mode string
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		r:        r,
		mode:     deps.Mode,
		registry: deps.Registry,
		events:   deps.Events,
	}
	if s.mode == "" {
		s.mode = "memory"
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initRateLimit(override RateLimiter) {
	s.rateLimiter = override
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
	if s.rateLimiter != nil || s.cfg.RateLimitRequests <= 0 {
		return
	}
	policy := ratelimit.Policy{Limit: s.cfg.RateLimitRequests, Window: s.cfg.RateLimitWindow()}
	if s.cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		})
		limiter, err := ratelimit.NewRedis(client, policy, nil)
		if err == nil {
			s.rateLimiter = limiter
			return
		}
		log.Printf("redis rate limiter disabled: %v", err)
	}
	s.rateLimiter = ratelimit.NewMemory(policy, ratelimit.MemoryOptions{MaxKeys: s.cfg.RateLimitMaxKeys})
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": s.mode})
	})

	v1 := s.r.Group("/v1", s.enforceRateLimit)
	{
		v1.GET("/system", s.handleSystem)
		v1.GET("/devices/:device_id", s.handleDevice)
		v1.GET("/devices/:device_id/revoked-count", s.handleRevokedCount)
		v1.GET("/devices/:device_id/revocations/:fingerprint", s.handleIsRevoked)
		v1.GET("/events", s.handleEvents)
		v1.GET("/events/position", s.handlePosition)
		v1.GET("/events/stream", s.handleStream)
	}

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Handler() http.Handler {
	return s.r
}
