// Package health exposes liveness and readiness probes over the
// service's backing dependencies.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orgware/orgware/internal/common/database"
)

// Checker probes one dependency.
type Checker struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// Status is the reported state of one dependency.
type Status struct {
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// Service runs dependency probes for the health endpoints.
type Service struct {
	checkers []Checker
	version  string
	started  time.Time
	logger   *zap.Logger
}

// NewService creates a health service.
func NewService(version string, logger *zap.Logger) *Service {
	return &Service{
		version: version,
		started: time.Now(),
		logger:  logger.With(zap.String("component", "health")),
	}
}

// Register adds a dependency checker.
func (s *Service) Register(c Checker) {
	s.checkers = append(s.checkers, c)
}

// RegisterPostgres adds a critical postgres probe.
func (s *Service) RegisterPostgres(db *database.PostgresDB) {
	s.Register(Checker{
		Name:     "postgres",
		Critical: true,
		Probe:    func(context.Context) error { return db.Ping() },
	})
}

// RegisterRedis adds a critical redis probe.
func (s *Service) RegisterRedis(r *database.RedisClient) {
	s.Register(Checker{
		Name:     "redis",
		Critical: true,
		Probe:    func(context.Context) error { return r.Ping() },
	})
}

// RegisterElasticsearch adds a non-critical elasticsearch probe; audit
// search degrades without it but the service keeps working.
func (s *Service) RegisterElasticsearch(es *database.ElasticsearchClient) {
	s.Register(Checker{
		Name:  "elasticsearch",
		Probe: func(context.Context) error { return es.Ping() },
	})
}

func (s *Service) run(ctx context.Context) (map[string]Status, bool) {
	results := make(map[string]Status, len(s.checkers))
	ready := true

	for _, c := range s.checkers {
		start := time.Now()
		err := c.Probe(ctx)
		status := Status{
			Status:    "up",
			LatencyMS: float64(time.Since(start).Microseconds()) / 1000.0,
		}
		if err != nil {
			status.Status = "down"
			status.Error = err.Error()
			if c.Critical {
				ready = false
			}
			s.logger.Warn("dependency check failed",
				zap.String("dependency", c.Name), zap.Error(err))
		}
		results[c.Name] = status
	}

	return results, ready
}

// LivenessHandler reports process liveness without touching dependencies.
func (s *Service) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": s.version,
			"uptime":  time.Since(s.started).Round(time.Second).String(),
		})
	}
}

// ReadinessHandler probes every registered dependency and reports 503
// when a critical one is down.
func (s *Service) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		results, ready := s.run(ctx)
		code := http.StatusOK
		status := "ready"
		if !ready {
			code = http.StatusServiceUnavailable
			status = "not ready"
		}

		c.JSON(code, gin.H{
			"status":     status,
			"components": results,
		})
	}
}
