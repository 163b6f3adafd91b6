package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func probeRouter(s *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", s.LivenessHandler())
	router.GET("/ready", s.ReadinessHandler())
	return router
}

func TestLivenessAlwaysOK(t *testing.T) {
	s := NewService("test", zap.NewNop())
	s.Register(Checker{
		Name:     "broken",
		Critical: true,
		Probe:    func(context.Context) error { return errors.New("down") },
	})

	w := httptest.NewRecorder()
	probeRouter(s).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessFailsOnCriticalDependency(t *testing.T) {
	s := NewService("test", zap.NewNop())
	s.Register(Checker{
		Name:     "postgres",
		Critical: true,
		Probe:    func(context.Context) error { return errors.New("connection refused") },
	})

	w := httptest.NewRecorder()
	probeRouter(s).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "not ready")
}

func TestReadinessToleratesNonCriticalFailure(t *testing.T) {
	s := NewService("test", zap.NewNop())
	s.Register(Checker{
		Name:  "elasticsearch",
		Probe: func(context.Context) error { return errors.New("unreachable") },
	})
	s.Register(Checker{
		Name:     "postgres",
		Critical: true,
		Probe:    func(context.Context) error { return nil },
	})

	w := httptest.NewRecorder()
	probeRouter(s).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "elasticsearch")
}
