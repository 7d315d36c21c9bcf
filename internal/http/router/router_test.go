package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	apphttp "leadpipeline_backend/internal/http"
	"leadpipeline_backend/platform/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type routerConfig struct {
	secret string
}

func (routerConfig) GetHTTPAddr() string            { return ":0" }
func (routerConfig) GetCORSAllowAll() bool          { return false }
func (routerConfig) GetCORSOrigins() []string       { return []string{"http://localhost:4200"} }
func (routerConfig) GetCORSAllowCreds() bool        { return false }
func (c routerConfig) GetInternalJWTSecret() string { return c.secret }

type pingModule struct{}

func (pingModule) Name() string { return "ping" }

func (pingModule) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Internal.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	ctx.Webhooks.POST("/hook", func(c *gin.Context) { c.Status(http.StatusOK) })
}

type health struct{ err error }

func (h health) Ping(context.Context) error { return h.err }

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRouterMountsModuleGroups(t *testing.T) {
	engine := New(&apphttp.App{
		Config:  routerConfig{secret: "s3cret"},
		Logger:  logger.Discard(),
		Modules: []apphttp.Module{pingModule{}},
	})

	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/api/health").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(engine, http.MethodGet, "/api/v1/ping").Code)
	assert.Equal(t, http.StatusOK, serve(engine, http.MethodPost, "/api/v1/webhooks/hook").Code)

	rec := serve(engine, http.MethodGet, "/api/health")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestInternalRoutesOpenWithoutSecret(t *testing.T) {
	engine := New(&apphttp.App{
		Config:  routerConfig{},
		Logger:  logger.Discard(),
		Modules: []apphttp.Module{pingModule{}},
	})
	rec := serve(engine, http.MethodGet, "/api/v1/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestReadiness(t *testing.T) {
	up := New(&apphttp.App{Config: routerConfig{}, Logger: logger.Discard(), Health: health{}})
	assert.Equal(t, http.StatusOK, serve(up, http.MethodGet, "/api/ready").Code)

	down := New(&apphttp.App{Config: routerConfig{}, Logger: logger.Discard(), Health: health{err: errors.New("db down")}})
	assert.Equal(t, http.StatusServiceUnavailable, serve(down, http.MethodGet, "/api/ready").Code)
}
