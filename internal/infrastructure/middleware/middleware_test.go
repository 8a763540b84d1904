package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/services"
	apperrors "spacecast/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	auth := services.NewAuthService("secret", time.Hour)
	router := gin.New()
	router.GET("/space",
		AuthMiddleware(auth),
		RequireRole(auth, services.RoleModerator),
		func(c *gin.Context) {
			claims, ok := Claims(c)
			require.True(t, ok)
			c.String(http.StatusOK, claims.Operator)
		},
	)

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/space", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/space", "garbage").Code)

	viewer, err := auth.GenerateToken("vic", services.RoleViewer)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodGet, "/space", viewer).Code)

	host, err := auth.GenerateToken("hana", services.RoleHost)
	require.NoError(t, err)
	w := serve(router, http.MethodGet, "/space", host)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hana", w.Body.String())
}

func TestErrorHandlerMiddleware_MapsAppErrors(t *testing.T) {
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/precondition", func(c *gin.Context) {
		err := apperrors.NewPreconditionError(domain.ErrNotInitialized, "approve speaker")
		_ = c.Error(fmt.Errorf("wrapped: %w", err))
	})
	router.GET("/plain", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("boom"))
	})

	w := serve(router, http.MethodGet, "/precondition", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"PRECONDITION"`)
	assert.Contains(t, w.Body.String(), "space not initialized")

	w = serve(router, http.MethodGet, "/plain", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestRecoveryMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RecoveryMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/panic", func(c *gin.Context) { panic("nope") })

	assert.Equal(t, http.StatusInternalServerError, serve(router, http.MethodGet, "/panic", "").Code)
}

type recordedRequest struct {
	method, path string
	status       int
}

type fakeHTTPMetrics struct {
	mu   sync.Mutex
	seen []recordedRequest
}

func (m *fakeHTTPMetrics) RecordHTTPRequest(method, path string, status int, _ time.Duration) {
	m.mu.Lock()
	m.seen = append(m.seen, recordedRequest{method, path, status})
	m.mu.Unlock()
}

func TestMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	metrics := &fakeHTTPMetrics{}
	router := gin.New()
	router.Use(MetricsMiddleware(metrics), TracingMiddleware())
	router.DELETE("/speakers/:user_id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	serve(router, http.MethodDelete, "/speakers/u1", "")
	serve(router, http.MethodGet, "/missing", "")

	assert.Equal(t, []recordedRequest{
		{http.MethodDelete, "/speakers/:user_id", http.StatusNoContent},
		{http.MethodGet, "unmatched", http.StatusNotFound},
	}, metrics.seen)
}
