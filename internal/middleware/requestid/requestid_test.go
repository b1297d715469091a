package requestid

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"

	"linkdrop/internal/pkg/log"
)

func newRouter(seen *string, fromCtx *string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New())
	r.GET("/", func(c *gin.Context) {
		*seen = GetRequestID(c)
		*fromCtx = log.RequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestGeneratesRequestID(t *testing.T) {
	var seen, fromCtx string
	r := newRouter(&seen, &fromCtx)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Len(t, seen, 36)
	assert.Equal(t, seen, fromCtx)
	assert.Equal(t, seen, w.Header().Get(HeaderRequestID))
}

func TestReusesIncomingRequestID(t *testing.T) {
	var seen, fromCtx string
	r := newRouter(&seen, &fromCtx)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", fromCtx)
	assert.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))
}

func TestFallbackWhenUUIDFails(t *testing.T) {
	orig := newUUID
	newUUID = func() (uuid.UUID, error) { return uuid.Nil, errors.New("entropy exhausted") }
	t.Cleanup(func() { newUUID = orig })

	var seen, fromCtx string
	r := newRouter(&seen, &fromCtx)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	first := seen
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, strings.HasPrefix(first, "req-"), first)
	assert.NotEqual(t, uuid.Nil.String(), first)
	assert.NotEqual(t, first, seen)
	assert.Equal(t, first, w.Header().Get(HeaderRequestID))
}
