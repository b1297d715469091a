package requestid

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"

	"linkdrop/internal/pkg/log"
)

const (
	// HeaderRequestID is the HTTP header name for request ID
	HeaderRequestID = "X-Request-ID"
	// ContextKeyRequestID is the key used to store request ID in gin context
	ContextKeyRequestID = "request_id"
)

var (
	newUUID  = uuid.NewV4
	fallback atomic.Uint64
)

// New creates a middleware that generates or reuses an X-Request-ID header.
// The ID is also attached to the request context for the log package.
func New() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" || len(requestID) > 128 {
			requestID = generate()
		}

		c.Set(ContextKeyRequestID, requestID)
		c.Request = c.Request.WithContext(log.WithRequestID(c.Request.Context(), requestID))
		c.Header(HeaderRequestID, requestID)

		c.Next()
	}
}

// generate returns a random UUID, or a process-unique "req-<unix nanos>-<seq>" id
// when the random source fails.
func generate() string {
	id, err := newUUID()
	if err == nil {
		return id.String()
	}
	log.Error("Failed to generate request ID: %v", err)
	return fmt.Sprintf("req-%d-%d", time.Now().UnixNano(), fallback.Add(1))
}

// GetRequestID retrieves the request ID from gin context
func GetRequestID(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}
