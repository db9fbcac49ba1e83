package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"deposit-gateway/internal/core/domain"
	"deposit-gateway/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Identity headers, set by the edge proxy after it authenticates the
	// caller.
	HeaderUserID   = "x-user-id"
	HeaderUserRole = "x-user-role"

	// Context keys
	CtxIdentity  = "identity"
	CtxRequestID = "request_id"
)

// RequestID assigns each request a UUID for log and error correlation.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("x-request-id")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(CtxRequestID, id)
		c.Writer.Header().Set("x-request-id", id)
		c.Next()
	}
}

// Identity reads the caller identity headers. An unknown or missing role
// downgrades to user; a missing user id yields an anonymous identity that
// the services reject on protected operations.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		role := domain.Role(strings.TrimSpace(c.GetHeader(HeaderUserRole)))
		if role != domain.RoleAdmin {
			role = domain.RoleUser
		}
		c.Set(CtxIdentity, domain.Identity{UserID: userID, Role: role})
		c.Next()
	}
}

// CallerIdentity returns the identity placed by the Identity middleware.
func CallerIdentity(c *gin.Context) domain.Identity {
	if v, ok := c.Get(CtxIdentity); ok {
		if id, ok := v.(domain.Identity); ok {
			return id
		}
	}
	return domain.Identity{}
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString(CtxRequestID)).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   apperror.CodeInternal,
					"message": "Internal server error",
				})
			}
		}()
		c.Next()
	}
}

// MaxBodySize caps the request body; oversized payloads fail on read.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// Timeout bounds each request's context.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
