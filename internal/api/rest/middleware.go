package rest

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/authz-engine/tokenauth/internal/audit"
	"github.com/authz-engine/tokenauth/internal/auth"
	"github.com/authz-engine/tokenauth/internal/metrics"
)

// RequestIDHeader carries the request correlation id
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// requestID reuses the caller's X-Request-ID or assigns a new UUID
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(audit.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// requestLogger logs HTTP requests
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(requestIDKey)),
		)
	}
}

// recovery recovers from panics
func recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(requestIDKey)),
					zap.String("stack", string(debug.Stack())),
				)
				abortWithError(c, http.StatusInternalServerError, codeInternal, "internal server error")
			}
		}()
		c.Next()
	}
}

// authenticate runs the Gate. It never aborts; requireRoles decides.
func authenticate(gate *auth.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = gate.Authenticate(c.Request)
		c.Next()
	}
}

// requireRoles enforces a route requirement against the principal set by authenticate
func requireRoles(req auth.Requirement, m metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, _ := auth.PrincipalFromContext(c.Request.Context())
		decision := auth.Evaluate(principal, req)
		m.RecordAuthorization(decision.String())

		switch decision {
		case auth.Allow:
			c.Next()
		case auth.DenyUnauthenticated:
			c.Header("WWW-Authenticate", "Bearer")
			abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "authentication required")
		default:
			abortWithError(c, http.StatusForbidden, codeForbidden, "insufficient permissions")
		}
	}
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: message})
}
