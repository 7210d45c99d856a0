package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ginjaninja78/fatturapa-extractor/internal/logging"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestLogger logs one line per request. Bodies are never logged since
// uploads carry invoice data.
func RequestLogger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)

		c.Next()

		fields := []any{
			"request_id", id,
			logging.FieldMethod, c.Request.Method,
			logging.FieldPath, c.Request.URL.Path,
			logging.FieldStatus, c.Writer.Status(),
			logging.FieldDurationMS, time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logging.FieldError, c.Errors.String())
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Errorw("Request failed", fields...)
		case status >= 400:
			log.Warnw("Request rejected", fields...)
		default:
			log.Infow("Request served", fields...)
		}
	}
}

// RateLimit rejects requests beyond perMinute with 429. The budget is shared
// by all clients and refills continuously; perMinute <= 0 disables it.
func RateLimit(perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.Header("Retry-After", "60")
			respondWithError(c, http.StatusTooManyRequests, ErrRateLimited)
			return
		}
		c.Next()
	}
}
