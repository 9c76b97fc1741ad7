package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/timmy/catalogsync/internal/logger"
)

// RequestIDHeader carries the request id; an incoming value is reused.
const RequestIDHeader = "X-Request-ID"

const loggerKey = "logger"

// RequestLogger scopes a logger to each request, stores it in both the gin
// and request contexts, and logs one line when the handler returns.
// Server errors are logged at error level.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.GetDefault()
	}
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		reqLog := log.ForRequest(id)
		c.Request = c.Request.WithContext(reqLog.WithContext(c.Request.Context()))
		c.Set(loggerKey, reqLog)
		c.Header(RequestIDHeader, id)

		c.Next()

		target := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			target += "?" + q
		}
		entry := logger.With(logger.Fields{
			logger.FieldStatus: c.Writer.Status(),
			logger.FieldSize:   c.Writer.Size(),
			"client_ip":        c.ClientIP(),
		}).Since(start)
		ctx := c.Request.Context()
		if c.Writer.Status() >= 500 {
			entry.Error(ctx, "%s %s failed", c.Request.Method, target)
		} else {
			entry.Info(ctx, "%s %s", c.Request.Method, target)
		}
	}
}

// LoggerFrom returns the request-scoped logger, or the default one outside
// RequestLogger.
func LoggerFrom(c *gin.Context) *logger.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*logger.Logger); ok {
			return l
		}
	}
	return logger.FromContext(c.Request.Context())
}
