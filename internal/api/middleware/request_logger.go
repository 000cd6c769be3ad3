package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// pollPaths are hit by orchestrators and scrapers; they log at debug.
var pollPaths = map[string]bool{"/ping": true, "/healthz": true, "/metrics": true}

// RequestLogger tags each request with an X-Request-Id and logs it once done.
// Channel upgrades are skipped: the gateway logs each call when it ends.
func RequestLogger(l *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-Id", reqID)
		c.Set("request_id", reqID)

		c.Next()

		status := c.Writer.Status()
		if status == http.StatusSwitchingProtocols {
			return
		}

		fields := logrus.Fields{
			"request_id": reqID,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
		}
		// set by JWTAuth on the admin group
		if op := c.GetString("user_id"); op != "" {
			fields["operator"] = op
			fields["role"] = c.GetString("role")
		}
		entry := l.WithFields(fields)
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		case pollPaths[c.FullPath()]:
			entry.Debug("request")
		default:
			entry.Info("request")
		}
	}
}
