package httpapi

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// CronSecretHeader carries the shared trigger secret.
const CronSecretHeader = "X-Cron-Secret"

var (
	errUnauthorized   = errors.New("unauthorized")
	errNotConfigured  = errors.New("trigger secret not configured")
	errInternalServer = errors.New("internal server error")
)

// requireCronSecret guards trigger routes. Without a configured secret the
// routes stay closed unless insecure mode was switched on explicitly.
func requireCronSecret(secret string, allowInsecure bool, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			if !allowInsecure {
				log.Error("trigger rejected: no secret configured and insecure mode is off")
				abortError(c, http.StatusServiceUnavailable, "trigger_disabled", errNotConfigured)
				return
			}
			log.Warn("trigger secret not configured, accepting unauthenticated request", "path", c.FullPath())
			c.Next()
			return
		}

		got := c.GetHeader(CronSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			log.Warn("trigger rejected: bad secret", "path", c.FullPath(), "remote", c.ClientIP())
			abortError(c, http.StatusUnauthorized, "unauthorized", errUnauthorized)
			return
		}
		c.Next()
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func recovery(log *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		log.Error("http handler panicked", "path", c.Request.URL.Path, "panic", recovered)
		abortError(c, http.StatusInternalServerError, "internal", errInternalServer)
	})
}
