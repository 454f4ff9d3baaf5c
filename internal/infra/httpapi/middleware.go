package httpapi

import (
	"crypto/subtle"
	"net/http"
	"path"
	"strings"
	"time"

	"bloodwall/internal/infra/metrics"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	cronSecretHeader = "x-cron-secret"
	devKeyHeader     = "x-bw-dev-key"
	adminKeyHeader   = "x-admin-key"
	devTestKeyHeader = "x-dev-test-key"

	callerKey = "bloodwall.caller"
)

type caller int

const (
	callerNone caller = iota
	callerSecret
	callerDev
)

func (s *server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request failed.")
			return
		}
		entry.Debug("Request handled.")
	}
}

// countTriggers records every cron trigger, including rejected ones.
func countTriggers() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		status := "error"
		switch code := c.Writer.Status(); {
		case code < http.StatusBadRequest:
			status = "ok"
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			status = "rejected"
		}
		metrics.JobTriggers.WithLabelValues(path.Base(c.FullPath()), "http", status).Inc()
	}
}

// cronAuth accepts CRON_SECRET as a bearer token, header or query parameter, and API_DEV_KEY
// outside production.
func (s *server) cronAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		who := s.authenticate(c.Request)
		if who == callerNone {
			abort(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Set(callerKey, who)
		c.Next()
	}
}

func (s *server) authenticate(r *http.Request) caller {
	if secret := s.cfg.CronSecret; secret != "" {
		candidates := []string{
			bearerToken(r.Header.Get("Authorization")),
			r.Header.Get(cronSecretHeader),
			r.URL.Query().Get("secret"),
		}
		for _, got := range candidates {
			if secretsEqual(got, secret) {
				return callerSecret
			}
		}
	}
	if key := s.cfg.APIDevKey; key != "" && !s.cfg.IsProduction() && secretsEqual(r.Header.Get(devKeyHeader), key) {
		return callerDev
	}
	return callerNone
}

// readOnlyGate blocks triggers in maintenance mode. With READ_ONLY_BYPASS only secret holders pass.
func (s *server) readOnlyGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.ReadOnly {
			c.Next()
			return
		}
		if !s.cfg.ReadOnlyBypass {
			abort(c, http.StatusForbidden, "read_only")
			return
		}
		if who, _ := c.Get(callerKey); who != callerSecret {
			abort(c, http.StatusForbidden, "forbidden")
			return
		}
		c.Next()
	}
}

func (s *server) requireReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.ready(); err != nil {
			s.log.WithError(err).Error("Mail transport not ready; rejecting trigger.")
			abort(c, http.StatusInternalServerError, "internal_error")
			return
		}
		c.Next()
	}
}

// adminAuth requires x-admin-key to match ADMIN_KEY. Admin routes are closed when ADMIN_KEY is unset.
func (s *server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !secretsEqual(c.GetHeader(adminKeyHeader), s.cfg.AdminKey) {
			abort(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func secretsEqual(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func abort(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{"ok": false, "error": code})
}
