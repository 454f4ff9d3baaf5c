// Package httpapi exposes the job triggers and operator endpoints over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"bloodwall/internal/app"
	"bloodwall/internal/domain/notification"
	"bloodwall/internal/infra/config"
	"bloodwall/internal/infra/magiclink"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// TokenVerifier checks magic-link tokens.
type TokenVerifier interface {
	Verify(token, email string) (*magiclink.Claims, error)
}

// Deps are the collaborators the router needs. Config is read at construction so tests can
// vary READ_ONLY and friends per case.
type Deps struct {
	Config        *config.AppConfig
	Notifications app.NotificationService
	Admin         *app.AdminService
	Tokens        TokenVerifier
	Ready         func() error // mail transport readiness
	Logger        *logrus.Entry
	Now           func() time.Time
}

type server struct {
	cfg    *config.AppConfig
	notif  app.NotificationService
	admin  *app.AdminService
	tokens TokenVerifier
	ready  func() error
	log    *logrus.Entry
	now    func() time.Time
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	s := &server{
		cfg:    d.Config,
		notif:  d.Notifications,
		admin:  d.Admin,
		tokens: d.Tokens,
		ready:  d.Ready,
		log:    d.Logger,
		now:    d.Now,
	}
	if s.ready == nil {
		s.ready = func() error { return nil }
	}
	if s.now == nil {
		s.now = time.Now
	}

	if d.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"ok": false, "error": "method_not_allowed"})
	})

	api := r.Group("/api")
	{
		api.GET("/health", s.health)

		cron := api.Group("/cron")
		cron.Use(countTriggers(), s.cronAuth(), s.readOnlyGate(), s.requireReady())
		{
			s.trigger(cron, notification.JobNightlyReminders, s.nightlyReminders)
			s.trigger(cron, notification.JobMAMReminder, s.mamReminder)
			s.trigger(cron, notification.JobDailyDigest, s.dailyDigest)
		}

		admin := api.Group("/admin")
		admin.Use(s.adminAuth())
		{
			admin.GET("/health", s.adminHealth)
			admin.GET("/claims", s.listClaims)
			admin.DELETE("/claims", s.releaseClaim)
		}

		api.POST("/dev/test-email", s.devTestEmail)
	}

	r.GET("/auth/magic", s.verifyMagicLink)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// trigger registers POST (real run) and GET (dry-run) for a job.
func (s *server) trigger(g *gin.RouterGroup, job notification.JobName, h jobHandler) {
	path := "/" + string(job)
	g.POST(path, s.runJob(job, h, false))
	g.GET(path, s.runJob(job, h, true))
}
