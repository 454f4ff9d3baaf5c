package httpapi

import (
	"errors"
	"net/http"

	"bloodwall/internal/app"
	"bloodwall/internal/domain/notification"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// jobHandler reads the trigger input and runs the job. GET requests run with dryRun set.
type jobHandler func(c *gin.Context, dryRun bool) (app.Summary, error)

type nightlyInput struct {
	Name      string                     `json:"name" form:"name"`
	To        string                     `json:"to" form:"to"`
	Items     []notification.PendingItem `json:"items" form:"-"`
	Team      bool                       `json:"team" form:"team"`
	CompanyID string                     `json:"companyId" form:"companyId"`
}

type teamInput struct {
	CompanyID string `json:"companyId" form:"companyId"`
}

type digestInput struct {
	To string `json:"to" form:"to"`
}

func (s *server) runJob(job notification.JobName, h jobHandler, dryRun bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := s.log.WithFields(logrus.Fields{"job": job, "dry_run": dryRun})

		sum, err := h(c, dryRun)
		if err != nil {
			log.WithError(err).Error("Job trigger failed.")
			body := gin.H{"ok": false, "error": "internal_error"}
			var batchErr *app.BatchError
			if errors.As(err, &batchErr) {
				// Sent recipients stay claimed; the summary tells the caller which ones to expect again.
				body["summary"] = sum
			}
			c.JSON(http.StatusInternalServerError, body)
			return
		}

		log.WithFields(logrus.Fields{"sent": sum.Sent, "skipped": sum.Skipped || sum.SkippedCount > 0}).Info("Job trigger handled.")
		c.JSON(http.StatusOK, gin.H{"ok": true, "summary": sum})
	}
}

func (s *server) nightlyReminders(c *gin.Context, dryRun bool) (app.Summary, error) {
	var in nightlyInput
	s.bindInput(c, dryRun, &in)

	if in.Team || in.CompanyID != "" {
		return s.notif.TeamNightlyReminders(c.Request.Context(), app.TeamRequest{CompanyID: in.CompanyID, DryRun: dryRun})
	}
	return s.notif.NightlyReminder(c.Request.Context(), app.NightlyRequest{
		Name:   in.Name,
		To:     in.To,
		Items:  in.Items,
		DryRun: dryRun,
	})
}

func (s *server) mamReminder(c *gin.Context, dryRun bool) (app.Summary, error) {
	var in teamInput
	s.bindInput(c, dryRun, &in)
	return s.notif.MAMReminder(c.Request.Context(), app.TeamRequest{CompanyID: in.CompanyID, DryRun: dryRun})
}

func (s *server) dailyDigest(c *gin.Context, dryRun bool) (app.Summary, error) {
	var in digestInput
	s.bindInput(c, dryRun, &in)
	return s.notif.DailyDigest(c.Request.Context(), app.DigestRequest{To: in.To, DryRun: dryRun})
}

// bindInput reads GET query parameters (dryRun) or a JSON body. Schedulers often post an empty
// or non-JSON body, so unreadable input is logged and treated as empty.
func (s *server) bindInput(c *gin.Context, dryRun bool, dst any) {
	var err error
	switch {
	case dryRun:
		err = c.ShouldBindQuery(dst)
	case c.Request.ContentLength != 0:
		err = c.ShouldBindJSON(dst)
	}
	if err != nil {
		s.log.WithError(err).Debug("Ignoring unreadable request input.")
	}
}
