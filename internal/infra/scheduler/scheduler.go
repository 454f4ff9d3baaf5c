package scheduler

import (
	"context"
	"fmt"
	"time"

	"bloodwall/internal/app" // For NotificationService interface
	"bloodwall/internal/domain/notification"
	"bloodwall/internal/infra/metrics"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	reminderJobTimeout = 5 * time.Minute // team-wide batches
	digestJobTimeout   = 1 * time.Minute
)

// Specs holds the cron expressions for each job. An empty spec disables that job.
type Specs struct {
	Nightly string
	MAM     string
	Digest  string
}

// NotificationScheduler triggers the notification jobs in-process. Claims make it safe to run
// alongside an external scheduler hitting the HTTP triggers.
type NotificationScheduler struct {
	cronEngine   *cron.Cron
	notifService app.NotificationService
	logger       *logrus.Entry
	specs        Specs
	companyID    string
}

func NewNotificationScheduler(
	notifService app.NotificationService,
	logger *logrus.Entry,
	specs Specs,
	companyID string, // empty means every company
) *NotificationScheduler {
	return &NotificationScheduler{
		cronEngine:   cron.New(cron.WithLocation(time.UTC)), // day keys are UTC, so are the schedules
		notifService: notifService,
		logger:       logger,
		specs:        specs,
		companyID:    companyID,
	}
}

// Start registers the configured jobs and starts the cron engine.
func (s *NotificationScheduler) Start() error {
	s.logger.Info("Starting notification scheduler...")

	jobs := []struct {
		spec string
		job  notification.JobName
	}{
		{s.specs.Nightly, notification.JobNightlyReminders},
		{s.specs.MAM, notification.JobMAMReminder},
		{s.specs.Digest, notification.JobDailyDigest},
	}
	for _, j := range jobs {
		if j.spec == "" {
			s.logger.WithField("job", j.job).Info("No cron spec configured, job disabled.")
			continue
		}
		job := j.job
		if _, err := s.cronEngine.AddFunc(j.spec, func() { s.trigger(job) }); err != nil {
			return fmt.Errorf("could not add %s cron job (%q): %w", job, j.spec, err)
		}
		s.logger.WithFields(logrus.Fields{"job": job, "spec": j.spec}).Info("Cron job registered.")
	}

	s.cronEngine.Start()
	s.logger.Infof("Notification scheduler started with %d job(s).", len(s.cronEngine.Entries()))
	return nil
}

// trigger runs one job to completion with a bounded context.
func (s *NotificationScheduler) trigger(job notification.JobName) {
	log := s.logger.WithField("job", job)
	log.Info("Cron job triggered.")

	var (
		sum app.Summary
		err error
	)
	switch job {
	case notification.JobNightlyReminders:
		ctx, cancel := context.WithTimeout(context.Background(), reminderJobTimeout)
		defer cancel()
		sum, err = s.notifService.TeamNightlyReminders(ctx, app.TeamRequest{CompanyID: s.companyID})
	case notification.JobMAMReminder:
		ctx, cancel := context.WithTimeout(context.Background(), reminderJobTimeout)
		defer cancel()
		sum, err = s.notifService.MAMReminder(ctx, app.TeamRequest{CompanyID: s.companyID})
	case notification.JobDailyDigest:
		ctx, cancel := context.WithTimeout(context.Background(), digestJobTimeout)
		defer cancel()
		sum, err = s.notifService.DailyDigest(ctx, app.DigestRequest{})
	default:
		log.Warn("Unknown job, ignoring.")
		return
	}

	if err != nil {
		metrics.JobTriggers.WithLabelValues(string(job), "scheduler", "error").Inc()
		log.WithError(err).Error("Scheduled job finished with errors; the next run retries failed recipients.")
		return
	}
	metrics.JobTriggers.WithLabelValues(string(job), "scheduler", "ok").Inc()
	log.WithFields(logrus.Fields{
		"sent":    sum.Sent,
		"skipped": sum.SkippedCount,
	}).Info("Scheduled job finished.")
}

func (s *NotificationScheduler) Stop() {
	s.logger.Info("Stopping notification scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Notification scheduler gracefully stopped.")
}
