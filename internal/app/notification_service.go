// internal/app/notification_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bloodwall/internal/domain/mail"
	"bloodwall/internal/domain/member"
	"bloodwall/internal/domain/notification"
	idb "bloodwall/internal/infra/database"
	"bloodwall/internal/infra/magiclink"

	"github.com/sirupsen/logrus"
)

const (
	digestWindow   = 24 * time.Hour
	digestMaxItems = 20

	// SkipReasonNoRecipient is reported when neither the request nor ADMIN_EMAIL names a recipient.
	SkipReasonNoRecipient = "no-recipient"
)

// NotificationService runs the scheduled notification jobs. Every method honours DryRun by
// composing messages without claiming or sending.
type NotificationService interface {
	NightlyReminder(ctx context.Context, req NightlyRequest) (Summary, error)
	TeamNightlyReminders(ctx context.Context, req TeamRequest) (Summary, error)
	MAMReminder(ctx context.Context, req TeamRequest) (Summary, error)
	DailyDigest(ctx context.Context, req DigestRequest) (Summary, error)
	SendMagicLink(ctx context.Context, to string) (mail.Receipt, error)
}

// NightlyRequest targets one person. Nil Items means the pending items are looked up.
type NightlyRequest struct {
	Name   string
	To     string
	Items  []notification.PendingItem
	DryRun bool
}

// TeamRequest targets every reachable member of a company, or of all companies when CompanyID is empty.
type TeamRequest struct {
	CompanyID string
	DryRun    bool
}

type DigestRequest struct {
	To     string
	DryRun bool
}

// Summary is the job result returned to triggers. Single-recipient jobs fill Recipient, Sent (0|1),
// Skipped, Reason and MessageID; batch jobs fill the counters and Results.
type Summary struct {
	Job         notification.JobName `json:"job"`
	Recipient   string               `json:"recipient,omitempty"`
	Sent        int                  `json:"sent"`
	Skipped     bool                 `json:"skipped,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	MessageID   string               `json:"messageId,omitempty"`
	DeliveredTo string               `json:"deliveredTo,omitempty"`
	DryRun      bool                 `json:"dryRun,omitempty"`

	SkippedCount int            `json:"skippedCount,omitempty"`
	Failed       int            `json:"failed,omitempty"`
	Results      []Result       `json:"results,omitempty"`
	Previews     []mail.Message `json:"previews,omitempty"`
}

// BatchError reports recipients that failed in a batch job. Successful sends in the same batch
// are already claimed, so re-running the job only retries the failures.
type BatchError struct {
	Job    notification.JobName
	Failed int
	Errs   []error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s: %d recipient(s) failed: %v", e.Job, e.Failed, errors.Join(e.Errs...))
}

func (e *BatchError) Unwrap() []error { return e.Errs }

// LinkSigner builds magic sign-in links.
type LinkSigner interface {
	LinkFor(email, target string) (string, error)
}

type target struct {
	recipient string
	composer  Composer
}

// NotificationServiceImpl implements the NotificationService interface.
type NotificationServiceImpl struct {
	dispatcher *Dispatcher
	members    member.Repository
	pending    notification.PendingSource
	digest     notification.DigestSource
	links      LinkSigner
	appURL     string
	adminEmail string
	logger     *logrus.Entry
}

func NewNotificationServiceImpl(
	d *Dispatcher,
	mr member.Repository,
	ps notification.PendingSource,
	ds notification.DigestSource,
	links LinkSigner,
	appURL string,
	adminEmail string,
	logger *logrus.Entry,
) *NotificationServiceImpl {
	return &NotificationServiceImpl{
		dispatcher: d,
		members:    mr,
		pending:    ps,
		digest:     ds,
		links:      links,
		appURL:     strings.TrimRight(appURL, "/"),
		adminEmail: adminEmail,
		logger:     logger,
	}
}

func (s *NotificationServiceImpl) NightlyReminder(ctx context.Context, req NightlyRequest) (Summary, error) {
	recipient := s.recipientOrAdmin(req.To)
	if recipient == "" {
		return noRecipient(notification.JobNightlyReminders, req.DryRun), nil
	}
	t := target{recipient: recipient, composer: s.personalReminder(req.Name, recipient, req.Items)}
	return s.single(ctx, notification.JobNightlyReminders, t, req.DryRun)
}

func (s *NotificationServiceImpl) TeamNightlyReminders(ctx context.Context, req TeamRequest) (Summary, error) {
	members, err := s.members.ListReachable(ctx, req.CompanyID)
	if err != nil {
		return Summary{Job: notification.JobNightlyReminders}, fmt.Errorf("failed to list team members: %w", err)
	}

	targets := make([]target, 0, len(members))
	for _, m := range members {
		targets = append(targets, target{
			recipient: m.Email.String,
			composer:  s.personalReminder(m.DisplayName(), m.Email.String, nil),
		})
	}
	return s.batch(ctx, notification.JobNightlyReminders, targets, req.DryRun)
}

func (s *NotificationServiceImpl) MAMReminder(ctx context.Context, req TeamRequest) (Summary, error) {
	members, err := s.members.ListReachable(ctx, req.CompanyID)
	if err != nil {
		return Summary{Job: notification.JobMAMReminder}, fmt.Errorf("failed to list team members: %w", err)
	}

	companyNames := make(map[string]string)
	targets := make([]target, 0, len(members))
	for _, m := range members {
		name, ok := companyNames[m.CompanyID]
		if !ok {
			name, err = s.companyName(ctx, m.CompanyID)
			if err != nil {
				return Summary{Job: notification.JobMAMReminder}, err
			}
			companyNames[m.CompanyID] = name
		}
		targets = append(targets, target{recipient: m.Email.String, composer: s.mamReminder(name, m.Email.String)})
	}
	return s.batch(ctx, notification.JobMAMReminder, targets, req.DryRun)
}

func (s *NotificationServiceImpl) DailyDigest(ctx context.Context, req DigestRequest) (Summary, error) {
	recipient := s.recipientOrAdmin(req.To)
	if recipient == "" {
		s.logger.WithField("job", notification.JobDailyDigest).Info("No recipient available; skipping send.")
		return noRecipient(notification.JobDailyDigest, req.DryRun), nil
	}

	composer := ComposerFunc(func(ctx context.Context) (mail.Message, error) {
		items, err := s.digest.DueActions(ctx, s.dispatcher.now().Add(digestWindow), digestMaxItems)
		if err != nil {
			return mail.Message{}, fmt.Errorf("failed to load due actions: %w", err)
		}
		return NightlyDigest(items)
	})
	return s.single(ctx, notification.JobDailyDigest, target{recipient: recipient, composer: composer}, req.DryRun)
}

// SendMagicLink mails a sign-in link directly, without a claim. Used by the dev test endpoint.
func (s *NotificationServiceImpl) SendMagicLink(ctx context.Context, to string) (mail.Receipt, error) {
	to = notification.NormalizeRecipient(to)
	link, err := s.ctaLink(to, "/me")
	if err != nil {
		return mail.Receipt{}, err
	}
	msg, err := MagicLinkMessage(link)
	if err != nil {
		return mail.Receipt{}, err
	}
	msg.To = to
	receipt, err := s.dispatcher.transport.Send(ctx, msg)
	if err != nil {
		return mail.Receipt{}, fmt.Errorf("failed to send magic link: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"to": to, "message_id": receipt.MessageID}).Info("Magic link email sent.")
	return receipt, nil
}

func (s *NotificationServiceImpl) single(ctx context.Context, job notification.JobName, t target, dryRun bool) (Summary, error) {
	req := DispatchRequest{Job: job, Recipient: t.recipient, Composer: t.composer}
	sum := Summary{Job: job, DryRun: dryRun}

	if dryRun {
		res, msg, err := s.dispatcher.Preview(ctx, req)
		sum.Recipient = res.Recipient
		if err != nil {
			return sum, err
		}
		sum.Skipped = res.Outcome == OutcomeSkipped
		sum.Reason = res.Reason
		sum.Previews = []mail.Message{msg}
		return sum, nil
	}

	res, err := s.dispatcher.Run(ctx, req)
	sum.Recipient = res.Recipient
	if err != nil {
		return sum, err
	}
	switch res.Outcome {
	case OutcomeSent:
		sum.Sent = 1
		sum.MessageID = res.MessageID
		sum.DeliveredTo = res.DeliveredTo
	case OutcomeSkipped:
		sum.Skipped = true
		sum.Reason = res.Reason
	}
	return sum, nil
}

func (s *NotificationServiceImpl) batch(ctx context.Context, job notification.JobName, targets []target, dryRun bool) (Summary, error) {
	sum := Summary{Job: job, DryRun: dryRun, Results: make([]Result, 0, len(targets))}
	log := s.logger.WithField("job", job)
	if len(targets) == 0 {
		log.Info("No reachable team members; nothing to send.")
		return sum, nil
	}
	log.Infof("Dispatching to %d recipient(s).", len(targets))

	var errs []error
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			sum.Failed++
			break
		}

		req := DispatchRequest{Job: job, Recipient: t.recipient, Composer: t.composer}
		if dryRun {
			res, msg, err := s.dispatcher.Preview(ctx, req)
			if err != nil {
				sum.Failed++
				errs = append(errs, err)
				continue
			}
			if res.Outcome == OutcomeSkipped {
				sum.SkippedCount++
			}
			sum.Results = append(sum.Results, res)
			sum.Previews = append(sum.Previews, msg)
			continue
		}

		res, err := s.dispatcher.Run(ctx, req)
		sum.Results = append(sum.Results, res)
		switch {
		case err != nil:
			sum.Failed++
			errs = append(errs, err)
		case res.Outcome == OutcomeSent:
			sum.Sent++
		case res.Outcome == OutcomeSkipped:
			sum.SkippedCount++
		}
	}

	log.WithFields(logrus.Fields{
		"sent":    sum.Sent,
		"skipped": sum.SkippedCount,
		"failed":  sum.Failed,
	}).Info("Batch finished.")

	if sum.Failed > 0 {
		return sum, &BatchError{Job: job, Failed: sum.Failed, Errs: errs}
	}
	return sum, nil
}

func (s *NotificationServiceImpl) personalReminder(name, email string, items []notification.PendingItem) Composer {
	return ComposerFunc(func(ctx context.Context) (mail.Message, error) {
		displayName, pendingItems := name, items
		if strings.TrimSpace(displayName) == "" {
			displayName = s.memberName(ctx, email)
		}
		if pendingItems == nil {
			var err error
			pendingItems, err = s.pending.PendingFor(ctx, email, s.dispatcher.now())
			if err != nil {
				return mail.Message{}, fmt.Errorf("failed to load pending items: %w", err)
			}
		}
		href, err := s.ctaLink(email, "/me")
		if err != nil {
			return mail.Message{}, err
		}
		return PersonalReminder(displayName, pendingItems, href)
	})
}

func (s *NotificationServiceImpl) mamReminder(companyName, email string) Composer {
	return ComposerFunc(func(ctx context.Context) (mail.Message, error) {
		href, err := s.ctaLink(email, "/mam")
		if err != nil {
			return mail.Message{}, err
		}
		return MAMReminder(companyName, href)
	})
}

// ctaLink signs a magic link, falling back to a plain app link when APP_SECRET is unset.
func (s *NotificationServiceImpl) ctaLink(email, path string) (string, error) {
	link, err := s.links.LinkFor(email, path)
	if errors.Is(err, magiclink.ErrSecretNotSet) {
		s.logger.Warn("APP_SECRET not set; reminder links will not sign the user in.")
		return s.appURL + path, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to build magic link: %w", err)
	}
	return link, nil
}

func (s *NotificationServiceImpl) memberName(ctx context.Context, email string) string {
	m, err := s.members.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, idb.ErrMemberNotFound) {
			s.logger.WithError(err).Warn("Failed to look up member name.")
		}
		return "Teammate"
	}
	return m.DisplayName()
}

func (s *NotificationServiceImpl) companyName(ctx context.Context, id string) (string, error) {
	c, err := s.members.GetCompany(ctx, id)
	if err != nil {
		if errors.Is(err, idb.ErrCompanyNotFound) {
			return "your team", nil
		}
		return "", fmt.Errorf("failed to get company %s: %w", id, err)
	}
	return c.Name, nil
}

func (s *NotificationServiceImpl) recipientOrAdmin(to string) string {
	if r := notification.NormalizeRecipient(to); r != "" {
		return r
	}
	return notification.NormalizeRecipient(s.adminEmail)
}

func noRecipient(job notification.JobName, dryRun bool) Summary {
	return Summary{Job: job, Skipped: true, Reason: SkipReasonNoRecipient, DryRun: dryRun}
}
