package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bloodwall/internal/domain/mail"
	"bloodwall/internal/domain/notification"
	domainTelegram "bloodwall/internal/domain/telegram"
	"bloodwall/internal/infra/metrics"

	"github.com/sirupsen/logrus"
)

const rollbackTimeout = 5 * time.Second

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
	OutcomeDryRun  Outcome = "dry-run"
)

// Stage names the dispatch step an error came from.
type Stage string

const (
	StageClaim    Stage = "claim"
	StageCompose  Stage = "compose"
	StageSend     Stage = "send"
	StageFinalize Stage = "finalize"
)

// DispatchError is returned for Failed outcomes.
type DispatchError struct {
	Stage     Stage
	Job       notification.JobName
	Recipient string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s to %s failed at %s: %v", e.Job, e.Recipient, e.Stage, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

type DispatchRequest struct {
	Job       notification.JobName
	Recipient string
	Composer  Composer
}

// Result is the terminal state of one dispatch.
type Result struct {
	Outcome     Outcome `json:"outcome"`
	Recipient   string  `json:"recipient"`
	DayKey      string  `json:"dayKey"`
	Reason      string  `json:"reason,omitempty"`
	MessageID   string  `json:"messageId,omitempty"`
	DeliveredTo string  `json:"deliveredTo,omitempty"`
}

// Dispatcher runs claim → compose → send → finalize for a single recipient, deleting the
// claim when compose or send fails so the next trigger can retry.
type Dispatcher struct {
	acquirer  *Acquirer
	store     notification.ClaimStore
	transport mail.Transport
	alerts    domainTelegram.Client
	opsChatID int64
	log       *logrus.Entry
	now       func() time.Time
}

type DispatcherOption func(*Dispatcher)

// WithClock overrides the clock used to compute the day key.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithOpsAlerts posts failed dispatches to a Telegram chat.
func WithOpsAlerts(client domainTelegram.Client, chatID int64) DispatcherOption {
	return func(d *Dispatcher) {
		d.alerts = client
		d.opsChatID = chatID
	}
}

func NewDispatcher(store notification.ClaimStore, transport mail.Transport, log *logrus.Entry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		acquirer:  NewAcquirer(store),
		store:     store,
		transport: transport,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Today returns the day key the dispatcher would claim right now.
func (d *Dispatcher) Today() string {
	return notification.DayKey(d.now())
}

func (d *Dispatcher) Run(ctx context.Context, req DispatchRequest) (Result, error) {
	recipient := notification.NormalizeRecipient(req.Recipient)
	dayKey := d.Today()
	res := Result{Recipient: recipient, DayKey: dayKey}
	log := d.log.WithFields(logrus.Fields{
		"job":       req.Job,
		"recipient": recipient,
		"day_key":   dayKey,
	})

	acq, err := d.acquirer.Acquire(ctx, req.Job, recipient, dayKey)
	if err != nil {
		return d.fail(log, res, req.Job, StageClaim, err)
	}
	if acq.Status == AlreadyClaimed {
		log.Info("Notification already claimed today, skipping.")
		res.Outcome = OutcomeSkipped
		res.Reason = acq.Reason
		metrics.DispatchOutcomes.WithLabelValues(string(req.Job), string(OutcomeSkipped)).Inc()
		return res, nil
	}

	claim := acq.Claim
	log = log.WithField("claim_id", claim.ID)

	msg, err := compose(ctx, req.Composer)
	if err != nil {
		return d.fail(log, res, req.Job, StageCompose, d.rollback(ctx, log, claim, err))
	}
	msg.To = recipient

	started := time.Now()
	receipt, err := d.transport.Send(ctx, msg)
	if err != nil {
		metrics.SendDuration.WithLabelValues(string(req.Job), "error").Observe(time.Since(started).Seconds())
		return d.fail(log, res, req.Job, StageSend, d.rollback(ctx, log, claim, err))
	}
	metrics.SendDuration.WithLabelValues(string(req.Job), "ok").Observe(time.Since(started).Seconds())

	if err := d.store.Finalize(ctx, claim, receipt.MessageID); err != nil {
		// The message is out; rolling back would allow a second send today.
		log.WithError(err).WithField("message_id", receipt.MessageID).Error("Failed to finalize claim after successful send.")
	}

	res.Outcome = OutcomeSent
	res.MessageID = receipt.MessageID
	res.DeliveredTo = receipt.DeliveredTo
	log.WithField("message_id", receipt.MessageID).Info("Notification sent.")
	metrics.DispatchOutcomes.WithLabelValues(string(req.Job), string(OutcomeSent)).Inc()
	return res, nil
}

func (d *Dispatcher) fail(log *logrus.Entry, res Result, job notification.JobName, stage Stage, err error) (Result, error) {
	res.Outcome = OutcomeFailed
	derr := &DispatchError{Stage: stage, Job: job, Recipient: res.Recipient, Err: err}
	log.WithError(err).WithField("stage", stage).Error("Notification dispatch failed.")
	metrics.DispatchOutcomes.WithLabelValues(string(job), string(OutcomeFailed)).Inc()
	d.alert(log, derr)
	return res, derr
}

// rollback deletes the claim and returns cause, joined with the delete error if any. It runs
// detached from ctx so a cancelled request still releases its claim.
func (d *Dispatcher) rollback(ctx context.Context, log *logrus.Entry, claim *notification.Claim, cause error) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := d.store.Delete(rctx, claim); err != nil {
		log.WithError(err).Error("Failed to roll back claim; the day stays blocked until an operator releases it.")
		return errors.Join(cause, fmt.Errorf("rollback: %w", err))
	}
	log.Info("Claim rolled back.")
	return cause
}

func (d *Dispatcher) alert(log *logrus.Entry, derr *DispatchError) {
	if d.alerts == nil || d.opsChatID == 0 {
		return
	}
	text := fmt.Sprintf("⚠️ Bloodwall dispatch failed\njob: %s\nrecipient: %s\nstage: %s\nerror: %v",
		derr.Job, derr.Recipient, derr.Stage, derr.Err)
	if err := d.alerts.SendMessage(d.opsChatID, text, nil); err != nil {
		log.WithError(err).Warn("Failed to send ops alert.")
	}
}

// Preview composes the message for req without claiming or sending. A claim that already
// exists for today is reported as Skipped.
func (d *Dispatcher) Preview(ctx context.Context, req DispatchRequest) (Result, mail.Message, error) {
	recipient := notification.NormalizeRecipient(req.Recipient)
	dayKey := d.Today()
	res := Result{Outcome: OutcomeDryRun, Recipient: recipient, DayKey: dayKey}

	_, err := d.store.Get(ctx, req.Job, recipient, dayKey)
	switch {
	case err == nil:
		res.Outcome = OutcomeSkipped
		res.Reason = notification.SkipReasonAlreadySent
	case !errors.Is(err, notification.ErrClaimNotFound):
		return res, mail.Message{}, &DispatchError{Stage: StageClaim, Job: req.Job, Recipient: recipient, Err: err}
	}

	msg, err := compose(ctx, req.Composer)
	if err != nil {
		return res, mail.Message{}, &DispatchError{Stage: StageCompose, Job: req.Job, Recipient: recipient, Err: err}
	}
	msg.To = recipient
	return res, msg, nil
}

func compose(ctx context.Context, c Composer) (msg mail.Message, err error) {
	if c == nil {
		return mail.Message{}, errors.New("no composer")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("composer panicked: %v", r)
		}
	}()
	return c.Compose(ctx)
}
