package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"bloodwall/internal/app"
	"bloodwall/internal/domain/notification"
	"bloodwall/internal/infra/magiclink"

	gomail "github.com/emersion/go-message/mail"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type claimView struct {
	ID        string               `json:"id"`
	Job       notification.JobName `json:"job"`
	Recipient string               `json:"recipient"`
	DayKey    string               `json:"dayKey"`
	MessageID string               `json:"messageId,omitempty"`
	Pending   bool                 `json:"pending"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

func toClaimView(c *notification.Claim) claimView {
	return claimView{
		ID:        c.ID,
		Job:       c.Job,
		Recipient: c.Recipient,
		DayKey:    c.DayKey,
		MessageID: c.MessageID.String,
		Pending:   c.Pending(),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

type releaseInput struct {
	Job       notification.JobName `json:"job" binding:"required"`
	Recipient string               `json:"recipient" binding:"required"`
	Day       string               `json:"day"`
}

type testEmailInput struct {
	To  string `json:"to" form:"to"`
	Key string `json:"key" form:"key"`
}

func (s *server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"env":       s.cfg.Environment,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *server) adminHealth(c *gin.Context) {
	mailErr := s.ready()
	body := gin.H{
		"ok":             mailErr == nil,
		"env":            s.cfg.Environment,
		"timestamp":      s.now().UTC().Format(time.RFC3339),
		"today":          notification.DayKey(s.now()),
		"readOnly":       s.cfg.ReadOnly,
		"readOnlyBypass": s.cfg.ReadOnlyBypass,
		"smtpConfigured": s.cfg.SMTPConfigured(),
		"emailRedirect":  s.cfg.EmailRedirect != "",
		"claimBackend":   s.cfg.ClaimBackend,
	}
	if mailErr != nil {
		body["error"] = mailErr.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *server) listClaims(c *gin.Context) {
	day := c.Query("day")
	if day == "" {
		day = notification.DayKey(s.now())
	}

	claims, err := s.admin.ListClaims(c.Request.Context(), day)
	if err != nil {
		if errors.Is(err, app.ErrInvalidDayKey) {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid_day"})
			return
		}
		s.log.WithError(err).Error("Failed to list claims.")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal_error"})
		return
	}

	views := make([]claimView, 0, len(claims))
	for _, cl := range claims {
		views = append(views, toClaimView(cl))
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "day": day, "claims": views})
}

func (s *server) releaseClaim(c *gin.Context) {
	var in releaseInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "bad_request", "message": err.Error()})
		return
	}

	claim, err := s.admin.ReleasePendingClaim(c.Request.Context(), in.Job, in.Recipient, in.Day)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true, "released": toClaimView(claim)})
	case errors.Is(err, app.ErrInvalidDayKey):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid_day"})
	case errors.Is(err, notification.ErrClaimNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "not_found"})
	case errors.Is(err, app.ErrClaimNotPending):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "claim_finalized", "claim": toClaimView(claim)})
	default:
		s.log.WithError(err).Error("Failed to release claim.")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal_error"})
	}
}

func (s *server) verifyMagicLink(c *gin.Context) {
	if s.tokens == nil {
		abort(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	claims, err := s.tokens.Verify(c.Query("t"), c.Query("e"))
	if err != nil {
		if errors.Is(err, magiclink.ErrSecretNotSet) {
			s.log.Warn("Magic link presented but APP_SECRET is not set.")
		}
		abort(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "email": claims.Email, "to": claims.To})
}

// devTestEmail mails a magic link directly, bypassing claims. Enabled by DEV_TEST_EMAIL.
func (s *server) devTestEmail(c *gin.Context) {
	if !s.cfg.DevTestEmail {
		abort(c, http.StatusNotFound, "not_found")
		return
	}

	var in testEmailInput
	s.bindInput(c, false, &in)
	key := firstNonEmpty(in.Key, c.Query("key"), strings.TrimSpace(c.GetHeader(devTestKeyHeader)))
	if !secretsEqual(key, s.cfg.DevTestKey) {
		abort(c, http.StatusForbidden, "forbidden")
		return
	}
	if s.cfg.ReadOnly && !s.cfg.ReadOnlyBypass {
		abort(c, http.StatusForbidden, "read_only")
		return
	}
	if err := s.ready(); err != nil {
		s.log.WithError(err).Error("Mail transport not ready; rejecting test email.")
		abort(c, http.StatusInternalServerError, "internal_error")
		return
	}

	to := strings.TrimSpace(firstNonEmpty(in.To, c.Query("to"), s.cfg.DevTestDefaultTo))
	if to == "" {
		abort(c, http.StatusBadRequest, "missing_to")
		return
	}
	if _, err := gomail.ParseAddress(to); err != nil || !strings.Contains(to, "@") {
		abort(c, http.StatusBadRequest, "invalid_email")
		return
	}

	receipt, err := s.notif.SendMagicLink(c.Request.Context(), to)
	if err != nil {
		s.log.WithError(err).Error("Test email failed.")
		abort(c, http.StatusInternalServerError, "internal_error")
		return
	}
	s.log.WithFields(logrus.Fields{"to": receipt.DeliveredTo, "message_id": receipt.MessageID}).Info("Test email sent.")
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"to":         receipt.DeliveredTo,
		"messageId":  receipt.MessageID,
		"previewUrl": receipt.PreviewURL,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
