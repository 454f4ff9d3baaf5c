package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bloodwall/internal/app"
	"bloodwall/internal/domain/member"
	"bloodwall/internal/domain/notification"
	"bloodwall/internal/infra/config"
	idb "bloodwall/internal/infra/database"
	"bloodwall/internal/infra/logger"
	"bloodwall/internal/infra/magiclink"
	"bloodwall/internal/infra/mailer"
	"bloodwall/internal/infra/redisstore"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

type stubMembers struct{}

func (stubMembers) GetByEmail(context.Context, string) (*member.TeamMember, error) {
	return nil, idb.ErrMemberNotFound
}

func (stubMembers) ListReachable(context.Context, string) ([]*member.TeamMember, error) {
	return nil, nil
}

func (stubMembers) GetCompany(context.Context, string) (*member.Company, error) {
	return nil, idb.ErrCompanyNotFound
}

type stubPending struct{}

func (stubPending) PendingFor(context.Context, string, time.Time) ([]notification.PendingItem, error) {
	return []notification.PendingItem{{Title: "Update UDE"}}, nil
}

func (stubPending) DueActions(context.Context, time.Time, int) ([]notification.DigestItem, error) {
	return nil, nil
}

type env struct {
	router    *gin.Engine
	redis     *miniredis.Miniredis
	store     *redisstore.ClaimStore
	transport *mailer.TestTransport
	cfg       *config.AppConfig
	signer    *magiclink.Signer
}

func newEnv(t *testing.T, mutate func(cfg *config.AppConfig)) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.AppConfig{
		Environment:  "development",
		AppURL:       "https://bloodwall.test",
		AppSecret:    "app-secret",
		AdminEmail:   "ops@bloodwall.test",
		CronSecret:   testSecret,
		APIDevKey:    "dev-key",
		AdminKey:     "admin-key",
		ClaimBackend: "redis",
	}
	if mutate != nil {
		mutate(cfg)
	}

	mr := miniredis.RunT(t)
	store := redisstore.NewClaimStore(redisstore.NewClient(redisstore.Options{Addr: mr.Addr()}))
	log := logger.Discard()
	transport := mailer.NewTestTransport(log)
	signer := magiclink.NewSigner(cfg.AppSecret, cfg.AppURL)

	d := app.NewDispatcher(store, transport, log)
	svc := app.NewNotificationServiceImpl(d, stubMembers{}, stubPending{}, stubPending{}, signer, cfg.AppURL, cfg.AdminEmail, log)

	r := NewRouter(Deps{
		Config:        cfg,
		Notifications: svc,
		Admin:         app.NewAdminService(store, log),
		Tokens:        signer,
		Logger:        log,
	})
	return &env{router: r, redis: mr, store: store, transport: transport, cfg: cfg, signer: signer}
}

func (e *env) do(method, target, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var decoded map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	return w, decoded
}

func (e *env) claimCount() int {
	return len(e.redis.Keys())
}

func bearer() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testSecret}
}

func TestCron_UnauthorizedNeverClaims(t *testing.T) {
	e := newEnv(t, nil)

	cases := []struct {
		name    string
		target  string
		headers map[string]string
	}{
		{"no credentials", "/api/cron/nightly-reminders", nil},
		{"wrong bearer", "/api/cron/nightly-reminders", map[string]string{"Authorization": "Bearer nope"}},
		{"wrong header", "/api/cron/daily-digest", map[string]string{"x-cron-secret": "nope"}},
		{"wrong query", "/api/cron/mam-reminder?secret=nope", nil},
		{"wrong dev key", "/api/cron/nightly-reminders", map[string]string{"x-bw-dev-key": "nope"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, body := e.do(http.MethodPost, tc.target, `{"to":"alice@example.com","items":[]}`, tc.headers)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, "unauthorized", body["error"])
		})
	}
	assert.Zero(t, e.claimCount())
	assert.Empty(t, e.transport.Sent())
}

func TestCron_EmptySecretRejectsEverything(t *testing.T) {
	e := newEnv(t, func(cfg *config.AppConfig) { cfg.CronSecret = ""; cfg.APIDevKey = "" })

	w, _ := e.do(http.MethodPost, "/api/cron/nightly-reminders?secret=", "", map[string]string{"Authorization": "Bearer "})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, e.claimCount())
}

func TestCron_SecretLocations(t *testing.T) {
	cases := []struct {
		name    string
		target  string
		headers map[string]string
	}{
		{"bearer", "/api/cron/daily-digest", bearer()},
		{"header", "/api/cron/daily-digest", map[string]string{"x-cron-secret": testSecret}},
		{"query", "/api/cron/daily-digest?secret=" + testSecret, nil},
		{"dev key", "/api/cron/daily-digest", map[string]string{"x-bw-dev-key": "dev-key"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, nil)
			w, body := e.do(http.MethodPost, tc.target, "", tc.headers)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, true, body["ok"])
			assert.Equal(t, 1, e.claimCount())
		})
	}
}

func TestCron_DevKeyRejectedInProduction(t *testing.T) {
	e := newEnv(t, func(cfg *config.AppConfig) { cfg.Environment = "production" })

	w, _ := e.do(http.MethodPost, "/api/cron/daily-digest", "", map[string]string{"x-bw-dev-key": "dev-key"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, e.claimCount())
}

func TestCron_SendThenSkip(t *testing.T) {
	e := newEnv(t, nil)
	payload := `{"name":"Alice","to":"Alice@Example.com","items":[{"title":"Fix onboarding"}]}`

	w, body := e.do(http.MethodPost, "/api/cron/nightly-reminders", payload, bearer())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	summary := body["summary"].(map[string]any)
	assert.Equal(t, "alice@example.com", summary["recipient"])
	assert.EqualValues(t, 1, summary["sent"])
	assert.NotEmpty(t, summary["messageId"])

	w, body = e.do(http.MethodPost, "/api/cron/nightly-reminders", payload, bearer())
	require.Equal(t, http.StatusOK, w.Code)
	summary = body["summary"].(map[string]any)
	assert.EqualValues(t, 0, summary["sent"])
	assert.Equal(t, true, summary["skipped"])
	assert.Equal(t, notification.SkipReasonAlreadySent, summary["reason"])

	assert.Equal(t, 1, e.claimCount())
	require.Len(t, e.transport.Sent(), 1)
	assert.Contains(t, e.transport.Sent()[0].HTML, "Fix onboarding")
}

func TestCron_GetIsDryRun(t *testing.T) {
	e := newEnv(t, nil)

	w, body := e.do(http.MethodGet, "/api/cron/nightly-reminders?to=bob@example.com", "", bearer())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	summary := body["summary"].(map[string]any)
	assert.Equal(t, true, summary["dryRun"])
	assert.EqualValues(t, 0, summary["sent"])
	assert.Len(t, summary["previews"], 1)

	assert.Zero(t, e.claimCount())
	assert.Empty(t, e.transport.Sent())
}

func TestCron_TransportOutage(t *testing.T) {
	e := newEnv(t, nil)
	e.transport.FailWith(errors.New("relay down"))

	w, body := e.do(http.MethodPost, "/api/cron/daily-digest", `{"to":"carol@example.com"}`, bearer())
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", body["error"])
	assert.Zero(t, e.claimCount())

	e.transport.FailWith(nil)
	w, _ = e.do(http.MethodPost, "/api/cron/daily-digest", `{"to":"carol@example.com"}`, bearer())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, e.claimCount())
}

func TestCron_ReadOnly(t *testing.T) {
	cases := []struct {
		name    string
		bypass  bool
		headers map[string]string
		status  int
		code    string
	}{
		{"no bypass, secret", false, bearer(), http.StatusForbidden, "read_only"},
		{"no bypass, dev key", false, map[string]string{"x-bw-dev-key": "dev-key"}, http.StatusForbidden, "read_only"},
		{"bypass, dev key", true, map[string]string{"x-bw-dev-key": "dev-key"}, http.StatusForbidden, "forbidden"},
		{"bypass, secret", true, bearer(), http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, func(cfg *config.AppConfig) {
				cfg.ReadOnly = true
				cfg.ReadOnlyBypass = tc.bypass
			})
			w, body := e.do(http.MethodPost, "/api/cron/daily-digest", "", tc.headers)
			assert.Equal(t, tc.status, w.Code)
			if tc.code != "" {
				assert.Equal(t, tc.code, body["error"])
				assert.Zero(t, e.claimCount())
			}
		})
	}
}

func TestCron_NotReady(t *testing.T) {
	e := newEnv(t, nil)
	e.router = NewRouter(Deps{
		Config: e.cfg,
		Ready:  func() error { return mailer.ErrTransportNotConfigured },
		Logger: logger.Discard(),
	})

	w, body := e.do(http.MethodPost, "/api/cron/daily-digest", "", bearer())
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", body["error"])
}

func TestCron_MethodNotAllowed(t *testing.T) {
	e := newEnv(t, nil)

	w, body := e.do(http.MethodPut, "/api/cron/mam-reminder", "", bearer())
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "method_not_allowed", body["error"])
}

func TestHealth(t *testing.T) {
	e := newEnv(t, nil)

	w, body := e.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "development", body["env"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestAdmin_RequiresKey(t *testing.T) {
	e := newEnv(t, nil)

	w, _ := e.do(http.MethodGet, "/api/admin/health", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := e.do(http.MethodGet, "/api/admin/health", "", map[string]string{"x-admin-key": "admin-key"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "redis", body["claimBackend"])
}

func TestAdmin_ClaimsListAndRelease(t *testing.T) {
	e := newEnv(t, nil)
	admin := map[string]string{"x-admin-key": "admin-key"}
	ctx := context.Background()
	today := notification.DayKey(time.Now())

	pending := &notification.Claim{ID: "c-1", Job: notification.JobDailyDigest, Recipient: "stuck@example.com", DayKey: today}
	_, err := e.store.InsertIfAbsent(ctx, pending)
	require.NoError(t, err)

	w, body := e.do(http.MethodPost, "/api/cron/daily-digest", `{"to":"done@example.com"}`, bearer())
	require.Equal(t, http.StatusOK, w.Code, body)

	w, body = e.do(http.MethodGet, "/api/admin/claims", "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, today, body["day"])
	assert.Len(t, body["claims"], 2)

	w, body = e.do(http.MethodDelete, "/api/admin/claims", `{"job":"daily-digest","recipient":"done@example.com"}`, admin)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "claim_finalized", body["error"])

	w, _ = e.do(http.MethodDelete, "/api/admin/claims", `{"job":"daily-digest","recipient":"STUCK@example.com"}`, admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, e.claimCount())

	w, body = e.do(http.MethodDelete, "/api/admin/claims", `{"job":"daily-digest","recipient":"stuck@example.com"}`, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["error"])

	w, _ = e.do(http.MethodGet, "/api/admin/claims?day=yesterday", "", admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(http.MethodDelete, "/api/admin/claims", `{"recipient":"x@example.com"}`, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMagicLink(t *testing.T) {
	e := newEnv(t, nil)
	token, err := e.signer.Sign("alice@example.com", "/mam")
	require.NoError(t, err)

	w, body := e.do(http.MethodGet, "/auth/magic?e=alice@example.com&t="+token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice@example.com", body["email"])
	assert.Equal(t, "/mam", body["to"])

	w, _ = e.do(http.MethodGet, "/auth/magic?e=mallory@example.com&t="+token, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = e.do(http.MethodGet, "/auth/magic?e=alice@example.com&t=garbage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDevTestEmail(t *testing.T) {
	enabled := func(cfg *config.AppConfig) {
		cfg.DevTestEmail = true
		cfg.DevTestKey = "test-key"
	}

	t.Run("disabled", func(t *testing.T) {
		e := newEnv(t, nil)
		w, _ := e.do(http.MethodPost, "/api/dev/test-email", `{"to":"a@example.com","key":"test-key"}`, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad key", func(t *testing.T) {
		e := newEnv(t, enabled)
		w, _ := e.do(http.MethodPost, "/api/dev/test-email", `{"to":"a@example.com","key":"nope"}`, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("invalid email", func(t *testing.T) {
		e := newEnv(t, enabled)
		w, body := e.do(http.MethodPost, "/api/dev/test-email", `{"to":"not-an-email"}`, map[string]string{"x-dev-test-key": "test-key"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_email", body["error"])
	})

	t.Run("sends without claim", func(t *testing.T) {
		e := newEnv(t, enabled)
		w, body := e.do(http.MethodPost, "/api/dev/test-email?key=test-key", `{"to":"A@Example.com"}`, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "a@example.com", body["to"])
		assert.NotEmpty(t, body["messageId"])
		assert.Zero(t, e.claimCount())
		require.Len(t, e.transport.Sent(), 1)
		assert.Contains(t, e.transport.Sent()[0].Text, "https://bloodwall.test/auth/magic?")
	})
}

func TestDevTestEmail_UnreadableBodyIsLogged(t *testing.T) {
	gin.SetMode(gin.TestMode)
	base, hook := logtest.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)

	r := NewRouter(Deps{
		Config: &config.AppConfig{Environment: "development", DevTestEmail: true, DevTestKey: "test-key"},
		Logger: logrus.NewEntry(base),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/dev/test-email", strings.NewReader(`{"to":`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	var found bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.DebugLevel && entry.Message == "Ignoring unreadable request input." {
			found = true
		}
	}
	assert.True(t, found, "bind error should be logged at debug level")
}
