package app

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"bloodwall/internal/domain/mail"
	"bloodwall/internal/domain/member"
	"bloodwall/internal/domain/notification"
	idb "bloodwall/internal/infra/database"

	"github.com/stretchr/testify/mock"
	"gopkg.in/telebot.v3"
)

type claimKey struct {
	job       notification.JobName
	recipient string
	dayKey    string
}

// memClaimStore enforces (job, recipient, dayKey) uniqueness under a mutex, like the unique index.
type memClaimStore struct {
	mu        sync.Mutex
	claims    map[claimKey]notification.Claim
	insertErr error
	deleteErr error
	finalErr  error
	inserts   int
}

func newMemClaimStore() *memClaimStore {
	return &memClaimStore{claims: make(map[claimKey]notification.Claim)}
}

func keyOf(c *notification.Claim) claimKey {
	return claimKey{c.Job, c.Recipient, c.DayKey}
}

func (s *memClaimStore) InsertIfAbsent(_ context.Context, c *notification.Claim) (notification.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	if _, ok := s.claims[keyOf(c)]; ok {
		return notification.Conflict, nil
	}
	c.CreatedAt, c.UpdatedAt = time.Now(), time.Now()
	s.claims[keyOf(c)] = *c
	return notification.Inserted, nil
}

func (s *memClaimStore) Finalize(_ context.Context, c *notification.Claim, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalErr != nil {
		return s.finalErr
	}
	stored, ok := s.claims[keyOf(c)]
	if !ok || stored.ID != c.ID {
		return notification.ErrClaimNotFound
	}
	stored.MessageID.String, stored.MessageID.Valid = messageID, true
	s.claims[keyOf(c)] = stored
	c.MessageID = stored.MessageID
	return nil
}

func (s *memClaimStore) Delete(_ context.Context, c *notification.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	stored, ok := s.claims[keyOf(c)]
	if !ok || stored.ID != c.ID {
		return notification.ErrClaimNotFound
	}
	delete(s.claims, keyOf(c))
	return nil
}

func (s *memClaimStore) DeletePending(_ context.Context, c *notification.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	stored, ok := s.claims[keyOf(c)]
	if !ok || stored.ID != c.ID {
		return notification.ErrClaimNotFound
	}
	if !stored.Pending() {
		return notification.ErrClaimNotPending
	}
	delete(s.claims, keyOf(c))
	return nil
}

func (s *memClaimStore) Get(_ context.Context, job notification.JobName, recipient, dayKey string) (*notification.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[claimKey{job, recipient, dayKey}]
	if !ok {
		return nil, notification.ErrClaimNotFound
	}
	return &c, nil
}

func (s *memClaimStore) ListByDay(_ context.Context, dayKey string) ([]*notification.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*notification.Claim, 0)
	for k, c := range s.claims {
		if k.dayKey == dayKey {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Recipient < out[j].Recipient })
	return out, nil
}

func (s *memClaimStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}

// fakeTransport records sends and can be told to fail.
type fakeTransport struct {
	mu    sync.Mutex
	sent  []mail.Message
	fail  error
	delay time.Duration
	seq   int
}

func (t *fakeTransport) Send(ctx context.Context, msg mail.Message) (mail.Receipt, error) {
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return mail.Receipt{}, ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		return mail.Receipt{}, t.fail
	}
	t.seq++
	t.sent = append(t.sent, msg)
	return mail.Receipt{MessageID: "<msg-" + strconv.Itoa(t.seq) + "@test>", DeliveredTo: msg.To}, nil
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) setFail(err error) {
	t.mu.Lock()
	t.fail = err
	t.mu.Unlock()
}

type fakeMembers struct {
	members   []*member.TeamMember
	companies map[string]*member.Company
	listErr   error
}

func (f *fakeMembers) GetByEmail(_ context.Context, email string) (*member.TeamMember, error) {
	for _, m := range f.members {
		if m.Email.Valid && m.Email.String == email {
			return m, nil
		}
	}
	return nil, idb.ErrMemberNotFound
}

func (f *fakeMembers) ListReachable(_ context.Context, companyID string) ([]*member.TeamMember, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*member.TeamMember, 0)
	for _, m := range f.members {
		if companyID == "" || m.CompanyID == companyID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMembers) GetCompany(_ context.Context, id string) (*member.Company, error) {
	if c, ok := f.companies[id]; ok {
		return c, nil
	}
	return nil, idb.ErrCompanyNotFound
}

type fakePending struct {
	items map[string][]notification.PendingItem
	err   error
}

func (f *fakePending) PendingFor(_ context.Context, email string, _ time.Time) ([]notification.PendingItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.items[email], nil
}

type fakeDigest struct {
	items    []notification.DigestItem
	gotUntil time.Time
	gotLimit int
	err      error
}

func (f *fakeDigest) DueActions(_ context.Context, until time.Time, limit int) ([]notification.DigestItem, error) {
	f.gotUntil, f.gotLimit = until, limit
	return f.items, f.err
}

type fakeLinks struct{ err error }

func (f fakeLinks) LinkFor(email, target string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://app.test/auth/magic?e=" + email + "&to=" + target, nil
}

type mockTelegramClient struct {
	mock.Mock
}

func (m *mockTelegramClient) SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error {
	args := m.Called(recipientChatID, text, options)
	return args.Error(0)
}

var errRelayDown = errors.New("smtp relay down")
