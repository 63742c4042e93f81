package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"directory-service/internal/config"
	"directory-service/internal/hashing"
	"directory-service/internal/model"
	"directory-service/internal/util"
)

// testClock lets tests step through rate-limit windows and expiries.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// ---------------------------------------------------------------- repository

type fakeRepo struct {
	students map[string]*model.Student
	nextID   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{students: make(map[string]*model.Student)}
}

func (r *fakeRepo) Create(_ context.Context, student *model.Student) error {
	for _, existing := range r.students {
		if existing.Email == student.Email || existing.Phone == student.Phone || existing.RollNumber == student.RollNumber {
			return model.ErrDuplicate
		}
	}
	if student.ID == "" {
		r.nextID++
		student.ID = fmt.Sprintf("student-%d", r.nextID)
	}
	r.students[student.ID] = cloneStudent(student)
	return nil
}

func (r *fakeRepo) FindByID(_ context.Context, id string) (*model.Student, error) {
	student, ok := r.students[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneStudent(student), nil
}

func (r *fakeRepo) FindByIdentifier(_ context.Context, identifier string) (*model.Student, error) {
	email := util.NormalizeEmail(identifier)
	for _, student := range r.students {
		if student.Email == email || student.RollNumber == identifier {
			return cloneStudent(student), nil
		}
	}
	return nil, model.ErrNotFound
}

func (r *fakeRepo) List(_ context.Context, limit, offset int) ([]*model.Student, int64, error) {
	all := make([]*model.Student, 0, len(r.students))
	for _, student := range r.students {
		all = append(all, cloneStudent(student))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *fakeRepo) SetPendingOTP(_ context.Context, id, otpHash string, expiry time.Time, requestCount int, windowStart time.Time, expectedCount int) error {
	student, ok := r.students[id]
	if !ok {
		return model.ErrNotFound
	}
	if student.OTPRequestCount != expectedCount {
		return model.ErrStale
	}
	exp := expiry
	ws := windowStart
	student.OTPHash = otpHash
	student.OTPExpiry = &exp
	student.OTPRequestCount = requestCount
	student.OTPWindowStart = &ws
	return nil
}

func (r *fakeRepo) ClearPendingOTP(_ context.Context, id, expectedHash string) error {
	student, ok := r.students[id]
	if !ok {
		return nil
	}
	if expectedHash != "" && student.OTPHash != expectedHash {
		return nil
	}
	student.OTPHash = ""
	student.OTPExpiry = nil
	return nil
}

func (r *fakeRepo) ApplyProfileChanges(_ context.Context, id string, changes *model.ProfileChanges, now time.Time) (*model.Student, error) {
	student, ok := r.students[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if changes.Name != nil {
		student.Name = *changes.Name
	}
	if changes.Skills != nil {
		student.Skills = append([]string(nil), (*changes.Skills)...)
	}
	if changes.LinkedInURL != nil {
		student.LinkedInURL = *changes.LinkedInURL
	}
	if changes.GitHubURL != nil {
		student.GitHubURL = *changes.GitHubURL
	}
	if changes.About != nil {
		student.About = *changes.About
	}
	student.UpdatedAt = now
	return cloneStudent(student), nil
}

func (r *fakeRepo) HealthCheck(context.Context) error { return nil }

func cloneStudent(s *model.Student) *model.Student {
	clone := *s
	if s.Skills != nil {
		clone.Skills = append([]string(nil), s.Skills...)
	}
	if s.OTPExpiry != nil {
		exp := *s.OTPExpiry
		clone.OTPExpiry = &exp
	}
	if s.OTPWindowStart != nil {
		ws := *s.OTPWindowStart
		clone.OTPWindowStart = &ws
	}
	return &clone
}

// -------------------------------------------------------------------- grants

type fakeGrant struct {
	token     string
	expiresAt time.Time
}

type fakeGrants struct {
	clock  *testClock
	grants map[string]fakeGrant
	minted int
}

func newFakeGrants(clock *testClock) *fakeGrants {
	return &fakeGrants{clock: clock, grants: make(map[string]fakeGrant)}
}

func (g *fakeGrants) Issue(_ context.Context, studentID string, ttl time.Duration) (string, error) {
	g.minted++
	token := fmt.Sprintf("grant-token-%d", g.minted)
	g.grants[studentID] = fakeGrant{token: token, expiresAt: g.clock.Now().Add(ttl)}
	return token, nil
}

func (g *fakeGrants) Consume(_ context.Context, studentID, token string) (bool, error) {
	grant, ok := g.grants[studentID]
	if !ok || grant.token != token || g.clock.Now().After(grant.expiresAt) {
		return false, nil
	}
	delete(g.grants, studentID)
	return true, nil
}

// -------------------------------------------------------------------- locker

type fakeLocker struct {
	held map[string]bool
	busy bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	if l.busy || l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) Release(_ context.Context, key string) error {
	delete(l.held, key)
	return nil
}

// -------------------------------------------------------------------- mailer

type sentMail struct {
	recipient string
	subject   string
	body      string
}

type fakeMailer struct {
	sent     []sentMail
	failNext bool
}

func (m *fakeMailer) Send(_ context.Context, recipient, subject, htmlBody string) error {
	if m.failNext {
		m.failNext = false
		return errors.New("smtp connection refused")
	}
	m.sent = append(m.sent, sentMail{recipient: recipient, subject: subject, body: htmlBody})
	return nil
}

// lastCode extracts the 6-digit code from the most recent message body.
func (m *fakeMailer) lastCode() string {
	if len(m.sent) == 0 {
		return ""
	}
	body := m.sent[len(m.sent)-1].body
	start := strings.Index(body, "<strong>")
	if start < 0 {
		return ""
	}
	start += len("<strong>")
	end := strings.Index(body[start:], "</strong>")
	if end < 0 {
		return ""
	}
	return body[start : start+end]
}

// ------------------------------------------------------------------- indexer

type fakeIndexer struct {
	indexed []string
}

func (i *fakeIndexer) IndexStudent(_ context.Context, student *model.Student) error {
	i.indexed = append(i.indexed, student.ID)
	return nil
}

func (i *fakeIndexer) Search(context.Context, string, int) ([]*model.PublicProfile, error) {
	return nil, nil
}

// ------------------------------------------------------------------- auditor

type fakeAuditor struct {
	events []model.Event
}

func (a *fakeAuditor) Record(_ context.Context, event model.Event) {
	a.events = append(a.events, event)
}

func (a *fakeAuditor) count(eventType model.EventType) int {
	n := 0
	for _, event := range a.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

// -------------------------------------------------------------------- wiring

type testEnv struct {
	service *DirectoryService
	clock   *testClock
	repo    *fakeRepo
	grants  *fakeGrants
	locker  *fakeLocker
	mailer  *fakeMailer
	indexer *fakeIndexer
	auditor *fakeAuditor
}

func newTestEnv() *testEnv {
	clock := newTestClock()
	repo := newFakeRepo()
	grants := newFakeGrants(clock)
	locker := newFakeLocker()
	mailer := &fakeMailer{}
	indexer := &fakeIndexer{}
	auditor := &fakeAuditor{}

	cfg := &config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8192,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Pepper:            "test-pepper",
		},
		OTP: config.OTPConfig{
			Expiry:      10 * time.Minute,
			Window:      60 * time.Minute,
			MaxRequests: 5,
			GrantTTL:    5 * time.Minute,
			LockTTL:     10 * time.Second,
		},
	}

	svc := NewDirectoryService(repo, grants, locker, hashing.NewHasher(cfg), mailer, indexer, auditor, cfg.OTP)
	svc.now = clock.Now

	return &testEnv{
		service: svc,
		clock:   clock,
		repo:    repo,
		grants:  grants,
		locker:  locker,
		mailer:  mailer,
		indexer: indexer,
		auditor: auditor,
	}
}

func (e *testEnv) seedStudent() *model.Student {
	student := &model.Student{
		Name:       "Asha Verma",
		Email:      "asha.verma@example.edu",
		Phone:      "+919812345678",
		RollNumber: "CS21B042",
		Skills:     []string{"go", "distributed systems"},
	}
	if err := e.repo.Create(context.Background(), student); err != nil {
		panic(err)
	}
	return student
}
