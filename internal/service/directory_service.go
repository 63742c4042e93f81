package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"directory-service/internal/config"
	"directory-service/internal/hashing"
	"directory-service/internal/model"
	"directory-service/internal/util"
)

// BulkIndexer is implemented by search backends that can rebuild the
// whole index from the store.
type BulkIndexer interface {
	Reindex(ctx context.Context, repo model.StudentRepository) (int, error)
}

// RegisterRequest carries the fields needed to create a directory record.
type RegisterRequest struct {
	Name       string   `json:"name" validate:"required,min=2,max=120"`
	Email      string   `json:"email" validate:"required,email"`
	Phone      string   `json:"phone" validate:"required,min=7,max=20"`
	RollNumber string   `json:"roll_number" validate:"required,min=2,max=40"`
	Skills     []string `json:"skills,omitempty"`
	About      string   `json:"about,omitempty" validate:"omitempty,max=500"`
}

// OTPIssueResult tells the caller when the issued passcode lapses.
type OTPIssueResult struct {
	Expiry time.Time `json:"expiry"`
}

// UpdateGrant is the single-use authorization minted after a successful
// verification. The plaintext token is returned to the caller once and
// never stored.
type UpdateGrant struct {
	StudentID string    `json:"student_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DirectoryService implements the OTP-gated profile update flow along with
// registration, listing and search over the public directory.
type DirectoryService struct {
	repo    model.StudentRepository
	grants  model.GrantStore
	locker  model.RecordLocker
	hasher  *hashing.Hasher
	mailer  model.Mailer
	indexer model.SearchIndexer
	auditor model.AuditSink

	otpConfig config.OTPConfig
	validate  *validator.Validate

	// now is swapped in tests to step through expiry windows.
	now func() time.Time
}

func NewDirectoryService(
	repo model.StudentRepository,
	grants model.GrantStore,
	locker model.RecordLocker,
	hasher *hashing.Hasher,
	mailer model.Mailer,
	indexer model.SearchIndexer,
	auditor model.AuditSink,
	otpConfig config.OTPConfig,
) *DirectoryService {
	return &DirectoryService{
		repo:      repo,
		grants:    grants,
		locker:    locker,
		hasher:    hasher,
		mailer:    mailer,
		indexer:   indexer,
		auditor:   auditor,
		otpConfig: otpConfig,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// Register creates a new directory record. Email and phone are normalized
// before the uniqueness check in the store.
func (s *DirectoryService) Register(ctx context.Context, req *RegisterRequest) (*model.PublicProfile, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err.Error())
	}

	phone := util.NormalizePhone(req.Phone)
	if !util.IsValidPhone(phone) {
		return nil, fmt.Errorf("%w: phone must be digits with an optional leading +", ErrInvalidInput)
	}

	student := &model.Student{
		Name:       util.SanitizeInput(req.Name),
		Email:      util.NormalizeEmail(req.Email),
		Phone:      phone,
		RollNumber: req.RollNumber,
		Skills:     req.Skills,
		About:      util.SanitizeInput(req.About),
	}

	if err := s.repo.Create(ctx, student); err != nil {
		if errors.Is(err, model.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStudent, student.Email)
		}
		return nil, err
	}

	s.indexBestEffort(ctx, student)
	s.auditor.Record(ctx, model.Event{
		Type:      model.EventStudentCreated,
		StudentID: student.ID,
		Email:     student.Email,
		At:        s.now().UTC(),
	})

	return student.PublicProfile(), nil
}

// GetPublicProfile resolves an email address or roll number to the public
// view of the record.
func (s *DirectoryService) GetPublicProfile(ctx context.Context, identifier string) (*model.PublicProfile, error) {
	student, err := s.findStudent(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return student.PublicProfile(), nil
}

// List returns a page of public profiles sorted by name, plus the total
// record count.
func (s *DirectoryService) List(ctx context.Context, limit, offset int) ([]*model.PublicProfile, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	students, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	profiles := make([]*model.PublicProfile, 0, len(students))
	for _, student := range students {
		profiles = append(profiles, student.PublicProfile())
	}
	return profiles, total, nil
}

// RequestOTP issues a fresh passcode for the record and emails it to the
// address on file. Issuing again replaces any pending passcode. At most
// MaxRequests issuances are allowed per rolling window.
func (s *DirectoryService) RequestOTP(ctx context.Context, identifier string) (*OTPIssueResult, error) {
	student, err := s.findStudent(ctx, identifier)
	if err != nil {
		return nil, err
	}

	acquired, err := s.locker.Acquire(ctx, student.ID, s.otpConfig.LockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrRecordBusy
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), student.ID); err != nil {
			util.Warn("Failed to release record lock",
				zap.String("student_id", student.ID),
				zap.Error(err))
		}
	}()

	now := s.now().UTC()
	expectedCount := student.OTPRequestCount

	windowStart := now
	requestCount := 1
	if student.OTPWindowStart != nil && now.Sub(*student.OTPWindowStart) <= s.otpConfig.Window {
		windowStart = *student.OTPWindowStart
		if student.OTPRequestCount >= s.otpConfig.MaxRequests {
			retryAfter := windowStart.Add(s.otpConfig.Window).Sub(now)
			s.auditor.Record(ctx, model.Event{
				Type:      model.EventOTPRejected,
				StudentID: student.ID,
				Email:     student.Email,
				Detail:    "rate limit exceeded",
				At:        now,
			})
			return nil, &RateLimitError{RetryAfter: retryAfter}
		}
		requestCount = student.OTPRequestCount + 1
	}

	code, err := generateOTP()
	if err != nil {
		return nil, fmt.Errorf("failed to generate OTP: %w", err)
	}
	otpHash, err := s.hasher.HashOTP(code)
	if err != nil {
		return nil, fmt.Errorf("failed to hash OTP: %w", err)
	}

	expiry := now.Add(s.otpConfig.Expiry)
	if err := s.repo.SetPendingOTP(ctx, student.ID, otpHash, expiry, requestCount, windowStart, expectedCount); err != nil {
		if errors.Is(err, model.ErrStale) {
			return nil, ErrRecordBusy
		}
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}

	s.auditor.Record(ctx, model.Event{
		Type:      model.EventOTPIssued,
		StudentID: student.ID,
		Email:     student.Email,
		Detail:    fmt.Sprintf("request %d of %d in window", requestCount, s.otpConfig.MaxRequests),
		At:        now,
	})

	if err := s.sendOTPEmail(ctx, student, code); err != nil {
		// The stored passcode stays valid; the caller may retry delivery
		// by requesting again.
		s.auditor.Record(ctx, model.Event{
			Type:      model.EventOTPDeliveryErr,
			StudentID: student.ID,
			Email:     student.Email,
			Detail:    err.Error(),
			At:        s.now().UTC(),
		})
		return nil, fmt.Errorf("%w: %s", ErrDeliveryFailure, err.Error())
	}

	util.Info("OTP issued",
		zap.String("student_id", student.ID),
		zap.Int("request_count", requestCount),
		zap.Time("expiry", expiry))

	return &OTPIssueResult{Expiry: expiry}, nil
}

// VerifyOTP checks the submitted passcode. Success consumes the pending
// passcode and mints a single-use update grant scoped to the record.
func (s *DirectoryService) VerifyOTP(ctx context.Context, identifier, code string) (*UpdateGrant, error) {
	student, err := s.findStudent(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if len(code) != 6 || !util.IsDigits(code) {
		return nil, fmt.Errorf("%w: OTP must be 6 digits", ErrInvalidInput)
	}

	if !student.HasPendingOTP() {
		return nil, ErrNoPendingOTP
	}

	now := s.now().UTC()
	if !now.Before(*student.OTPExpiry) {
		if err := s.repo.ClearPendingOTP(ctx, student.ID, student.OTPHash); err != nil {
			util.Warn("Failed to clear expired OTP",
				zap.String("student_id", student.ID),
				zap.Error(err))
		}
		return nil, ErrOTPExpired
	}

	match, err := s.hasher.VerifyOTP(code, student.OTPHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify OTP: %w", err)
	}
	if !match {
		s.auditor.Record(ctx, model.Event{
			Type:      model.EventOTPRejected,
			StudentID: student.ID,
			Email:     student.Email,
			Detail:    "OTP mismatch",
			At:        now,
		})
		return nil, ErrOTPMismatch
	}

	// Single use: the passcode is gone before the grant is handed out.
	if err := s.repo.ClearPendingOTP(ctx, student.ID, student.OTPHash); err != nil {
		return nil, fmt.Errorf("failed to consume OTP: %w", err)
	}

	token, err := s.grants.Issue(ctx, student.ID, s.otpConfig.GrantTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue update grant: %w", err)
	}

	s.auditor.Record(ctx, model.Event{
		Type:      model.EventOTPVerified,
		StudentID: student.ID,
		Email:     student.Email,
		At:        now,
	})

	return &UpdateGrant{
		StudentID: student.ID,
		Token:     token,
		ExpiresAt: now.Add(s.otpConfig.GrantTTL),
	}, nil
}

// ApplyProfileUpdate consumes the grant and applies the submitted changes.
// Identity fields are immutable through this flow.
func (s *DirectoryService) ApplyProfileUpdate(ctx context.Context, studentID, token string, changes *model.ProfileChanges) (*model.PublicProfile, error) {
	if changes == nil || changes.Empty() {
		return nil, fmt.Errorf("%w: no changes supplied", ErrInvalidInput)
	}
	if changes.TouchesIdentity() {
		return nil, fmt.Errorf("%w: email, phone and roll number cannot be changed here", ErrInvalidInput)
	}
	if err := s.validate.Struct(changes); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err.Error())
	}

	ok, err := s.grants.Consume(ctx, studentID, token)
	if err != nil {
		return nil, fmt.Errorf("failed to consume update grant: %w", err)
	}
	if !ok {
		return nil, ErrUnauthorized
	}

	sanitizeChanges(changes)

	updated, err := s.repo.ApplyProfileChanges(ctx, studentID, changes, s.now().UTC())
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}

	s.indexBestEffort(ctx, updated)
	s.auditor.Record(ctx, model.Event{
		Type:      model.EventProfileUpdated,
		StudentID: updated.ID,
		Email:     updated.Email,
		At:        s.now().UTC(),
	})

	return updated.PublicProfile(), nil
}

// VerifyAndUpdate runs verification and the profile mutation as one call
// for clients that do not need a separate grant step.
func (s *DirectoryService) VerifyAndUpdate(ctx context.Context, identifier, code string, changes *model.ProfileChanges) (*model.PublicProfile, error) {
	grant, err := s.VerifyOTP(ctx, identifier, code)
	if err != nil {
		return nil, err
	}
	return s.ApplyProfileUpdate(ctx, grant.StudentID, grant.Token, changes)
}

// Search queries the directory index. Returns ErrSearchUnavailable when no
// search backend is configured.
func (s *DirectoryService) Search(ctx context.Context, query string, limit int) ([]*model.PublicProfile, error) {
	if s.indexer == nil {
		return nil, ErrSearchUnavailable
	}
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.indexer.Search(ctx, query, limit)
}

// Reindex rebuilds the search index from the store.
func (s *DirectoryService) Reindex(ctx context.Context) (int, error) {
	bulk, ok := s.indexer.(BulkIndexer)
	if !ok {
		return 0, ErrSearchUnavailable
	}
	return bulk.Reindex(ctx, s.repo)
}

func (s *DirectoryService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}

func (s *DirectoryService) findStudent(ctx context.Context, identifier string) (*model.Student, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrInvalidInput)
	}
	student, err := s.repo.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return student, nil
}

func (s *DirectoryService) sendOTPEmail(ctx context.Context, student *model.Student, code string) error {
	minutes := int(s.otpConfig.Expiry.Minutes())
	subject := "Your profile update code"
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Your one-time code is <strong>%s</strong>.</p><p>It expires in %d minutes. If you did not request a profile update, you can ignore this message.</p>",
		student.Name, code, minutes)
	return s.mailer.Send(ctx, student.Email, subject, body)
}

func (s *DirectoryService) indexBestEffort(ctx context.Context, student *model.Student) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.IndexStudent(ctx, student); err != nil {
		util.Warn("Failed to index student, store remains authoritative",
			zap.String("student_id", student.ID),
			zap.Error(err))
	}
}

func sanitizeChanges(changes *model.ProfileChanges) {
	if changes.Name != nil {
		clean := util.SanitizeInput(*changes.Name)
		changes.Name = &clean
	}
	if changes.About != nil {
		clean := util.SanitizeInput(*changes.About)
		changes.About = &clean
	}
	if changes.Skills != nil {
		skills := make([]string, 0, len(*changes.Skills))
		for _, skill := range *changes.Skills {
			skills = append(skills, util.SanitizeInput(skill))
		}
		changes.Skills = &skills
	}
}

// generateOTP draws a uniform 6-digit code from crypto/rand.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
