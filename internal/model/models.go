package model

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by the repository and cache implementations.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate unique field")
	ErrStale     = errors.New("record changed concurrently")
)

// -------------------- STUDENT RECORD --------------------

// Student is the per-person directory record. Identity fields (email, phone,
// roll number) are unique across records and never change through the
// self-service flow. The otp_* fields are transient passcode state: otp_hash
// and otp_expiry are either both set or both absent.
type Student struct {
	ID         string `bson:"_id" json:"id"`
	Name       string `bson:"name" json:"name"`
	Email      string `bson:"email" json:"email"`             // unique, lowercase
	Phone      string `bson:"phone" json:"phone"`             // unique, 10 digits
	RollNumber string `bson:"roll_number" json:"roll_number"` // unique

	Skills      []string `bson:"skills" json:"skills"`
	LinkedInURL string   `bson:"linkedin_url,omitempty" json:"linkedin_url,omitempty"`
	GitHubURL   string   `bson:"github_url,omitempty" json:"github_url,omitempty"`
	About       string   `bson:"about,omitempty" json:"about,omitempty"`

	OTPHash         string     `bson:"otp_hash,omitempty" json:"-"`
	OTPExpiry       *time.Time `bson:"otp_expiry,omitempty" json:"-"`
	OTPRequestCount int        `bson:"otp_request_count" json:"-"`
	OTPWindowStart  *time.Time `bson:"otp_window_start,omitempty" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// HasPendingOTP reports whether a passcode is currently outstanding.
func (s *Student) HasPendingOTP() bool {
	return s.OTPHash != "" && s.OTPExpiry != nil
}

// PublicProfile is the subset of a record safe to return to any caller.
// Passcode state never appears here.
type PublicProfile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	RollNumber  string    `json:"roll_number"`
	Skills      []string  `json:"skills"`
	LinkedInURL string    `json:"linkedin_url,omitempty"`
	GitHubURL   string    `json:"github_url,omitempty"`
	About       string    `json:"about,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PublicProfile projects the record onto its public fields.
func (s *Student) PublicProfile() *PublicProfile {
	skills := s.Skills
	if skills == nil {
		skills = []string{}
	}
	return &PublicProfile{
		ID:          s.ID,
		Name:        s.Name,
		Email:       s.Email,
		Phone:       s.Phone,
		RollNumber:  s.RollNumber,
		Skills:      skills,
		LinkedInURL: s.LinkedInURL,
		GitHubURL:   s.GitHubURL,
		About:       s.About,
		UpdatedAt:   s.UpdatedAt,
	}
}

// ProfileChanges is a partial update: only non-nil fields are applied.
// Email, Phone and RollNumber are present so attempts to change them can be
// rejected explicitly rather than silently dropped.
type ProfileChanges struct {
	Name        *string   `json:"name,omitempty"`
	Skills      *[]string `json:"skills,omitempty" validate:"omitempty,dive,min=1"`
	LinkedInURL *string   `json:"linkedin_url,omitempty" validate:"omitempty,url"`
	GitHubURL   *string   `json:"github_url,omitempty" validate:"omitempty,url"`
	About       *string   `json:"about,omitempty" validate:"omitempty,max=500"`

	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	RollNumber *string `json:"roll_number,omitempty"`
}

// Empty reports whether no field at all was supplied.
func (c *ProfileChanges) Empty() bool {
	return c.Name == nil && c.Skills == nil && c.LinkedInURL == nil &&
		c.GitHubURL == nil && c.About == nil &&
		c.Email == nil && c.Phone == nil && c.RollNumber == nil
}

// TouchesIdentity reports whether any uniqueness-bearing identity field was
// supplied. Such changes are rejected by the mutation flow.
func (c *ProfileChanges) TouchesIdentity() bool {
	return c.Email != nil || c.Phone != nil || c.RollNumber != nil
}

// -------------------- AUDIT EVENTS --------------------

type EventType string

const (
	EventOTPIssued      EventType = "otp.issued"
	EventOTPDeliveryErr EventType = "otp.delivery_failed"
	EventOTPVerified    EventType = "otp.verified"
	EventOTPRejected    EventType = "otp.rejected"
	EventProfileUpdated EventType = "profile.updated"
	EventStudentCreated EventType = "student.created"
)

// Event is an audit trail entry emitted by the OTP flow and the mutator.
type Event struct {
	Type      EventType `json:"type"`
	StudentID string    `json:"student_id"`
	Email     string    `json:"email,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// -------------------- REPOSITORY INTERFACES --------------------

// StudentRepository is the persistence layer: one document per student with
// atomic read-modify-write on the passcode fields.
type StudentRepository interface {
	Create(ctx context.Context, student *Student) error
	FindByID(ctx context.Context, id string) (*Student, error)
	// FindByIdentifier resolves an email address or roll number.
	FindByIdentifier(ctx context.Context, identifier string) (*Student, error)
	List(ctx context.Context, limit, offset int) ([]*Student, int64, error)

	// SetPendingOTP persists a freshly issued passcode. The write is
	// conditional on otp_request_count still equaling expectedCount so two
	// concurrent issuances cannot both pass the rate-limit check; a lost
	// race returns ErrStale.
	SetPendingOTP(ctx context.Context, id, otpHash string, expiry time.Time, requestCount int, windowStart time.Time, expectedCount int) error

	// ClearPendingOTP removes the pending passcode. When expectedHash is
	// non-empty the clear only applies if the stored hash still matches,
	// so an old verify cannot wipe a newer code.
	ClearPendingOTP(ctx context.Context, id, expectedHash string) error

	// ApplyProfileChanges performs a partial update of profile fields and
	// returns the updated record.
	ApplyProfileChanges(ctx context.Context, id string, changes *ProfileChanges, now time.Time) (*Student, error)

	HealthCheck(ctx context.Context) error
}

// -------------------- CACHE & SIDE-EFFECT INTERFACES --------------------

// GrantStore holds single-use mutation grants minted on successful
// verification. Consume is atomic: exactly one call per grant succeeds.
type GrantStore interface {
	Issue(ctx context.Context, studentID string, ttl time.Duration) (token string, err error)
	Consume(ctx context.Context, studentID, token string) (bool, error)
}

// RecordLocker serializes the issue/verify read-check-modify-write sequence
// for a single record. Locks are short-lived and best-effort; the
// repository's conditional writes remain the persisted guard.
type RecordLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Mailer delivers the plaintext passcode out of band.
type Mailer interface {
	Send(ctx context.Context, recipient, subject, htmlBody string) error
}

// SearchIndexer keeps the directory search index in step with the store.
type SearchIndexer interface {
	IndexStudent(ctx context.Context, student *Student) error
	Search(ctx context.Context, query string, limit int) ([]*PublicProfile, error)
}

// AuditSink records audit events. Implementations must never fail the
// calling request; delivery problems are logged and dropped.
type AuditSink interface {
	Record(ctx context.Context, event Event)
}
