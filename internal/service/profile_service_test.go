package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"directory-service/internal/model"
)

func strptr(s string) *string { return &s }

func TestProfileUpdateRoundTrip(t *testing.T) {
	env := newTestEnv()
	seeded := env.seedStudent()
	ctx := context.Background()

	if _, err := env.service.RequestOTP(ctx, seeded.Email); err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}
	grant, err := env.service.VerifyOTP(ctx, seeded.Email, env.mailer.lastCode())
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	skills := []string{"go", "kafka", "elasticsearch"}
	changes := &model.ProfileChanges{
		Name:        strptr("Asha R. Verma"),
		Skills:      &skills,
		LinkedInURL: strptr("https://linkedin.com/in/ashaverma"),
		About:       strptr("Backend engineer."),
	}

	updated, err := env.service.ApplyProfileUpdate(ctx, grant.StudentID, grant.Token, changes)
	if err != nil {
		t.Fatalf("ApplyProfileUpdate failed: %v", err)
	}
	if updated.Name != "Asha R. Verma" {
		t.Fatalf("name = %q", updated.Name)
	}
	if len(updated.Skills) != 3 {
		t.Fatalf("skills = %v", updated.Skills)
	}
	if updated.LinkedInURL != "https://linkedin.com/in/ashaverma" {
		t.Fatalf("linkedin = %q", updated.LinkedInURL)
	}
	if !updated.UpdatedAt.Equal(env.clock.Now()) {
		t.Fatalf("updated_at = %v, want %v", updated.UpdatedAt, env.clock.Now())
	}

	if got := env.auditor.count(model.EventProfileUpdated); got != 1 {
		t.Fatalf("profile.updated events = %d, want 1", got)
	}
	if len(env.indexer.indexed) == 0 {
		t.Fatal("updated record never reached the search index")
	}

	// Untouched fields survive.
	stored, _ := env.repo.FindByID(ctx, seeded.ID)
	if stored.Email != seeded.Email || stored.RollNumber != seeded.RollNumber {
		t.Fatal("identity fields changed by a profile update")
	}
}

func TestProfileUpdateGrantIsSingleUse(t *testing.T) {
	env := newTestEnv()
	seeded := env.seedStudent()
	ctx := context.Background()

	if _, err := env.service.RequestOTP(ctx, seeded.Email); err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}
	grant, err := env.service.VerifyOTP(ctx, seeded.Email, env.mailer.lastCode())
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	changes := &model.ProfileChanges{About: strptr("first")}
	if _, err := env.service.ApplyProfileUpdate(ctx, grant.StudentID, grant.Token, changes); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	changes = &model.ProfileChanges{About: strptr("second")}
	if _, err := env.service.ApplyProfileUpdate(ctx, grant.StudentID, grant.Token, changes); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("reused grant err = %v, want ErrUnauthorized", err)
	}
}

func TestProfileUpdateGrantScopedToRecord(t *testing.T) {
	env := newTestEnv()
	seeded := env.seedStudent()
	other := &model.Student{
		Name:       "Bilal Khan",
		Email:      "bilal.khan@example.edu",
		Phone:      "+919876501234",
		RollNumber: "CS21B077",
	}
	ctx := context.Background()
	if err := env.repo.Create(ctx, other); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, err := env.service.RequestOTP(ctx, seeded.Email); err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}
	grant, err := env.service.VerifyOTP(ctx, seeded.Email, env.mailer.lastCode())
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	changes := &model.ProfileChanges{About: strptr("hijack attempt")}
	if _, err := env.service.ApplyProfileUpdate(ctx, other.ID, grant.Token, changes); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("cross-record grant err = %v, want ErrUnauthorized", err)
	}

	stored, _ := env.repo.FindByID(ctx, other.ID)
	if stored.About != "" {
		t.Fatal("other record was modified")
	}
}

func TestProfileUpdateGrantExpires(t *testing.T) {
	env := newTestEnv()
	seeded := env.seedStudent()
	ctx := context.Background()

	if _, err := env.service.RequestOTP(ctx, seeded.Email); err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}
	grant, err := env.service.VerifyOTP(ctx, seeded.Email, env.mailer.lastCode())
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	env.clock.Advance(6 * time.Minute)

	changes := &model.ProfileChanges{About: strptr("too late")}
	if _, err := env.service.ApplyProfileUpdate(ctx, grant.StudentID, grant.Token, changes); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired grant err = %v, want ErrUnauthorized", err)
	}
}

func TestProfileUpdateRejectsIdentityChanges(t *testing.T) {
	env := newTestEnv()
	seeded := env.seedStudent()
	ctx := context.Background()

	if _, err := env.service.RequestOTP(ctx, seeded.Email); err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}
	grant, err := env.service.VerifyOTP(ctx, seeded.Email, env.mailer.lastCode())
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	for _, changes := range []*model.ProfileChanges{
		{Email: strptr("new@example.edu")},
		{Phone: strptr("+910000000000")},
		{RollNumber: strptr("CS21B999")},
	} {
		if _, err := env.service.ApplyProfileUpdate(ctx, grant.StudentID, grant.Token, changes); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("identity change err = %v, want ErrInvalidInput", err)
		}
	}

	// Rejection happens before grant consumption, so a valid update still works.
	changes := &model.ProfileChanges{About: strptr("still authorized")}
	if _, err := env.service.ApplyProfileUpdate(ctx, grant.StudentID, grant.Token, changes); err != nil {
		t.Fatalf("valid update after rejections failed: %v", err)
	}
}

func TestProfileUpdateValidation(t *testing.T) {
	env := newTestEnv()
	seeded := env.seedStudent()
	ctx := context.Background()

	if _, err := env.service.RequestOTP(ctx, seeded.Email); err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}
	grant, err := env.service.VerifyOTP(ctx, seeded.Email, env.mailer.lastCode())
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	longAbout := make([]byte, 501)
	for i := range longAbout {
		longAbout[i] = 'a'
	}

	cases := []struct {
		name    string
		changes *model.ProfileChanges
	}{
		{"empty changes", &model.ProfileChanges{}},
		{"nil changes", nil},
		{"bad linkedin url", &model.ProfileChanges{LinkedInURL: strptr("not a url")}},
		{"bad github url", &model.ProfileChanges{GitHubURL: strptr("ftp//github")}},
		{"about too long", &model.ProfileChanges{About: strptr(string(longAbout))}},
		{"empty skill entry", &model.ProfileChanges{Skills: &[]string{"go", ""}}},
	}
	for _, tc := range cases {
		if _, err := env.service.ApplyProfileUpdate(ctx, grant.StudentID, grant.Token, tc.changes); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: err = %v, want ErrInvalidInput", tc.name, err)
		}
	}

	// Rejected input must not consume the grant.
	if _, err := env.service.ApplyProfileUpdate(ctx, grant.StudentID, grant.Token, &model.ProfileChanges{Skills: &[]string{"go", "databases"}}); err != nil {
		t.Fatalf("valid update after rejections failed: %v", err)
	}
}

func TestVerifyAndUpdate(t *testing.T) {
	env := newTestEnv()
	seeded := env.seedStudent()
	ctx := context.Background()

	if _, err := env.service.RequestOTP(ctx, seeded.Email); err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}

	changes := &model.ProfileChanges{
		GitHubURL: strptr("https://github.com/ashaverma"),
	}
	updated, err := env.service.VerifyAndUpdate(ctx, seeded.Email, env.mailer.lastCode(), changes)
	if err != nil {
		t.Fatalf("VerifyAndUpdate failed: %v", err)
	}
	if updated.GitHubURL != "https://github.com/ashaverma" {
		t.Fatalf("github = %q", updated.GitHubURL)
	}
}

func TestRegisterAndLookup(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	profile, err := env.service.Register(ctx, &RegisterRequest{
		Name:       "Divya Nair",
		Email:      "Divya.Nair@Example.edu",
		Phone:      "+91 98765 43210",
		RollNumber: "EE20B015",
		Skills:     []string{"python"},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if profile.Email != "divya.nair@example.edu" {
		t.Fatalf("email not normalized: %q", profile.Email)
	}
	if profile.Phone != "+919876543210" {
		t.Fatalf("phone not normalized: %q", profile.Phone)
	}

	byRoll, err := env.service.GetPublicProfile(ctx, "EE20B015")
	if err != nil {
		t.Fatalf("lookup by roll failed: %v", err)
	}
	if byRoll.ID != profile.ID {
		t.Fatalf("lookup returned %q, want %q", byRoll.ID, profile.ID)
	}

	if got := env.auditor.count(model.EventStudentCreated); got != 1 {
		t.Fatalf("student.created events = %d, want 1", got)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	env := newTestEnv()
	seeded := env.seedStudent()

	_, err := env.service.Register(context.Background(), &RegisterRequest{
		Name:       "Impostor",
		Email:      seeded.Email,
		Phone:      "+911111111111",
		RollNumber: "XX00X000",
	})
	if !errors.Is(err, ErrDuplicateStudent) {
		t.Fatalf("err = %v, want ErrDuplicateStudent", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv()

	cases := []*RegisterRequest{
		{Name: "", Email: "a@b.edu", Phone: "+911234567", RollNumber: "R1X"},
		{Name: "Valid Name", Email: "not-an-email", Phone: "+911234567", RollNumber: "R1X"},
		{Name: "Valid Name", Email: "a@b.edu", Phone: "", RollNumber: "R1X"},
		{Name: "Valid Name", Email: "a@b.edu", Phone: "not-a-phone!!", RollNumber: "R1X"},
		{Name: "Valid Name", Email: "a@b.edu", Phone: "+12 345", RollNumber: "R1X"},
	}
	for i, req := range cases {
		if _, err := env.service.Register(context.Background(), req); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: err = %v, want ErrInvalidInput", i, err)
		}
	}
}

func TestListPagination(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	names := []string{"Anita", "Bharat", "Chitra", "Deepak", "Esha"}
	for i, name := range names {
		student := &model.Student{
			Name:       name,
			Email:      name + "@example.edu",
			Phone:      "+9190000000" + string(rune('0'+i)),
			RollNumber: "R" + string(rune('0'+i)),
		}
		if err := env.repo.Create(ctx, student); err != nil {
			t.Fatalf("seed %s failed: %v", name, err)
		}
	}

	page, total, err := env.service.List(ctx, 2, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(page) != 2 || page[0].Name != "Chitra" || page[1].Name != "Deepak" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestPublicProfileHidesOTPState(t *testing.T) {
	env := newTestEnv()
	seeded := env.seedStudent()
	ctx := context.Background()

	if _, err := env.service.RequestOTP(ctx, seeded.Email); err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}

	profile, err := env.service.GetPublicProfile(ctx, seeded.Email)
	if err != nil {
		t.Fatalf("GetPublicProfile failed: %v", err)
	}
	if profile.Skills == nil {
		t.Fatal("skills should never be nil in the public view")
	}
}
