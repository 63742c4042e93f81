package hashing

import (
	"strings"
	"testing"

	"directory-service/internal/config"
)

func testHasher(pepper string) *Hasher {
	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 8 * 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.Pepper = pepper
	return NewHasher(cfg)
}

func TestHashAndVerifyRoundTrip(t *testing.T) {
	h := testHasher("unit-test-pepper")

	encoded, err := h.HashOTP("482913")
	if err != nil {
		t.Fatalf("HashOTP failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "argon2id$") {
		t.Fatalf("unexpected encoding prefix: %q", encoded)
	}

	ok, err := h.VerifyOTP("482913", encoded)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if !ok {
		t.Fatal("correct passcode did not verify")
	}
}

func TestVerifyRejectsWrongCode(t *testing.T) {
	h := testHasher("unit-test-pepper")

	encoded, err := h.HashOTP("482913")
	if err != nil {
		t.Fatalf("HashOTP failed: %v", err)
	}

	ok, err := h.VerifyOTP("482914", encoded)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if ok {
		t.Fatal("wrong passcode verified")
	}
}

func TestVerifyRejectsWrongPepper(t *testing.T) {
	encoded, err := testHasher("pepper-a").HashOTP("123456")
	if err != nil {
		t.Fatalf("HashOTP failed: %v", err)
	}

	ok, err := testHasher("pepper-b").VerifyOTP("123456", encoded)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if ok {
		t.Fatal("digest verified under a different pepper")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h := testHasher("")

	a, err := h.HashOTP("777777")
	if err != nil {
		t.Fatalf("HashOTP failed: %v", err)
	}
	b, err := h.HashOTP("777777")
	if err != nil {
		t.Fatalf("HashOTP failed: %v", err)
	}
	if a == b {
		t.Fatal("two digests of the same code are identical; salt missing")
	}
}

func TestVerifySurvivesWorkFactorChange(t *testing.T) {
	old := testHasher("shared")
	encoded, err := old.HashOTP("654321")
	if err != nil {
		t.Fatalf("HashOTP failed: %v", err)
	}

	// A hasher configured with heavier parameters must still verify
	// digests produced under the old ones.
	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 16 * 1024
	cfg.Hashing.Argon2TimeCost = 2
	cfg.Hashing.Argon2Parallelism = 2
	cfg.Hashing.Pepper = "shared"
	upgraded := NewHasher(cfg)

	ok, err := upgraded.VerifyOTP("654321", encoded)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if !ok {
		t.Fatal("digest did not verify after work factor change")
	}
}

func TestVerifyMalformedDigest(t *testing.T) {
	h := testHasher("")

	cases := []string{
		"",
		"bcrypt$whatever",
		"argon2id$v=19$m=8192,t=1,p=1$only-four-parts",
		"argon2id$v=19$m=8192,t=1,p=1$!!!$AAAA",
	}
	for _, c := range cases {
		if _, err := h.VerifyOTP("123456", c); err == nil {
			t.Fatalf("expected error for malformed digest %q", c)
		}
	}
}
