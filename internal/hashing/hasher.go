package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"directory-service/internal/config"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher derives one-way digests of short secrets (OTP codes) with Argon2id.
// The work factor comes from configuration; every digest is self-describing,
// so stored hashes keep verifying after the parameters are raised.
type Hasher struct {
	params Argon2Params
	pepper string
}

func NewHasher(cfg *config.Config) *Hasher {
	return &Hasher{
		params: Argon2Params{
			Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
			Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
			Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
			SaltLength:  16,
			KeyLength:   32,
		},
		pepper: cfg.Hashing.Pepper,
	}
}

// HashOTP returns an encoded digest of the passcode:
// argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<hash> (base64, no padding).
func (h *Hasher) HashOTP(otp string) (string, error) {
	return h.hash(otp, "otp")
}

// VerifyOTP compares a submitted passcode against an encoded digest in
// constant time. The digest's own parameters drive the comparison.
func (h *Hasher) VerifyOTP(otp, encoded string) (bool, error) {
	return h.verify(otp, encoded, "otp")
}

func (h *Hasher) hash(secret, context string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	// Context binds the digest to its purpose so it cannot be replayed
	// against a different comparison path.
	material := secret + h.pepper + context

	key := argon2.IDKey(
		[]byte(material),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	encoded := fmt.Sprintf("argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawURLEncoding.EncodeToString(salt),
		base64.RawURLEncoding.EncodeToString(key),
	)
	return encoded, nil
}

func (h *Hasher) verify(secret, encoded, context string) (bool, error) {
	params, salt, expected, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	material := secret + h.pepper + context

	computed := argon2.IDKey(
		[]byte(material),
		salt,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		uint32(len(expected)),
	)

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func decodeHash(encoded string) (Argon2Params, []byte, []byte, error) {
	var params Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return params, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[1], "v=%d", &version); err != nil {
		return params, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return params, nil, nil, ErrIncompatibleVersion
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return params, nil, nil, ErrInvalidHash
	}
	params.Memory = memory
	params.Iterations = iterations
	params.Parallelism = parallelism

	salt, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return params, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawURLEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, ErrInvalidHash
	}

	return params, salt, key, nil
}
