package util

import "testing"

func TestNormalizeEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Asha.Verma@Example.EDU", "asha.verma@example.edu"},
		{"  padded@example.edu  ", "padded@example.edu"},
		{"already@example.edu", "already@example.edu"},
	}
	for _, tc := range cases {
		if got := NormalizeEmail(tc.in); got != tc.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+91 98765 43210", "+919876543210"},
		{"(040) 2345-6789", "04023456789"},
		{"+919876543210", "+919876543210"},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := SanitizeInput("<script>alert(1)</script>"); got == "<script>alert(1)</script>" {
		t.Errorf("markup not escaped: %q", got)
	}
	if got := SanitizeInput("plain text"); got != "plain text" {
		t.Errorf("plain input changed: %q", got)
	}
}

func TestIsValidPhone(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"+919876543210", true},
		{"9876543210", true},
		{"1234567", true},
		{"123456", false},
		{"1234567890123456", false},
		{"not-a-phone!!", false},
		{"notaphone!!", false},
		{"++12345678", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsValidPhone(tc.in); got != tc.want {
			t.Errorf("IsValidPhone(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestIsDigits(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"123456", true},
		{"12a456", false},
		{"", false},
		{"１２３４５６", false},
	}
	for _, tc := range cases {
		if got := IsDigits(tc.in); got != tc.want {
			t.Errorf("IsDigits(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
