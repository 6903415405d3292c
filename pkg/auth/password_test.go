package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("bookworm42"); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	cases := map[string]error{
		"short1a":                ErrPasswordTooShort,
		strings.Repeat("a1", 65): ErrPasswordTooLong,
		"1234567890":             ErrPasswordNoLetter,
		"NoDigitsHere":           ErrPasswordNoDigit,
	}
	for password, want := range cases {
		if err := ValidatePassword(password); !errors.Is(err, want) {
			t.Fatalf("%q: expected %v, got %v", password, want, err)
		}
	}
}

func TestValidatePasswordChange(t *testing.T) {
	if err := ValidatePasswordChange("", "bookworm42"); err == nil {
		t.Fatalf("expected missing current password to fail")
	}
	if err := ValidatePasswordChange("bookworm42", "bookworm42"); !errors.Is(err, ErrPasswordUnchanged) {
		t.Fatalf("expected unchanged password to fail, got %v", err)
	}
	if err := ValidatePasswordChange("bookworm42", "shelfie99"); err != nil {
		t.Fatalf("expected valid change, got %v", err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  Reader@Example.COM ")
	if err != nil || got != "reader@example.com" {
		t.Fatalf("unexpected normalized email %q err=%v", got, err)
	}
	for _, bad := range []string{"", "not-an-email", "Name <a@b.c>"} {
		if _, err := NormalizeEmail(bad); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("%q: expected invalid email, got %v", bad, err)
		}
	}
}
