package validation

import (
	"errors"
	"fmt"
	"testing"
)

func TestRequired(t *testing.T) {
	if err := Required("a", "x", "b", "y"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := Required("a", "x", "b", "  ", "c", "")
	ve, ok := As(err)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if ve.Field != "b" {
		t.Errorf("field = %q, want b", ve.Field)
	}
	if err.Error() != "b: is required" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestAsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("create: %w", Errorf("value", "must be positive, got %d", -1))
	ve, ok := As(err)
	if !ok || ve.Field != "value" || ve.Msg != "must be positive, got -1" {
		t.Errorf("As = %+v, %v", ve, ok)
	}

	if _, ok := As(errors.New("plain")); ok {
		t.Error("plain error should not match")
	}
}

func TestEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"user@example.com", true},
		{"first.last+tag@sub.example.com.br", true},
		{"user@example", false},
		{"user@example.c", false},
		{"no-at-sign", false},
		{"Name <user@example.com>", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Email(tt.in); got != tt.want {
			t.Errorf("Email(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDigits(t *testing.T) {
	if got := Digits("123.456.789-01"); got != "12345678901" {
		t.Errorf("Digits = %q", got)
	}
	if got := Digits("٣٤"); got != "" {
		t.Errorf("non-ASCII digits should be dropped, got %q", got)
	}
}
