package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/abelbrown/contestare/internal/store"
	"github.com/abelbrown/contestare/internal/validation"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestService(t *testing.T) (*Service, *store.Store, *clock) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	c := &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := New(st, WithBcryptCost(bcrypt.MinCost), WithTTL(time.Hour), WithClock(c.now))
	return svc, st, c
}

func validInput() RegisterInput {
	return RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "secret1",
		FullName: "Alice Souza",
	}
}

func TestRegisterCreatesUserAndSession(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	u, sess, err := svc.Register(ctx, validInput())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if u.ID == 0 || sess.UserID != u.ID {
		t.Fatalf("unexpected user/session: %+v %+v", u, sess)
	}
	if u.PasswordHash == "secret1" {
		t.Error("password must be hashed")
	}

	got, err := svc.Authenticate(ctx, sess.Token)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got.Username != "alice" {
		t.Errorf("username = %q", got.Username)
	}

	stored, _ := st.GetUser(ctx, u.ID)
	if bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("secret1")) != nil {
		t.Error("stored hash does not verify")
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		field  string
		mutate func(*RegisterInput)
	}{
		{"username", func(in *RegisterInput) { in.Username = "ab" }},
		{"email", func(in *RegisterInput) { in.Email = "not-an-email" }},
		{"email", func(in *RegisterInput) { in.Email = "a@b.c" }},
		{"password", func(in *RegisterInput) { in.Password = "12345" }},
		{"full_name", func(in *RegisterInput) { in.FullName = "" }},
	}
	for _, tt := range tests {
		in := validInput()
		tt.mutate(&in)
		_, _, err := svc.Register(ctx, in)
		ve, ok := validation.As(err)
		if !ok || ve.Field != tt.field {
			t.Errorf("%s: got %v", tt.field, err)
		}
	}
}

func TestRegisterDuplicates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, validInput()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	in := validInput()
	in.Email = "other@example.com"
	_, _, err := svc.Register(ctx, in)
	if ve, ok := validation.As(err); !ok || ve.Field != "username" {
		t.Errorf("duplicate username: got %v", err)
	}

	in = validInput()
	in.Username = "other"
	_, _, err = svc.Register(ctx, in)
	if ve, ok := validation.As(err); !ok || ve.Field != "email" {
		t.Errorf("duplicate email: got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _, c := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.Register(ctx, validInput()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	for _, login := range []string{"alice", "alice@example.com"} {
		u, sess, err := svc.Login(ctx, login, "secret1")
		if err != nil {
			t.Fatalf("Login(%q) failed: %v", login, err)
		}
		if u.LastLogin == nil || !u.LastLogin.Equal(c.t) {
			t.Errorf("last login = %v, want %v", u.LastLogin, c.t)
		}
		if !sess.ExpiresAt.Equal(c.t.Add(time.Hour)) {
			t.Errorf("session expiry = %v", sess.ExpiresAt)
		}
	}

	if _, _, err := svc.Login(ctx, "alice", "wrong!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "", ""); err == nil {
		t.Error("empty login should fail")
	}
}

func TestLoginInactive(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	u, _, err := svc.Register(ctx, validInput())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := st.SetActive(ctx, u.ID, false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}

	if _, _, err := svc.Login(ctx, "alice", "secret1"); !errors.Is(err, ErrInactive) {
		t.Errorf("expected ErrInactive, got %v", err)
	}
}

func TestSessionExpiryAndLogout(t *testing.T) {
	svc, _, c := newTestService(t)
	ctx := context.Background()
	_, sess, err := svc.Register(ctx, validInput())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	c.t = c.t.Add(59 * time.Minute)
	if _, err := svc.Authenticate(ctx, sess.Token); err != nil {
		t.Errorf("session should still be live: %v", err)
	}

	c.t = c.t.Add(2 * time.Minute)
	if _, err := svc.Authenticate(ctx, sess.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expired session: expected ErrUnauthenticated, got %v", err)
	}
	if n, err := svc.PurgeExpired(ctx); err != nil || n != 1 {
		t.Errorf("PurgeExpired = %d, %v; want 1", n, err)
	}

	_, sess, err = svc.Login(ctx, "alice", "secret1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := svc.Logout(ctx, sess.Token); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := svc.Authenticate(ctx, sess.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("logged out session: expected ErrUnauthenticated, got %v", err)
	}
	if err := svc.Logout(ctx, "unknown"); err != nil {
		t.Errorf("logout of unknown token should succeed: %v", err)
	}
	if _, err := svc.Authenticate(ctx, ""); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("empty token: expected ErrUnauthenticated, got %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	u, _, err := svc.Register(ctx, validInput())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	city, cpf := "Recife", "123.456.789-01"
	got, err := svc.UpdateProfile(ctx, u.ID, ProfileInput{City: &city, CPF: &cpf})
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if got.City != "Recife" || got.CPF != cpf {
		t.Errorf("profile not applied: %+v", got)
	}

	short := "1234"
	got, err = svc.UpdateProfile(ctx, u.ID, ProfileInput{CPF: &short})
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if got.CPF != cpf {
		t.Errorf("invalid cpf should be ignored, got %q", got.CPF)
	}
}
