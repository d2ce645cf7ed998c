// Package auth handles registration, password login and server-side
// sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/abelbrown/contestare/internal/audit"
	"github.com/abelbrown/contestare/internal/logging"
	"github.com/abelbrown/contestare/internal/store"
	"github.com/abelbrown/contestare/internal/validation"
)

var (
	// ErrInvalidCredentials is returned for an unknown login or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInactive is returned when a disabled account tries to log in.
	ErrInactive = errors.New("account disabled")

	// ErrUnauthenticated is returned for a missing, unknown or expired session.
	ErrUnauthenticated = errors.New("not authenticated")
)

const (
	minUsername = 3
	minPassword = 6
	cpfDigits   = 11
)

// DefaultSessionTTL is used when the service is built without WithTTL.
const DefaultSessionTTL = 7 * 24 * time.Hour

// RegisterInput is a signup request.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	CPF      string `json:"cpf"`
}

// ProfileInput holds optional profile changes. Nil fields are left alone.
type ProfileInput struct {
	FullName *string `json:"full_name"`
	Phone    *string `json:"phone"`
	CPF      *string `json:"cpf"`
	Address  *string `json:"address"`
	City     *string `json:"city"`
	State    *string `json:"state"`
	ZipCode  *string `json:"zip_code"`
}

// Service issues and checks sessions.
type Service struct {
	store *store.Store
	ttl   time.Duration
	cost  int
	audit *audit.Logger
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets the session lifetime.
func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithBcryptCost overrides the hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithAudit attaches an audit logger.
func WithAudit(l *audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store: st,
		ttl:   DefaultSessionTTL,
		cost:  bcrypt.DefaultCost,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL reports the session lifetime, used for cookie expiry.
func (s *Service) TTL() time.Duration { return s.ttl }

// Register validates the input, creates the account and opens a session.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*store.User, *store.Session, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	if len(in.Username) < minUsername {
		return nil, nil, validation.Errorf("username", "must be at least %d characters", minUsername)
	}
	if !validation.Email(in.Email) {
		return nil, nil, validation.Errorf("email", "is invalid")
	}
	if len(in.Password) < minPassword {
		return nil, nil, validation.Errorf("password", "must be at least %d characters", minPassword)
	}
	if err := validation.Required("full_name", in.FullName); err != nil {
		return nil, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	u := &store.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		FullName:     in.FullName,
		Phone:        in.Phone,
		CPF:          in.CPF,
	}

	var sess *store.Session
	err = s.store.WithTx(ctx, func(q *store.Queries) error {
		if taken, err := q.UsernameExists(ctx, u.Username); err != nil {
			return err
		} else if taken {
			return validation.Errorf("username", "already exists")
		}
		if taken, err := q.EmailExists(ctx, u.Email); err != nil {
			return err
		} else if taken {
			return validation.Errorf("email", "already registered")
		}
		if err := q.CreateUser(ctx, u); err != nil {
			return err
		}
		sess, err = s.openSession(ctx, q, u.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.audit.Record(audit.KindRegister, "auth", u.ID, 0)
	logging.Info("User registered", "user", u.ID, "username", u.Username)
	return u, sess, nil
}

// Login checks a username-or-email and password and opens a session.
func (s *Service) Login(ctx context.Context, login, password string) (*store.User, *store.Session, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, nil, validation.Errorf("username", "username and password are required")
	}

	u, err := s.store.GetUserByLogin(ctx, login)
	if errors.Is(err, store.ErrNotFound) {
		s.audit.Warn(audit.KindLoginFailed, "auth", "unknown login")
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		s.audit.Emit(audit.Event{Level: audit.LevelWarn, Kind: audit.KindLoginFailed, Comp: "auth", UserID: u.ID, Msg: "wrong password"})
		return nil, nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, nil, ErrInactive
	}

	now := s.now().UTC()
	var sess *store.Session
	err = s.store.WithTx(ctx, func(q *store.Queries) error {
		if err := q.TouchLogin(ctx, u.ID, now); err != nil {
			return err
		}
		sess, err = s.openSession(ctx, q, u.ID)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("login: %w", err)
	}
	u.LastLogin = &now

	s.audit.Record(audit.KindLogin, "auth", u.ID, 0)
	return u, sess, nil
}

// Logout ends a session. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	sess, err := s.store.GetSession(ctx, token, s.now())
	if err == nil {
		s.audit.Record(audit.KindLogout, "auth", sess.UserID, 0)
	}
	return s.store.DeleteSession(ctx, token)
}

// Authenticate resolves a session token to an active user.
func (s *Service) Authenticate(ctx context.Context, token string) (*store.User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	sess, err := s.store.GetSession(ctx, token, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrUnauthenticated
	}
	return u, nil
}

// UpdateProfile applies profile changes. A CPF without exactly 11 digits
// is silently ignored.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, in ProfileInput) (*store.User, error) {
	p := store.Profile{
		FullName: in.FullName,
		Phone:    in.Phone,
		Address:  in.Address,
		City:     in.City,
		State:    in.State,
		ZipCode:  in.ZipCode,
	}
	if in.CPF != nil && len(validation.Digits(*in.CPF)) == cpfDigits {
		p.CPF = in.CPF
	}
	if err := s.store.UpdateProfile(ctx, userID, p); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return s.store.GetUser(ctx, userID)
}

// PurgeExpired removes sessions past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.PurgeExpiredSessions(ctx, s.now().UTC())
}

func (s *Service) openSession(ctx context.Context, q *store.Queries, userID int64) (*store.Session, error) {
	now := s.now().UTC()
	sess := &store.Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := q.CreateSession(ctx, *sess); err != nil {
		return nil, err
	}
	return sess, nil
}
