package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is a registered account.
type User struct {
	ID            int64      `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	FullName      string     `json:"full_name"`
	Phone         string     `json:"phone"`
	CPF           string     `json:"cpf"`
	Address       string     `json:"address"`
	City          string     `json:"city"`
	State         string     `json:"state"`
	ZipCode       string     `json:"zip_code"`
	IsActive      bool       `json:"is_active"`
	IsPremium     bool       `json:"is_premium"`
	EmailVerified bool       `json:"email_verified"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLogin     *time.Time `json:"last_login"`
}

// Profile holds the user-editable fields. Nil pointers leave the stored
// value untouched.
type Profile struct {
	FullName *string
	Phone    *string
	CPF      *string
	Address  *string
	City     *string
	State    *string
	ZipCode  *string
}

const userColumns = `id, username, email, password_hash, full_name, phone, cpf,
	address, city, state, zip_code, is_active, is_premium, email_verified,
	created_at, last_login`

// CreateUser inserts a user and sets its ID. Returns ErrDuplicate when the
// username or email is taken.
func (q *Queries) CreateUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO users (username, email, password_hash, full_name, phone, cpf,
			is_active, is_premium, email_verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, 0, 0, ?)
	`, u.Username, u.Email, u.PasswordHash, u.FullName, u.Phone, u.CPF, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	u.IsActive = true
	return err
}

// GetUser loads a user by ID.
func (q *Queries) GetUser(ctx context.Context, id int64) (*User, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

// GetUserByLogin loads a user by username or email.
func (q *Queries) GetUserByLogin(ctx context.Context, login string) (*User, error) {
	row := q.q.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ? OR email = ? LIMIT 1",
		login, login)
	return scanUser(row)
}

// UsernameExists reports whether the username is registered.
func (q *Queries) UsernameExists(ctx context.Context, username string) (bool, error) {
	return q.exists(ctx, "SELECT 1 FROM users WHERE username = ?", username)
}

// EmailExists reports whether the email is registered.
func (q *Queries) EmailExists(ctx context.Context, email string) (bool, error) {
	return q.exists(ctx, "SELECT 1 FROM users WHERE email = ?", email)
}

// UpdateProfile applies the non-nil profile fields.
func (q *Queries) UpdateProfile(ctx context.Context, id int64, p Profile) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE users SET
			full_name = COALESCE(?, full_name),
			phone = COALESCE(?, phone),
			cpf = COALESCE(?, cpf),
			address = COALESCE(?, address),
			city = COALESCE(?, city),
			state = COALESCE(?, state),
			zip_code = COALESCE(?, zip_code)
		WHERE id = ?
	`, p.FullName, p.Phone, p.CPF, p.Address, p.City, p.State, p.ZipCode, id)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return expectOne(res)
}

// TouchLogin records a successful login.
func (q *Queries) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	res, err := q.q.ExecContext(ctx, "UPDATE users SET last_login = ? WHERE id = ?", at, id)
	if err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	return expectOne(res)
}

// SetPremium toggles premium access.
func (q *Queries) SetPremium(ctx context.Context, id int64, premium bool) error {
	res, err := q.q.ExecContext(ctx, "UPDATE users SET is_premium = ? WHERE id = ?", boolToInt(premium), id)
	if err != nil {
		return fmt.Errorf("set premium: %w", err)
	}
	return expectOne(res)
}

// SetActive enables or disables an account.
func (q *Queries) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := q.q.ExecContext(ctx, "UPDATE users SET is_active = ? WHERE id = ?", boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	return expectOne(res)
}

func (q *Queries) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := q.q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var lastLogin sql.NullTime
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.FullName,
		&u.Phone,
		&u.CPF,
		&u.Address,
		&u.City,
		&u.State,
		&u.ZipCode,
		&u.IsActive,
		&u.IsPremium,
		&u.EmailVerified,
		&u.CreatedAt,
		&lastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.LastLogin = nullTimePtr(lastLogin)
	return &u, nil
}
