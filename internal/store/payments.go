package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Payment status values.
const (
	PaymentPending  = "pending"
	PaymentApproved = "approved"
	PaymentRejected = "rejected"
)

// Subscription status values.
const (
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
)

// Payment is a simulated charge.
type Payment struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	Amount           float64    `json:"amount"`
	Method           string     `json:"payment_method"`
	Status           string     `json:"payment_status"`
	PixKey           string     `json:"pix_key"`
	PixTransactionID string     `json:"pix_transaction_id"`
	CardLastDigits   string     `json:"card_last_digits"`
	CardBrand        string     `json:"card_brand"`
	ServiceType      string     `json:"service_type"`
	ReferenceID      *int64     `json:"reference_id"`
	TransactionID    string     `json:"transaction_id"`
	GatewayResponse  string     `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	PaidAt           *time.Time `json:"paid_at"`
}

// Subscription is a time-boxed premium plan.
type Subscription struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	PlanType      string    `json:"plan_type"`
	Status        string    `json:"status"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	MonthlyAmount float64   `json:"monthly_amount"`
	AutoRenew     bool      `json:"auto_renew"`
}

const paymentColumns = `id, user_id, amount, payment_method, payment_status, pix_key,
	pix_transaction_id, card_last_digits, card_brand, service_type, reference_id,
	transaction_id, gateway_response, created_at, paid_at`

// CreatePayment inserts a payment and sets its ID.
func (q *Queries) CreatePayment(ctx context.Context, p *Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = PaymentPending
	}

	var paidAt any
	if p.PaidAt != nil {
		paidAt = *p.PaidAt
	}
	var ref any
	if p.ReferenceID != nil {
		ref = *p.ReferenceID
	}

	res, err := q.q.ExecContext(ctx, `
		INSERT INTO payments (user_id, amount, payment_method, payment_status, pix_key,
			pix_transaction_id, card_last_digits, card_brand, service_type, reference_id,
			transaction_id, gateway_response, created_at, paid_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.UserID,
		p.Amount,
		p.Method,
		p.Status,
		p.PixKey,
		p.PixTransactionID,
		p.CardLastDigits,
		p.CardBrand,
		p.ServiceType,
		ref,
		p.TransactionID,
		p.GatewayResponse,
		p.CreatedAt,
		paidAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// UpdatePaymentResult stores the gateway outcome of a payment.
func (q *Queries) UpdatePaymentResult(ctx context.Context, p *Payment) error {
	var paidAt any
	if p.PaidAt != nil {
		paidAt = *p.PaidAt
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE payments
		SET payment_status = ?, pix_transaction_id = ?, gateway_response = ?, paid_at = ?
		WHERE id = ?
	`, p.Status, p.PixTransactionID, p.GatewayResponse, paidAt, p.ID)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return expectOne(res)
}

// GetPayment loads a payment owned by userID.
func (q *Queries) GetPayment(ctx context.Context, id, userID int64) (*Payment, error) {
	row := q.q.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE id = ? AND user_id = ?", id, userID)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListPayments returns the user's payments, newest first.
func (q *Queries) ListPayments(ctx context.Context, userID int64) ([]Payment, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE user_id = ? ORDER BY created_at DESC, id DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// CreateSubscription inserts a subscription and sets its ID.
func (q *Queries) CreateSubscription(ctx context.Context, s *Subscription) error {
	if s.Status == "" {
		s.Status = SubscriptionActive
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, plan_type, status, start_date, end_date,
			monthly_amount, auto_renew)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.UserID, s.PlanType, s.Status, s.StartDate, s.EndDate, s.MonthlyAmount, boolToInt(s.AutoRenew))
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	s.ID, err = res.LastInsertId()
	return err
}

// ActiveSubscription returns the user's most recent active subscription,
// regardless of its end date. Callers decide whether it has lapsed.
func (q *Queries) ActiveSubscription(ctx context.Context, userID int64) (*Subscription, error) {
	var s Subscription
	err := q.q.QueryRowContext(ctx, `
		SELECT id, user_id, plan_type, status, start_date, end_date, monthly_amount, auto_renew
		FROM subscriptions
		WHERE user_id = ? AND status = ?
		ORDER BY start_date DESC, id DESC
		LIMIT 1
	`, userID, SubscriptionActive).Scan(
		&s.ID,
		&s.UserID,
		&s.PlanType,
		&s.Status,
		&s.StartDate,
		&s.EndDate,
		&s.MonthlyAmount,
		&s.AutoRenew,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return &s, nil
}

// SetSubscriptionStatus changes a subscription's status and auto-renew flag.
func (q *Queries) SetSubscriptionStatus(ctx context.Context, id int64, status string, autoRenew bool) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE subscriptions SET status = ?, auto_renew = ? WHERE id = ?",
		status, boolToInt(autoRenew), id)
	if err != nil {
		return fmt.Errorf("set subscription status: %w", err)
	}
	return expectOne(res)
}

func scanPayment(r rowScanner) (*Payment, error) {
	var p Payment
	var ref sql.NullInt64
	var paidAt sql.NullTime
	err := r.Scan(
		&p.ID,
		&p.UserID,
		&p.Amount,
		&p.Method,
		&p.Status,
		&p.PixKey,
		&p.PixTransactionID,
		&p.CardLastDigits,
		&p.CardBrand,
		&p.ServiceType,
		&ref,
		&p.TransactionID,
		&p.GatewayResponse,
		&p.CreatedAt,
		&paidAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	if ref.Valid {
		id := ref.Int64
		p.ReferenceID = &id
	}
	p.PaidAt = nullTimePtr(paidAt)
	return &p, nil
}
