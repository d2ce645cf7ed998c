// Package payment simulates PIX and card charges and manages premium
// subscriptions. No money moves: the gateway is an in-process stand-in that
// approves PIX immediately and cards with a configurable probability.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abelbrown/contestare/internal/audit"
	"github.com/abelbrown/contestare/internal/config"
	"github.com/abelbrown/contestare/internal/logging"
	"github.com/abelbrown/contestare/internal/metrics"
	"github.com/abelbrown/contestare/internal/store"
	"github.com/abelbrown/contestare/internal/validation"
)

var (
	// ErrInvalidAmount is returned for a zero or negative charge.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrNoSubscription is returned when the user has no active plan.
	ErrNoSubscription = errors.New("no active subscription")

	// ErrSubscriptionExpired is returned when the active plan has lapsed. The
	// lookup that returns it also moves the plan to expired.
	ErrSubscriptionExpired = errors.New("subscription expired")
)

// Payment methods.
const (
	MethodPix  = "pix"
	MethodCard = "credit_card"
)

// Service types.
const (
	ServiceInfractionContest = "infraction_contest"
	ServicePremiumPlan       = "premium_plan"
)

const planPremium = "premium"

// Request is the common part of a charge.
type Request struct {
	Amount      float64 `json:"amount"`
	ServiceType string  `json:"service_type"`
	ReferenceID *int64  `json:"reference_id"`
}

// CardRequest is a card charge. Only the brand and last four digits are
// kept.
type CardRequest struct {
	Request
	CardNumber string `json:"card_number"`
	CardHolder string `json:"card_holder"`
	ExpiryDate string `json:"expiry_date"`
	CVV        string `json:"cvv"`
}

// SimulateRequest creates an approved payment without a gateway round trip.
// Missing fields take the single-contest defaults.
type SimulateRequest struct {
	Amount      *float64 `json:"amount"`
	ServiceType string   `json:"service_type"`
	ReferenceID *int64   `json:"reference_id"`
}

// Result is the outcome of a charge. A rejected card is a Result, not an
// error.
type Result struct {
	Payment      *store.Payment      `json:"payment"`
	Status       string              `json:"status"`
	Message      string              `json:"message"`
	Subscription *store.Subscription `json:"subscription,omitempty"`
}

// Approved reports whether the charge went through.
func (r *Result) Approved() bool { return r.Status == store.PaymentApproved }

// Plan is one entry of the price table.
type Plan struct {
	Price       float64  `json:"price"`
	Description string   `json:"description"`
	Features    []string `json:"features"`
}

// Pricing is the public price table.
type Pricing struct {
	SingleContest Plan   `json:"single_contest"`
	PremiumPlan   Plan   `json:"premium_plan"`
	PixKey        string `json:"pix_key"`
}

// Random yields values in [0, 1).
type Random interface {
	Float64() float64
}

type globalRandom struct{}

func (globalRandom) Float64() float64 { return rand.Float64() }

// gatewayReply is what the simulated processor returns; it is stored as the
// payment's gateway response.
type gatewayReply struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	Message       string `json:"message"`
}

// Service processes payments.
type Service struct {
	store   *store.Store
	cfg     config.PaymentsConfig
	rnd     Random
	newID   func() uuid.UUID
	now     func() time.Time
	audit   *audit.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithRandom replaces the card approval source.
func WithRandom(r Random) Option {
	return func(s *Service) { s.rnd = r }
}

// WithIDSource overrides the uuid generator used for transaction ids.
func WithIDSource(fn func() uuid.UUID) Option {
	return func(s *Service) { s.newID = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAudit attaches an audit logger.
func WithAudit(l *audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a Service using the prices and approval rate in cfg.
func New(st *store.Store, cfg config.PaymentsConfig, opts ...Option) *Service {
	s := &Service{
		store: st,
		cfg:   cfg,
		rnd:   globalRandom{},
		newID: uuid.New,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pix charges via PIX. The simulated processor always approves.
func (s *Service) Pix(ctx context.Context, userID int64, in Request) (*Result, error) {
	if err := checkRequest(in); err != nil {
		return nil, err
	}
	p := s.newPayment(userID, MethodPix, in)
	p.PixKey = s.cfg.PixKey
	return s.charge(ctx, p)
}

// Card charges a card after basic number checks.
func (s *Service) Card(ctx context.Context, userID int64, in CardRequest) (*Result, error) {
	if err := checkRequest(in.Request); err != nil {
		return nil, err
	}
	if err := validation.Required(
		"card_number", in.CardNumber,
		"card_holder", in.CardHolder,
		"expiry_date", in.ExpiryDate,
		"cvv", in.CVV,
	); err != nil {
		return nil, err
	}

	number := strings.NewReplacer(" ", "", "-", "").Replace(in.CardNumber)
	if len(number) < 13 || len(number) > 19 {
		return nil, validation.Errorf("card_number", "is invalid")
	}

	p := s.newPayment(userID, MethodCard, in.Request)
	p.CardLastDigits = number[len(number)-4:]
	p.CardBrand = CardBrand(number)
	return s.charge(ctx, p)
}

// CardBrand guesses the network from the first digit.
func CardBrand(number string) string {
	switch {
	case strings.HasPrefix(number, "5"):
		return "mastercard"
	case strings.HasPrefix(number, "3"):
		return "amex"
	default:
		return "visa"
	}
}

// Simulate records an approved PIX payment directly. Development aid.
func (s *Service) Simulate(ctx context.Context, userID int64, in SimulateRequest) (*Result, error) {
	req := Request{
		Amount:      s.cfg.SingleContestPrice,
		ServiceType: in.ServiceType,
		ReferenceID: in.ReferenceID,
	}
	if in.Amount != nil {
		req.Amount = *in.Amount
	}
	if req.ServiceType == "" {
		req.ServiceType = ServiceInfractionContest
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	p := s.newPayment(userID, MethodPix, req)
	p.PixKey = s.cfg.PixKey
	p.Status = store.PaymentApproved
	paid := s.now().UTC()
	p.PaidAt = &paid

	res := &Result{Payment: p, Status: p.Status, Message: "Pagamento simulado com sucesso"}
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		if err := q.CreatePayment(ctx, p); err != nil {
			return err
		}
		return s.afterApproval(ctx, q, res)
	})
	if err != nil {
		return nil, fmt.Errorf("simulate payment: %w", err)
	}
	s.settled(res)
	return res, nil
}

// List returns the user's payments, newest first.
func (s *Service) List(ctx context.Context, userID int64) ([]store.Payment, error) {
	list, err := s.store.ListPayments(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []store.Payment{}
	}
	return list, nil
}

// Get returns one payment owned by the user.
func (s *Service) Get(ctx context.Context, userID, id int64) (*store.Payment, error) {
	return s.store.GetPayment(ctx, id, userID)
}

// Subscription returns the user's active plan. A plan past its end date is
// expired on the spot and premium access is revoked.
func (s *Service) Subscription(ctx context.Context, userID int64) (*store.Subscription, error) {
	now := s.now().UTC()
	var sub *store.Subscription
	var expired bool
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		sub, err = q.ActiveSubscription(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoSubscription
		}
		if err != nil {
			return err
		}
		if !sub.EndDate.Before(now) {
			return nil
		}
		if err := q.SetSubscriptionStatus(ctx, sub.ID, store.SubscriptionExpired, sub.AutoRenew); err != nil {
			return err
		}
		expired = true
		return q.SetPremium(ctx, userID, false)
	})
	if err != nil {
		return nil, err
	}
	if expired {
		s.audit.Record(audit.KindSubscriptionExpire, "payment", userID, sub.ID)
		logging.Info("Subscription expired", "user", userID, "subscription", sub.ID)
		return nil, ErrSubscriptionExpired
	}
	return sub, nil
}

// Cancel stops renewal of the active plan. Premium access stays until the
// paid period ends.
func (s *Service) Cancel(ctx context.Context, userID int64) (*store.Subscription, error) {
	var sub *store.Subscription
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		sub, err = q.ActiveSubscription(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoSubscription
		}
		if err != nil {
			return err
		}
		sub.Status = store.SubscriptionCancelled
		sub.AutoRenew = false
		return q.SetSubscriptionStatus(ctx, sub.ID, sub.Status, sub.AutoRenew)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(audit.KindSubscriptionCancel, "payment", userID, sub.ID)
	return sub, nil
}

// Pricing returns the price table.
func (s *Service) Pricing() Pricing {
	return Pricing{
		SingleContest: Plan{
			Price:       s.cfg.SingleContestPrice,
			Description: "Contestação única de infração",
			Features: []string{
				"1 contestação de infração",
				"Análise jurídica completa",
				"Documento profissional",
				"Suporte por email",
				"Garantia de qualidade",
			},
		},
		PremiumPlan: Plan{
			Price:       s.cfg.PremiumPrice,
			Description: "Plano premium mensal",
			Features: []string{
				"Contestações ilimitadas",
				"Biblioteca completa de contratos",
				"Suporte prioritário por telefone",
				"Acompanhamento de prazos",
				"Análise jurídica avançada",
				"Relatórios detalhados",
				"Acesso a atualizações legislativas",
			},
		},
		PixKey: s.cfg.PixKey,
	}
}

func checkRequest(in Request) error {
	if err := validation.Required("service_type", in.ServiceType); err != nil {
		return err
	}
	if in.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (s *Service) newPayment(userID int64, method string, in Request) *store.Payment {
	now := s.now().UTC()
	return &store.Payment{
		UserID:        userID,
		Amount:        in.Amount,
		Method:        method,
		Status:        store.PaymentPending,
		ServiceType:   in.ServiceType,
		ReferenceID:   in.ReferenceID,
		TransactionID: fmt.Sprintf("TXN_%s_%s", now.Format("20060102"), s.hexID(8)),
		CreatedAt:     now,
	}
}

// charge inserts the pending payment, asks the processor and stores the
// reply, all in one transaction.
func (s *Service) charge(ctx context.Context, p *store.Payment) (*Result, error) {
	res := &Result{Payment: p}
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		if err := q.CreatePayment(ctx, p); err != nil {
			return err
		}

		reply := s.process(p.Method)
		body, err := json.Marshal(reply)
		if err != nil {
			return err
		}
		p.GatewayResponse = string(body)
		p.Status = reply.Status
		res.Status = reply.Status
		res.Message = reply.Message

		if reply.Status == store.PaymentApproved {
			paid := s.now().UTC()
			p.PaidAt = &paid
			if p.Method == MethodPix {
				p.PixTransactionID = reply.TransactionID
			}
		}
		if err := q.UpdatePaymentResult(ctx, p); err != nil {
			return err
		}
		if reply.Status != store.PaymentApproved {
			return nil
		}
		return s.afterApproval(ctx, q, res)
	})
	if err != nil {
		return nil, fmt.Errorf("%s payment: %w", p.Method, err)
	}
	s.settled(res)
	return res, nil
}

func (s *Service) process(method string) gatewayReply {
	if method == MethodPix {
		return gatewayReply{
			Status:        store.PaymentApproved,
			TransactionID: "PIX_" + s.hexID(12),
			Message:       "Pagamento PIX aprovado com sucesso",
		}
	}
	if s.rnd.Float64() < s.cfg.CardApprovalRate {
		return gatewayReply{
			Status:        store.PaymentApproved,
			TransactionID: "CARD_" + s.hexID(12),
			Message:       "Pagamento aprovado com sucesso",
		}
	}
	return gatewayReply{
		Status:  store.PaymentRejected,
		Message: "Pagamento rejeitado - verifique os dados do cartão",
	}
}

// afterApproval grants premium access for an approved premium plan.
func (s *Service) afterApproval(ctx context.Context, q *store.Queries, res *Result) error {
	p := res.Payment
	if p.ServiceType != ServicePremiumPlan {
		return nil
	}
	if err := q.SetPremium(ctx, p.UserID, true); err != nil {
		return err
	}
	start := s.now().UTC()
	sub := &store.Subscription{
		UserID:        p.UserID,
		PlanType:      planPremium,
		Status:        store.SubscriptionActive,
		StartDate:     start,
		EndDate:       start.AddDate(0, 0, s.cfg.PremiumDays),
		MonthlyAmount: p.Amount,
		AutoRenew:     true,
	}
	if err := q.CreateSubscription(ctx, sub); err != nil {
		return err
	}
	res.Subscription = sub
	return nil
}

// settled records metrics and audit events after commit.
func (s *Service) settled(res *Result) {
	p := res.Payment
	s.metrics.Payment(p.Method, p.Status)

	kind := audit.KindPaymentApproved
	level := audit.LevelInfo
	if !res.Approved() {
		kind = audit.KindPaymentRejected
		level = audit.LevelWarn
	}
	s.audit.Emit(audit.Event{
		Level:  level,
		Kind:   kind,
		Comp:   "payment",
		UserID: p.UserID,
		Ref:    p.ID,
		Amount: p.Amount,
		Extra:  map[string]any{"method": p.Method, "service": p.ServiceType},
	})
	if res.Subscription != nil {
		s.audit.Record(audit.KindSubscriptionActivate, "payment", p.UserID, res.Subscription.ID)
	}
	logging.Info("Payment settled",
		"payment", p.ID,
		"method", p.Method,
		"status", p.Status,
		"amount", p.Amount)
}

func (s *Service) hexID(n int) string {
	id := s.newID()
	return strings.ToUpper(fmt.Sprintf("%x", id[:]))[:n]
}
