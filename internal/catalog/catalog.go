// Package catalog sells contract templates and keeps each buyer's editable
// copy.
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/abelbrown/contestare/internal/audit"
	"github.com/abelbrown/contestare/internal/logging"
	"github.com/abelbrown/contestare/internal/metrics"
	"github.com/abelbrown/contestare/internal/store"
)

var (
	// ErrPremiumRequired is returned when a non-premium user buys a premium
	// template.
	ErrPremiumRequired = errors.New("premium contract requires a premium subscription")

	// ErrAlreadyOwned is returned for a repeat purchase.
	ErrAlreadyOwned = errors.New("contract already purchased")
)

// PopularLimit is how many contracts Popular returns.
const PopularLimit = 10

//go:embed contracts.yaml
var seedYAML []byte

type seedFile struct {
	Contracts []seedEntry `yaml:"contracts"`
}

type seedEntry struct {
	Title       string  `yaml:"title"`
	Category    string  `yaml:"category"`
	Description string  `yaml:"description"`
	Price       float64 `yaml:"price"`
	Premium     bool    `yaml:"premium"`
	Content     string  `yaml:"content"`
}

// Templates decodes the embedded seed file.
func Templates() ([]store.Contract, error) {
	return parseTemplates(seedYAML)
}

func parseTemplates(data []byte) ([]store.Contract, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse contract seed: %w", err)
	}
	out := make([]store.Contract, 0, len(f.Contracts))
	for i, e := range f.Contracts {
		if e.Title == "" || e.Category == "" || e.Content == "" {
			return nil, fmt.Errorf("contract seed entry %d: title, category and content are required", i)
		}
		out = append(out, store.Contract{
			Title:       e.Title,
			Category:    e.Category,
			Description: e.Description,
			Content:     e.Content,
			Price:       e.Price,
			IsPremium:   e.Premium,
			IsActive:    true,
		})
	}
	return out, nil
}

// Purchase is the result of buying a template.
type Purchase struct {
	UserContract *store.UserContract `json:"user_contract"`
	Contract     *store.Contract     `json:"contract"`
}

// Service wraps the contract tables.
type Service struct {
	store   *store.Store
	audit   *audit.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithAudit attaches an audit logger.
func WithAudit(l *audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a Service.
func New(st *store.Store, opts ...Option) *Service {
	s := &Service{store: st}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed inserts the embedded templates that are not in the database yet.
func (s *Service) Seed(ctx context.Context) (int, error) {
	templates, err := Templates()
	if err != nil {
		return 0, err
	}
	added, err := s.store.SeedContracts(ctx, templates)
	if err != nil {
		return added, err
	}
	if added > 0 {
		logging.Info("Seeded contract catalog", "added", added, "total", len(templates))
	}
	return added, nil
}

// List returns active contracts, most popular first. A nil premium matches
// both kinds.
func (s *Service) List(ctx context.Context, category string, premium *bool) ([]store.Contract, error) {
	list, err := s.store.ListContracts(ctx, store.ContractFilter{Category: category, Premium: premium})
	if err != nil {
		return nil, err
	}
	return nonNil(list), nil
}

// Get returns an active contract with its template text.
func (s *Service) Get(ctx context.Context, id int64) (*store.Contract, error) {
	return s.store.GetContract(ctx, id)
}

// Categories lists the distinct categories in the catalog.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	cats, err := s.store.Categories(ctx)
	if err != nil {
		return nil, err
	}
	if cats == nil {
		cats = []string{}
	}
	return cats, nil
}

// Popular returns the top contracts by popularity.
func (s *Service) Popular(ctx context.Context) ([]store.Contract, error) {
	list, err := s.store.Popular(ctx, PopularLimit)
	if err != nil {
		return nil, err
	}
	return nonNil(list), nil
}

// Buy gives the user a copy of the template and bumps its popularity.
func (s *Service) Buy(ctx context.Context, userID, contractID int64) (*Purchase, error) {
	var p Purchase
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		c, err := q.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		u, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if c.IsPremium && !u.IsPremium {
			return ErrPremiumRequired
		}
		owned, err := q.HasUserContract(ctx, userID, contractID)
		if err != nil {
			return err
		}
		if owned {
			return ErrAlreadyOwned
		}

		uc := &store.UserContract{
			UserID:            userID,
			ContractID:        contractID,
			CustomizedContent: c.Content,
		}
		if err := q.CreateUserContract(ctx, uc); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrAlreadyOwned
			}
			return err
		}
		if err := q.IncrementPopularity(ctx, contractID); err != nil {
			return err
		}
		c.PopularityScore++
		p = Purchase{UserContract: uc, Contract: c}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("purchase contract %d: %w", contractID, err)
	}

	s.metrics.Purchase()
	s.audit.Record(audit.KindContractPurchase, "catalog", userID, contractID)
	return &p, nil
}

// Mine lists the user's purchases with their contracts.
func (s *Service) Mine(ctx context.Context, userID int64) ([]store.UserContract, error) {
	list, err := s.store.ListUserContracts(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []store.UserContract{}
	}
	return list, nil
}

// Owned returns one purchase belonging to the user.
func (s *Service) Owned(ctx context.Context, userID, id int64) (*store.UserContract, error) {
	return s.store.GetUserContract(ctx, id, userID)
}

// Customize replaces the user's copy of the template text.
func (s *Service) Customize(ctx context.Context, userID, id int64, content string) (*store.UserContract, error) {
	var uc *store.UserContract
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		if err := q.UpdateCustomContent(ctx, id, userID, content); err != nil {
			return err
		}
		var err error
		uc, err = q.GetUserContract(ctx, id, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("customize contract %d: %w", id, err)
	}
	return uc, nil
}

// Download marks the purchase downloaded and returns it with the bumped
// counter.
func (s *Service) Download(ctx context.Context, userID, id int64) (*store.UserContract, error) {
	var uc *store.UserContract
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		if err := q.RecordDownload(ctx, id, userID); err != nil {
			return err
		}
		var err error
		uc, err = q.GetUserContract(ctx, id, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("download contract %d: %w", id, err)
	}

	s.audit.Emit(audit.Event{
		Kind:   audit.KindContractDownload,
		Comp:   "catalog",
		UserID: userID,
		Ref:    id,
		Extra:  map[string]any{"count": uc.DownloadCount},
	})
	return uc, nil
}

func nonNil(list []store.Contract) []store.Contract {
	if list == nil {
		return []store.Contract{}
	}
	return list
}
