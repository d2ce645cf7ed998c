// Package contest runs the infraction workflow: record a notice, score it
// with the analysis engine and generate the contest letter.
//
// Every load, compute and save sequence happens inside one store
// transaction, so a failed step leaves the record untouched.
package contest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abelbrown/contestare/internal/analysis"
	"github.com/abelbrown/contestare/internal/audit"
	"github.com/abelbrown/contestare/internal/document"
	"github.com/abelbrown/contestare/internal/logging"
	"github.com/abelbrown/contestare/internal/metrics"
	"github.com/abelbrown/contestare/internal/store"
	"github.com/abelbrown/contestare/internal/validation"
)

// ErrNotAnalyzed is returned when a letter is requested for an infraction
// that is not in the analyzed state.
var ErrNotAnalyzed = errors.New("infraction must be analyzed before contesting")

// ErrNoDocument is returned when no letter was generated for an infraction.
var ErrNoDocument = errors.New("no contest document generated")

// CreateInput is the user-submitted notice.
type CreateInput struct {
	NoticeNumber     string  `json:"notification_number"`
	InfractionType   string  `json:"infraction_type"`
	Value            float64 `json:"value"`
	DateInfraction   string  `json:"date_infraction"`
	DateNotification string  `json:"date_notification"`
	VehiclePlate     string  `json:"vehicle_plate"`
	VehicleModel     string  `json:"vehicle_model"`
	Location         string  `json:"location"`
	IssuingAgency    string  `json:"issuing_agency"`
	NotificationFile string  `json:"notification_file"`
}

// UnmarshalJSON accepts value either as a JSON number or as a numeric
// string such as "250.00".
func (in *CreateInput) UnmarshalJSON(data []byte) error {
	type plain CreateInput
	aux := struct {
		*plain
		Value json.RawMessage `json:"value"`
	}{plain: (*plain)(in)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	v, err := parseValue(aux.Value)
	if err != nil {
		return err
	}
	in.Value = v
	return nil
}

func parseValue(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, validation.Errorf("value", "must be a number")
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, validation.Errorf("value", "must be a number")
	}
	return f, nil
}

// Outcome pairs a stored infraction with the analysis that produced it.
type Outcome struct {
	Infraction *store.Infraction `json:"infraction"`
	Analysis   analysis.Result   `json:"analysis"`
}

// Letter is a generated contest document.
type Letter struct {
	Infraction *store.Infraction `json:"infraction"`
	Document   string            `json:"document"`
	FileName   string            `json:"filename"`
}

// Service coordinates the store, engine and document generator.
type Service struct {
	store   *store.Store
	engine  *analysis.Engine
	docDir  string
	audit   *audit.Logger
	metrics *metrics.Metrics
	newID   func() uuid.UUID
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithEngine replaces the default analysis engine.
func WithEngine(e *analysis.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithDocumentDir sets where letters are written. Without it letters are
// only recorded by name and rendered on demand.
func WithDocumentDir(dir string) Option {
	return func(s *Service) { s.docDir = dir }
}

// WithAudit attaches an audit logger.
func WithAudit(l *audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithIDSource overrides the uuid generator used for document names.
func WithIDSource(fn func() uuid.UUID) Option {
	return func(s *Service) { s.newID = fn }
}

// New creates a Service backed by st.
func New(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		engine: analysis.NewEngine(),
		newID:  uuid.New,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and records a notice, then analyzes it. The duplicate
// check, insert and analysis all commit together.
func (s *Service) Create(ctx context.Context, userID int64, in CreateInput) (*Outcome, error) {
	inf, facts, err := s.prepare(userID, in)
	if err != nil {
		return nil, err
	}

	var res analysis.Result
	err = s.store.WithTx(ctx, func(q *store.Queries) error {
		exists, err := q.InfractionExists(ctx, userID, inf.NoticeNumber)
		if err != nil {
			return err
		}
		if exists {
			return store.ErrDuplicate
		}
		if err := q.CreateInfraction(ctx, inf); err != nil {
			return err
		}
		res = s.engine.Analyze(facts)
		return s.save(ctx, q, inf, res)
	})
	if err != nil {
		return nil, fmt.Errorf("create infraction: %w", err)
	}

	s.analyzed(audit.KindInfractionCreate, inf, res)
	return &Outcome{Infraction: inf, Analysis: res}, nil
}

// Reanalyze re-runs the engine against the stored facts and overwrites the
// previous probability and arguments. The status returns to analyzed.
func (s *Service) Reanalyze(ctx context.Context, userID, id int64) (*Outcome, error) {
	var inf *store.Infraction
	var res analysis.Result
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		inf, err = q.GetInfraction(ctx, id, userID)
		if err != nil {
			return err
		}
		res = s.engine.Analyze(factsOf(inf))
		return s.save(ctx, q, inf, res)
	})
	if err != nil {
		return nil, fmt.Errorf("reanalyze infraction %d: %w", id, err)
	}

	s.analyzed(audit.KindInfractionAnalyze, inf, res)
	return &Outcome{Infraction: inf, Analysis: res}, nil
}

// Contest renders the letter for an analyzed infraction, writes it to the
// document directory and moves the record to contested.
func (s *Service) Contest(ctx context.Context, userID, id int64) (*Letter, error) {
	var letter *Letter
	var written string
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		inf, err := q.GetInfraction(ctx, id, userID)
		if err != nil {
			return err
		}
		if inf.Status != store.StatusAnalyzed {
			return ErrNotAnalyzed
		}

		text := document.Render(letterFields(inf), inf.LegalArguments)
		name := document.FileName(inf.NoticeNumber, s.newID())

		if s.docDir != "" {
			written, err = s.writeDocument(name, text)
			if err != nil {
				return err
			}
		}

		if err := q.MarkContested(ctx, inf.ID, name); err != nil {
			return err
		}
		inf.Status = store.StatusContested
		inf.ContestDocument = name
		inf.UpdatedAt = s.now().UTC()

		letter = &Letter{Infraction: inf, Document: text, FileName: name}
		return nil
	})
	if err != nil {
		if written != "" {
			os.Remove(written)
		}
		return nil, fmt.Errorf("contest infraction %d: %w", id, err)
	}

	s.metrics.Document()
	s.audit.Record(audit.KindInfractionContest, "contest", userID, id)
	logging.Info("Contest letter generated", "infraction", id, "file", letter.FileName)
	return letter, nil
}

// Document returns the generated letter for a contested infraction. When the
// file is not on disk the letter is rendered again from the stored record.
func (s *Service) Document(ctx context.Context, userID, id int64) (*Letter, error) {
	inf, err := s.store.GetInfraction(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("load infraction %d: %w", id, err)
	}
	if inf.ContestDocument == "" {
		return nil, ErrNoDocument
	}

	letter := &Letter{Infraction: inf, FileName: inf.ContestDocument}
	if s.docDir != "" {
		data, err := os.ReadFile(filepath.Join(s.docDir, filepath.Base(inf.ContestDocument)))
		if err == nil {
			letter.Document = string(data)
			return letter, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read document: %w", err)
		}
		logging.Warn("Contest letter missing on disk, re-rendering", "file", inf.ContestDocument)
	}
	letter.Document = document.Render(letterFields(inf), inf.LegalArguments)
	return letter, nil
}

// List returns the user's infractions, newest first.
func (s *Service) List(ctx context.Context, userID int64) ([]store.Infraction, error) {
	infs, err := s.store.ListInfractions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if infs == nil {
		infs = []store.Infraction{}
	}
	return infs, nil
}

// Get returns one infraction owned by the user.
func (s *Service) Get(ctx context.Context, userID, id int64) (*store.Infraction, error) {
	return s.store.GetInfraction(ctx, id, userID)
}

// prepare validates input and builds the record and facts.
func (s *Service) prepare(userID int64, in CreateInput) (*store.Infraction, analysis.Facts, error) {
	in.NoticeNumber = strings.TrimSpace(in.NoticeNumber)
	in.VehiclePlate = strings.TrimSpace(in.VehiclePlate)

	if err := validation.Required(
		"notification_number", in.NoticeNumber,
		"infraction_type", in.InfractionType,
	); err != nil {
		return nil, analysis.Facts{}, err
	}
	if in.Value <= 0 {
		return nil, analysis.Facts{}, validation.Errorf("value", "must be greater than zero")
	}
	if err := validation.Required(
		"date_infraction", in.DateInfraction,
		"date_notification", in.DateNotification,
		"vehicle_plate", in.VehiclePlate,
		"location", in.Location,
		"issuing_agency", in.IssuingAgency,
	); err != nil {
		return nil, analysis.Facts{}, err
	}

	dInf, dNot, err := analysis.ParseDates(in.DateInfraction, in.DateNotification)
	if err != nil {
		var de *analysis.DateError
		if errors.As(err, &de) {
			return nil, analysis.Facts{}, validation.Errorf(de.Field, "%v", de.Err)
		}
		return nil, analysis.Facts{}, err
	}

	inf := &store.Infraction{
		UserID:           userID,
		NoticeNumber:     in.NoticeNumber,
		InfractionType:   in.InfractionType,
		Value:            in.Value,
		DateInfraction:   dInf,
		DateNotification: dNot,
		VehiclePlate:     in.VehiclePlate,
		VehicleModel:     in.VehicleModel,
		Location:         in.Location,
		IssuingAgency:    in.IssuingAgency,
		NotificationFile: in.NotificationFile,
	}
	return inf, factsOf(inf), nil
}

func (s *Service) save(ctx context.Context, q *store.Queries, inf *store.Infraction, res analysis.Result) error {
	args := res.LegalArguments()
	if err := q.SaveAnalysis(ctx, inf.ID, res.Probability, args); err != nil {
		return err
	}
	p := res.Probability
	inf.SuccessProbability = &p
	inf.LegalArguments = args
	inf.Status = store.StatusAnalyzed
	inf.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Service) analyzed(kind audit.Kind, inf *store.Infraction, res analysis.Result) {
	s.metrics.Analysis(res.Probability)
	s.audit.Emit(audit.Event{
		Kind:   kind,
		Comp:   "contest",
		UserID: inf.UserID,
		Ref:    inf.ID,
		Score:  res.Probability,
		Extra:  map[string]any{"points": res.Points, "rules": res.Matched},
	})
	logging.Debug("Infraction analyzed",
		"infraction", inf.ID,
		"points", res.Points,
		"jitter", res.Jitter,
		"probability", res.Probability)
}

func (s *Service) writeDocument(name, text string) (string, error) {
	if err := os.MkdirAll(s.docDir, 0755); err != nil {
		return "", fmt.Errorf("create document dir: %w", err)
	}
	path := filepath.Join(s.docDir, name)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return path, nil
}

func factsOf(inf *store.Infraction) analysis.Facts {
	return analysis.Facts{
		InfractionType:   inf.InfractionType,
		DateInfraction:   inf.DateInfraction,
		DateNotification: inf.DateNotification,
		IssuingAgency:    inf.IssuingAgency,
		Location:         inf.Location,
		Value:            inf.Value,
	}
}

func letterFields(inf *store.Infraction) document.Infraction {
	return document.Infraction{
		NoticeNumber:   inf.NoticeNumber,
		VehiclePlate:   inf.VehiclePlate,
		InfractionType: inf.InfractionType,
		IssuingAgency:  inf.IssuingAgency,
		DateInfraction: inf.DateInfraction,
		Value:          inf.Value,
	}
}
