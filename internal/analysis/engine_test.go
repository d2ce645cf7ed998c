package analysis

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fixedSource always returns v, so jitter is JitterMin+v.
type fixedSource struct{ v int }

func (s fixedSource) IntN(n int) int { return s.v % n }

// zeroJitter pins jitter to 0.
var zeroJitter = fixedSource{v: -JitterMin}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func factsWithDelay(days int) Facts {
	start := day(2024, 1, 1)
	return Facts{
		InfractionType:   "Outra",
		DateInfraction:   start,
		DateNotification: start.AddDate(0, 0, days),
		IssuingAgency:    "DETRAN",
		Location:         "Centro",
		Value:            100,
	}
}

func TestSpeedArguments(t *testing.T) {
	e := NewEngine(WithSource(zeroJitter))

	for _, typ := range []string{"Excesso de velocidade", "VELOCIDADE superior", "limite de velocidade em 20%"} {
		f := factsWithDelay(5)
		f.InfractionType = typ

		points, args, _ := e.Score(f)
		if points < 25 {
			t.Errorf("%q: expected at least 25 points, got %d", typ, points)
		}
		for _, want := range []string{ArgSpeedCalibration, ArgSpeedSignage, ArgSpeedMargin} {
			if !slices.Contains(args, want) {
				t.Errorf("%q: missing argument %q", typ, want)
			}
		}
	}
}

func TestCategoriesAccumulate(t *testing.T) {
	e := NewEngine(WithSource(zeroJitter))
	f := factsWithDelay(5)
	f.InfractionType = "Estacionamento junto a sinal luminoso"

	r := e.Analyze(f)
	if r.Points != 50 {
		t.Errorf("expected 30+20 points, got %d", r.Points)
	}

	want := []string{
		ArgParkingSignage, ArgParkingHours, ArgParkingAuthority,
		ArgSignalFunction, ArgSignalVisibility, ArgSignalTiming,
		ArgProcessRegularity, ArgLegitimacy, ArgDefense, ArgTypicity,
	}
	if diff := cmp.Diff(want, r.Arguments); diff != "" {
		t.Errorf("arguments mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"parking", "signal"}, r.Matched); diff != "" {
		t.Errorf("matched rules mismatch (-want +got):\n%s", diff)
	}
}

func TestSignalKeywordVariants(t *testing.T) {
	e := NewEngine(WithSource(zeroJitter))
	for _, typ := range []string{"Avanço de sinal vermelho", "Semaforo fechado"} {
		f := factsWithDelay(0)
		f.InfractionType = typ
		if points, _, _ := e.Score(f); points != 20 {
			t.Errorf("%q: expected 20 points, got %d", typ, points)
		}
	}
}

func TestClampBounds(t *testing.T) {
	// Zero points with the lowest jitter must clamp up.
	low := NewEngine(WithSource(fixedSource{v: 0}))
	r := low.Analyze(factsWithDelay(0))
	if r.Points != 0 {
		t.Fatalf("expected 0 points, got %d", r.Points)
	}
	if r.Probability != MinProbability {
		t.Errorf("expected probability %d, got %d", MinProbability, r.Probability)
	}

	always := func(Facts) bool { return true }
	high := NewEngine(
		WithSource(fixedSource{v: 25}),
		WithRules([]Rule{{Name: "huge", Points: 300, Match: always}}),
	)
	r = high.Analyze(factsWithDelay(0))
	if r.Points != 300 {
		t.Fatalf("expected 300 points, got %d", r.Points)
	}
	if r.Probability != MaxProbability {
		t.Errorf("expected probability %d, got %d", MaxProbability, r.Probability)
	}
}

func TestProbabilityAlwaysInRange(t *testing.T) {
	e := NewEngine(WithSource(NewSeededSource(42)))
	types := []string{"", "velocidade", "estacionamento sinal velocidade"}
	for _, typ := range types {
		for _, delay := range []int{0, 31, 90} {
			for i := 0; i < 50; i++ {
				f := factsWithDelay(delay)
				f.InfractionType = typ
				f.Value = 5000
				r := e.Analyze(f)
				if r.Probability < MinProbability || r.Probability > MaxProbability {
					t.Fatalf("probability %d out of range", r.Probability)
				}
				if r.Jitter < JitterMin || r.Jitter > JitterMax {
					t.Fatalf("jitter %d out of range", r.Jitter)
				}
			}
		}
	}
}

func TestNotificationDelayBoundaries(t *testing.T) {
	e := NewEngine(WithSource(zeroJitter))

	tests := []struct {
		days      int
		points    int
		late      bool
		graveLate bool
	}{
		{days: 30, points: 0},
		{days: 31, points: 40, late: true},
		{days: 60, points: 40, late: true},
		{days: 61, points: 60, late: true, graveLate: true},
		{days: -5, points: 0},
	}

	for _, tt := range tests {
		points, args, _ := e.Score(factsWithDelay(tt.days))
		if points != tt.points {
			t.Errorf("delay %d: expected %d points, got %d", tt.days, tt.points, points)
		}
		if got := slices.Contains(args, ArgLateNotification); got != tt.late {
			t.Errorf("delay %d: late argument present=%v, want %v", tt.days, got, tt.late)
		}
		if got := slices.Contains(args, ArgGraveLateness); got != tt.graveLate {
			t.Errorf("delay %d: grave argument present=%v, want %v", tt.days, got, tt.graveLate)
		}
	}
}

func TestNotificationDelayDaysFloors(t *testing.T) {
	f := Facts{
		DateInfraction:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		DateNotification: time.Date(2024, 1, 1, 11, 59, 59, 0, time.UTC),
	}
	if got := f.NotificationDelayDays(); got != -1 {
		t.Errorf("expected -1, got %d", got)
	}

	f.DateNotification = time.Date(2024, 2, 1, 11, 0, 0, 0, time.UTC)
	if got := f.NotificationDelayDays(); got != 30 {
		t.Errorf("expected 30 (one hour short of 31 days), got %d", got)
	}
}

func TestMunicipalHighway(t *testing.T) {
	e := NewEngine(WithSource(zeroJitter))

	f := factsWithDelay(0)
	f.IssuingAgency = "Guarda MUNICIPAL de Campinas"
	f.Location = "Rodovia dos Bandeirantes km 80"
	points, args, _ := e.Score(f)
	if points != 35 || !slices.Contains(args, ArgMunicipalHighway) {
		t.Errorf("expected municipal rule to match, points=%d", points)
	}

	f.Location = "Avenida Paulista"
	if points, _, _ := e.Score(f); points != 0 {
		t.Errorf("expected no points without highway, got %d", points)
	}
}

func TestValueThresholdExclusive(t *testing.T) {
	e := NewEngine(WithSource(zeroJitter))

	f := factsWithDelay(0)
	f.Value = 1000
	if points, _, _ := e.Score(f); points != 0 {
		t.Errorf("value 1000 should not trigger, got %d points", points)
	}
	f.Value = 1000.01
	if points, _, _ := e.Score(f); points != 15 {
		t.Errorf("value 1000.01 should trigger, got %d points", points)
	}
}

func TestGeneralArgumentsAlwaysPresent(t *testing.T) {
	e := NewEngine(WithSource(zeroJitter))

	r := e.Analyze(Facts{})
	if diff := cmp.Diff(GeneralArguments, r.Arguments); diff != "" {
		t.Errorf("arguments mismatch (-want +got):\n%s", diff)
	}

	f := factsWithDelay(90)
	f.InfractionType = "velocidade"
	r = e.Analyze(f)
	tail := r.Arguments[len(r.Arguments)-len(GeneralArguments):]
	if diff := cmp.Diff(GeneralArguments, tail); diff != "" {
		t.Errorf("general arguments must close the list (-want +got):\n%s", diff)
	}
}

func TestNoMatchedRulesEncodesEmptyList(t *testing.T) {
	r := NewEngine(WithSource(zeroJitter)).Analyze(Facts{})
	if r.Matched == nil || len(r.Matched) != 0 {
		t.Fatalf("Matched = %#v, want empty non-nil slice", r.Matched)
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]json.RawMessage
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(got["matched_rules"]) != "[]" {
		t.Errorf("matched_rules = %s, want []", got["matched_rules"])
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	e := NewEngine()
	f := factsWithDelay(45)
	f.InfractionType = "Excesso de velocidade"
	f.Value = 1200

	p1, a1, _ := e.Score(f)
	p2, a2, _ := e.Score(f)
	if p1 != p2 {
		t.Errorf("points differ: %d vs %d", p1, p2)
	}
	if diff := cmp.Diff(a1, a2); diff != "" {
		t.Errorf("arguments differ:\n%s", diff)
	}

	r1, r2 := e.Analyze(f), e.Analyze(f)
	if r1.Points != r2.Points {
		t.Errorf("points differ across Analyze calls")
	}
	if diff := cmp.Diff(r1.Arguments, r2.Arguments); diff != "" {
		t.Errorf("arguments differ across Analyze calls:\n%s", diff)
	}
}

func TestSeededSourceReproducible(t *testing.T) {
	a := NewEngine(WithSource(NewSeededSource(7)))
	b := NewEngine(WithSource(NewSeededSource(7)))
	f := factsWithDelay(10)
	for i := 0; i < 20; i++ {
		if ra, rb := a.Analyze(f), b.Analyze(f); ra.Jitter != rb.Jitter {
			t.Fatalf("call %d: jitter %d vs %d", i, ra.Jitter, rb.Jitter)
		}
	}
}

func TestEndToEndSpeeding(t *testing.T) {
	raw := RawFacts{
		InfractionType:   "Excesso de velocidade",
		DateInfraction:   "2024-01-01",
		DateNotification: "2024-03-15",
		IssuingAgency:    "DETRAN-SP",
		Location:         "Av. Brasil",
		Value:            1500,
	}

	want := []string{
		ArgSpeedCalibration, ArgSpeedSignage, ArgSpeedMargin,
		ArgLateNotification, ArgGraveLateness, ArgDisproportionate,
		ArgProcessRegularity, ArgLegitimacy, ArgDefense, ArgTypicity,
	}

	for v := 0; v <= JitterMax-JitterMin; v++ {
		e := NewEngine(WithSource(fixedSource{v: v}))
		r, err := e.AnalyzeRaw(raw)
		if err != nil {
			t.Fatalf("AnalyzeRaw failed: %v", err)
		}
		if r.Points != 100 {
			t.Fatalf("expected 100 points, got %d", r.Points)
		}
		if r.Probability < 90 || r.Probability > 95 {
			t.Errorf("jitter %d: probability %d outside [90,95]", r.Jitter, r.Probability)
		}
		if r.Probability != min(95, 100+r.Jitter) {
			t.Errorf("jitter %d: expected %d, got %d", r.Jitter, min(95, 100+r.Jitter), r.Probability)
		}
		if diff := cmp.Diff(want, r.Arguments); diff != "" {
			t.Fatalf("arguments mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestAnalyzeRawRejectsBadDates(t *testing.T) {
	e := NewEngine()

	_, err := e.AnalyzeRaw(RawFacts{DateInfraction: "01/02/2024", DateNotification: "2024-02-01"})
	if err == nil {
		t.Fatal("expected parse error for dd/mm/yyyy date")
	}

	_, err = e.AnalyzeRaw(RawFacts{DateInfraction: "2024-02-01"})
	if !errors.Is(err, ErrMissingDate) {
		t.Errorf("expected ErrMissingDate, got %v", err)
	}
}

func TestParseDatesZoneAwareness(t *testing.T) {
	_, _, err := ParseDates("2024-01-01", "2024-01-31T23:00:00-03:00")
	var de *DateError
	if !errors.As(err, &de) || de.Field != "date_notification" || !errors.Is(err, ErrMixedZones) {
		t.Fatalf("expected mixed-zone error on date_notification, got %v", err)
	}

	_, _, err = ParseDates("2024-01-01T10:00:00Z", "2024-01-31")
	if !errors.Is(err, ErrMixedZones) {
		t.Errorf("expected ErrMixedZones, got %v", err)
	}

	_, err = NewEngine(WithSource(zeroJitter)).AnalyzeRaw(RawFacts{
		DateInfraction:   "2024-01-01",
		DateNotification: "2024-01-31T23:00:00-03:00",
	})
	if !errors.Is(err, ErrMixedZones) {
		t.Errorf("AnalyzeRaw: expected ErrMixedZones, got %v", err)
	}

	// Both zoned: 30 days apart once the offsets are applied.
	inf, not, err := ParseDates("2024-01-01T00:00:00-03:00", "2024-01-31T23:00:00-03:00")
	if err != nil {
		t.Fatalf("ParseDates: %v", err)
	}
	f := Facts{DateInfraction: inf, DateNotification: not}
	if got := f.NotificationDelayDays(); got != 30 {
		t.Errorf("delay = %d, want 30", got)
	}

	_, _, err = ParseDates("", "2024-01-31")
	if !errors.As(err, &de) || de.Field != "date_infraction" || !errors.Is(err, ErrMissingDate) {
		t.Errorf("expected missing date_infraction, got %v", err)
	}
}

func TestParseDateLayouts(t *testing.T) {
	for _, s := range []string{
		"2024-01-15",
		"2024-01-15T10:30:00",
		"2024-01-15T10:30:00.123456",
		"2024-01-15T10:30:00Z",
		"2024-01-15T10:30:00-03:00",
		"2024-01-15 10:30:00",
	} {
		got, err := ParseDate(s)
		if err != nil {
			t.Errorf("ParseDate(%q) failed: %v", s, err)
			continue
		}
		if got.Year() != 2024 || got.Month() != time.January || got.Day() != 15 {
			t.Errorf("ParseDate(%q) = %v", s, got)
		}
	}
}

func TestMainArgumentsAndJSON(t *testing.T) {
	r := Result{
		Probability: 50,
		Arguments:   []string{"a", "b", "c", "d"},
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, r.MainArguments()); diff != "" {
		t.Errorf("main arguments mismatch:\n%s", diff)
	}
	if got := r.LegalArguments(); got != "a; b; c; d" {
		t.Errorf("unexpected legal arguments %q", got)
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["legal_arguments"] != "a; b; c; d" {
		t.Errorf("legal_arguments = %v", decoded["legal_arguments"])
	}
	if decoded["success_probability"] != float64(50) {
		t.Errorf("success_probability = %v", decoded["success_probability"])
	}
	if main, ok := decoded["main_arguments"].([]any); !ok || len(main) != 3 {
		t.Errorf("main_arguments = %v", decoded["main_arguments"])
	}
}
