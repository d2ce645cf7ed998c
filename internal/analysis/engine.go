// Package analysis scores how contestable a traffic infraction is.
//
// Scoring is a flat list of independent rules. Every matching rule adds its
// points and arguments; a fixed set of general arguments always follows. The
// raw point sum is perturbed by a random jitter and clamped to
// [MinProbability, MaxProbability].
//
// # Randomness
//
// Jitter comes from a Source. The default Source is the process-wide
// generator; tests inject a fixed or seeded Source to pin exact output.
package analysis

import (
	"encoding/json"
	"math/rand/v2"
	"strings"
	"sync"
)

const (
	MinProbability = 15
	MaxProbability = 95

	JitterMin = -10
	JitterMax = 15
)

// ArgumentSeparator joins arguments into the persisted text blob.
const ArgumentSeparator = "; "

// mainArgumentCount is the size of the "top arguments" subsequence.
const mainArgumentCount = 3

// Source yields uniformly distributed integers in [0, n).
// *rand.Rand from math/rand/v2 satisfies it, but is not safe for concurrent
// use; wrap it with NewSeededSource when the engine is shared.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// lockedSource serializes access to a seeded generator.
type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *lockedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// NewSeededSource returns a deterministic Source safe for concurrent use.
func NewSeededSource(seed uint64) Source {
	return &lockedSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Result is the output of one scoring pass.
type Result struct {
	Probability int      `json:"success_probability"`
	Points      int      `json:"points"`
	Jitter      int      `json:"jitter"`
	Arguments   []string `json:"-"`
	Matched     []string `json:"matched_rules"`
}

// LegalArguments returns the arguments joined for storage.
func (r Result) LegalArguments() string {
	return strings.Join(r.Arguments, ArgumentSeparator)
}

// MainArguments returns the first three arguments.
func (r Result) MainArguments() []string {
	n := min(mainArgumentCount, len(r.Arguments))
	out := make([]string, n)
	copy(out, r.Arguments[:n])
	return out
}

// MarshalJSON adds the derived legal_arguments and main_arguments fields.
func (r Result) MarshalJSON() ([]byte, error) {
	type Alias Result
	return json.Marshal(struct {
		Alias
		LegalArguments string   `json:"legal_arguments"`
		MainArguments  []string `json:"main_arguments"`
	}{
		Alias:          Alias(r),
		LegalArguments: r.LegalArguments(),
		MainArguments:  r.MainArguments(),
	})
}

// Engine evaluates rules against Facts. Safe for concurrent use provided the
// Source is.
type Engine struct {
	rules   []Rule
	general []string
	src     Source
}

// Option configures an Engine.
type Option func(*Engine)

// WithSource sets the jitter source.
func WithSource(src Source) Option {
	return func(e *Engine) {
		if src != nil {
			e.src = src
		}
	}
}

// WithRules replaces the default rule list.
func WithRules(rules []Rule) Option {
	return func(e *Engine) {
		e.rules = rules
	}
}

// NewEngine creates an engine with the default rules and the process-wide
// random source.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		rules:   DefaultRules(),
		general: GeneralArguments,
		src:     globalSource{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score evaluates every rule and returns the raw point sum, the collected
// arguments (general arguments included) and the names of matched rules.
// It is deterministic.
func (e *Engine) Score(f Facts) (points int, args []string, matched []string) {
	args = make([]string, 0, len(e.general)+6)
	matched = []string{}
	for _, r := range e.rules {
		if !r.Match(f) {
			continue
		}
		points += r.Points
		args = append(args, r.Arguments...)
		matched = append(matched, r.Name)
	}
	args = append(args, e.general...)
	return points, args, matched
}

// Analyze scores the facts and applies jitter and clamping.
func (e *Engine) Analyze(f Facts) Result {
	points, args, matched := e.Score(f)
	jitter := JitterMin + e.src.IntN(JitterMax-JitterMin+1)
	return Result{
		Probability: Clamp(points + jitter),
		Points:      points,
		Jitter:      jitter,
		Arguments:   args,
		Matched:     matched,
	}
}

// AnalyzeRaw parses raw facts and analyzes them. Date errors are returned
// unchanged to the caller.
func (e *Engine) AnalyzeRaw(raw RawFacts) (Result, error) {
	f, err := ParseFacts(raw)
	if err != nil {
		return Result{}, err
	}
	return e.Analyze(f), nil
}

// Clamp bounds a raw score to [MinProbability, MaxProbability].
func Clamp(v int) int {
	return max(MinProbability, min(MaxProbability, v))
}

var defaultEngine = NewEngine()

// Analyze runs the default engine.
func Analyze(f Facts) Result {
	return defaultEngine.Analyze(f)
}
