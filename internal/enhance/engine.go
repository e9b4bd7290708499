// Package enhance implements the cross-task dependency engine: completing
// a task in one family may switch on a presentation aid for every level
// of another family.
package enhance

import (
	"maps"
	"math/rand/v2"

	"github.com/abhisek/crosstask/internal/task"
)

// Effect is a presentation modifier applied by a task renderer.
type Effect string

const (
	EffectHighlight Effect = "highlight" // counting: target symbols emphasised
	EffectGuides    Effect = "guides"    // matching: tick marks on the slider
	EffectPreview   Effect = "preview"   // typing: next expected character shown
)

// Rule activates Effect on every level of Target with Probability when
// Source is completed.
type Rule struct {
	Source      task.ID
	Target      task.Family
	Effect      Effect
	Probability float64
}

// levelProbability maps a source level to its activation probability.
var levelProbability = [task.MaxLevel + 1]float64{0, 0.3, 0.6, 0.9}

// edges is the 3-cycle: Match helps Count, Type helps Match, Count helps Type.
var edges = []struct {
	source, target task.Family
	effect         Effect
}{
	{task.FamilyMatch, task.FamilyCount, EffectHighlight},
	{task.FamilyType, task.FamilyMatch, EffectGuides},
	{task.FamilyCount, task.FamilyType, EffectPreview},
}

// DefaultRules returns the nine static rules, three per family pair.
func DefaultRules() []Rule {
	rules := make([]Rule, 0, len(edges)*task.MaxLevel)
	for _, e := range edges {
		for _, src := range e.source.Tasks() {
			rules = append(rules, Rule{
				Source:      src,
				Target:      e.target,
				Effect:      e.effect,
				Probability: levelProbability[src.Level],
			})
		}
	}
	return rules
}

// Sampler draws uniform samples in [0,1). *rand.Rand satisfies it.
type Sampler interface {
	Float64() float64
}

// Activation records one rule firing.
type Activation struct {
	Rule    Rule
	Sample  float64
	Targets []task.ID
}

// Engine owns the active enhancement table. It is not safe for
// concurrent use; the game machine serializes access.
type Engine struct {
	rules         []Rule
	sampler       Sampler
	deterministic bool
	active        map[task.ID]Effect
}

// Option configures an Engine.
type Option func(*Engine)

// WithSampler sets the random source.
func WithSampler(s Sampler) Option {
	return func(e *Engine) { e.sampler = s }
}

// Deterministic makes every rule fire, as in practice mode.
func Deterministic() Option {
	return func(e *Engine) { e.deterministic = true }
}

// New returns an Engine over rules with an empty enhancement table.
func New(rules []Rule, opts ...Option) *Engine {
	e := &Engine{
		rules:  rules,
		active: make(map[task.ID]Effect),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sampler == nil {
		e.sampler = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return e
}

// Activate evaluates every rule keyed on source, drawing one sample per
// rule. A firing rule writes its effect to all three levels of the
// target family, overwriting whatever was there.
func (e *Engine) Activate(source task.ID) []Activation {
	var fired []Activation
	for _, r := range e.rules {
		if r.Source != source {
			continue
		}
		sample := e.sampler.Float64()
		if !e.deterministic && sample >= r.Probability {
			continue
		}
		targets := r.Target.Tasks()
		for _, id := range targets {
			e.active[id] = r.Effect
		}
		fired = append(fired, Activation{Rule: r, Sample: sample, Targets: targets})
	}
	return fired
}

// Query returns the active effect for id, if any.
func (e *Engine) Query(id task.ID) (Effect, bool) {
	eff, ok := e.active[id]
	return eff, ok
}

// Table returns a copy of the active enhancement table.
func (e *Engine) Table() map[task.ID]Effect {
	return maps.Clone(e.active)
}

// Restore replaces the table, used when resuming a saved session.
func (e *Engine) Restore(table map[task.ID]Effect) {
	e.active = make(map[task.ID]Effect, len(table))
	for id, eff := range table {
		if id.Valid() {
			e.active[id] = eff
		}
	}
}

// Reset clears the table for a fresh game.
func (e *Engine) Reset() {
	clear(e.active)
}
