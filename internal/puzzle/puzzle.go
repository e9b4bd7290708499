// Package puzzle generates and grades the nine experiment tasks.
//
// Each family has one Puzzle type. Level raises the difficulty: bigger
// grids for counting, tighter tolerance for matching, longer patterns
// for typing. A Puzzle is immutable once generated; renderers pass the
// active enhancement and the participant's partial input to Render.
package puzzle

import (
	"fmt"
	"math/rand/v2"

	"github.com/abhisek/crosstask/internal/enhance"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/task"
)

// Puzzle is one task's content.
type Puzzle interface {
	// Task returns the task this puzzle belongs to.
	Task() task.ID

	// Instructions is a one-line description of what to submit.
	Instructions() string

	// Render draws the puzzle as plain text. effect is the active
	// enhancement ("" for none). input is the participant's current
	// input, used by effects that depend on progress. mark wraps
	// emphasised fragments; nil uses brackets.
	Render(effect enhance.Effect, input string, mark Marker) string

	// Check grades a submitted answer. Every answer produces an
	// outcome; unparseable input scores zero.
	Check(answer string) game.Outcome
}

// Marker emphasises a fragment of rendered text.
type Marker func(string) string

func bracket(s string) string { return "[" + s + "]" }

func orBracket(m Marker) Marker {
	if m == nil {
		return bracket
	}
	return m
}

// New generates the puzzle for id from rng.
func New(id task.ID, rng *rand.Rand) (Puzzle, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("puzzle: invalid task %q", id)
	}
	switch id.Family {
	case task.FamilyCount:
		return newCount(id, rng), nil
	case task.FamilyMatch:
		return newMatch(id, rng), nil
	case task.FamilyType:
		return newType(id, rng), nil
	}
	return nil, fmt.Errorf("puzzle: no generator for family %s", id.Family)
}

// Set holds one puzzle per task.
type Set map[task.ID]Puzzle

// NewSet generates all nine puzzles from seed. Equal seeds give equal
// boards.
func NewSet(seed uint64) Set {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	s := make(Set, task.Total)
	for _, id := range task.All() {
		p, _ := New(id, rng)
		s[id] = p
	}
	return s
}

// Grade checks answer against the puzzle for id.
func (s Set) Grade(id task.ID, answer string) (game.Outcome, error) {
	p, ok := s[id]
	if !ok {
		return game.Outcome{}, fmt.Errorf("puzzle: no puzzle for %s", id)
	}
	return p.Check(answer), nil
}
