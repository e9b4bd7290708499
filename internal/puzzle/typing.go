package puzzle

import (
	"math/rand/v2"
	"strings"

	"github.com/abhisek/crosstask/internal/enhance"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/task"
)

const typeAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// Type asks the participant to reproduce Pattern exactly.
type Type struct {
	ID      task.ID
	Pattern string
}

func newType(id task.ID, rng *rand.Rand) *Type {
	n := 4 + 4*id.Level // 8, 12, 16
	b := make([]byte, n)
	for i := range b {
		b[i] = typeAlphabet[rng.IntN(len(typeAlphabet))]
	}
	return &Type{ID: id, Pattern: string(b)}
}

func (t *Type) Task() task.ID { return t.ID }

func (t *Type) Instructions() string {
	return "Type the pattern exactly as shown."
}

// Render shows the pattern in groups of four. With the preview effect
// the next expected character after input is marked.
func (t *Type) Render(effect enhance.Effect, input string, mark Marker) string {
	next := -1
	if effect == enhance.EffectPreview {
		next = matchedPrefix(t.Pattern, input)
	}
	mark = orBracket(mark)

	var b strings.Builder
	for i, r := range t.Pattern {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		if i == next {
			b.WriteString(mark(string(r)))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Check is correct only for an exact match, ignoring case and spaces.
// Accuracy is the share of positions typed correctly.
func (t *Type) Check(answer string) game.Outcome {
	got := normalizePattern(answer)
	out := game.Outcome{Answer: got}
	if got == "" {
		return out
	}
	hits := 0
	for i := 0; i < len(t.Pattern) && i < len(got); i++ {
		if got[i] == t.Pattern[i] {
			hits++
		}
	}
	// Extra characters count against the answer.
	total := max(len(t.Pattern), len(got))
	out.Correct = got == t.Pattern
	out.Accuracy = clampPercent(100 * float64(hits) / float64(total))
	return out
}

func normalizePattern(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// matchedPrefix returns how many leading characters of input match the
// pattern.
func matchedPrefix(pattern, input string) int {
	in := normalizePattern(input)
	n := 0
	for n < len(pattern) && n < len(in) && pattern[n] == in[n] {
		n++
	}
	return n
}
