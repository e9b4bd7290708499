package puzzle

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/abhisek/crosstask/internal/enhance"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/task"
)

const (
	matchScale = 100
	matchWidth = 50
)

// Match shows a bar of length Want on a 0-100 scale and asks for its
// value.
type Match struct {
	ID        task.ID
	Want      int
	Tolerance int
}

func newMatch(id task.ID, rng *rand.Rand) *Match {
	return &Match{
		ID:        id,
		Want:      5 + rng.IntN(91),
		Tolerance: [...]int{0, 5, 3, 1}[id.Level],
	}
}

func (m *Match) Task() task.ID { return m.ID }

func (m *Match) Instructions() string {
	return fmt.Sprintf("Estimate the bar's value on the 0-%d scale (within %d).", matchScale, m.Tolerance)
}

func (m *Match) Render(effect enhance.Effect, _ string, mark Marker) string {
	filled := m.Want * matchWidth / matchScale
	var b strings.Builder
	b.WriteString("0 |")
	b.WriteString(strings.Repeat("█", filled))
	b.WriteString(strings.Repeat("░", matchWidth-filled))
	fmt.Fprintf(&b, "| %d", matchScale)

	if effect == enhance.EffectGuides {
		mark = orBracket(mark)
		ticks := []rune(strings.Repeat(" ", matchWidth))
		for v := 10; v < matchScale; v += 10 {
			ticks[v*matchWidth/matchScale] = '┴'
		}
		b.WriteString("\n   ")
		b.WriteString(mark(string(ticks)))
	}
	return b.String()
}

// Check is correct within Tolerance; accuracy falls to zero at a
// quarter of the scale.
func (m *Match) Check(answer string) game.Outcome {
	out := game.Outcome{Answer: strings.TrimSpace(answer)}
	n, ok := parseNumber(answer)
	if !ok {
		return out
	}
	diff := n - float64(m.Want)
	out.Correct = diff >= -float64(m.Tolerance) && diff <= float64(m.Tolerance)
	out.Accuracy = closeness(n, float64(m.Want), matchScale/4)
	return out
}
