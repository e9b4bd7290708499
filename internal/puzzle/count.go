package puzzle

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/abhisek/crosstask/internal/enhance"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/task"
)

var countSymbols = []rune{'●', '▲', '■', '◆', '★'}

// Count asks how many times Target occurs in Grid.
type Count struct {
	ID     task.ID
	Grid   [][]rune
	Target rune
	Want   int
}

func newCount(id task.ID, rng *rand.Rand) *Count {
	size := 3 + 2*id.Level // 5, 7, 9
	symbols := countSymbols[:2+id.Level]
	target := symbols[rng.IntN(len(symbols))]

	c := &Count{ID: id, Target: target, Grid: make([][]rune, size)}
	for r := range c.Grid {
		c.Grid[r] = make([]rune, size)
		for col := range c.Grid[r] {
			s := symbols[rng.IntN(len(symbols))]
			c.Grid[r][col] = s
			if s == target {
				c.Want++
			}
		}
	}
	return c
}

func (c *Count) Task() task.ID { return c.ID }

func (c *Count) Instructions() string {
	return fmt.Sprintf("Count every %c in the grid and enter the number.", c.Target)
}

func (c *Count) Render(effect enhance.Effect, _ string, mark Marker) string {
	mark = orBracket(mark)
	var b strings.Builder
	for r, row := range c.Grid {
		if r > 0 {
			b.WriteByte('\n')
		}
		for col, s := range row {
			if col > 0 {
				b.WriteByte(' ')
			}
			cell := string(s)
			if effect == enhance.EffectHighlight && s == c.Target {
				cell = mark(cell)
			}
			b.WriteString(cell)
		}
	}
	return b.String()
}

// Check scores the count; being off by half the true count scores zero.
func (c *Count) Check(answer string) game.Outcome {
	out := game.Outcome{Answer: strings.TrimSpace(answer)}
	n, ok := parseNumber(answer)
	if !ok {
		return out
	}
	out.Correct = int(n) == c.Want && n == float64(int(n))
	out.Accuracy = closeness(n, float64(c.Want), max(float64(c.Want)/2, 1))
	return out
}
