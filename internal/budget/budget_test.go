package budget

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"héllo wörld", 3},
		{strings.Repeat("x", 1200), 300},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.in), "EstimateTokens(%q)", tt.in)
	}
}

func TestTryConsumeBasePrompts(t *testing.T) {
	e := NewEnforcer(DefaultLimits())
	var acct Account
	var history []Turn

	for i := range 3 {
		g, err := e.TryConsume(acct, "hint please", history)
		require.NoError(t, err, "prompt %d", i+1)
		acct.Used++
		history = append(history, g.Turn)
		assert.Equal(t, 3-acct.Used, g.Remaining)
	}

	_, err := e.TryConsume(acct, "hint please", history)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, KindPrompts, exceeded.Kind)
	assert.True(t, exceeded.Terminal())
	assert.True(t, e.Exhausted(acct))

	// One completion grants a bonus prompt.
	acct.Bonus++
	_, err = e.TryConsume(acct, "hint please", history)
	assert.NoError(t, err)
}

func TestTryConsumeTokenCeiling(t *testing.T) {
	e := NewEnforcer(DefaultLimits())
	history := []Turn{
		{Role: RoleUser, Content: strings.Repeat("a", 800)},      // 200
		{Role: RoleAssistant, Content: strings.Repeat("b", 396)}, // 99
	}
	acct := Account{Used: 1}

	_, err := e.TryConsume(acct, "ab", history) // 1 more: exactly 300
	require.NoError(t, err)

	_, err = e.TryConsume(acct, "abcde", history) // 2 more: 301
	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, KindTokens, exceeded.Kind)
	assert.Equal(t, 301, exceeded.Estimated)
	assert.False(t, exceeded.Terminal())

	assert.Len(t, history, 2)
	assert.Equal(t, 1, acct.Used)
}

func TestTokensCheckedBeforePrompts(t *testing.T) {
	e := NewEnforcer(Limits{BasePrompts: 1, MaxTokens: 10})
	_, err := e.TryConsume(Account{Used: 1}, strings.Repeat("z", 100), nil)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, KindTokens, exceeded.Kind)
}

func TestRemainingClamped(t *testing.T) {
	l := DefaultLimits()
	assert.Equal(t, 0, Account{Used: 7, Bonus: 1}.Remaining(l))
	assert.Equal(t, 5, Account{Used: 1, Bonus: 3}.Remaining(l))
}

func TestEstimateTokensProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		n := utf8.RuneCountInString(s)
		got := EstimateTokens(s)
		if got*4 < n || (got-1)*4 >= n && n > 0 {
			t.Fatalf("EstimateTokens(%d runes) = %d", n, got)
		}
		if EstimateTokens(s+s) < got {
			t.Fatalf("estimate not monotonic")
		}
	})
}

func TestTryConsumeNeverExceedsAllowance(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := NewEnforcer(DefaultLimits())
		var acct Account
		var history []Turn
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := range steps {
			if rapid.Bool().Draw(t, "complete") {
				acct.Bonus++
			}
			prompt := rapid.StringN(0, 20, -1).Draw(t, "prompt")
			before := len(history)
			g, err := e.TryConsume(acct, prompt, history)
			if err != nil {
				if len(history) != before {
					t.Fatalf("step %d: history mutated on rejection", i)
				}
				continue
			}
			acct.Used++
			history = append(history, g.Turn)
			if acct.Used > DefaultBasePrompts+acct.Bonus {
				t.Fatalf("step %d: used %d > allowance %d", i, acct.Used, DefaultBasePrompts+acct.Bonus)
			}
		}
	})
}
