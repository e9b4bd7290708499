// Package budget rations chat-help requests. It is pure: TryConsume
// inspects an Account and returns a Grant describing the change, and the
// caller applies it.
package budget

import (
	"fmt"
	"math"
	"unicode/utf8"
)

const (
	DefaultBasePrompts = 3
	DefaultMaxTokens   = 300
)

// Kind names which limit rejected a request.
type Kind string

const (
	KindTokens  Kind = "tokens"
	KindPrompts Kind = "prompts"
)

// ExceededError is returned when a request would break a limit.
type ExceededError struct {
	Kind      Kind
	Estimated int // token estimate, for KindTokens
	Limit     int
}

func (e *ExceededError) Error() string {
	switch e.Kind {
	case KindTokens:
		return fmt.Sprintf("budget exceeded: %d estimated tokens, limit %d", e.Estimated, e.Limit)
	default:
		return fmt.Sprintf("budget exceeded: all %d prompts used", e.Limit)
	}
}

// Terminal reports whether the rejection disables further input until
// the budget grows.
func (e *ExceededError) Terminal() bool { return e.Kind == KindPrompts }

// Limits are the fixed budget parameters.
type Limits struct {
	BasePrompts int
	MaxTokens   int
}

// DefaultLimits returns the standard limits.
func DefaultLimits() Limits {
	return Limits{BasePrompts: DefaultBasePrompts, MaxTokens: DefaultMaxTokens}
}

// Role identifies the speaker of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one chat message.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Account is the prompt state the enforcer checks against.
type Account struct {
	Used  int
	Bonus int
}

// Allowance returns the total prompts available.
func (a Account) Allowance(l Limits) int {
	return l.BasePrompts + a.Bonus
}

// Remaining returns the prompts left, never negative.
func (a Account) Remaining(l Limits) int {
	return max(a.Allowance(l)-a.Used, 0)
}

// Grant authorizes one prompt. The caller increments Used and appends
// Turn to the history.
type Grant struct {
	Turn      Turn
	Estimated int
	Remaining int
}

// EstimateTokens is a coarse heuristic: one token per four runes,
// rounded up.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return int(math.Ceil(float64(n) / 4))
}

// EstimateHistory sums EstimateTokens over every turn.
func EstimateHistory(history []Turn) int {
	total := 0
	for _, t := range history {
		total += EstimateTokens(t.Content)
	}
	return total
}

// Enforcer checks chat requests against Limits.
type Enforcer struct {
	limits Limits
}

// NewEnforcer returns an Enforcer for l.
func NewEnforcer(l Limits) Enforcer {
	return Enforcer{limits: l}
}

// Limits returns the configured limits.
func (e Enforcer) Limits() Limits { return e.limits }

// TryConsume decides whether prompt may be sent given acct and the prior
// history. The token ceiling is checked before the prompt count.
// Neither acct nor history is modified.
func (e Enforcer) TryConsume(acct Account, prompt string, history []Turn) (Grant, error) {
	estimated := EstimateTokens(prompt) + EstimateHistory(history)
	if estimated > e.limits.MaxTokens {
		return Grant{}, &ExceededError{Kind: KindTokens, Estimated: estimated, Limit: e.limits.MaxTokens}
	}
	if acct.Used >= acct.Allowance(e.limits) {
		return Grant{}, &ExceededError{Kind: KindPrompts, Limit: acct.Allowance(e.limits)}
	}
	next := Account{Used: acct.Used + 1, Bonus: acct.Bonus}
	return Grant{
		Turn:      Turn{Role: RoleUser, Content: prompt},
		Estimated: estimated,
		Remaining: next.Remaining(e.limits),
	}, nil
}

// Exhausted reports whether acct has no prompts left.
func (e Enforcer) Exhausted(acct Account) bool {
	return acct.Used >= acct.Allowance(e.limits)
}
