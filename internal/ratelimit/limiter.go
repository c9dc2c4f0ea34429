package ratelimit

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// FailMode decides what happens when the window store is unavailable.
// Low-sensitivity actions fail open (allow); authentication-adjacent actions
// fail closed (deny). The asymmetry is per-action configuration, not a
// global switch.
type FailMode string

const (
	FailOpen   FailMode = "open"
	FailClosed FailMode = "closed"
)

// Rule configures the limit for one action.
type Rule struct {
	Limit    int
	Window   time.Duration
	FailMode FailMode
	// Sensitive suppresses remaining-attempt counts in client-facing
	// responses so attackers cannot calibrate against the limit.
	Sensitive bool
}

// Result is the outcome of one limiter check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Rule      Rule
}

// LimitError is returned to callers that treat a denial as an error. It
// carries ResetAt so a legitimate client can back off correctly.
type LimitError struct {
	Action  string
	ResetAt time.Time
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Action)
}

// Limiter applies fixed-window counting per identifier+action. Window
// membership is floor(now/window): a request arriving exactly on a boundary
// belongs to the new window. This admits brief double-counting around
// boundaries and is an accepted approximation, not a strict sliding log —
// do not lean on it for hard guarantees.
type Limiter struct {
	store       WindowStore
	rules       map[string]Rule
	defaultRule Rule
	now         func() time.Time
}

// New creates a Limiter. rules maps action name to its Rule; actions without
// an entry use defaultRule.
func New(store WindowStore, rules map[string]Rule, defaultRule Rule) *Limiter {
	return &Limiter{
		store:       store,
		rules:       rules,
		defaultRule: defaultRule,
		now:         time.Now,
	}
}

// RuleFor returns the effective rule for an action.
func (l *Limiter) RuleFor(action string) Rule {
	if r, ok := l.rules[action]; ok {
		return r
	}
	return l.defaultRule
}

// Check counts one request against the identifier+action window and reports
// whether it is admitted. The count-and-compare happens atomically inside
// the store; callers never read-then-write.
func (l *Limiter) Check(identifier, action string) Result {
	rule := l.RuleFor(action)
	now := l.now()
	windowStart := now.Truncate(rule.Window)
	resetAt := windowStart.Add(rule.Window)
	key := identifier + "\x1f" + action

	count, err := l.store.Increment(key, windowStart, rule.Window)
	if err != nil {
		allowed := rule.FailMode != FailClosed
		log.Error().Err(err).Str("action", action).Bool("allowed", allowed).
			Msg("rate limit store unavailable")
		return Result{Allowed: allowed, Remaining: 0, ResetAt: resetAt, Rule: rule}
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= rule.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
		Rule:      rule,
	}
}
