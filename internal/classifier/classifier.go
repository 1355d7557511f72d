// Package classifier implements error classification and retry-strategy
// recommendation for failed task executions, with a learned per-pattern
// success rate fed back from observed retry outcomes.
package classifier

import (
	"fmt"
	"regexp"
	"sync"
)

// Kind labels the nature of a failure.
type Kind string

const (
	KindTransient  Kind = "transient"
	KindFixable    Kind = "fixable"
	KindStructural Kind = "structural"
	KindUnknown    Kind = "unknown"
)

// Action is the recommended response to a classified error.
type Action string

const (
	ActionRetry             Action = "retry"
	ActionRetryWithContext  Action = "retry-with-context"
	ActionEscalate          Action = "escalate"
	ActionFail              Action = "fail"
)

// Result is the outcome of classifying one error.
type Result struct {
	PatternID          string
	Kind               Kind
	Retryable          bool
	Action             Action
	ContextEnrichment  string
	MaxRetries          int
}

// Pattern is one entry in the seeded classification table. Resolution is
// data, not control flow, so the table can grow without touching Classify.
type Pattern struct {
	ID         string
	Regex      *regexp.Regexp
	Kind       Kind
	Resolution Action
	Enrichment string

	mu          sync.Mutex
	occurrences int
	successRate float64
}

func pattern(id, expr string, kind Kind, resolution Action, enrichment string) *Pattern {
	return &Pattern{
		ID:         id,
		Regex:      regexp.MustCompile(expr),
		Kind:       kind,
		Resolution: resolution,
		Enrichment: enrichment,
	}
}

// seededPatterns is the default classification table, in match order.
func seededPatterns() []*Pattern {
	return []*Pattern{
		pattern("timeout", `(?i)\btimeout\b|\btimed out\b|deadline exceeded`, KindTransient, ActionRetry, ""),
		pattern("rate-limit", `(?i)rate.?limit|429|too many requests|quota exceeded`, KindTransient, ActionRetry, ""),
		pattern("file-not-found", `(?i)no such file or directory|file not found|enoent`, KindFixable, ActionRetryWithContext,
			"The referenced file does not exist. Verify the path or create the file before retrying."),
		pattern("syntax-error", `(?i)syntax error|unexpected token|parse error`, KindFixable, ActionRetryWithContext,
			"The previous output did not compile. Review the syntax error and produce valid code."),
		pattern("type-error", `(?i)type error|type mismatch|cannot assign|incompatible types`, KindFixable, ActionRetryWithContext,
			"The previous output had a type error. Check the involved types and fix the mismatch."),
		pattern("permission-denied", `(?i)permission denied|eacces|access is denied`, KindStructural, ActionEscalate, ""),
		pattern("network-error", `(?i)connection refused|network is unreachable|dial tcp|dns`, KindTransient, ActionRetry, ""),
		pattern("memory-error", `(?i)out of memory|oom|cannot allocate memory`, KindStructural, ActionEscalate, ""),
		pattern("missing-dependency", `(?i)module not found|cannot find package|no matching package|import.*not found`, KindFixable, ActionRetryWithContext,
			"A required dependency is missing. Add it before retrying."),
	}
}

// Classifier holds the live (mutable, learning) pattern table.
type Classifier struct {
	mu       sync.RWMutex
	patterns []*Pattern
	byID     map[string]*Pattern
}

// New builds a Classifier seeded with the default pattern table.
func New() *Classifier {
	pats := seededPatterns()
	byID := make(map[string]*Pattern, len(pats))
	for _, p := range pats {
		byID[p.ID] = p
	}
	return &Classifier{patterns: pats, byID: byID}
}

// Classify labels errText and recommends a retry strategy given the
// task's current retry posture.
func (c *Classifier) Classify(errText string, retryCount, maxRetries int) Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.patterns {
		if p.Regex.MatchString(errText) {
			p.mu.Lock()
			p.occurrences++
			p.mu.Unlock()

			limit := 3
			if p.Kind == KindTransient {
				limit = 5
			}

			switch p.Resolution {
			case ActionEscalate:
				return Result{PatternID: p.ID, Kind: p.Kind, Retryable: false, Action: ActionEscalate, MaxRetries: limit}
			case ActionRetryWithContext:
				retryable := retryCount < limit
				action := ActionRetryWithContext
				if !retryable {
					action = ActionFail
				}
				return Result{PatternID: p.ID, Kind: p.Kind, Retryable: retryable, Action: action, ContextEnrichment: p.Enrichment, MaxRetries: limit}
			default:
				retryable := retryCount < limit
				action := ActionRetry
				if !retryable {
					action = ActionFail
				}
				return Result{PatternID: p.ID, Kind: p.Kind, Retryable: retryable, Action: action, MaxRetries: limit}
			}
		}
	}

	return c.classifyUnknown(errText, retryCount, maxRetries)
}

var heuristicTransient = regexp.MustCompile(`(?i)\btemporary\b|\bagain\b|\bretry\b`)

func (c *Classifier) classifyUnknown(errText string, retryCount, maxRetries int) Result {
	limit := maxRetries
	if limit == 0 {
		limit = 3
	}

	if heuristicTransient.MatchString(errText) {
		retryable := retryCount < limit
		action := ActionRetry
		if !retryable {
			action = ActionFail
		}
		return Result{PatternID: "", Kind: KindTransient, Retryable: retryable, Action: action, MaxRetries: limit}
	}

	retryable := retryCount < limit
	action := ActionRetryWithContext
	enrichment := ""
	if retryable {
		enrichment = "Previous attempt failed with: " + truncate(errText, 200)
	} else {
		action = ActionFail
	}
	return Result{PatternID: "", Kind: KindUnknown, Retryable: retryable, Action: action, ContextEnrichment: enrichment, MaxRetries: limit}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// RecordOutcome updates the learned success rate for the pattern that
// produced result, based on whether the subsequent retry succeeded, and
// counts the observation as one more occurrence. Only the first matching
// pattern for an error is updated; unmatched (pattern-less)
// classifications are not tracked.
func (c *Classifier) RecordOutcome(patternID string, success bool) error {
	if patternID == "" {
		return nil
	}

	c.mu.RLock()
	p, ok := c.byID[patternID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("classifier: unknown pattern %q", patternID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	occ := p.occurrences
	if occ == 0 {
		occ = 1
	}
	var outcome float64
	if success {
		outcome = 1
	}
	p.successRate = (p.successRate*float64(occ) + outcome) / float64(occ+1)
	p.occurrences++
	return nil
}

// SuccessRate returns the current learned success rate for a pattern.
func (c *Classifier) SuccessRate(patternID string) float64 {
	c.mu.RLock()
	p, ok := c.byID[patternID]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.successRate
}

// Occurrences returns the observed occurrence count for a pattern.
func (c *Classifier) Occurrences(patternID string) int {
	c.mu.RLock()
	p, ok := c.byID[patternID]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.occurrences
}
