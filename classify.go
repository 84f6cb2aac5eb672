package inferrecovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Signal is the normalized view of an error that rules match against.
// Message and Name are lower-cased.
type Signal struct {
	Err     error
	Message string
	Name    string
}

// Contains reports whether the message or the name contains any of the substrings.
func (s Signal) Contains(subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s.Message, sub) || strings.Contains(s.Name, sub) {
			return true
		}
	}
	return false
}

// MessageContains reports whether the message alone contains any of the substrings.
func (s Signal) MessageContains(subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s.Message, sub) {
			return true
		}
	}
	return false
}

// Is reports whether the error chain matches any of the targets.
func (s Signal) Is(targets ...error) bool {
	if s.Err == nil {
		return false
	}
	for _, t := range targets {
		if errors.Is(s.Err, t) {
			return true
		}
	}
	return false
}

// Rule maps a predicate over a Signal to an ErrorKind.
type Rule struct {
	Name  string
	Kind  ErrorKind
	Match func(Signal) bool
}

// DefaultRules returns the built-in ordered rule list. The first matching rule wins.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "rate-limit", Kind: KindRateLimitExceeded, Match: func(s Signal) bool {
			return s.Is(ErrRateLimited) || s.MessageContains("rate limit", "429", "too many requests")
		}},
		{Name: "quota", Kind: KindQuotaExceeded, Match: func(s Signal) bool {
			return s.Is(ErrQuotaExceeded) || s.MessageContains("quota", "insufficient")
		}},
		{Name: "credential", Kind: KindInvalidAPIKey, Match: func(s Signal) bool {
			return s.Is(ErrAuthFailed) || s.MessageContains("api key", "401", "unauthorized")
		}},
		{Name: "model-unavailable", Kind: KindModelUnavailable, Match: func(s Signal) bool {
			return s.Is(ErrModelUnavailable) ||
				(s.MessageContains("model") && s.MessageContains("unavailable"))
		}},
		{Name: "content-filter", Kind: KindContentFiltered, Match: func(s Signal) bool {
			return s.Is(ErrContentFiltered) ||
				s.MessageContains("content filter", "content_filter", "content policy", "safety")
		}},
		{Name: "network", Kind: KindNetworkError, Match: func(s Signal) bool {
			return s.MessageContains("network", "enotfound", "econnrefused", "connection refused", "connection reset", "no such host")
		}},
		{Name: "timeout", Kind: KindTimeout, Match: func(s Signal) bool {
			return s.Is(context.DeadlineExceeded, ErrTimeout) || s.Contains("timeout") || s.MessageContains("deadline exceeded")
		}},
		{Name: "service-unavailable", Kind: KindServiceUnavailable, Match: func(s Signal) bool {
			return s.Is(ErrProviderUnavailable) || s.MessageContains("service unavailable", "503")
		}},
		{Name: "unsupported-format", Kind: KindUnsupportedFormat, Match: func(s Signal) bool {
			return s.MessageContains("unsupported format", "unsupported file")
		}},
		{Name: "invalid-input", Kind: KindInvalidInput, Match: func(s Signal) bool {
			return s.Is(ErrInvalidRequest) || s.MessageContains("invalid input", "validation")
		}},
		{Name: "prompt-length", Kind: KindPromptTooLong, Match: func(s Signal) bool {
			return s.MessageContains("too long", "context length", "maximum context", "token limit")
		}},
		{Name: "cache-store", Kind: KindCacheError, Match: func(s Signal) bool {
			return s.MessageContains("redis", "cache")
		}},
		{Name: "document-store", Kind: KindDatabaseError, Match: func(s Signal) bool {
			return s.MessageContains("database", "firestore", "document store", "postgres")
		}},
		{Name: "monthly-limit", Kind: KindMonthlyQuotaExceeded, Match: func(s Signal) bool {
			return s.MessageContains("monthly limit")
		}},
		{Name: "user-limit", Kind: KindUserLimitExceeded, Match: func(s Signal) bool {
			return s.Is(ErrUserLimit) || s.MessageContains("user limit", "usage limit")
		}},
	}
}

// Classifier assigns an ErrorKind to an error using an ordered rule list.
// It is immutable and safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a Classifier. With no rules, DefaultRules is used.
func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	c := &Classifier{rules: make([]Rule, len(rules))}
	copy(c.rules, rules)
	return c
}

// Classify returns the kind of the first matching rule, or KindUnknown.
func (c *Classifier) Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	sig := newSignal(err)
	for _, r := range c.rules {
		if r.Match != nil && r.Match(sig) {
			return r.Kind
		}
	}
	return KindUnknown
}

// Rules returns a copy of the classifier's rules.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

var defaultClassifier = NewClassifier()

// Classify classifies err with the default rules.
func Classify(err error) ErrorKind {
	return defaultClassifier.Classify(err)
}

func newSignal(err error) Signal {
	return Signal{
		Err:     err,
		Message: strings.ToLower(err.Error()),
		Name:    strings.ToLower(errorName(err)),
	}
}

// errorName returns the error's category name: ErrorName() from the first error
// in the chain that provides one, otherwise the dynamic type name.
func errorName(err error) string {
	var named interface{ ErrorName() string }
	if errors.As(err, &named) {
		if n := named.ErrorName(); n != "" {
			return n
		}
	}
	return fmt.Sprintf("%T", err)
}
