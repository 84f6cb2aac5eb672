package inferrecovery_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ir "github.com/ineyio/inferrecovery"
)

func TestClassify_Messages(t *testing.T) {
	tests := []struct {
		msg  string
		want ir.ErrorKind
	}{
		{"Rate limit exceeded (429)", ir.KindRateLimitExceeded},
		{"HTTP 429 Too Many Requests", ir.KindRateLimitExceeded},
		{"Quota exceeded", ir.KindQuotaExceeded},
		{"insufficient credits on account", ir.KindQuotaExceeded},
		{"Invalid API key provided", ir.KindInvalidAPIKey},
		{"401 Unauthorized", ir.KindInvalidAPIKey},
		{"The model gpt-x is currently unavailable", ir.KindModelUnavailable},
		{"Response blocked by content filter", ir.KindContentFiltered},
		{"blocked for safety reasons", ir.KindContentFiltered},
		{"Network error", ir.KindNetworkError},
		{"getaddrinfo ENOTFOUND api.example.com", ir.KindNetworkError},
		{"read tcp: connection reset by peer", ir.KindNetworkError},
		{"Request timeout after 30s", ir.KindTimeout},
		{"context deadline exceeded", ir.KindTimeout},
		{"503 Service Unavailable", ir.KindServiceUnavailable},
		{"Unsupported format: image/tiff", ir.KindUnsupportedFormat},
		{"Invalid input provided", ir.KindInvalidInput},
		{"request validation failed", ir.KindInvalidInput},
		{"Prompt is too long", ir.KindPromptTooLong},
		{"exceeds maximum context length", ir.KindPromptTooLong},
		{"Redis connection pool exhausted", ir.KindCacheError},
		{"Firestore write failed", ir.KindDatabaseError},
		{"Monthly limit reached for plan", ir.KindMonthlyQuotaExceeded},
		{"User limit reached", ir.KindUserLimitExceeded},
		{"Unknown error", ir.KindUnknown},
		{"", ir.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, ir.Classify(errors.New(tt.msg)))
		})
	}
}

func TestClassify_Precedence(t *testing.T) {
	// Rate limit wins over quota and network markers.
	assert.Equal(t, ir.KindRateLimitExceeded, ir.Classify(errors.New("network: rate limit hit, quota nearly exhausted")))
	// Quota wording wins over the monthly limit marker.
	assert.Equal(t, ir.KindQuotaExceeded, ir.Classify(errors.New("monthly limit of quota reached")))
	// Model unavailable needs both words; otherwise service unavailable applies.
	assert.Equal(t, ir.KindServiceUnavailable, ir.Classify(errors.New("service unavailable")))
	// Network beats timeout.
	assert.Equal(t, ir.KindNetworkError, ir.Classify(errors.New("network timeout")))
}

func TestClassify_Sentinels(t *testing.T) {
	tests := []struct {
		err  error
		want ir.ErrorKind
	}{
		{ir.ErrRateLimited, ir.KindRateLimitExceeded},
		{ir.ErrQuotaExceeded, ir.KindQuotaExceeded},
		{ir.ErrAuthFailed, ir.KindInvalidAPIKey},
		{ir.ErrModelUnavailable, ir.KindModelUnavailable},
		{ir.ErrContentFiltered, ir.KindContentFiltered},
		{ir.ErrProviderUnavailable, ir.KindServiceUnavailable},
		{ir.ErrInvalidRequest, ir.KindInvalidInput},
		{ir.ErrUserLimit, ir.KindUserLimitExceeded},
		{ir.ErrTimeout, ir.KindTimeout},
		{context.DeadlineExceeded, ir.KindTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("call provider: %w", tt.err)
			assert.Equal(t, tt.want, ir.Classify(wrapped))
		})
	}
}

func TestClassify_MatchesName(t *testing.T) {
	err := &ir.ProviderError{Name: "APITimeoutError", Message: "request aborted"}
	assert.Equal(t, ir.KindTimeout, ir.Classify(err))
}

func TestClassify_NilIsUnknown(t *testing.T) {
	assert.Equal(t, ir.KindUnknown, ir.Classify(nil))
}

func TestClassify_Idempotent(t *testing.T) {
	for _, msg := range []string{"Rate limit exceeded (429)", "Quota exceeded", "Unknown error"} {
		first := ir.Classify(errors.New(msg))
		second := ir.Classify(errors.New(msg))
		assert.Equal(t, first, second, msg)
	}
}

func TestClassifier_CustomRules(t *testing.T) {
	billing := ir.Rule{
		Name: "billing",
		Kind: ir.KindMonthlyQuotaExceeded,
		Match: func(s ir.Signal) bool {
			return s.MessageContains("payment required", "402")
		},
	}
	c := ir.NewClassifier(append([]ir.Rule{billing}, ir.DefaultRules()...)...)

	assert.Equal(t, ir.KindMonthlyQuotaExceeded, c.Classify(errors.New("402 Payment Required")))
	assert.Equal(t, ir.KindRateLimitExceeded, c.Classify(errors.New("429")))
	assert.Equal(t, ir.KindMonthlyQuotaExceeded, ir.NewClassifier(billing).Classify(errors.New("payment required")))
	assert.Equal(t, ir.KindUnknown, ir.NewClassifier(billing).Classify(errors.New("429")))
}

func TestClassifier_RulesAreCopied(t *testing.T) {
	c := ir.NewClassifier()
	rules := c.Rules()
	require.NotEmpty(t, rules)

	rules[0].Kind = ir.KindUnknown
	assert.Equal(t, ir.KindRateLimitExceeded, c.Classify(errors.New("rate limit")))
}

func TestDefaultRules_CoverEveryKind(t *testing.T) {
	seen := make(map[ir.ErrorKind]bool)
	for _, r := range ir.DefaultRules() {
		assert.NotEmpty(t, r.Name)
		require.NotNil(t, r.Match, r.Name)
		seen[r.Kind] = true
	}
	for _, k := range ir.AllErrorKinds() {
		if k == ir.KindUnknown {
			continue
		}
		assert.True(t, seen[k], "no rule for %s", k)
	}
}
