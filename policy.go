package inferrecovery

// PolicyTable maps every ErrorKind to its RecoveryPolicy. Build it once with
// NewPolicyTable or DefaultPolicyTable; it is read-only afterwards.
type PolicyTable struct {
	policies map[ErrorKind]RecoveryPolicy
	fallback RecoveryPolicy
}

// NewPolicyTable returns a table holding the given entries, with def assigned to
// every kind that has no entry. Inputs are copied.
func NewPolicyTable(entries map[ErrorKind]RecoveryPolicy, def RecoveryPolicy) PolicyTable {
	policies := make(map[ErrorKind]RecoveryPolicy, len(allKinds))
	for _, kind := range allKinds {
		if p, ok := entries[kind]; ok {
			policies[kind] = clonePolicy(p)
			continue
		}
		policies[kind] = clonePolicy(def)
	}
	return PolicyTable{policies: policies, fallback: clonePolicy(def)}
}

// DefaultPolicyTable returns the shipped policy table.
func DefaultPolicyTable() PolicyTable {
	return NewPolicyTable(DefaultPolicies(), DefaultPolicy())
}

// Lookup returns the policy for kind. It never fails: kinds without an entry
// get the table's default policy.
func (t PolicyTable) Lookup(kind ErrorKind) RecoveryPolicy {
	if p, ok := t.get(kind); ok {
		return p
	}
	return clonePolicy(t.fallback)
}

// get reports ok=false only for a zero-value table.
func (t PolicyTable) get(kind ErrorKind) (RecoveryPolicy, bool) {
	if t.policies == nil {
		return RecoveryPolicy{}, false
	}
	p, ok := t.policies[kind]
	if !ok {
		return clonePolicy(t.fallback), true
	}
	return clonePolicy(p), true
}

// Kinds returns the kinds the table holds entries for.
func (t PolicyTable) Kinds() []ErrorKind {
	out := make([]ErrorKind, 0, len(t.policies))
	for _, k := range allKinds {
		if _, ok := t.policies[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func clonePolicy(p RecoveryPolicy) RecoveryPolicy {
	if p.Retry.RetryableKinds != nil {
		kinds := make([]ErrorKind, len(p.Retry.RetryableKinds))
		copy(kinds, p.Retry.RetryableKinds)
		p.Retry.RetryableKinds = kinds
	}
	return p
}

// DefaultPolicy is assigned to every kind without a hand-tuned policy.
func DefaultPolicy() RecoveryPolicy {
	return RecoveryPolicy{
		Retry: RetryStrategy{
			MaxRetries:  1,
			BaseDelayMs: 2000,
			MaxDelayMs:  10000,
			Backoff:     BackoffExponential,
		},
		Fallback: FallbackStrategy{
			Enabled:               false,
			PreserveCredits:       true,
			NotifyUser:            true,
			EscalateAfterAttempts: 1,
		},
		Messages: Messages{
			Immediate:  "Something went wrong while processing your request.",
			Retry:      "Something went wrong. Retrying in {delay} seconds...",
			Fallback:   "Something went wrong. Here is a simplified response instead.",
			Escalation: "We couldn't complete your request. Please try again later. Your credits have not been used.",
		},
	}
}

// DefaultPolicies returns the hand-tuned policies shipped with the package.
func DefaultPolicies() map[ErrorKind]RecoveryPolicy {
	return map[ErrorKind]RecoveryPolicy{
		KindRateLimitExceeded: {
			Retry: RetryStrategy{
				MaxRetries:     3,
				BaseDelayMs:    5000,
				MaxDelayMs:     60000,
				Backoff:        BackoffExponential,
				Jitter:         true,
				RetryableKinds: []ErrorKind{KindRateLimitExceeded},
			},
			Fallback: FallbackStrategy{
				Enabled:               true,
				FallbackMessage:       "The AI service is busy. Please try again in a few minutes.",
				PreserveCredits:       true,
				NotifyUser:            true,
				EscalateAfterAttempts: 4,
			},
			Messages: Messages{
				Immediate:  "The AI service is receiving too many requests right now.",
				Retry:      "The AI service is busy. Retrying in {delay} seconds...",
				Fallback:   "The AI service is busy. Please try again in a few minutes. Your credits have not been used.",
				Escalation: "The AI service is still busy after several attempts. Please try again later. Your credits have not been used.",
			},
		},
		KindQuotaExceeded: {
			Retry: RetryStrategy{
				MaxRetries: 0,
				Backoff:    BackoffFixed,
			},
			Fallback: FallbackStrategy{
				Enabled:               false,
				PreserveCredits:       true,
				NotifyUser:            true,
				EscalateAfterAttempts: 1,
			},
			Messages: Messages{
				Immediate:  "The AI service has reached its usage quota.",
				Escalation: "The AI service has reached its usage quota. Our team has been notified. Your credits have not been used.",
			},
		},
		KindNetworkError: {
			Retry: RetryStrategy{
				MaxRetries:     3,
				BaseDelayMs:    1000,
				MaxDelayMs:     10000,
				Backoff:        BackoffExponential,
				Jitter:         true,
				RetryableKinds: []ErrorKind{KindNetworkError, KindTimeout, KindServiceUnavailable},
			},
			Fallback: FallbackStrategy{
				Enabled:               true,
				FallbackMessage:       "We're having trouble connecting. Please check your connection.",
				PreserveCredits:       true,
				NotifyUser:            true,
				EscalateAfterAttempts: 3,
			},
			Messages: Messages{
				Immediate:  "We're having trouble connecting to the AI service.",
				Retry:      "Connection problem. Retrying in {delay} seconds...",
				Fallback:   "We're having trouble connecting. Please check your connection and try again.",
				Escalation: "We couldn't reach the AI service after several attempts. Please check your connection and try again later.",
			},
		},
		KindInvalidInput: {
			Retry: RetryStrategy{
				MaxRetries: 0,
				Backoff:    BackoffFixed,
			},
			Fallback: FallbackStrategy{
				Enabled:               false,
				PreserveCredits:       true,
				NotifyUser:            true,
				EscalateAfterAttempts: 1,
			},
			Messages: Messages{
				Immediate:  "Your request couldn't be processed. Please check your input and try again.",
				Escalation: "Your request couldn't be processed. Please check your input and try again. Your credits have not been used.",
			},
		},
		KindUserLimitExceeded: {
			Retry: RetryStrategy{
				MaxRetries: 0,
				Backoff:    BackoffFixed,
			},
			Fallback: FallbackStrategy{
				Enabled:               false,
				PreserveCredits:       true,
				NotifyUser:            true,
				EscalateAfterAttempts: 1,
			},
			Messages: Messages{
				Immediate:  "You've reached your usage limit.",
				Escalation: "You've reached your usage limit. Upgrade your plan or wait for your limit to reset.",
			},
		},
		KindUnknown: {
			Retry: RetryStrategy{
				MaxRetries:     2,
				BaseDelayMs:    2000,
				MaxDelayMs:     8000,
				Backoff:        BackoffExponential,
				Jitter:         true,
				RetryableKinds: []ErrorKind{KindUnknown},
			},
			Fallback: FallbackStrategy{
				Enabled:               true,
				FallbackMessage:       "Something unexpected happened. Please try again.",
				PreserveCredits:       true,
				NotifyUser:            true,
				EscalateAfterAttempts: 3,
			},
			Messages: Messages{
				Immediate:  "An unexpected error occurred.",
				Retry:      "An unexpected error occurred. Retrying in {delay} seconds...",
				Fallback:   "Something unexpected happened. Please try again. Your credits have not been used.",
				Escalation: "An unexpected error occurred and has been reported. Please try again later. Your credits have not been used.",
			},
		},
	}
}
