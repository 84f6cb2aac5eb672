package inferrecovery

import "time"

// Meter observes recovery events for monitoring/logging.
type Meter interface {
	// OnDecision is called for every decision returned by HandleError.
	OnDecision(event DecisionEvent)

	// OnThrottle is called when a rate limiter check throttles a caller.
	OnThrottle(event ThrottleEvent)
}

// DecisionEvent describes one HandleError outcome.
type DecisionEvent struct {
	OperationID      string
	UserID           string
	AgentID          string
	Kind             ErrorKind
	Action           Action
	Attempt          int
	Delay            time.Duration
	CreditsPreserved bool
	Err              error
}

// ThrottleEvent describes a throttled (user, agent) pair.
type ThrottleEvent struct {
	UserID  string
	AgentID string
	Count   int64
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (noopMeter) OnDecision(DecisionEvent) {}
func (noopMeter) OnThrottle(ThrottleEvent) {}
