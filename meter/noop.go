package meter

import "github.com/ineyio/inferrecovery"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ inferrecovery.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnDecision(inferrecovery.DecisionEvent) {}
func (m *NoopMeter) OnThrottle(inferrecovery.ThrottleEvent) {}

// Multi fans every event out to each meter in order.
type Multi []inferrecovery.Meter

var _ inferrecovery.Meter = Multi(nil)

func (m Multi) OnDecision(e inferrecovery.DecisionEvent) {
	for _, mt := range m {
		mt.OnDecision(e)
	}
}

func (m Multi) OnThrottle(e inferrecovery.ThrottleEvent) {
	for _, mt := range m {
		mt.OnThrottle(e)
	}
}
