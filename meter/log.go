package meter

import (
	"log/slog"

	"github.com/ineyio/inferrecovery"
)

// LogMeter logs recovery events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ inferrecovery.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnDecision(e inferrecovery.DecisionEvent) {
	attrs := []any{
		"operation", e.OperationID,
		"user", e.UserID,
		"agent", e.AgentID,
		"kind", string(e.Kind),
		"attempt", e.Attempt,
		"credits_preserved", e.CreditsPreserved,
		"error", e.Err,
	}

	switch e.Action {
	case inferrecovery.ActionRetry:
		m.Logger.Info("recovery_retry", append(attrs, "delay_ms", e.Delay.Milliseconds())...)
	case inferrecovery.ActionFallback:
		m.Logger.Warn("recovery_fallback", attrs...)
	default:
		m.Logger.Error("recovery_escalate", attrs...)
	}
}

func (m *LogMeter) OnThrottle(e inferrecovery.ThrottleEvent) {
	m.Logger.Warn("recovery_throttle",
		"user", e.UserID,
		"agent", e.AgentID,
		"count", e.Count,
	)
}
