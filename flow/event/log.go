package event

import "github.com/rs/zerolog"

// NewLogListener returns a listener that mirrors every bus event into a
// structured log. Failure events log at error level, everything else at info.
func NewLogListener(log zerolog.Logger) Listener {
	return func(env Envelope) {
		ev := log.Info()
		switch env.EventType {
		case RunFailed, StepFailed:
			ev = log.Error()
		case StepRetrying, RunCancelled:
			ev = log.Warn()
		}
		line := ev.
			Str("event_type", env.EventType).
			Str("run_id", env.RunID)
		if env.StepID != "" {
			line = line.Str("step_id", env.StepID)
		}
		if msg, ok := env.Payload["error"].(string); ok && msg != "" {
			line = line.Str("error", msg)
		}
		line.Msg("run event")
	}
}
