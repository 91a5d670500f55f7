package mqtt

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LogObserver returns an observer that writes every lifecycle event to logger.
//
// Attempts are logged at debug, successes and stops at info, failures and
// disconnections at warn, transport errors at error.
func LogObserver(logger Logger) Observer {
	return func(ev Event) {
		args := []any{"event", ev.Kind.String(), "client_id", ev.ClientID}

		switch ev.Kind {
		case EventAttemptingConnect:
			logger.Debug("MQTT connecting", append(args, "attempt", ev.Attempt)...)
		case EventConnectionSuccess:
			logger.Info("MQTT connected", args...)
		case EventConnectionFailure:
			args = append(args, "attempt", ev.Attempt, "error", ev.Err, "retry_in", ev.Delay)
			if ev.ConnAck != nil {
				args = append(args, "return_code", ev.ConnAck.ReturnCode, "session_present", ev.ConnAck.SessionPresent)
			}
			logger.Warn("MQTT connection failed", args...)
		case EventDisconnection:
			logger.Warn("MQTT disconnected",
				append(args, "error", ev.Err, "uptime", ev.Uptime, "retry_in", ev.Delay)...)
		case EventError:
			logger.Error("MQTT transport error", append(args, "error", ev.Err)...)
		case EventStopped:
			logger.Info("MQTT session stopped", args...)
		}
	}
}
