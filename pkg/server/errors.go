package server

import (
	"errors"

	"go.uber.org/zap/zapcore"
)

// Dispatch errors. HandleEnvelope wraps one of these so callers can classify
// the drop; none of them closes the connection.
var (
	ErrMalformedEnvelope       = errors.New("server: malformed envelope")
	ErrOversizedPayload        = errors.New("server: payload exceeds bound")
	ErrNoSession               = errors.New("server: no session attached")
	ErrUnauthenticated         = errors.New("server: unauthenticated access")
	ErrMissingCollaboratorData = errors.New("server: collaborator data unavailable")
	ErrInvalidWorldEnter       = errors.New("server: invalid world enter")
	ErrLogonRejected           = errors.New("server: logon rejected")
	ErrLogonFailed             = errors.New("server: logon failed")
)

// outcome maps a dispatch result to its metric label and log level.
func outcome(err error) (string, zapcore.Level) {
	switch {
	case err == nil:
		return "ok", zapcore.DebugLevel
	case errors.Is(err, ErrMalformedEnvelope):
		return "malformed", zapcore.WarnLevel
	case errors.Is(err, ErrOversizedPayload):
		return "oversized", zapcore.WarnLevel
	case errors.Is(err, ErrNoSession):
		return "no_session", zapcore.WarnLevel
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated", zapcore.InfoLevel
	case errors.Is(err, ErrMissingCollaboratorData):
		return "missing_data", zapcore.ErrorLevel
	case errors.Is(err, ErrInvalidWorldEnter):
		return "invalid_enter", zapcore.InfoLevel
	case errors.Is(err, ErrLogonRejected):
		return "logon_rejected", zapcore.InfoLevel
	case errors.Is(err, ErrLogonFailed):
		return "logon_failed", zapcore.InfoLevel
	default:
		return "error", zapcore.WarnLevel
	}
}
