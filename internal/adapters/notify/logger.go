package notify

import (
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/phenrril/jeanstore/internal/domain"
)

// Logger returns a Notifier that writes shopper-facing messages to the global
// zerolog logger, at a level matching their severity.
func Logger() domain.Notifier {
	return func(message string, severity domain.Severity) {
		zlog.WithLevel(level(severity)).Str("severity", string(severity)).Msg(message)
	}
}

func level(s domain.Severity) zerolog.Level {
	switch s {
	case domain.SeverityError:
		return zerolog.ErrorLevel
	case domain.SeverityWarning:
		return zerolog.WarnLevel
	}
	return zerolog.InfoLevel
}
