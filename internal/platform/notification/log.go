package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes events to the application log.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notification").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, evt Event) error {
	n.logger.Info().
		Str("event", string(evt.Type)).
		Str("scan_id", evt.ScanID).
		Str("patient_id", evt.PatientID).
		Str("diagnosis", evt.Diagnosis).
		Str("severity", evt.Severity).
		Str("subject", evt.Subject).
		Msg("patient notified")
	return nil
}
