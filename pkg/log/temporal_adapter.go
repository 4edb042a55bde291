package log

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// TemporalAdapter routes Temporal SDK logging into zerolog.
type TemporalAdapter struct {
	logger zerolog.Logger
}

var _ log.Logger = (*TemporalAdapter)(nil)

func NewTemporalAdapter(logger zerolog.Logger) *TemporalAdapter {
	return &TemporalAdapter{logger: logger.With().Str("component", "temporal").Logger()}
}

func (t *TemporalAdapter) Debug(msg string, keyvals ...interface{}) {
	t.logger.Debug().Fields(pairs(keyvals)).Msg(msg)
}

func (t *TemporalAdapter) Info(msg string, keyvals ...interface{}) {
	t.logger.Info().Fields(pairs(keyvals)).Msg(msg)
}

func (t *TemporalAdapter) Warn(msg string, keyvals ...interface{}) {
	t.logger.Warn().Fields(pairs(keyvals)).Msg(msg)
}

func (t *TemporalAdapter) Error(msg string, keyvals ...interface{}) {
	t.logger.Error().Fields(pairs(keyvals)).Msg(msg)
}

// With returns a new logger with the given keyvals
func (t *TemporalAdapter) With(keyvals ...interface{}) log.Logger {
	return &TemporalAdapter{logger: t.logger.With().Fields(pairs(keyvals)).Logger()}
}

// pairs makes keyvals safe for zerolog: a dangling key gets an explicit
// marker and non-string keys are stringified.
func pairs(keyvals []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		if i+1 < len(keyvals) {
			out[key] = keyvals[i+1]
		} else {
			out[key] = "(missing)"
		}
	}
	return out
}
