package observability

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// FieldLogger adapts the global zerolog logger to the narrow
// Info(msg, fields)/Warn(msg, fields) contract each core service package
// (assignment, search, webhook) declares locally for itself. Field values
// pass through RedactJSON before they reach the log stream, since capture
// and webhook call sites log payloads that can carry tokens and secrets.
type FieldLogger struct{}

// NewFieldLogger returns a Logger backed by the process-wide zerolog
// logger configured by InitLogger.
func NewFieldLogger() FieldLogger { return FieldLogger{} }

func (FieldLogger) Info(msg string, fields map[string]any) {
	e := log.Info()
	for k, v := range redactFields(fields) {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

func (FieldLogger) Warn(msg string, fields map[string]any) {
	e := log.Warn()
	for k, v := range redactFields(fields) {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

// redactFields round-trips the field map through RedactJSON so sensitive
// keys are masked wherever they appear, including in nested values. A map
// that fails to marshal is passed through untouched rather than dropped.
func redactFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return fields
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fields
	}
	var out map[string]any
	if err := json.Unmarshal(RedactJSON(raw), &out); err != nil {
		return fields
	}
	return out
}
