// Package monitor funnels operational errors to a single reporting
// point so control loops never let a bad record halt a sweep.
package monitor

import (
	logx "remindd/pkg/logx"
)

// Reporter receives errors that were handled in place but should still
// be visible to operators.
type Reporter interface {
	Report(err error, context string, payload map[string]any, tags map[string]string)
}

type logReporter struct {
	log logx.Logger
}

// NewLog returns a Reporter that writes structured error records
// through the shared logger.
func NewLog(log logx.Logger) Reporter {
	return &logReporter{log: log.With(logx.String("component", "monitor"))}
}

func (r *logReporter) Report(err error, context string, payload map[string]any, tags map[string]string) {
	fields := []logx.Field{logx.Err(err), logx.String("context", context)}
	for k, v := range tags {
		fields = append(fields, logx.String("tag."+k, v))
	}
	for k, v := range payload {
		fields = append(fields, logx.Any("payload."+k, v))
	}
	r.log.Error("handled error", fields...)
}

type nopReporter struct{}

// Nop returns a Reporter that discards everything. Useful in tests.
func Nop() Reporter { return nopReporter{} }

func (nopReporter) Report(error, string, map[string]any, map[string]string) {}
