package event

import (
	"github.com/apex/log"
)

// LogSink writes events as structured log entries.
type LogSink struct {
	Logger log.Interface
}

func NewLogSink(l log.Interface) *LogSink {
	if l == nil {
		l = log.Log
	}
	return &LogSink{Logger: l}
}

func (s *LogSink) Emit(e Event) {
	fields := log.Fields{"kind": string(e.Kind)}
	if e.Name != "" {
		fields["name"] = e.Name
	}
	if !e.Target.IsNil() {
		fields["target"] = e.Target.String()
	}
	if !e.Replacement.IsNil() {
		fields["replacement"] = e.Replacement.String()
	}

	entry := s.Logger.WithFields(fields)
	switch e.Severity {
	case Debug:
		entry.Debug(e.Message)
	case Info:
		entry.Info(e.Message)
	case Warn:
		entry.Warn(e.Message)
	default:
		// never entry.Fatal, it exits
		if e.Severity == Fatal {
			entry = entry.WithField("fatal", true)
		}
		entry.Error(e.Message)
	}
}
