package logger

import "github.com/ThreeDotsLabs/watermill"

// WatermillAdapter routes watermill's internal logging into an ILogger.
type WatermillAdapter struct {
	log    ILogger
	module string
	fields watermill.LogFields
}

func NewWatermillAdapter(log ILogger, module string) *WatermillAdapter {
	return &WatermillAdapter{log: log, module: module, fields: watermill.LogFields{}}
}

func (a *WatermillAdapter) details(fields watermill.LogFields) map[string]interface{} {
	out := make(map[string]interface{}, len(a.fields)+len(fields))
	for k, v := range a.fields {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (a *WatermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	d := a.details(fields)
	if err != nil {
		d["error"] = err.Error()
	}
	a.log.Error(a.module, msg, d)
}

func (a *WatermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Info(a.module, msg, a.details(fields))
}

func (a *WatermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug(a.module, msg, a.details(fields))
}

// Trace is per-message chatter; it is folded into Debug.
func (a *WatermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Debug(a.module, msg, a.details(fields))
}

func (a *WatermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillAdapter{log: a.log, module: a.module, fields: watermill.LogFields(a.details(fields))}
}
