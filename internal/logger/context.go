package logger

import (
	"context"
	"sync"
)

type contextKey struct{}

var (
	defaultLogger   = New(nil)
	defaultLoggerMu sync.RWMutex
)

// GetDefault returns the logger used when a context carries none.
func GetDefault() *Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the default logger. nil is ignored.
func SetDefaultLogger(l *Logger) {
	if l == nil {
		return
	}
	defaultLoggerMu.Lock()
	defaultLogger = l
	defaultLoggerMu.Unlock()
}

// WithContext returns a copy of ctx carrying l.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger carried by ctx, or the default logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(contextKey{}).(*Logger); ok {
			return l
		}
	}
	return GetDefault()
}

// ForJob scopes l to one sync job.
func (l *Logger) ForJob(jobID, datasourceID, collection string, syncType interface{}) *Logger {
	return l.WithFields(Fields{
		FieldJobID:        jobID,
		FieldDatasourceID: datasourceID,
		FieldCollection:   collection,
		FieldSyncType:     syncType,
		FieldComponent:    "sync",
	})
}

// ForRequest scopes l to one HTTP request.
func (l *Logger) ForRequest(requestID string) *Logger {
	return l.WithFields(Fields{
		FieldRequestID: requestID,
		FieldComponent: "api",
	})
}

// CtxDebug logs at debug level with the fields carried by ctx.
func CtxDebug(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Debugf(format, args...)
}
