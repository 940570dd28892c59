package docfold

import (
	"context"
	"log/slog"
)

type requestIdType struct{}

var requestIdKey = requestIdType{}

// GetRequestId returns the request id assigned by Instance.ServeHTTP, or ""
// outside of a request.
func GetRequestId(ctx context.Context) string {
	if v, ok := ctx.Value(requestIdKey).(string); ok {
		return v
	}
	return ""
}

type loggerType struct{}

var loggerKey = loggerType{}

// GetLogger returns the request-scoped logger carrying the instance id and
// request id, falling back to the default logger outside of a request.
func GetLogger(ctx context.Context) *slog.Logger {
	log, ok := ctx.Value(loggerKey).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return log
}
