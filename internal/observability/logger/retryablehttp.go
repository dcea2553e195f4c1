package logger

import (
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// LeveledHTTPLogger adapts zap to retryablehttp.LeveledLogger.
type LeveledHTTPLogger struct {
	log *zap.Logger
}

func NewLeveledHTTPLogger(log *zap.Logger) *LeveledHTTPLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &LeveledHTTPLogger{log: log}
}

func (l *LeveledHTTPLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, scrub(keysAndValues)...)
}

func (l *LeveledHTTPLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Warnw(msg, scrub(keysAndValues)...)
}

func (l *LeveledHTTPLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, scrub(keysAndValues)...)
}

func (l *LeveledHTTPLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, scrub(keysAndValues)...)
}

// scrub drops the url value; provider URLs embed phone number ids and
// query strings may carry access tokens.
func scrub(keysAndValues []interface{}) []interface{} {
	out := make([]interface{}, 0, len(keysAndValues))
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok && key == "url" {
			continue
		}
		out = append(out, keysAndValues[i], keysAndValues[i+1])
	}
	return out
}

var _ retryablehttp.LeveledLogger = (*LeveledHTTPLogger)(nil)
