package log

import (
	"github.com/golang/glog"
	"github.com/hashicorp/go-retryablehttp"
)

// retryLogger adapts the package logger to retryablehttp's LeveledLogger so
// client retry chatter lands in the same logfmt stream. Every level hides
// behind a glog verbosity gate; retries are only interesting when debugging.
type retryLogger struct{}

var _ retryablehttp.LeveledLogger = retryLogger{}

func NewRetryableHTTPLogger() retryablehttp.LeveledLogger { return retryLogger{} }

func (retryLogger) Error(msg string, kv ...interface{}) { logAtV(3, msg, kv...) }
func (retryLogger) Warn(msg string, kv ...interface{})  { logAtV(4, msg, kv...) }
func (retryLogger) Info(msg string, kv ...interface{})  { logAtV(5, msg, kv...) }
func (retryLogger) Debug(msg string, kv ...interface{}) { logAtV(6, msg, kv...) }

func logAtV(level glog.Level, msg string, kv ...interface{}) {
	if glog.V(level) {
		LogNoRequestID(msg, kv...)
	}
}
