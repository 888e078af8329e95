package resolver

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// NewHTTPClient returns a pooled client that retries the same request up
// to retries times. Zero keeps every resolution to a single request.
func NewHTTPClient(retries int, logger logrus.FieldLogger) *http.Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultPooledClient()
	client.RetryMax = retries
	client.Logger = leveledLogger{logger}

	return client.StandardClient()
}

// leveledLogger adapts logrus to retryablehttp's key/value logger.
type leveledLogger struct {
	logger logrus.FieldLogger
}

var _ retryablehttp.LeveledLogger = leveledLogger{}

func (l leveledLogger) with(keysAndValues []interface{}) *logrus.Entry {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return l.logger.WithFields(fields)
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Error(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Info(msg)
}

// Debug is demoted to trace: retryablehttp logs every request at debug.
func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Trace(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}
