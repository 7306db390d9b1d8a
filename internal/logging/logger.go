package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileMaxSizeMB  = 50
	logFileMaxAgeDays = 180
)

type LoggerSetupParams struct {
	// ServiceName is attached to every entry as the "service" field, if set.
	ServiceName   string
	LogFileName   string
	LogToStdout   bool
	LogLevel      string
	LogFormatJSON bool
	Environment   string

	SentryEnabled    bool
	SentryDSN        string
	SentryServerName string
}

func Setup(params LoggerSetupParams) {
	if params.LogFormatJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	logrus.SetLevel(GetLevel(params.LogLevel))

	if params.ServiceName != "" {
		logrus.AddHook(&serviceFieldsHook{
			service: params.ServiceName,
			env:     params.Environment,
		})
	}

	if params.SentryEnabled {
		setupSentry(params)
	}

	out, desc := logOutput(params.LogFileName, params.LogToStdout)
	logrus.SetOutput(out)
	logrus.Infof("logs output: %s", desc)
}

func setupSentry(params LoggerSetupParams) {
	err := sentry.Init(sentry.ClientOptions{
		Environment:      params.Environment,
		Dsn:              params.SentryDSN,
		TracesSampleRate: 1.0,
		ServerName:       params.SentryServerName,
	})
	if err != nil {
		logrus.Errorf("sentry init: %s", err)
		return
	}

	logrus.AddHook(NewSentryHook([]logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
	}))
	logrus.Infoln("sentry hook registered")
}

// logOutput returns the writer logs go to, and a short description of it.
// Log files are rotated by lumberjack.
func logOutput(fileName string, alsoStdout bool) (io.Writer, string) {
	if fileName == "" {
		return os.Stdout, "stdout"
	}

	if filepath.Ext(fileName) != ".log" {
		fileName += ".log"
	}

	rotating := &lumberjack.Logger{
		Filename:  fileName,
		MaxSize:   logFileMaxSizeMB,
		MaxAge:    logFileMaxAgeDays,
		LocalTime: false, // UTC
		Compress:  true,
	}

	if alsoStdout {
		return fanoutWriter{os.Stdout, rotating}, fileName + " + stdout"
	}
	return rotating, fileName
}

// GetLevel parses a log level name, falling back to trace for unknown names.
func GetLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.TraceLevel
	}
	return parsed
}

type serviceFieldsHook struct {
	service string
	env     string
}

func (h *serviceFieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *serviceFieldsHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = h.service
	}
	if h.env != "" {
		if _, ok := entry.Data["env"]; !ok {
			entry.Data["env"] = h.env
		}
	}
	return nil
}
