package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

type Logger struct {
	*logrus.Logger
}

// New builds the application logger. In production we switch to JSON so the
// log shipper can index fields; everywhere else a readable text format.
func New(env string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if env == "production" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05Z07:00"})
		l.SetLevel(logrus.InfoLevel)
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
		l.SetLevel(logrus.DebugLevel)
	}
	return &Logger{l}
}
