// Package logging builds the process logger.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// ConsoleLogger writes human-readable lines to stderr, keeping stdout free
// for the run summary.
func ConsoleLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return logger
}
