// Package logging builds the logrus logger shared by the binaries.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to stderr. Production environments get JSON
// output; everything else gets human-readable text.
func New(level, environment string) *logrus.Logger {
	logger := logrus.New()
	logger.Out = os.Stderr

	if environment == "production" {
		logger.Formatter = &logrus.JSONFormatter{}
	} else {
		logger.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithField("level", level).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logger.Level = lvl

	return logger
}
