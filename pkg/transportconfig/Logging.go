package transportconfig

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// SetLogging sets the logging level and output file
//  levelName is the requested logging level: error, warning, info, debug
//  logFile is the optional log file. Logging also goes to stderr.
// Returns the error from opening the log file
func SetLogging(levelName string, logFile string) error {
	logLevel, err := logrus.ParseLevel(levelName)
	if err != nil {
		logLevel = logrus.WarnLevel
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000-0700",
	})
	logrus.SetLevel(logLevel)
	logrus.SetOutput(os.Stderr)

	if logFile != "" {
		logFileHandle, err2 := os.OpenFile(filepath.Clean(logFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err2 != nil {
			logrus.Errorf("SetLogging: Unable to open logfile: %s", err2)
			return err2
		}
		logrus.SetOutput(io.MultiWriter(os.Stderr, logFileHandle))
	}
	logrus.Infof("SetLogging: level %s, file %s", logLevel, logFile)
	return nil
}
