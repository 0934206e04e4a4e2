// Contains various utility functions related to logging.

package cli

import (
	"os"

	"gopkg.in/op/go-logging.v1"

	"github.com/wheelhouse-io/wheelhouse/src/fs"
)

var log = logging.MustGetLogger("cli")

// logFormat is the format we use for console output.
var logFormat = logging.MustStringFormatter("%{time:15:04:05.000} %{level:7s}: %{message}")

// fileLogFormat is the format we use when logging to a file; no colours, with the module name.
var fileLogFormat = logging.MustStringFormatter("%{time:15:04:05.000} %{level:7s} %{module}: %{message}")

// InitLogging initialises logging backends.
func InitLogging(verbosity Verbosity) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	leveled := logging.AddModuleLevel(logging.NewBackendFormatter(backend, logFormat))
	leveled.SetLevel(logging.Level(verbosity), "")
	logging.SetBackend(leveled)
}

// InitFileLogging initialises an optional logging backend to a file, alongside stderr.
func InitFileLogging(verbosity, fileVerbosity Verbosity, logFile string) {
	if err := fs.EnsureDir(logFile); err != nil {
		log.Fatalf("Error creating log file directory: %s", err)
	}
	file, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		log.Fatalf("Error opening log file: %s", err)
	}
	stderrBackend := logging.AddModuleLevel(logging.NewBackendFormatter(logging.NewLogBackend(os.Stderr, "", 0), logFormat))
	stderrBackend.SetLevel(logging.Level(verbosity), "")
	fileBackend := logging.AddModuleLevel(logging.NewBackendFormatter(logging.NewLogBackend(file, "", 0), fileLogFormat))
	fileBackend.SetLevel(logging.Level(fileVerbosity), "")
	logging.SetBackend(stderrBackend, fileBackend)
}
