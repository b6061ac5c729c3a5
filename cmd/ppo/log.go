package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var log = logrus.WithField("component", "cmd")

// logOff is the log level which silences everything short of a panic
const logOff = "off"

// logFormatters maps each log format name to its logrus Formatter
var logFormatters = map[string]func() logrus.Formatter{
	"text": func() logrus.Formatter {
		return &logrus.TextFormatter{FullTimestamp: true}
	},
	"json": func() logrus.Formatter {
		return &logrus.JSONFormatter{}
	},
}

func logFormats() []string {
	names := make([]string, 0, len(logFormatters))
	for name := range logFormatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// configureLog sets up the standard logger from the log level, format,
// and file keys of cfg. Logs written to a file default to json, and
// logs written to the terminal to text.
func configureLog(cfg *viper.Viper) error {
	level := logrus.PanicLevel
	if name := cfg.GetString(logLevelKey); name != logOff {
		var err error
		if level, err = logrus.ParseLevel(name); err != nil {
			return fmt.Errorf("invalid log level %q: %w", name, err)
		}
	}

	path := cfg.GetString(logFileKey)
	format := cfg.GetString(logFormatKey)
	if format == "" && path != "" {
		format = "json"
	} else if format == "" {
		format = "text"
	}
	newFormatter, ok := logFormatters[format]
	if !ok {
		return fmt.Errorf("invalid log format %q, expecting one of %v",
			format, logFormats())
	}

	var out io.Writer = os.Stderr
	if path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND,
			0666)
		if err != nil {
			return fmt.Errorf("could not open log file %q: %w", path, err)
		}
		out = file
	}

	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter())
	logrus.SetOutput(out)
	if path != "" {
		log.WithField("path", path).Debug("logging to file")
	}
	return nil
}
