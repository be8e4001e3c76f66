package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *logrus.Logger

func init() {
	Log = logrus.New()
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	Log.SetOutput(os.Stdout)
	Log.SetLevel(logrus.InfoLevel)
}

// Configure applies the level and optional rotating file output. Invalid
// levels keep the default rather than failing startup.
func Configure(level, file string, maxSizeMB, maxBackups, maxAgeDays int) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		Log.SetLevel(lvl)
	}

	if file == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		Log.Warnf("Cannot create log directory for %s: %v", file, err)
		return
	}

	rotator := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}
	Log.SetOutput(io.MultiWriter(os.Stdout, rotator))
}
