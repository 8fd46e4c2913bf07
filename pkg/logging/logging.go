// Package logging configures the run logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	Level   string
	Dir     string
	Name    string
	Verbose bool
	Stdout  io.Writer
}

// New returns a logger writing to stdout and to a per-run file under
// opts.Dir, tagged with a fresh run id. The returned closer flushes the file.
func New(opts Options) (*log.Entry, io.Closer, error) {
	level, err := log.ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
	}
	if opts.Verbose {
		level = log.DebugLevel
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	logger := log.New()
	logger.SetLevel(level)
	logger.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	var closer io.Closer = nopCloser{}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		name := opts.Name
		if name == "" {
			name = "rpmrepo-export"
		}
		file := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, fmt.Sprintf("%s_%d.log", name, time.Now().Unix())),
			MaxSize:    100,
			MaxBackups: 5,
			Compress:   true,
		}
		closer = file
		logger.SetOutput(io.MultiWriter(stdout, file))
	} else {
		logger.SetOutput(stdout)
	}

	return logger.WithField("run_id", uuid.NewString()), closer, nil
}

// Discard returns a logger that drops everything; used by tests.
func Discard() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
