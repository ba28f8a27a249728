package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const permission = 0o664

// Build collects logger options; Make opens the outputs.
type Build struct {
	level  string
	format string
	path   string
	writer io.Writer
}

// Log is a configured logger plus the file it may own.
type Log struct {
	Logger zerolog.Logger
	file   *os.File
}

func New() *Build {
	return &Build{level: "info", format: "console"}
}

func (b *Build) WithLevel(level string) *Build {
	b.level = level
	return b
}

// WithFormat selects "console" (human readable) or "json".
func (b *Build) WithFormat(format string) *Build {
	b.format = format
	return b
}

// ToFile also writes JSON lines to path.
func (b *Build) ToFile(path string) *Build {
	b.path = path
	return b
}

func (b *Build) ToWriter(w io.Writer) *Build {
	b.writer = w
	return b
}

func (b *Build) Make() (*Log, error) {
	level, err := zerolog.ParseLevel(b.level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", b.level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := b.writer
	if out == nil {
		out = os.Stderr
	}
	switch b.format {
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json", "":
	default:
		return nil, fmt.Errorf("invalid log format %q", b.format)
	}

	l := &Log{}
	if b.path != "" {
		if dir := filepath.Dir(b.path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create log dir: %w", err)
			}
		}
		l.file, err = os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, zerolog.SyncWriter(l.file))
	}

	l.Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return l, nil
}

func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
