package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerConfig controls where compression jobs are logged.
type LoggerConfig struct {
	Level      string
	FilePath   string // rotated JSON log, empty disables the file
	MaxSize    int    // MB per file before rotation
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	Console    bool
	Output     io.Writer // console writer, stdout when nil
}

// NewLogger builds a JSON logrus logger writing to the rotated file and,
// when enabled or when no file is set, the console.
func NewLogger(config LoggerConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	out, err := outputs(config)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(jsonFormatter())
	log.SetOutput(out)
	return log, nil
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
			logrus.FieldKeyFunc:  "function",
		},
	}
}

func outputs(config LoggerConfig) (io.Writer, error) {
	var writers []io.Writer

	if config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	}

	if config.Console || len(writers) == 0 {
		console := config.Output
		if console == nil {
			console = os.Stdout
		}
		writers = append(writers, console)
	}

	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func WithFields(log *logrus.Logger, fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}

// WithJob tags entries with a compression job ID.
func WithJob(log *logrus.Logger, jobID string) *logrus.Entry {
	return log.WithField("job_id", jobID)
}

// WithImage tags entries with a job ID and a 1-based image index.
func WithImage(log *logrus.Logger, jobID string, index int) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"job_id": jobID,
		"image":  index,
	})
}

func WithOperation(log *logrus.Logger, operation string) *logrus.Entry {
	return log.WithField("operation", operation)
}

// DefaultConfig mirrors the logging section of config.DefaultConfig.
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:      "info",
		FilePath:   "logs/pdf-compressor.log",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
		Console:    true,
	}
}
