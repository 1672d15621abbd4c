package runctx

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger with run-context fields. Every entry
// carries run_id and role (master, relay, worker, discovery); workers add
// their number via With.
func NewLogger(runID, role string, verbose bool) *zap.Logger {
	return NewLoggerWithWriter(runID, role, verbose, os.Stderr)
}

// NewLoggerWithWriter is NewLogger writing to w. Workers use it to point
// their logs at the capture file instead of the terminal.
func NewLoggerWithWriter(runID, role string, verbose bool, w io.Writer) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}

	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)

	return zap.New(core).With(
		zap.String("run_id", runID),
		zap.String("role", role),
	)
}
