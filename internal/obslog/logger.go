// Package obslog builds the process's structured logger and a small set
// of typed field helpers, including the "token" correlation field that
// ties every log record emitted during a job's dispatch back to its id.
package obslog

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls level and encoding, mirroring the LOG_CONSOLE_JSON and
// DEBUG environment variables in spec.md section 6.
type Config struct {
	Level       string
	ConsoleJSON bool
	Debug       bool
}

// New builds a zap.Logger. Debug forces debug level regardless of Level.
// ConsoleJSON selects the JSON encoder for console output; false selects
// the human-readable console encoder, useful for local/dev-mode runs.
func New(cfg Config) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}
	if cfg.Debug {
		lvl = zapcore.DebugLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	if cfg.ConsoleJSON {
		zcfg.Encoding = "json"
	} else {
		zcfg.Encoding = "console"
	}
	return zcfg.Build()
}

// Token is the job-id correlation field every job-scoped log record and
// the error taxonomy in spec.md section 7 require.
func Token(jobID string) zap.Field { return zap.String("token", jobID) }

// Event names the structured event type of a log record, e.g.
// "job.completed" or "job.failed".
func Event(name string) zap.Field { return zap.String("event", name) }

// Convenience typed fields matching the teacher's logging helpers.
func String(k, v string) zap.Field { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Err(err error) zap.Field { return zap.Error(err) }
