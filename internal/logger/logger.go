package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelEnv overrides the configured log level when set.
const LevelEnv = "RTUBUFFERED_LOG_LEVEL"

// New builds a console logger writing to output at level. An empty level
// means info. The LevelEnv environment variable takes precedence.
func New(level string, output io.Writer) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if env := strings.TrimSpace(os.Getenv(LevelEnv)); env != "" {
		if lvl, err = ParseLevel(env); err != nil {
			return nil, fmt.Errorf("%s: %w", LevelEnv, err)
		}
	}
	if output == nil {
		output = os.Stderr
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006/01/02 15:04:05"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(output),
		lvl,
	)
	return zap.New(core, zap.AddCaller()), nil
}

// ParseLevel parses a level name such as "debug" or "WARN".
func ParseLevel(s string) (zapcore.Level, error) {
	level := zapcore.InfoLevel
	s = strings.TrimSpace(s)
	if s == "" {
		return level, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return level, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
