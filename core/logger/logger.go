package logger

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// current holds the application-wide logger. It is swapped on reconfiguration
// while other goroutines log.
var current atomic.Pointer[zap.Logger]

// componentNameKey is a context key for storing the component name.
type componentNameKeyType string

const componentNameKey componentNameKeyType = "componentName"

func init() {
	l, err := build("debug", true)
	if err != nil {
		panic(err)
	}
	SetLogger(l)
}

func build(level string, development bool) (*zap.Logger, error) {
	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder // Add color to level output
	} else {
		config = zap.NewProductionConfig()
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	return config.Build()
}

// Configure rebuilds the application logger with the given level and encoding.
func Configure(level string, development bool) error {
	l, err := build(level, development)
	if err != nil {
		return err
	}
	_ = L().Sync()
	SetLogger(l)
	return nil
}

// ComponentName extracts the component name from the context.
func ComponentName(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if name, ok := ctx.Value(componentNameKey).(string); ok {
		return name
	}
	return "unknown"
}

// WithComponentName creates a new context with the component name set.
func WithComponentName(ctx context.Context, componentName string) context.Context {
	return context.WithValue(ctx, componentNameKey, componentName)
}

func withComponent(ctx context.Context, fields []zap.Field) []zap.Field {
	return append(fields, zap.String("component", ComponentName(ctx)))
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	L().Info(msg, withComponent(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	L().Warn(msg, withComponent(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	L().Error(msg, withComponent(ctx, fields)...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	L().Debug(msg, withComponent(ctx, fields)...)
}

// L returns the current application logger.
func L() *zap.Logger {
	return current.Load()
}

// SetLogger replaces the application logger. It is safe to call while other
// goroutines are logging.
func SetLogger(l *zap.Logger) {
	current.Store(l)
	zap.ReplaceGlobals(l)
}
