package logger

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sifan077/ClickURL/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Options drives how the zap logger is built.
type Options struct {
	Development bool
	Level       string
	// Encoding is "json" or "console"; empty picks console in development
	// and json otherwise.
	Encoding string
}

// OptionsFrom derives logger options from the application config.
func OptionsFrom(app config.AppConfig, log config.LogConfig) Options {
	return Options{
		Development: !app.IsProduction(),
		Level:       log.Level,
		Encoding:    log.Encoding,
	}
}

var (
	mu     sync.RWMutex
	global *zap.Logger
	colors = shouldColorize()
)

// Init builds a logger and installs it as the process-wide logger.
func Init(opts Options) (*zap.Logger, error) {
	l, err := New(opts)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()

	if global != nil {
		_ = global.Sync()
	}
	global = l
	zap.ReplaceGlobals(l)
	return global, nil
}

// L returns the process-wide logger, falling back to a development logger
// when Init was never called.
func L() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		dev, err := zap.NewDevelopment()
		if err != nil {
			global = zap.NewNop()
		} else {
			global = dev
		}
	}
	return global
}

// Named returns a child of the process-wide logger tagged with component.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// Sync flushes buffered entries, ignoring the errors stdout/stderr return
// when they are terminals.
func Sync() error {
	mu.RLock()
	l := global
	mu.RUnlock()

	if l == nil {
		return nil
	}

	if err := l.Sync(); err != nil {
		if errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EINVAL) || errors.Is(err, os.ErrInvalid) {
			return nil
		}
		return err
	}
	return nil
}

// New returns a zap.Logger configured according to opts.
func New(opts Options) (*zap.Logger, error) {
	var zapCfg zap.Config
	if opts.Development {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.Encoding = "console"
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch opts.Encoding {
	case "":
	case "json", "console":
		zapCfg.Encoding = opts.Encoding
	default:
		return nil, fmt.Errorf("logger: unsupported encoding %q", opts.Encoding)
	}

	zapCfg.EncoderConfig = encoderConfig(zapCfg.Encoding)

	if opts.Level != "" {
		level := zapcore.InfoLevel
		if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return nil, fmt.Errorf("logger: invalid level %q: %w", opts.Level, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	return zapCfg.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

func encoderConfig(encoding string) zapcore.EncoderConfig {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	if encoding == "console" {
		cfg.ConsoleSeparator = " | "
		cfg.EncodeLevel = consoleLevelEncoder
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime + ".000")
		return cfg
	}

	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return cfg
}

func consoleLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	label := fmt.Sprintf("%-5s", level.CapitalString())
	if !colors {
		enc.AppendString(label)
		return
	}
	enc.AppendString(levelColor(level) + label + "\x1b[0m")
}

func shouldColorize() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func levelColor(level zapcore.Level) string {
	switch {
	case level == zapcore.DebugLevel:
		return "\x1b[36m"
	case level == zapcore.InfoLevel:
		return "\x1b[32m"
	case level == zapcore.WarnLevel:
		return "\x1b[33m"
	case level >= zapcore.DPanicLevel && level < zapcore.FatalLevel:
		return "\x1b[35m"
	default:
		return "\x1b[31m"
	}
}
