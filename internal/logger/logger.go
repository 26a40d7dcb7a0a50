package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// rotating file writer opened by NewFromEnv, closed by Sync.
var (
	fileWriter   io.Closer
	fileWriterMu sync.Mutex
)

// Logger wraps logrus.Entry so that derived loggers keep their fields and can
// travel inside a context.Context.
type Logger struct {
	*logrus.Entry
}

// Config is the minimal logger configuration used by tests and tools.
type Config struct {
	Level       string    // debug, info, warn, error
	Format      string    // json, text
	Output      io.Writer // defaults to stdout
	ServiceName string
}

// DefaultConfig returns the configuration used before main wires a logger.
// Parameters: none.
// Returns:
//   - *Config: default logger configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "json",
		Output:      os.Stdout,
		ServiceName: "dataexec",
	}
}

// New creates a Logger with the given configuration.
// Parameters:
//   - cfg: logger configuration; nil uses DefaultConfig.
//
// Returns:
//   - *Logger: initialized logger instance.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	return build(cfg.Level, cfg.Format, cfg.ServiceName, out)
}

// NewFromEnv creates a Logger from EnvConfig. Outside the local environment a
// rotating log file is written in addition to (or instead of) stdout.
// Parameters:
//   - envCfg: environment-derived configuration; nil reads LOG_* variables.
//
// Returns:
//   - *Logger: initialized logger instance.
func NewFromEnv(envCfg *EnvConfig) *Logger {
	if envCfg == nil {
		envCfg = LoadFromEnv()
	}
	if envCfg.Output != nil {
		return build(envCfg.Level, envCfg.Format, envCfg.ServiceName, envCfg.Output)
	}

	var writers []io.Writer
	if envCfg.Environment == "local" || !envCfg.LogFileOnly {
		writers = append(writers, os.Stdout)
	}
	if envCfg.Environment != "local" && envCfg.LogFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   envCfg.LogFile,
			MaxSize:    envCfg.MaxSize,
			MaxBackups: envCfg.MaxBackups,
			MaxAge:     envCfg.MaxAge,
			Compress:   envCfg.Compress,
		}
		writers = append(writers, rotating)

		fileWriterMu.Lock()
		fileWriter = rotating
		fileWriterMu.Unlock()
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	return build(envCfg.Level, envCfg.Format, envCfg.ServiceName, io.MultiWriter(writers...))
}

// NewDefault creates a Logger from LOG_* environment variables.
func NewDefault() *Logger {
	return NewFromEnv(nil)
}

func build(levelName, format, service string, out io.Writer) *Logger {
	log := logrus.New()
	log.SetOutput(out)

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetReportCaller(true)

	if strings.EqualFold(format, "text") {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  timestampFormat,
			CallerPrettyfier: callerPrettyfier,
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
			CallerPrettyfier: callerPrettyfier,
		})
	}

	if service == "" {
		service = "dataexec"
	}
	return &Logger{Entry: log.WithField("service", service)}
}

// Sync closes the rotating log file, if one was opened.
//
//	logger.SetDefaultLogger(logger.NewDefault())
//	defer logger.Sync()
func Sync() error {
	fileWriterMu.Lock()
	defer fileWriterMu.Unlock()

	if fileWriter != nil {
		err := fileWriter.Close()
		fileWriter = nil
		return err
	}
	return nil
}

// WithFields returns a new Logger with additional fields.
// Parameters:
//   - fields: structured fields to add.
//
// Returns:
//   - *Logger: derived logger with fields applied.
func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// WithField returns a new Logger with a single additional field.
// Parameters:
//   - key: field key.
//   - value: field value.
//
// Returns:
//   - *Logger: derived logger with field applied.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithError returns a new Logger with an error field.
// Parameters:
//   - err: error to attach.
//
// Returns:
//   - *Logger: derived logger with error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

// callerPrettyfier trims the caller to pkg.Func and file.go:line.
func callerPrettyfier(frame *runtime.Frame) (string, string) {
	funcName := frame.Function
	if idx := strings.LastIndex(funcName, "/"); idx != -1 {
		funcName = funcName[idx+1:]
	}
	return funcName, filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
}

// Debug logs at Debug level on the default logger.
func Debug(format string, args ...interface{}) {
	GetDefault().Debugf(format, args...)
}

// Info logs at Info level on the default logger.
func Info(format string, args ...interface{}) {
	GetDefault().Infof(format, args...)
}

// Warn logs at Warn level on the default logger.
func Warn(format string, args ...interface{}) {
	GetDefault().Warnf(format, args...)
}

// Error logs at Error level on the default logger.
func Error(format string, args ...interface{}) {
	GetDefault().Errorf(format, args...)
}

// Fatal logs at Fatal level on the default logger and exits.
func Fatal(format string, args ...interface{}) {
	GetDefault().Fatalf(format, args...)
}

// CtxDebug logs at Debug level with the fields carried by ctx.
func CtxDebug(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Debugf(format, args...)
}

// CtxInfo logs at Info level with the fields carried by ctx.
func CtxInfo(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Infof(format, args...)
}

// CtxWarn logs at Warn level with the fields carried by ctx.
func CtxWarn(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Warnf(format, args...)
}

// CtxError logs at Error level with the fields carried by ctx.
func CtxError(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Errorf(format, args...)
}
