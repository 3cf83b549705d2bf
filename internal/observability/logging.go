// Package observability provides the structured logging, metrics, and
// tracing the session loop, sandbox backends, and public entry point
// report through — all behind explicit constructors and an Observer
// handle, never global state.
package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger wraps log/slog with request/session correlation and
// redaction of sensitive data (API keys, tokens, passwords) before any
// record reaches its handler.
type Logger struct {
	logger  *slog.Logger
	config  LogConfig
	redacts []*regexp.Regexp
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	Level          string // "debug" | "info" | "warn" | "error"
	Format         string // "json" | "text"
	Output         io.Writer
	AddSource      bool
	RedactPatterns []string
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	SessionIDKey ContextKey = "session_id"
	TurnKey      ContextKey = "turn"
)

// DefaultRedactPatterns covers common shapes of leaked secrets: API
// keys, bearer tokens, passwords, provider-specific key formats, JWTs,
// and generic hex secrets.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
	`(?i)(secret|key|token)[\s:=]+["\']?([a-fA-F0-9]{32,})["\']?`,
}

// NewLogger creates a structured logger. An empty Output defaults to
// os.Stdout; an empty Level defaults to "info"; an empty Format
// defaults to "json".
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "json"
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: config.AddSource}
	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	allPatterns := append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...)
	redacts := make([]*regexp.Regexp, 0, len(allPatterns))
	for _, pattern := range allPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{logger: slog.New(handler), config: config, redacts: redacts}
}

// WithContext returns a logger that includes request_id/session_id
// from ctx in every subsequent record.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok && sessionID != "" {
		attrs = append(attrs, "session_id", sessionID)
	}
	if turn, ok := ctx.Value(TurnKey).(int64); ok {
		attrs = append(attrs, "turn", turn)
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(attrs...), config: l.config, redacts: l.redacts}
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelDebug, msg, args...) }
func (l *Logger) Info(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelWarn, msg, args...) }
func (l *Logger) Error(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelError, msg, args...) }

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)
	redacted := make([]any, len(args))
	for i, arg := range args {
		redacted[i] = l.redactValue(arg)
	}
	l.WithContext(ctx).logger.Log(ctx, level, msg, redacted...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	case map[string]any:
		return l.redactMap(val)
	default:
		if b, err := json.Marshal(v); err == nil {
			return l.redactString(string(b))
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

var sensitiveKeys = map[string]bool{
	"password": true, "passwd": true, "secret": true, "token": true,
	"api_key": true, "apikey": true, "private_key": true, "privatekey": true,
	"auth": true, "authorization": true,
}

func (l *Logger) redactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		lowerKey := strings.ToLower(strings.ReplaceAll(k, "-", "_"))
		if sensitiveKeys[lowerKey] {
			result[k] = "[REDACTED]"
		} else {
			result[k] = l.redactValue(v)
		}
	}
	return result
}

// WithFields returns a logger with the given key-value pairs attached
// to every subsequent record.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), config: l.config, redacts: l.redacts}
}

// Sync is a no-op for slog-backed loggers; kept so callers that defer
// a sync on exit don't need a build tag around it.
func (l *Logger) Sync() error { return nil }

// AddRequestID returns a context carrying the given request ID.
func AddRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID returns the request ID carried by ctx, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// AddSessionID returns a context carrying the given session ID.
func AddSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

// GetSessionID returns the session ID carried by ctx, or "".
func GetSessionID(ctx context.Context) string {
	id, _ := ctx.Value(SessionIDKey).(string)
	return id
}

// AddTurn returns a context carrying the given turn number.
func AddTurn(ctx context.Context, turn int64) context.Context {
	return context.WithValue(ctx, TurnKey, turn)
}

// GetTurn returns the turn number carried by ctx, or 0 if absent.
func GetTurn(ctx context.Context) int64 {
	turn, _ := ctx.Value(TurnKey).(int64)
	return turn
}

// LogLevelFromString parses a level name, defaulting to Info for an
// unrecognized or empty string.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MustNewLogger is NewLogger for call sites that treat a logging
// misconfiguration as fatal; NewLogger never actually errors today, so
// this simply documents that intent at the call site.
func MustNewLogger(config LogConfig) *Logger {
	return NewLogger(config)
}
