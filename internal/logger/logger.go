package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Type alias for slog.Level for easier usage
type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug // -4
	LevelInfo    = slog.LevelInfo  // 0
	LevelWarning = slog.LevelWarn  // 4
	LevelError   = slog.LevelError // 8
	LevelFatal   = slog.Level(12)  // 12
)

var (
	Logger          *slog.Logger
	errorSampleRate atomic.Int32
	programLevel    = new(slog.LevelVar)
	shutdownFunc    func(context.Context) error // nil unless OTEL is enabled
)

// Counters are incremented regardless of sampling
var (
	TotalErrors    atomic.Int64
	TotalWarnings  atomic.Int64
	Total5xxErrors atomic.Int64
	Total4xxErrors atomic.Int64
	Total400Errors atomic.Int64
	Total404Errors atomic.Int64
	Total409Errors atomic.Int64
	AppliedRules   atomic.Int64
	EvaluatedCarts atomic.Int64
)

// Options configures Setup
type Options struct {
	Level       string
	ServiceName string
	// SampleRate logs one in every SampleRate warnings and errors; 1 logs all
	SampleRate int
	// OTEL exports through OpenTelemetry instead of writing JSON
	OTEL   bool
	Output io.Writer
}

// OptionsFromEnv reads LOG_LEVEL, ERROR_SAMPLE_RATE, OTEL_ENABLED and OTEL_SERVICE_NAME
func OptionsFromEnv() Options {
	opts := Options{
		Level:       os.Getenv("LOG_LEVEL"),
		ServiceName: os.Getenv("OTEL_SERVICE_NAME"),
		SampleRate:  1,
		OTEL:        strings.ToLower(os.Getenv("OTEL_ENABLED")) == "true",
	}
	if sampleStr := os.Getenv("ERROR_SAMPLE_RATE"); sampleStr != "" {
		if rate, err := strconv.Atoi(sampleStr); err == nil && rate > 0 {
			opts.SampleRate = rate
		}
	}
	return opts
}

func init() {
	errorSampleRate.Store(1)
	programLevel.Set(slog.LevelInfo)
	setupJSONLogging(os.Stdout)
}

// Setup installs the process logger. Without OTEL it writes JSON to opts.Output
// (stdout by default). If the OTEL exporter cannot be created it falls back to JSON.
func Setup(ctx context.Context, opts Options) error {
	level, err := ParseLevel(opts.Level)
	if opts.Level != "" && err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
	programLevel.Set(level)

	if opts.SampleRate > 0 {
		errorSampleRate.Store(int32(opts.SampleRate))
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	if !opts.OTEL {
		setupJSONLogging(out)
		return nil
	}

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "discounts"
	}

	shutdown, err := setupOTELLogging(ctx, serviceName)
	if err != nil {
		setupJSONLogging(out)
		return fmt.Errorf("failed to setup OTEL logging, falling back to JSON: %w", err)
	}
	shutdownFunc = shutdown
	return nil
}

// setupJSONLogging installs a JSON handler writing to out
func setupJSONLogging(out io.Writer) {
	install(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: programLevel}))
}

// setupOTELLogging exports records through an OTLP/gRPC log pipeline.
// The returned func flushes and stops the provider.
func setupOTELLogging(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	// The bridge has no level option, so filtering happens in front of it
	install(leveled{
		Handler: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
		min:     programLevel,
	})

	return provider.Shutdown, nil
}

func install(h slog.Handler) {
	Logger = slog.New(h)
	slog.SetDefault(Logger)
}

// leveled drops records below min before they reach the wrapped handler
type leveled struct {
	slog.Handler
	min slog.Leveler
}

func (h leveled) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min.Level()
}

func (h leveled) WithAttrs(attrs []slog.Attr) slog.Handler {
	return leveled{Handler: h.Handler.WithAttrs(attrs), min: h.min}
}

func (h leveled) WithGroup(name string) slog.Handler {
	return leveled{Handler: h.Handler.WithGroup(name), min: h.min}
}

// Shutdown flushes the OTEL exporter, if any
func Shutdown(ctx context.Context) error {
	if shutdownFunc == nil {
		return nil
	}
	return shutdownFunc(ctx)
}

// SetLevel changes the minimum level at runtime
func SetLevel(level slog.Level) { programLevel.Set(level) }

// GetLevel returns the minimum level
func GetLevel() slog.Level { return programLevel.Level() }

var levelNames = map[string]slog.Level{
	"TRACE":   LevelTrace,
	"DEBUG":   LevelDebug,
	"":        LevelInfo,
	"INFO":    LevelInfo,
	"WARN":    LevelWarning,
	"WARNING": LevelWarning,
	"ERROR":   LevelError,
	"FATAL":   LevelFatal,
}

// ParseLevel maps a level name, case-insensitively, to a slog.Level.
// Unknown names return LevelInfo with an error; empty is INFO.
func ParseLevel(name string) (slog.Level, error) {
	if level, ok := levelNames[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return level, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level: %s (defaulting to INFO)", name)
}

// sampled counts the record and logs roughly one in errorSampleRate of them
func sampled(level slog.Level, counter *atomic.Int64, msg string, args []any) {
	counter.Add(1)
	if rate := errorSampleRate.Load(); rate > 1 && rand.Intn(int(rate)) != 0 {
		return
	}
	Logger.Log(context.Background(), level, msg, args...)
}

// Trace logs below DEBUG
func Trace(msg string, args ...any) {
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

func Debug(msg string, args ...any) { Logger.Debug(msg, args...) }

func Info(msg string, args ...any) { Logger.Info(msg, args...) }

// Warn is sampled; TotalWarnings always moves
func Warn(msg string, args ...any) { sampled(LevelWarning, &TotalWarnings, msg, args) }

// Error is sampled; TotalErrors always moves
func Error(msg string, args ...any) { sampled(LevelError, &TotalErrors, msg, args) }

// Fatal logs, flushes any exporter and exits
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	_ = Shutdown(context.Background())
	os.Exit(1)
}

// ============================================================================
// HTTP-Specific Helpers
// ============================================================================

// ErrorHttp5xx counts an HTTP 5xx response
func ErrorHttp5xx() {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
}

// WarnHttp4xx counts an HTTP 4xx response
func WarnHttp4xx(status int) {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)

	switch status {
	case 400:
		Total400Errors.Add(1)
	case 404:
		Total404Errors.Add(1)
	case 409:
		Total409Errors.Add(1)
	}
}

// ============================================================================
// Rule Evaluation Helpers
// ============================================================================

// RuleApplied announces a matched rule and counts it
func RuleApplied(ruleID, ruleName, discount string) {
	AppliedRules.Add(1)
	Logger.Info("Rule applied: "+discount+"% discount",
		"rule_id", ruleID,
		"rule_name", ruleName,
		"discount", discount,
	)
}

// Stats returns a snapshot of every counter
func Stats() map[string]int64 {
	return map[string]int64{
		"errors":          TotalErrors.Load(),
		"warnings":        TotalWarnings.Load(),
		"http_5xx":        Total5xxErrors.Load(),
		"http_4xx":        Total4xxErrors.Load(),
		"http_400":        Total400Errors.Load(),
		"http_404":        Total404Errors.Load(),
		"http_409":        Total409Errors.Load(),
		"applied_rules":   AppliedRules.Load(),
		"evaluated_carts": EvaluatedCarts.Load(),
	}
}
