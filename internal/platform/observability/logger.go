package observability

import (
	"context"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/foodcourt/orders-api/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// NewLogger builds the JSON logger used in Cloud Run. LOG_LEVEL selects the level.
func NewLogger() (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))))); err != nil {
		_ = level.UnmarshalText([]byte(defaultLogLevel))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		EncodeDuration: zapcore.MillisDurationEncoder,
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		StacktraceKey:  "stacktrace",
	}

	cfg := zap.Config{
		Level:             level,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// FromContext returns the request logger, defaulting to a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// EventFunc is the structured event hook accepted by services.
type EventFunc func(ctx context.Context, event string, fields map[string]any)

// EventLogger adapts zap to the event hook used by services. The request logger is
// preferred so request_id and trace fields follow the event; base is used outside requests.
// Events ending in ".failed", ".error" or ".deferred" are logged at warn level.
func EventLogger(base *zap.Logger, component string) EventFunc {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if !logger.Core().Enabled(zapcore.ErrorLevel) {
			logger = base
		}
		zfields := make([]zap.Field, 0, len(fields)+3)
		zfields = append(zfields, zap.String("event", event))
		if component != "" {
			zfields = append(zfields, zap.String("component", component))
		}
		if tenant := requestctx.Tenant(ctx); tenant != "" {
			if _, ok := fields["tenantId"]; !ok {
				zfields = append(zfields, zap.String("tenantId", tenant))
			}
		}
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			zfields = append(zfields, zap.Any(key, fields[key]))
		}
		if isWarnEvent(event) {
			logger.Warn(event, zfields...)
			return
		}
		logger.Info(event, zfields...)
	}
}

func isWarnEvent(event string) bool {
	for _, suffix := range []string{".failed", ".error", ".deferred", ".dead"} {
		if strings.HasSuffix(event, suffix) {
			return true
		}
	}
	return false
}
