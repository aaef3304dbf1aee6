// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Init 配置全局 zerolog 实例。level 为空或无法解析时使用 info。
func Init(level, service string) {
	InitWithWriter(os.Stdout, level, service)
}

// InitWithWriter 与 Init 相同，但允许指定输出（测试中使用）。
func InitWithWriter(w io.Writer, level, service string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	log.Logger = zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Ctx 返回携带当前 span 信息 (trace_id / span_id) 的 logger，
// 便于在 Jaeger 与日志之间互相跳转。
func Ctx(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		l = l.With().
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Logger()
	}
	return &l
}
