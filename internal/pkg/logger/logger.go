// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// 全局根 logger，所有服务共享同一个输出配置
var root = zerolog.New(os.Stdout).With().Timestamp().Logger()

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// Init 设置全局日志级别和服务名字段。
// 应在每个服务的 main 中尽早调用。
func Init(serviceName, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	root = zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Ctx 返回一个携带当前链路追踪信息的 logger。
// 如果上下文中存在有效的 Span，则自动附加 trace_id/span_id 字段，
// 便于在日志系统中和 Jaeger 链路互相关联。
func Ctx(ctx context.Context) *zerolog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return &root
	}
	l := root.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
	return &l
}

// Log 返回不带链路信息的根 logger。
func Log() *zerolog.Logger {
	return &root
}
