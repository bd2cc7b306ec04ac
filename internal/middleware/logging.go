// Package middleware はHTTPミドルウェアと監査ログを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// 監査ログの結果値。
const (
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
)

// WriteAuditLog は鍵操作の監査ログを出力する。鍵の値は出力しない。
func WriteAuditLog(ctx context.Context, operation string, target string, result string) {
	level := slog.LevelInfo
	if result != ResultSuccess {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "key operation completed",
		"operation", operation,
		"target", target,
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}
