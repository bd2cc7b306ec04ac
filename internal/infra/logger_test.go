package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"key-provisioning-service/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"INFO":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func spanContext(t *testing.T) context.Context {
	t.Helper()
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestTraceHandler_AddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, &config.Config{LogLevel: "INFO", OtelEnabled: true, GoogleCloudProject: "demo"})

	logger.InfoContext(spanContext(t), "provisioning completed", "operation", "provision")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}
	if entry["trace"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("unexpected trace %v", entry["trace"])
	}
	if entry["logging.googleapis.com/trace"] != "projects/demo/traces/4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("unexpected cloud trace %v", entry["logging.googleapis.com/trace"])
	}
	if entry["operation"] != "provision" {
		t.Errorf("unexpected operation %v", entry["operation"])
	}
}

func TestTraceHandler_TracingDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, &config.Config{LogLevel: "INFO"})

	logger.InfoContext(spanContext(t), "provisioning completed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}
	if _, ok := entry["trace"]; ok {
		t.Error("expected no trace field when tracing is disabled")
	}
}

func TestTraceHandler_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, &config.Config{LogLevel: "WARN"})

	logger.Info("ignored")
	if buf.Len() != 0 {
		t.Errorf("expected info log to be dropped, got %q", buf.String())
	}
}
