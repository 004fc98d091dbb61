package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	ctx := obs.IntoContext(context.Background(), obs.NewLogger(&buf, "info", "json"))
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.NewPrincipal(&auth.User{ID: "user-42"}, nil, nil, auth.ModeAccess))

	if err := LogEvent(ctx, EventLogout, map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.Bytes()
	if len(line) == 0 {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != EventLogout {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != "user-42" {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event")
	}
}

func TestRequestIDIgnoresBlank(t *testing.T) {
	ctx := WithRequestID(context.Background(), " ")
	if got := RequestID(ctx); got != "" {
		t.Fatalf("unexpected request id %q", got)
	}
}
