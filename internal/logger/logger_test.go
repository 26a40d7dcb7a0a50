package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return New(&Config{Level: "debug", Format: "json", Output: buf, ServiceName: "test"})
}

func TestContextFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	ctx := newBufferLogger(&buf).WithContext(context.Background())
	ctx = SetJobID(ctx, "job_abc")
	ctx = SetTenant(ctx, "acme")

	CtxInfo(ctx, "hello %s", "world")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["message"] != "hello world" {
		t.Errorf("message = %v", line["message"])
	}
	if line[FieldJobID] != "job_abc" || line[FieldTenantID] != "acme" {
		t.Errorf("missing context fields: %v", line)
	}
	if line["service"] != "test" {
		t.Errorf("service = %v", line["service"])
	}
	if GetJobID(ctx) != "job_abc" {
		t.Errorf("GetJobID = %q", GetJobID(ctx))
	}
}

func TestEntryMetricFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := newBufferLogger(&buf).WithContext(context.Background())

	With(Fields{FieldCount: 3}).WithDuration(1500*time.Millisecond).WithStatus("completed").Info(ctx, "done")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line[FieldDurationMs] != float64(1500) {
		t.Errorf("duration_ms = %v", line[FieldDurationMs])
	}
	if line[FieldCount] != float64(3) || line[FieldStatus] != "completed" {
		t.Errorf("unexpected fields: %v", line)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != GetDefault() {
		t.Error("expected default logger for bare context")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_MAX_SIZE", "not-a-number")

	cfg := LoadFromEnv()
	if cfg.Level != "debug" {
		t.Errorf("Level = %q", cfg.Level)
	}
	if cfg.MaxSize != 100 {
		t.Errorf("MaxSize = %d, want default 100", cfg.MaxSize)
	}
}
