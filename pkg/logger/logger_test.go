package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		opts        Options
		wantErr     bool
		wantEntries int
	}{
		{name: "default level drops debug", opts: Options{}, wantEntries: 1},
		{name: "debug level keeps both", opts: Options{Level: "debug"}, wantEntries: 2},
		{name: "warn level drops info", opts: Options{Level: "warn"}, wantEntries: 0},
		{name: "unknown level", opts: Options{Level: "verbose"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.opts.Output = &buf
			logger, err := New(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			logger.Debug("grid built")
			logger.Info("forecast ready")
			_ = logger.Sync()

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			if buf.Len() == 0 {
				lines = nil
			}
			if len(lines) != tt.wantEntries {
				t.Fatalf("Expected %d entries, got %d: %q", tt.wantEntries, len(lines), buf.String())
			}
		})
	}
}

func TestNew_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.WithRetailer("acme").Infow("forecast ready", "points", 96)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected one JSON entry, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "forecast ready" {
		t.Errorf("msg = %v, want forecast ready", entry["msg"])
	}
	if entry["retailer"] != "acme" {
		t.Errorf("retailer = %v, want acme", entry["retailer"])
	}
	if entry["points"] != float64(96) {
		t.Errorf("points = %v, want 96", entry["points"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("Expected a time field")
	}
}

func TestNew_Development(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Development: true, Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Debug("grid built")

	out := buf.String()
	if !strings.Contains(out, "grid built") {
		t.Errorf("Expected message in console output, got %q", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("Expected console encoding, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level   string
		want    zapcore.Level
		wantErr bool
	}{
		{level: "debug", want: zapcore.DebugLevel},
		{level: "info", want: zapcore.InfoLevel},
		{level: "warn", want: zapcore.WarnLevel},
		{level: "error", want: zapcore.ErrorLevel},
		{level: "", want: zapcore.InfoLevel},
		{level: "verbose", want: zapcore.InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, err := ParseLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGlobal(t *testing.T) {
	mu.Lock()
	global = NewNop()
	mu.Unlock()
	defer func() {
		mu.Lock()
		global = NewNop()
		mu.Unlock()
	}()

	if L() == nil {
		t.Fatal("Expected non-nil logger before InitGlobal")
	}

	if err := InitGlobal(Options{Level: "bogus"}); err == nil {
		t.Fatal("Expected error for unknown level")
	}

	var buf bytes.Buffer
	if err := InitGlobal(Options{Output: &buf}); err != nil {
		t.Fatalf("InitGlobal() error = %v", err)
	}
	if L() != L() {
		t.Error("Expected L() to return the same instance")
	}

	L().WithRetailer("acme").Info("message with retailer")
	if err := Sync(); err != nil {
		t.Errorf("Sync() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"retailer":"acme"`) {
		t.Errorf("Expected retailer field in output, got %q", buf.String())
	}
}

func TestLoggerWithRetailer(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewFromCore(core)

	logger.WithRetailer("acme").Infow("forecast ready", "points", 96)

	entries := logs.FilterField(zapcore.Field{Key: "retailer", Type: zapcore.StringType, String: "acme"}).All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry tagged with retailer, got %d", len(entries))
	}
	if entries[0].Message != "forecast ready" {
		t.Errorf("Unexpected message %q", entries[0].Message)
	}
}

func TestLoggerWithError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewFromCore(core)

	logger.WithError(errors.New("boom")).Warn("retailer failed")
	logger.WithError(nil).Info("no error attached")

	if n := logs.FilterField(zapcore.Field{Key: "error", Type: zapcore.StringType, String: "boom"}).Len(); n != 1 {
		t.Errorf("Expected 1 entry with error field, got %d", n)
	}
	if n := logs.Len(); n != 2 {
		t.Errorf("Expected 2 entries, got %d", n)
	}
}
