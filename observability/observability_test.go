package observability

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNopLogger(t *testing.T) {
	var l Logger = NopLogger{}
	l = l.With(String("k", "v"))
	l.Debug("debug")
	l.Info("info", Int("n", 1))
	l.Warn("warn", Int64("n", 2))
	l.Error("error", Error("err", errors.New("boom")))
}

func TestZerologLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewZerologLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.With(String("input", "a.pdf")).Info("page saved",
		Int("page", 3),
		Int64("bytes", 1024),
		Duration("elapsed", 2*time.Millisecond),
		Error("error", errors.New("boom")),
	)
	out := buf.String()
	for _, want := range []string{`"input":"a.pdf"`, `"page":3`, `"bytes":1024`, `"error":"boom"`, `"message":"page saved"`, `"level":"info"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestZerologLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewZerologLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.Info("hidden")
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info/debug to be filtered, got %q", buf.String())
	}
	l.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected warn output, got %q", buf.String())
	}
}

func TestZerologLoggerRejectsBadConfig(t *testing.T) {
	if _, err := NewZerologLogger(LogConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := NewZerologLogger(LogConfig{Format: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestMetricsWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.ObservePage(nil, 10*time.Millisecond, 2, 100)
	m.ObservePage(nil, 10*time.Millisecond, 1, 50)
	m.ObservePage(errors.New("bad page"), time.Millisecond, 0, 0)

	path := filepath.Join(t.TempDir(), "layersplit.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		`layersplit_pages_total{status="ok"} 2`,
		`layersplit_pages_total{status="error"} 1`,
		`layersplit_layers_kept_total 3`,
		`layersplit_output_bytes_total 150`,
		`layersplit_page_duration_seconds_count 3`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in textfile:\n%s", want, out)
		}
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObservePage(nil, time.Second, 1, 1)
}
