package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/wudi/layersplit/internal/pdftest"
)

func writeInput(t *testing.T) string {
	t.Helper()
	data := pdftest.Layered(
		[]pdftest.Layer{{Num: 10, Name: "Walls"}, {Num: 11, Name: "Doors"}},
		[]pdftest.Page{{Layers: []int{11}}, {}, {Resources: "99 0 R"}},
	)
	path := filepath.Join(t.TempDir(), "in.pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func TestRunWrongArgumentCount(t *testing.T) {
	input := writeInput(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	for _, args := range [][]string{
		nil,
		{out},
		{input, out, "x"},
		{filepath.Join(dir, "in.pdf"), out, "x"},
	} {
		var stdout, stderr bytes.Buffer
		if code := run(context.Background(), args, &stdout, &stderr); code != 2 {
			t.Fatalf("args %q: expected exit 2, got %d", args, code)
		}
		if !strings.HasPrefix(stdout.String(), usageLine+"\n") {
			t.Fatalf("args %q: expected usage line, got %q", args, stdout.String())
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("read dir: %v", err)
		}
		if len(entries) != 0 {
			t.Fatalf("args %q: usage error touched the filesystem: %v", args, entries)
		}
	}
}

func TestRunUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-bogus", "a", "b"}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestRunBadLogLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-log-level", "loud", "a", "b"}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestRunSplitsWithPerPageErrors(t *testing.T) {
	input := writeInput(t)
	outDir := filepath.Join(t.TempDir(), "out")
	manifest := filepath.Join(t.TempDir(), "run.json")
	metrics := filepath.Join(t.TempDir(), "run.prom")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-manifest", manifest, "-metrics", metrics, "-deterministic", "-compress", input, outDir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr %s)", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{
		"Processing 3 pages from " + input + "...\n",
		"Saved Page 1 to " + filepath.Join(outDir, "page_1.pdf") + " (1 layers)\n",
		"Saved Page 2 to " + filepath.Join(outDir, "page_2.pdf") + " (0 layers)\n",
		"Error processing page 3: ",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("stdout missing %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, "page_3.pdf")); err == nil {
		t.Fatalf("page_3.pdf should not exist")
	}

	data, err := os.ReadFile(manifest)
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	var m struct {
		Pages int `json:"pages"`
		Saved int `json:"saved"`
	}
	if err := json.Unmarshal(data, &m); err != nil || m.Pages != 3 || m.Saved != 2 {
		t.Fatalf("unexpected manifest %s (%v)", data, err)
	}
	prom, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("metrics not written: %v", err)
	}
	if !strings.Contains(string(prom), `layersplit_pages_total{status="ok"} 2`) {
		t.Fatalf("unexpected metrics:\n%s", prom)
	}
}

func TestRunDeterministicOutput(t *testing.T) {
	input := writeInput(t)
	a, b := t.TempDir(), t.TempDir()
	var stdout, stderr bytes.Buffer
	for _, dir := range []string{a, b} {
		if code := run(context.Background(), []string{"-deterministic", input, dir}, &stdout, &stderr); code != 0 {
			t.Fatalf("run into %s: exit %d", dir, code)
		}
	}
	first, _ := os.ReadFile(filepath.Join(a, "page_1.pdf"))
	second, _ := os.ReadFile(filepath.Join(b, "page_1.pdf"))
	if len(first) == 0 || !bytes.Equal(first, second) {
		t.Fatalf("deterministic runs differ")
	}
}

func TestRunFatal(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{filepath.Join(t.TempDir(), "missing.pdf"), t.TempDir()}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.HasPrefix(stdout.String(), "Fatal Error: ") {
		t.Fatalf("expected fatal line, got %q", stdout.String())
	}
}

func TestRunStrictRejectsDamagedInput(t *testing.T) {
	data := pdftest.Layered(nil, []pdftest.Page{{}})
	shifted := append([]byte("%PDF-1.7\n%padding\n"), data[len("%PDF-1.7\n"):]...)
	input := filepath.Join(t.TempDir(), "shifted.pdf")
	if err := os.WriteFile(input, shifted, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-strict", input, t.TempDir()}, &stdout, &stderr); code != 1 {
		t.Fatalf("strict run: expected exit 1, got %d", code)
	}
	stdout.Reset()
	if code := run(context.Background(), []string{input, t.TempDir()}, &stdout, &stderr); code != 0 {
		t.Fatalf("lenient run: expected exit 0, got %d (%s)", code, stdout.String())
	}
	if !strings.Contains(stdout.String(), "Saved Page 1") {
		t.Fatalf("lenient run did not save the page: %q", stdout.String())
	}
}
