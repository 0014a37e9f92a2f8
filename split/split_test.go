package split

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/zeebo/xxh3"

	"github.com/wudi/layersplit/document"
	"github.com/wudi/layersplit/internal/pdftest"
	"github.com/wudi/layersplit/ir/raw"
	"github.com/wudi/layersplit/observability"
	"github.com/wudi/layersplit/parser"
	"github.com/wudi/layersplit/recovery"
)

// scenario has three pages: the first uses two layers, the second none and
// the third names a resources object that does not exist.
func scenario(t *testing.T) string {
	t.Helper()
	data := pdftest.Layered(
		[]pdftest.Layer{{Num: 10, Name: "Walls"}, {Num: 11, Name: "Doors"}, {Num: 12, Name: "Notes"}},
		[]pdftest.Page{
			{Layers: []int{10, 12}, Indirect: true},
			{},
			{Resources: "99 0 R"},
		},
	)
	path := filepath.Join(t.TempDir(), "layered.pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func openOutput(t *testing.T, path string) *document.Document {
	t.Helper()
	doc, err := document.Open(context.Background(), path, document.Options{})
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	return doc
}

func directiveRefs(t *testing.T, doc *document.Document) (ocgs, order []int) {
	t.Helper()
	_, catalog, err := doc.Catalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	props, ok := doc.Raw().ResolveDict(catalog.KV["OCProperties"])
	if !ok {
		t.Fatalf("output has no /OCProperties")
	}
	d, ok := doc.Raw().ResolveDict(props.KV["D"])
	if !ok {
		t.Fatalf("output /OCProperties has no /D")
	}
	if name, ok := d.KV["Name"].(raw.StringObj); !ok || string(name.Value()) != "Default" {
		t.Fatalf("default configuration not named Default")
	}
	nums := func(o raw.Object) []int {
		arr, ok := doc.Raw().ResolveArray(o)
		if !ok {
			t.Fatalf("expected array, got %#v", o)
		}
		out := []int{}
		for _, it := range arr.Items {
			out = append(out, it.(raw.RefObj).R.Num)
		}
		return out
	}
	return nums(props.KV["OCGs"]), nums(d.KV["Order"])
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunScenario(t *testing.T) {
	input := scenario(t)
	outDir := filepath.Join(t.TempDir(), "nested", "out")
	var stdout bytes.Buffer
	metrics := observability.NewMetrics()
	s := New(Config{Input: input, OutputDir: outDir}, WithReporter(TextReporter{W: &stdout}), WithMetrics(metrics))

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Total != 3 || len(res.Pages) != 3 || res.Saved() != 2 {
		t.Fatalf("unexpected result: total=%d pages=%d saved=%d", res.Total, len(res.Pages), res.Saved())
	}

	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	want := []string{
		"Processing 3 pages from " + input + "...",
		"Saved Page 1 to " + filepath.Join(outDir, "page_1.pdf") + " (2 layers)",
		"Saved Page 2 to " + filepath.Join(outDir, "page_2.pdf") + " (0 layers)",
	}
	if len(lines) != 4 {
		t.Fatalf("expected 4 output lines, got %q", lines)
	}
	for i, w := range want {
		if lines[i] != w {
			t.Fatalf("line %d = %q, want %q", i, lines[i], w)
		}
	}
	if !strings.HasPrefix(lines[3], "Error processing page 3: ") {
		t.Fatalf("unexpected error line %q", lines[3])
	}

	if _, err := os.Stat(filepath.Join(outDir, "page_3.pdf")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("page_3.pdf should not exist: %v", err)
	}

	first := openOutput(t, filepath.Join(outDir, "page_1.pdf"))
	if first.PageCount() != 1 {
		t.Fatalf("page_1.pdf has %d pages", first.PageCount())
	}
	page, _ := first.Page(0)
	if page.Ref.Num != pdftest.PageNum(0) {
		t.Fatalf("page_1.pdf holds %s", page.Ref)
	}
	ocgs, order := directiveRefs(t, first)
	if !equalInts(ocgs, []int{10, 12}) || !equalInts(order, []int{10, 12}) {
		t.Fatalf("page_1 directive OCGs=%v Order=%v", ocgs, order)
	}
	if _, ok := first.Raw().Lookup(raw.ObjectRef{Num: 11}); ok {
		t.Fatalf("unused layer object 11 written to page_1.pdf")
	}

	second := openOutput(t, filepath.Join(outDir, "page_2.pdf"))
	ocgs, order = directiveRefs(t, second)
	if len(ocgs) != 0 || len(order) != 0 {
		t.Fatalf("page_2 should have empty arrays, got %v %v", ocgs, order)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "page_1.pdf"))
	if err != nil {
		t.Fatalf("read page_1: %v", err)
	}
	if res.Pages[0].Digest != xxh3.Hash(data) || res.Pages[0].Size != int64(len(data)) {
		t.Fatalf("digest or size does not match the written file")
	}

	families, err := metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "layersplit_pages_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			counts[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	if counts["ok"] != 2 || counts["error"] != 1 {
		t.Fatalf("unexpected page counters %v", counts)
	}
}

func TestRunPrefixFalsePositive(t *testing.T) {
	data := pdftest.Layered(
		[]pdftest.Layer{{Num: 12, Name: "short"}, {Num: 112, Name: "long"}},
		[]pdftest.Page{{Layers: []int{112}}},
	)
	input := filepath.Join(t.TempDir(), "prefix.pdf")
	if err := os.WriteFile(input, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	outDir := t.TempDir()
	res, err := New(Config{Input: input, OutputDir: outDir}).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Pages[0].Layers) != 2 {
		t.Fatalf("expected both layers to match, got %+v", res.Pages[0].Layers)
	}
	ocgs, _ := directiveRefs(t, openOutput(t, filepath.Join(outDir, "page_1.pdf")))
	if !equalInts(ocgs, []int{12, 112}) {
		t.Fatalf("directive OCGs = %v", ocgs)
	}
}

func TestRunWithoutLayers(t *testing.T) {
	input := filepath.Join(t.TempDir(), "plain.pdf")
	if err := os.WriteFile(input, pdftest.Layered(nil, []pdftest.Page{{}, {}}), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	outDir := t.TempDir()
	res, err := New(Config{Input: input, OutputDir: outDir}).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Saved() != 2 {
		t.Fatalf("expected 2 pages saved, got %d", res.Saved())
	}
	ocgs, order := directiveRefs(t, openOutput(t, filepath.Join(outDir, "page_2.pdf")))
	if len(ocgs) != 0 || len(order) != 0 {
		t.Fatalf("expected empty directive, got %v %v", ocgs, order)
	}
}

func TestRunStrictMalformedResourcesFailsOnlyThatPage(t *testing.T) {
	data := pdftest.Layered(
		[]pdftest.Layer{{Num: 10, Name: "Walls"}},
		[]pdftest.Page{
			{Layers: []int{10}},
			{},
			{Indirect: true, Body: "<< /Properties << /P 10 0 R >> ))) garbage"},
		},
	)
	input := filepath.Join(t.TempDir(), "malformed.pdf")
	if err := os.WriteFile(input, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	outDir := t.TempDir()
	var stdout bytes.Buffer
	cfg := Config{
		Input:     input,
		OutputDir: outDir,
		Document:  document.Options{Parser: parser.Config{Recovery: recovery.NewStrictStrategy()}},
	}
	res, err := New(cfg, WithReporter(TextReporter{W: &stdout})).Run(context.Background())
	if err != nil {
		t.Fatalf("a malformed resources object must not be fatal: %v", err)
	}
	if res.Total != 3 || res.Saved() != 2 {
		t.Fatalf("expected pages 1 and 2 saved, got total=%d saved=%d", res.Total, res.Saved())
	}
	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 output lines, got %q", lines)
	}
	if lines[1] != "Saved Page 1 to "+filepath.Join(outDir, "page_1.pdf")+" (1 layers)" {
		t.Fatalf("unexpected line %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "Saved Page 2 to ") {
		t.Fatalf("unexpected line %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "Error processing page 3: ") || !strings.Contains(lines[3], "62 0 R") {
		t.Fatalf("unexpected error line %q", lines[3])
	}
	if _, err := os.Stat(filepath.Join(outDir, "page_3.pdf")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("page_3.pdf should not exist: %v", err)
	}
}

func TestRunFatalOnMissingInput(t *testing.T) {
	var stdout bytes.Buffer
	outDir := filepath.Join(t.TempDir(), "out")
	_, err := New(Config{Input: filepath.Join(t.TempDir(), "nope.pdf"), OutputDir: outDir}, WithReporter(TextReporter{W: &stdout})).Run(context.Background())
	if err == nil {
		t.Fatalf("expected fatal error")
	}
	if !strings.HasPrefix(stdout.String(), "Fatal Error: ") || strings.Count(stdout.String(), "\n") != 1 {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestRunFatalOnGarbageInput(t *testing.T) {
	input := filepath.Join(t.TempDir(), "garbage.pdf")
	if err := os.WriteFile(input, []byte("not a pdf at all"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(Config{Input: input, OutputDir: t.TempDir()}).Run(context.Background()); err == nil {
		t.Fatalf("expected fatal error for garbage input")
	}
}

type cancelOnStart struct {
	nopReporter
	cancel context.CancelFunc
}

func (r cancelOnStart) Start(int, string) { r.cancel() }

func TestRunStopsWhenCancelled(t *testing.T) {
	input := scenario(t)
	outDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res, err := New(Config{Input: input, OutputDir: outDir}, WithReporter(cancelOnStart{cancel: cancel})).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res == nil || res.Total != 3 || len(res.Pages) != 0 {
		t.Fatalf("no page should run after cancellation: %+v", res)
	}
	entries, _ := os.ReadDir(outDir)
	if len(entries) != 0 {
		t.Fatalf("expected no output files, found %d", len(entries))
	}
}

func TestExtractPageOutOfRange(t *testing.T) {
	s := New(Config{Input: scenario(t), OutputDir: t.TempDir()})
	if _, err := s.ExtractPage(context.Background(), 7); !errors.Is(err, document.ErrPageIndex) {
		t.Fatalf("expected ErrPageIndex, got %v", err)
	}
}

func TestWriteManifest(t *testing.T) {
	input := scenario(t)
	outDir := t.TempDir()
	res, err := New(Config{Input: input, OutputDir: outDir}).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := WriteManifest(path, res); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if m.Input != input || m.Pages != 3 || m.Saved != 2 || len(m.Results) != 3 {
		t.Fatalf("unexpected manifest header %+v", m)
	}
	p1 := m.Results[0]
	if p1.Page != 1 || len(p1.Layers) != 2 || p1.Layers[0] != (ManifestLayer{Ref: "10 0 R", Name: "Walls"}) {
		t.Fatalf("unexpected page 1 entry %+v", p1)
	}
	if len(p1.XXH3) != 16 || p1.Size == 0 || p1.Error != "" {
		t.Fatalf("page 1 digest/size/error: %+v", p1)
	}
	p3 := m.Results[2]
	if p3.Error == "" || p3.Path != "" || len(p3.Layers) != 0 {
		t.Fatalf("unexpected page 3 entry %+v", p3)
	}
}
