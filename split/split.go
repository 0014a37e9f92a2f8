// Package split writes each page of a layered PDF to its own file, keeping
// only the layers that page uses.
package split

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/wudi/layersplit/document"
	"github.com/wudi/layersplit/layers"
	"github.com/wudi/layersplit/observability"
)

// Config names the input file and where the pages go.
type Config struct {
	Input     string
	OutputDir string
	Document  document.Options
}

// PageResult is the outcome of one page. Page is 1-based.
type PageResult struct {
	Page   int
	Path   string
	Layers []document.Layer
	Size   int64
	Digest uint64
	Err    error
}

// Result collects every page outcome of a run.
type Result struct {
	Input    string
	Total    int
	Started  time.Time
	Finished time.Time
	Pages    []PageResult
}

// Saved counts the pages that were written.
func (r *Result) Saved() int {
	n := 0
	for _, p := range r.Pages {
		if p.Err == nil {
			n++
		}
	}
	return n
}

type Splitter struct {
	cfg      Config
	reporter Reporter
	log      observability.Logger
	metrics  *observability.Metrics
}

type Option func(*Splitter)

func WithReporter(r Reporter) Option { return func(s *Splitter) { s.reporter = r } }

func WithLogger(l observability.Logger) Option { return func(s *Splitter) { s.log = l } }

func WithMetrics(m *observability.Metrics) Option { return func(s *Splitter) { s.metrics = m } }

func New(cfg Config, opts ...Option) *Splitter {
	s := &Splitter{cfg: cfg, reporter: nopReporter{}, log: observability.NopLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Document.Logger == nil {
		s.cfg.Document.Logger = s.log
	}
	return s
}

// OutputName is the file name for page i (0-based): page_<i+1>.pdf.
func OutputName(i int) string { return fmt.Sprintf("page_%d.pdf", i+1) }

// Run splits every page. Failing to create the output directory or to open
// the input is fatal and returned; a failing page is reported and skipped.
// Cancellation is checked between pages.
func (s *Splitter) Run(ctx context.Context) (*Result, error) {
	res := &Result{Input: s.cfg.Input, Started: time.Now()}
	total, err := s.count(ctx)
	if err != nil {
		s.reporter.Fatal(err)
		s.log.Error("split aborted", observability.String("input", s.cfg.Input), observability.Error("error", err))
		return nil, err
	}
	res.Total = total
	s.reporter.Start(total, s.cfg.Input)

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			res.Finished = time.Now()
			return res, err
		}
		start := time.Now()
		pr, err := s.ExtractPage(ctx, i)
		s.metrics.ObservePage(err, time.Since(start), len(pr.Layers), pr.Size)
		res.Pages = append(res.Pages, pr)
		if err != nil {
			s.reporter.PageFailed(i+1, err)
			s.log.Warn("page failed", observability.Int("page", i+1), observability.Error("error", err))
			continue
		}
		s.reporter.PageSaved(i+1, pr.Path, len(pr.Layers))
		s.log.Info("page saved",
			observability.Int("page", i+1),
			observability.String("path", pr.Path),
			observability.Int("layers", len(pr.Layers)),
			observability.Int64("bytes", pr.Size),
		)
	}
	res.Finished = time.Now()
	return res, nil
}

func (s *Splitter) count(ctx context.Context) (int, error) {
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return 0, err
	}
	doc, err := document.Open(ctx, s.cfg.Input, s.cfg.Document)
	if err != nil {
		return 0, err
	}
	defer doc.Close()
	return doc.PageCount(), nil
}

// ExtractPage reopens the input, keeps page i (0-based), prunes its layer
// list and saves it under the output directory.
func (s *Splitter) ExtractPage(ctx context.Context, i int) (PageResult, error) {
	pr := PageResult{Page: i + 1}
	pr.Err = s.extract(ctx, i, &pr)
	return pr, pr.Err
}

func (s *Splitter) extract(ctx context.Context, i int, pr *PageResult) error {
	doc, err := document.Open(ctx, s.cfg.Input, s.cfg.Document)
	if err != nil {
		return err
	}
	defer doc.Close()

	if err := doc.Select(i); err != nil {
		return err
	}
	page, err := doc.Page(0)
	if err != nil {
		return err
	}
	used, err := layers.Prune(doc, page)
	if err != nil {
		return err
	}

	path := filepath.Join(s.cfg.OutputDir, OutputName(i))
	h := xxh3.New()
	size, err := doc.Save(ctx, path, h)
	if err != nil {
		return err
	}
	pr.Path = path
	pr.Layers = used
	pr.Size = size
	pr.Digest = h.Sum64()
	return nil
}
