package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wudi/layersplit/ir/raw"
	"github.com/wudi/layersplit/observability"
	"github.com/wudi/layersplit/recovery"
	"github.com/wudi/layersplit/scanner"
	"github.com/wudi/layersplit/security"
	"github.com/wudi/layersplit/xref"
)

// ErrEncrypted is returned for documents with an /Encrypt trailer entry.
var ErrEncrypted = errors.New("encrypted documents are not supported")

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Recovery recovery.Strategy
	XRef     xref.ResolverConfig
	Limits   security.Limits
	Logger   observability.Logger
}

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.Limits == (security.Limits{}) {
		cfg.Limits = security.DefaultLimits()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	if cfg.XRef.MaxXRefDepth == 0 {
		cfg.XRef.MaxXRefDepth = cfg.Limits.MaxXRefDepth
	}
	if cfg.XRef.Scanner == (scanner.Config{}) {
		cfg.XRef.Scanner = cfg.Limits.ScannerConfig(cfg.XRef.Recovery)
	}
	if cfg.XRef.Filters.MaxDecompressedSize == 0 {
		cfg.XRef.Filters = cfg.Limits.FilterLimits()
	}
	return &DocumentParser{cfg: cfg}
}

func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	if p.cfg.Limits.MaxParseTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Limits.MaxParseTime)
		defer cancel()
	}
	start := time.Now()

	resolver := xref.NewResolver(p.cfg.XRef)
	table, err := resolver.Resolve(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	trailer := table.Trailer()
	if _, ok := trailer.Get("Encrypt"); ok {
		return nil, ErrEncrypted
	}

	loader, err := (&ObjectLoaderBuilder{}).
		WithReader(r).
		WithXRef(table).
		WithLimits(p.cfg.Limits).
		WithRecovery(p.cfg.Recovery).
		WithRepair(func(ctx context.Context) (xref.Table, error) {
			p.cfg.Logger.Warn("object offsets unusable, rebuilding xref by scanning")
			return resolver.Repair(ctx, r)
		}).
		Build()
	if err != nil {
		return nil, err
	}

	doc := &raw.Document{
		Objects:    make(map[raw.ObjectRef]raw.Object),
		Unreadable: make(map[raw.ObjectRef]error),
		Trailer:    trailer,
		Version:    detectHeaderVersion(r),
	}

	skipped := 0
	for _, objNum := range table.Objects() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if objNum == 0 {
			continue // free head entry
		}
		_, gen, _ := table.Lookup(objNum)
		ref := raw.ObjectRef{Num: objNum, Gen: gen}
		obj, err := loader.Load(ctx, ref)
		if err != nil {
			if ctxErr(err) {
				return nil, fmt.Errorf("load object %d: %w", objNum, err)
			}
			if p.skipObject(ref, err) {
				skipped++
				continue
			}
			// Kept out of Objects so only the pages that use it fail.
			p.cfg.Logger.Warn("unreadable object",
				observability.String("ref", ref.String()),
				observability.Error("error", err),
			)
			doc.Unreadable[ref] = err
			continue
		}
		doc.Objects[ref] = obj
	}

	if v := catalogVersion(doc); versionLess(doc.Version, v) {
		doc.Version = v
	}
	if doc.Version == "" {
		doc.Version = "1.7"
	}

	p.cfg.Logger.Debug("parsed document",
		observability.String("xref", table.Type()),
		observability.Int("objects", len(doc.Objects)),
		observability.Int("skipped", skipped),
		observability.Int("unreadable", len(doc.Unreadable)),
		observability.String("version", doc.Version),
		observability.Duration("elapsed", time.Since(start)),
	)
	return doc, nil
}

// skipObject lets the recovery strategy drop an unreadable object, which then
// reads as null wherever it is referenced.
func (p *DocumentParser) skipObject(ref raw.ObjectRef, err error) bool {
	if p.cfg.Recovery == nil {
		return false
	}
	loc := recovery.Location{ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "parser"}
	switch p.cfg.Recovery.OnError(nil, err, loc) {
	case recovery.ActionSkip, recovery.ActionFix:
		return true
	}
	return false
}

// detectHeaderVersion finds the %PDF-x.y header, which may follow a short
// garbage prefix.
func detectHeaderVersion(r io.ReaderAt) string {
	buf := make([]byte, 1024)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	idx := bytes.Index(buf[:n], []byte("%PDF-"))
	if idx < 0 {
		return ""
	}
	line := string(buf[idx+5 : n])
	for _, sep := range []string{"\r\n", "\n", "\r", " "} {
		if i := strings.Index(line, sep); i >= 0 {
			line = line[:i]
		}
	}
	line = strings.TrimSpace(line)
	if len(line) < 3 || line[1] != '.' {
		return ""
	}
	return line
}

func catalogVersion(doc *raw.Document) string {
	root, ok := doc.RootRef()
	if !ok {
		return ""
	}
	catalog, ok := doc.ResolveDict(raw.RefObj{R: root})
	if !ok {
		return ""
	}
	v, _ := catalog.GetName("Version")
	return v
}

func versionLess(a, b string) bool {
	if b == "" {
		return false
	}
	if a == "" {
		return true
	}
	return a < b
}
