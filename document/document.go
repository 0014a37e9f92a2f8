// Package document is a mutable handle over a parsed PDF: page lookup,
// single-page selection, catalog edits and saving.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/wudi/layersplit/ir/raw"
	"github.com/wudi/layersplit/observability"
	"github.com/wudi/layersplit/parser"
	"github.com/wudi/layersplit/writer"
)

var (
	// ErrNoPages is returned when the catalog has no usable /Pages tree.
	ErrNoPages = errors.New("document has no page tree")
	// ErrPageIndex is returned for a page index outside [0, PageCount).
	ErrPageIndex = errors.New("page index out of range")
	// ErrMissingObject is returned when a reference names an object the file does not contain.
	ErrMissingObject = errors.New("object not found")
	ErrClosed        = errors.New("document is closed")
)

// Options configures how a document is read and written.
type Options struct {
	Parser parser.Config
	Writer writer.Config
	Logger observability.Logger
}

// Document holds every object of a parsed PDF in memory.
type Document struct {
	raw    *raw.Document
	name   string
	opts   Options
	log    observability.Logger
	pages  []Page
	kept   map[raw.ObjectRef]bool
	closed bool
}

// Open reads and parses the file at path. The file is not held open.
func Open(ctx context.Context, path string, opts Options) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := OpenReader(ctx, bytes.NewReader(data), opts)
	if err != nil {
		return nil, err
	}
	d.name = path
	return d, nil
}

// OpenReader parses a document from r and enumerates its pages.
func OpenReader(ctx context.Context, r io.ReaderAt, opts Options) (*Document, error) {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	if opts.Parser.Logger == nil {
		opts.Parser.Logger = opts.Logger
	}
	rawDoc, err := parser.NewDocumentParser(opts.Parser).Parse(ctx, r)
	if err != nil {
		return nil, err
	}
	d := &Document{raw: rawDoc, opts: opts, log: opts.Logger}
	pages, err := d.walkPages()
	if err != nil {
		return nil, err
	}
	d.pages = pages
	d.log.Debug("opened document",
		observability.Int("pages", len(pages)),
		observability.Int("objects", len(rawDoc.Objects)),
		observability.String("version", rawDoc.Version),
	)
	return d, nil
}

// Raw exposes the underlying object table.
func (d *Document) Raw() *raw.Document { return d.raw }

// Name is the path the document was opened from, if any.
func (d *Document) Name() string { return d.name }

func (d *Document) PageCount() int { return len(d.pages) }

// Page returns the i-th page (0-based) in document order.
func (d *Document) Page(i int) (Page, error) {
	if d.closed {
		return Page{}, ErrClosed
	}
	if i < 0 || i >= len(d.pages) {
		return Page{}, fmt.Errorf("page %d of %d: %w", i, len(d.pages), ErrPageIndex)
	}
	return d.pages[i], nil
}

// Catalog returns the document catalog and its reference.
func (d *Document) Catalog() (raw.ObjectRef, *raw.DictObj, error) {
	if d.closed {
		return raw.ObjectRef{}, nil, ErrClosed
	}
	ref, ok := d.raw.RootRef()
	if !ok {
		return raw.ObjectRef{}, nil, errors.New("trailer has no /Root")
	}
	obj, err := d.lookup(ref)
	if err != nil {
		return ref, nil, fmt.Errorf("catalog: %w", err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return ref, nil, fmt.Errorf("catalog %s is a %s, not a dictionary", ref, obj.Type())
	}
	return ref, dict, nil
}

// Resolve follows references; dangling ones resolve to null.
func (d *Document) Resolve(obj raw.Object) raw.Object { return d.raw.Resolve(obj) }

// SetCatalogKey stores value under key in the catalog, replacing any
// previous value.
func (d *Document) SetCatalogKey(key string, value raw.Object) error {
	_, catalog, err := d.Catalog()
	if err != nil {
		return err
	}
	catalog.Set(key, value)
	return nil
}

// Close releases the object table. Any later call fails with ErrClosed.
func (d *Document) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.raw = nil
	d.pages = nil
	d.kept = nil
	return nil
}

// lookup returns the object under ref, or the load error the parser recorded
// for it.
func (d *Document) lookup(ref raw.ObjectRef) (raw.Object, error) {
	if obj, ok := d.raw.Lookup(ref); ok {
		return obj, nil
	}
	if err, ok := d.raw.Unreadable[ref]; ok {
		return nil, fmt.Errorf("object %s unreadable: %w", ref, err)
	}
	return nil, fmt.Errorf("object %s: %w", ref, ErrMissingObject)
}
