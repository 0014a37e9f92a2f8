package document

import (
	"errors"
	"fmt"

	"github.com/wudi/layersplit/ir/raw"
	"github.com/wudi/layersplit/observability"
	"github.com/wudi/layersplit/security"
)

// Page is a leaf of the page tree together with the attributes it inherits
// from its ancestors.
type Page struct {
	Ref  raw.ObjectRef
	Dict *raw.DictObj
	// Inherited holds Resources, MediaBox, CropBox and Rotate found on
	// ancestors and not overridden by the page itself.
	Inherited *raw.DictObj
}

var inheritable = []string{"Resources", "MediaBox", "CropBox", "Rotate"}

// Attr returns the page's own value for key, else the inherited one.
func (p Page) Attr(key string) (raw.Object, bool) {
	if v, ok := p.Dict.Get(key); ok {
		return v, true
	}
	if p.Inherited != nil {
		return p.Inherited.Get(key)
	}
	return nil, false
}

// walkPages lists the leaves of the page tree depth-first in /Kids order.
func (d *Document) walkPages() ([]Page, error) {
	_, catalog, err := d.Catalog()
	if err != nil {
		return nil, err
	}
	rootRef, ok := catalog.GetRef("Pages")
	if !ok {
		return nil, ErrNoPages
	}
	if _, ok := d.raw.ResolveDict(raw.RefObj{R: rootRef}); !ok {
		return nil, fmt.Errorf("%w: /Pages %s is not a dictionary", ErrNoPages, rootRef)
	}
	maxDepth := d.opts.Parser.Limits.MaxPageTreeDepth
	if maxDepth == 0 {
		maxDepth = security.DefaultLimits().MaxPageTreeDepth
	}
	w := &pageWalker{doc: d.raw, log: d.log, maxDepth: maxDepth, visited: make(map[raw.ObjectRef]bool)}
	if err := w.walk(rootRef, raw.Dict(), 0); err != nil {
		return nil, err
	}
	return w.pages, nil
}

type pageWalker struct {
	doc      *raw.Document
	log      observability.Logger
	maxDepth int
	visited  map[raw.ObjectRef]bool
	pages    []Page
}

func (w *pageWalker) walk(ref raw.ObjectRef, inherited *raw.DictObj, depth int) error {
	if depth > w.maxDepth {
		return fmt.Errorf("page tree deeper than %d levels", w.maxDepth)
	}
	if w.visited[ref] {
		return fmt.Errorf("page tree cycle at %s", ref)
	}
	w.visited[ref] = true

	dict, ok := w.doc.ResolveDict(raw.RefObj{R: ref})
	if !ok {
		return fmt.Errorf("page tree node %s: %w", ref, ErrMissingObject)
	}

	next := cloneDict(inherited)
	for _, key := range inheritable {
		if v, ok := dict.Get(key); ok {
			next.Set(key, v)
		}
	}

	typ, hasType := dict.GetName("Type")
	_, hasKids := dict.Get("Kids")
	if typ == "Page" || (!hasType && !hasKids) {
		own := raw.Dict()
		for _, key := range inheritable {
			if _, ok := dict.Get(key); ok {
				continue
			}
			if v, ok := inherited.Get(key); ok {
				own.Set(key, v)
			}
		}
		w.pages = append(w.pages, Page{Ref: ref, Dict: dict, Inherited: own})
		return nil
	}

	kids, ok := w.doc.ResolveArray(dict.KV["Kids"])
	if !ok {
		return fmt.Errorf("pages node %s: /Kids is not an array", ref)
	}
	for _, kid := range kids.Items {
		kidRef, ok := kid.(raw.RefObj)
		if !ok {
			w.log.Warn("skipping direct page tree kid", observability.String("parent", ref.String()))
			continue
		}
		err := w.walk(kidRef.R, next, depth+1)
		if errors.Is(err, ErrMissingObject) {
			w.log.Warn("skipping missing page tree kid",
				observability.String("kid", kidRef.R.String()),
				observability.Error("error", err),
			)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// wholeDocumentKeys are catalog entries that address the full page set and
// would dangle once a single page is kept.
var wholeDocumentKeys = []string{"Outlines", "Dests", "PageLabels", "StructTreeRoot", "OpenAction", "Threads"}

// Select reduces the document to page i (0-based). Inherited attributes are
// copied onto the page, the root /Pages node becomes a single-kid node and
// catalog entries that address the whole page set are removed.
func (d *Document) Select(i int) error {
	page, err := d.Page(i)
	if err != nil {
		return err
	}
	_, catalog, err := d.Catalog()
	if err != nil {
		return err
	}
	rootRef, _ := catalog.GetRef("Pages")
	if rootRef == page.Ref {
		// The catalog points straight at a page; give it a parent.
		rootRef = d.nextRef()
		catalog.Set("Pages", raw.Ref(rootRef.Num, rootRef.Gen))
	}

	for _, key := range page.Inherited.Keys() {
		v, _ := page.Inherited.Get(key)
		page.Dict.Set(key, v)
	}
	page.Inherited = raw.Dict()
	page.Dict.Set("Parent", raw.Ref(rootRef.Num, rootRef.Gen))

	node := raw.Dict()
	node.Set("Type", raw.NameLiteral("Pages"))
	node.Set("Kids", raw.NewArray(raw.Ref(page.Ref.Num, page.Ref.Gen)))
	node.Set("Count", raw.NumberInt(1))
	d.raw.Objects[rootRef] = node

	for _, key := range wholeDocumentKeys {
		catalog.Delete(key)
	}

	d.pages = []Page{page}
	d.kept = map[raw.ObjectRef]bool{rootRef: true, page.Ref: true}
	d.log.Debug("selected page",
		observability.Int("index", i),
		observability.String("page", page.Ref.String()),
	)
	return nil
}

func (d *Document) nextRef() raw.ObjectRef {
	last := 0
	for ref := range d.raw.Objects {
		if ref.Num > last {
			last = ref.Num
		}
	}
	return raw.ObjectRef{Num: last + 1}
}

func cloneDict(src *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	for _, k := range src.Keys() {
		v, _ := src.Get(k)
		out.Set(k, v)
	}
	return out
}
