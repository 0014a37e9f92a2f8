package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/wudi/layersplit/ir/raw"
	"github.com/wudi/layersplit/observability"
	"github.com/wudi/layersplit/writer"
)

// Save serializes the document to memory and only then creates path, so a
// failed serialization leaves no file behind. The written bytes are also
// copied to each tee writer. It returns the file size.
func (d *Document) Save(ctx context.Context, path string, tee ...io.Writer) (int64, error) {
	var buf bytes.Buffer
	if _, err := d.Write(ctx, &buf); err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return 0, err
	}
	for _, w := range tee {
		if _, err := w.Write(buf.Bytes()); err != nil {
			return 0, err
		}
	}
	return int64(buf.Len()), nil
}

// Write writes the objects reachable from the trailer's /Root and /Info.
// After Select, page tree nodes other than the kept page and its new parent
// are never followed.
func (d *Document) Write(ctx context.Context, w io.Writer) (int64, error) {
	if d.closed {
		return 0, ErrClosed
	}
	out := &raw.Document{
		Objects: d.reachable(),
		Trailer: raw.Dict(),
		Version: d.raw.Version,
	}
	for _, key := range []string{"Root", "Info"} {
		if v, ok := d.raw.Trailer.Get(key); ok {
			out.Trailer.Set(key, v)
		}
	}
	cw := &countingWriter{w: w}
	if err := writer.NewWriter().Write(ctx, out, cw, d.opts.Writer); err != nil {
		return cw.n, fmt.Errorf("write document: %w", err)
	}
	d.log.Debug("wrote document",
		observability.Int("objects", len(out.Objects)),
		observability.Int64("bytes", cw.n),
	)
	return cw.n, nil
}

func (d *Document) reachable() map[raw.ObjectRef]raw.Object {
	objs := make(map[raw.ObjectRef]raw.Object)
	var stack []raw.ObjectRef
	push := func(o raw.Object) {
		stack = appendRefs(stack, o)
	}
	push(d.raw.Trailer.KV["Root"])
	push(d.raw.Trailer.KV["Info"])

	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := objs[ref]; done {
			continue
		}
		obj, ok := d.raw.Lookup(ref)
		if !ok {
			continue
		}
		if d.kept != nil && !d.kept[ref] && isPageTreeNode(obj) {
			continue
		}
		objs[ref] = obj
		push(obj)
	}
	return objs
}

func isPageTreeNode(obj raw.Object) bool {
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return false
	}
	typ, _ := dict.GetName("Type")
	return typ == "Page" || typ == "Pages"
}

// appendRefs adds every reference held directly or nested inside o.
func appendRefs(refs []raw.ObjectRef, o raw.Object) []raw.ObjectRef {
	switch v := o.(type) {
	case raw.RefObj:
		refs = append(refs, v.R)
	case *raw.ArrayObj:
		for _, it := range v.Items {
			refs = appendRefs(refs, it)
		}
	case *raw.DictObj:
		for _, k := range v.Keys() {
			refs = appendRefs(refs, v.KV[k])
		}
	case *raw.StreamObj:
		if v.Dict != nil {
			refs = appendRefs(refs, v.Dict)
		}
	}
	return refs
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
