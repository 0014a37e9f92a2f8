package document

import (
	"fmt"

	"github.com/wudi/layersplit/ir/raw"
	"github.com/wudi/layersplit/writer"
)

// Kind classifies the value stored under a dictionary key.
type Kind string

const (
	// KindXRef means the value is an indirect reference; the text is "N G R".
	KindXRef Kind = "xref"
	// KindInline means a direct value; the text is its PDF syntax.
	KindInline Kind = "inline"
	// KindNull means the key is absent or explicitly null.
	KindNull Kind = "null"
)

// Layer is an optional content group listed in the catalog's /OCProperties.
type Layer struct {
	Ref  raw.ObjectRef
	Name string
}

// KeyValue reports how key is stored in the dictionary object ref, without
// following a reference held under it.
func (d *Document) KeyValue(ref raw.ObjectRef, key string) (Kind, string, error) {
	dict, err := d.dictObject(ref)
	if err != nil {
		return "", "", err
	}
	return keyValue(dict, key)
}

func keyValue(dict *raw.DictObj, key string) (Kind, string, error) {
	v, ok := dict.Get(key)
	if !ok {
		return KindNull, "null", nil
	}
	switch v := v.(type) {
	case raw.RefObj:
		return KindXRef, v.R.String(), nil
	case raw.NullObj:
		return KindNull, "null", nil
	default:
		return KindInline, writer.Value(v), nil
	}
}

// ObjectText renders the object stored under ref as PDF syntax. Streams
// render as their dictionary.
func (d *Document) ObjectText(ref raw.ObjectRef) (string, error) {
	if d.closed {
		return "", ErrClosed
	}
	obj, err := d.lookup(ref)
	if err != nil {
		return "", err
	}
	return writer.Value(obj), nil
}

// ResourceListing returns the text of the page's /Resources: the referenced
// object's text when the entry is indirect, else the inline value. Inherited
// resources count as the page's own.
func (d *Document) ResourceListing(page Page) (string, error) {
	if d.closed {
		return "", ErrClosed
	}
	holder := page.Dict
	if _, own := page.Dict.Get("Resources"); !own && page.Inherited != nil {
		holder = page.Inherited
	}
	kind, text, err := keyValue(holder, "Resources")
	if err != nil {
		return "", err
	}
	if kind != KindXRef {
		return text, nil
	}
	ref, _ := holder.GetRef("Resources")
	listing, err := d.ObjectText(ref)
	if err != nil {
		return "", fmt.Errorf("page %s resources: %w", page.Ref, err)
	}
	return listing, nil
}

// Layers lists the optional content groups named in /OCProperties /OCGs,
// in array order. Direct (non-reference) entries are ignored.
func (d *Document) Layers() ([]Layer, error) {
	_, catalog, err := d.Catalog()
	if err != nil {
		return nil, err
	}
	props, ok := d.raw.ResolveDict(catalog.KV["OCProperties"])
	if !ok {
		return nil, nil
	}
	ocgs, ok := d.raw.ResolveArray(props.KV["OCGs"])
	if !ok {
		return nil, nil
	}
	layers := make([]Layer, 0, ocgs.Len())
	seen := make(map[raw.ObjectRef]bool, ocgs.Len())
	for _, item := range ocgs.Items {
		ref, ok := item.(raw.RefObj)
		if !ok || seen[ref.R] {
			continue
		}
		seen[ref.R] = true
		layer := Layer{Ref: ref.R}
		if group, ok := d.raw.ResolveDict(ref); ok {
			if s, ok := d.raw.Resolve(group.KV["Name"]).(raw.StringObj); ok {
				layer.Name = string(s.Value())
			}
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

func (d *Document) dictObject(ref raw.ObjectRef) (*raw.DictObj, error) {
	if d.closed {
		return nil, ErrClosed
	}
	obj, err := d.lookup(ref)
	if err != nil {
		return nil, err
	}
	switch v := obj.(type) {
	case *raw.DictObj:
		return v, nil
	case *raw.StreamObj:
		return v.Dict, nil
	}
	return nil, fmt.Errorf("object %s is a %s, not a dictionary", ref, obj.Type())
}
