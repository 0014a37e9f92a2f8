// Package layers rebuilds a page's optional content properties so they list
// only the layers that page's resources mention.
package layers

import (
	"strings"

	"github.com/wudi/layersplit/document"
	"github.com/wudi/layersplit/ir/raw"
	"github.com/wudi/layersplit/writer"
)

// DefaultConfigName is the /Name of the rebuilt default configuration.
const DefaultConfigName = "Default"

// Match returns the layers whose reference token ("N G R") occurs anywhere in
// listing, in the order given. The test is plain substring containment, so
// "12 0 R" also matches inside "112 0 R".
func Match(listing string, all []document.Layer) []document.Layer {
	var used []document.Layer
	for _, l := range all {
		if strings.Contains(listing, l.Ref.String()) {
			used = append(used, l)
		}
	}
	return used
}

// Directive is the /OCProperties value written to an output file.
type Directive struct {
	Refs []raw.ObjectRef
}

// NewDirective lists the given layers as both the member set and the
// default order.
func NewDirective(used []document.Layer) Directive {
	refs := make([]raw.ObjectRef, len(used))
	for i, l := range used {
		refs[i] = l.Ref
	}
	return Directive{Refs: refs}
}

// Object builds << /OCGs [..] /D << /Order [..] /Name (Default) >> >>.
func (d Directive) Object() *raw.DictObj {
	config := raw.Dict()
	config.Set("Order", d.array())
	config.Set("Name", raw.Str([]byte(DefaultConfigName)))

	props := raw.Dict()
	props.Set("OCGs", d.array())
	props.Set("D", config)
	return props
}

func (d Directive) String() string { return writer.Value(d.Object()) }

func (d Directive) array() *raw.ArrayObj {
	arr := raw.NewArray()
	for _, ref := range d.Refs {
		arr.Append(raw.Ref(ref.Num, ref.Gen))
	}
	return arr
}

// FormatRefs renders refs as an array literal, e.g. "[3 0 R 7 0 R]".
func FormatRefs(refs []raw.ObjectRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Prune rewrites the catalog's /OCProperties for page. The directive is
// written even when no layer matches. It returns the layers kept.
func Prune(doc *document.Document, page document.Page) ([]document.Layer, error) {
	all, err := doc.Layers()
	if err != nil {
		return nil, err
	}
	listing, err := doc.ResourceListing(page)
	if err != nil {
		return nil, err
	}
	used := Match(listing, all)
	if err := doc.SetCatalogKey("OCProperties", NewDirective(used).Object()); err != nil {
		return nil, err
	}
	return used, nil
}
