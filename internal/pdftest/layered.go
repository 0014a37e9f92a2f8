package pdftest

import (
	"fmt"
	"strings"
)

// Layer is an optional content group written as object Num.
type Layer struct {
	Num  int
	Name string
}

// Page describes one page of a layered document. Page i (0-based) is object
// 20+i, its content stream 40+i and, when Indirect, its resources 60+i.
type Page struct {
	// Layers are the group object numbers listed under /Properties.
	Layers []int
	// Indirect stores /Resources as a separate object.
	Indirect bool
	// Resources, when set, is written verbatim as the /Resources value.
	Resources string
	// Body, when set with Indirect, replaces the resources object's text.
	Body string
}

const (
	pageBase      = 20
	contentBase   = 40
	resourcesBase = 60
)

// PageNum returns the object number of page i.
func PageNum(i int) int { return pageBase + i }

// Layered builds a document with a catalog (1), a flat page tree (2), the
// given optional content groups and pages.
func Layered(layers []Layer, pages []Page) []byte {
	b := New("1.7")

	refs := make([]string, len(layers))
	for i, l := range layers {
		refs[i] = fmt.Sprintf("%d 0 R", l.Num)
	}
	catalog := "<< /Type /Catalog /Pages 2 0 R"
	if len(layers) > 0 {
		list := "[" + strings.Join(refs, " ") + "]"
		catalog += fmt.Sprintf(" /OCProperties << /OCGs %s /D << /Order %s /ON %s /Name (Original) >> >>", list, list, list)
	}
	b.Object(1, catalog+" >>")

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", PageNum(i))
	}
	b.Object(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))

	for _, l := range layers {
		b.Object(l.Num, fmt.Sprintf("<< /Type /OCG /Name (%s) >>", l.Name))
	}

	for i, p := range pages {
		var props, content strings.Builder
		for j, n := range p.Layers {
			fmt.Fprintf(&props, " /OC%d %d 0 R", j, n)
			fmt.Fprintf(&content, "/OC /OC%d BDC 0 0 10 10 re f EMC\n", j)
		}
		res := p.Resources
		if res == "" {
			inline := fmt.Sprintf("<< /Properties <<%s >> >>", props.String())
			if p.Indirect {
				body := inline
				if p.Body != "" {
					body = p.Body
				}
				b.Object(resourcesBase+i, body)
				res = fmt.Sprintf("%d 0 R", resourcesBase+i)
			} else {
				res = inline
			}
		}
		b.Stream(contentBase+i, "", []byte(content.String()))
		b.Object(PageNum(i), fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources %s /Contents %d 0 R >>", res, contentBase+i))
	}
	return b.Finish("/Root 1 0 R")
}
