package raw

import (
	"fmt"
	"sort"
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

// String renders the reference the way it appears in a PDF body ("12 0 R").
func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
	IsIndirect() bool
}

// Document is the root container for raw PDF objects.
type Document struct {
	Objects map[ObjectRef]Object
	// Unreadable holds objects the xref lists but that failed to load.
	Unreadable map[ObjectRef]error
	Trailer    *DictObj
	Version    string // e.g., "1.7"
}

// NewDocument returns an empty document with an allocated object table.
func NewDocument() *Document {
	return &Document{Objects: make(map[ObjectRef]Object), Unreadable: make(map[ObjectRef]error), Trailer: Dict()}
}

// Lookup returns the object stored under ref.
func (d *Document) Lookup(ref ObjectRef) (Object, bool) {
	obj, ok := d.Objects[ref]
	return obj, ok
}

// Resolve follows indirect references until a direct object is reached.
// Missing targets resolve to NullObj, matching PDF semantics for dangling references.
func (d *Document) Resolve(obj Object) Object {
	for depth := 0; depth < maxResolveDepth; depth++ {
		ref, ok := obj.(RefObj)
		if !ok {
			return obj
		}
		target, ok := d.Objects[ref.R]
		if !ok {
			return NullObj{}
		}
		obj = target
	}
	return NullObj{}
}

// ResolveDict resolves obj and returns it when it is a dictionary (or a stream dictionary).
func (d *Document) ResolveDict(obj Object) (*DictObj, bool) {
	switch v := d.Resolve(obj).(type) {
	case *DictObj:
		return v, true
	case *StreamObj:
		return v.Dict, v.Dict != nil
	}
	return nil, false
}

// ResolveArray resolves obj and returns it when it is an array.
func (d *Document) ResolveArray(obj Object) (*ArrayObj, bool) {
	arr, ok := d.Resolve(obj).(*ArrayObj)
	return arr, ok
}

// Refs returns the object references in ascending order.
func (d *Document) Refs() []ObjectRef {
	refs := make([]ObjectRef, 0, len(d.Objects))
	for ref := range d.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Num != refs[j].Num {
			return refs[i].Num < refs[j].Num
		}
		return refs[i].Gen < refs[j].Gen
	})
	return refs
}

// RootRef returns the catalog reference named by the trailer.
func (d *Document) RootRef() (ObjectRef, bool) {
	if d.Trailer == nil {
		return ObjectRef{}, false
	}
	return d.Trailer.GetRef("Root")
}

const maxResolveDepth = 32
