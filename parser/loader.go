package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/wudi/layersplit/ir/raw"
	"github.com/wudi/layersplit/recovery"
	"github.com/wudi/layersplit/scanner"
	"github.com/wudi/layersplit/security"
	"github.com/wudi/layersplit/xref"
)

type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
	LoadIndirect(ctx context.Context, ref raw.ObjectRef, depth int) (raw.Object, error)
}

// RepairFunc rebuilds an xref table when an object cannot be found where
// the original table says it is.
type RepairFunc func(ctx context.Context) (xref.Table, error)

type ObjectLoaderBuilder struct {
	reader    io.ReaderAt
	xrefTable xref.Table
	maxDepth  int
	limits    security.Limits
	recovery  recovery.Strategy
	repair    RepairFunc
}

func (b *ObjectLoaderBuilder) WithXRef(table xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithReader(r io.ReaderAt) *ObjectLoaderBuilder {
	b.reader = r
	return b
}
func (b *ObjectLoaderBuilder) WithLimits(l security.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}
func (b *ObjectLoaderBuilder) WithRecovery(r recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = r
	return b
}
func (b *ObjectLoaderBuilder) WithRepair(fn RepairFunc) *ObjectLoaderBuilder {
	b.repair = fn
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.reader == nil || b.xrefTable == nil {
		return nil, errors.New("reader and xrefTable required")
	}
	limits := b.limits
	if limits == (security.Limits{}) {
		limits = security.DefaultLimits()
	}
	maxDepth := b.maxDepth
	if maxDepth == 0 {
		maxDepth = limits.MaxIndirectDepth
	}
	return &objectLoader{
		reader:    b.reader,
		xrefTable: b.xrefTable,
		maxDepth:  maxDepth,
		limits:    limits,
		recovery:  b.recovery,
		repair:    b.repair,
		objstm:    make(map[int]map[int]raw.Object),
	}, nil
}

type objectLoader struct {
	reader    io.ReaderAt
	xrefTable xref.Table
	scanner   scanner.Scanner
	maxDepth  int
	limits    security.Limits
	recovery  recovery.Strategy
	repair    RepairFunc
	repaired  xref.Table
	mu        sync.Mutex
	objstm    map[int]map[int]raw.Object
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	return o.loadOnce(ctx, ref)
}

func (o *objectLoader) LoadIndirect(ctx context.Context, ref raw.ObjectRef, depth int) (raw.Object, error) {
	if depth > o.maxDepth {
		return nil, errors.New("max depth exceeded")
	}
	return o.Load(ctx, ref)
}

func (o *objectLoader) loadOnce(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	obj, err := o.loadFrom(ctx, o.xrefTable, ref)
	if err == nil || o.repair == nil || !o.shouldRepair(ref, err) {
		return obj, err
	}
	if o.repaired == nil {
		table, rerr := o.repair(ctx)
		if rerr != nil {
			return nil, fmt.Errorf("%w (repair: %v)", err, rerr)
		}
		o.repaired = table
		o.objstm = make(map[int]map[int]raw.Object)
	}
	return o.loadFrom(ctx, o.repaired, ref)
}

func (o *objectLoader) shouldRepair(ref raw.ObjectRef, err error) bool {
	if o.recovery == nil || ctxErr(err) {
		return false
	}
	loc := recovery.Location{ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "loader"}
	switch o.recovery.OnError(nil, err, loc) {
	case recovery.ActionFix, recovery.ActionSkip:
		return true
	}
	return false
}

func ctxErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// loadFrom assumes caller holds the loader mutex.
func (o *objectLoader) loadFrom(ctx context.Context, table xref.Table, ref raw.ObjectRef) (raw.Object, error) {
	if offset, gen, found := table.Lookup(ref.Num); found {
		if gen != ref.Gen {
			return nil, fmt.Errorf("object %s: xref has generation %d", ref, gen)
		}
		if o.scanner == nil {
			o.scanner = scanner.New(o.reader, o.limits.ScannerConfig(o.recovery))
		}
		return o.scanObject(ctx, o.scanner, table, ref, offset, 0)
	}
	if osNum, _, ok := table.ObjStream(ref.Num); ok {
		if ref.Gen != 0 {
			return nil, fmt.Errorf("object %s: compressed objects have generation 0", ref)
		}
		return o.loadFromObjectStream(ctx, table, ref, osNum)
	}
	return nil, fmt.Errorf("object %s not found in xref", ref)
}

func (o *objectLoader) scanObject(ctx context.Context, s scanner.Scanner, table xref.Table, ref raw.ObjectRef, offset int64, depth int) (raw.Object, error) {
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	or := scanner.NewObjectReader(s, o.recovery)
	got, obj, err := or.ReadIndirect(func(dict *raw.DictObj) int64 {
		n, lerr := o.resolveStreamLength(ctx, table, dict, depth)
		if lerr != nil {
			return -1
		}
		return n
	})
	if err != nil {
		return nil, err
	}
	if got.Num != ref.Num {
		return nil, fmt.Errorf("object header number mismatch: want %d, found %d at offset %d", ref.Num, got.Num, offset)
	}
	if got.Gen != ref.Gen {
		return nil, fmt.Errorf("object header generation mismatch: want %d, found %d at offset %d", ref.Gen, got.Gen, offset)
	}
	return obj, nil
}

func (o *objectLoader) resolveStreamLength(ctx context.Context, table xref.Table, dict *raw.DictObj, depth int) (int64, error) {
	val, ok := dict.Get("Length")
	if !ok {
		return -1, nil
	}
	switch v := val.(type) {
	case raw.NumberObj:
		return v.Int(), nil
	case raw.RefObj:
		if depth > 0 {
			return -1, errors.New("stream length reference nested too deep")
		}
		offset, gen, ok := table.Lookup(v.R.Num)
		if !ok || gen != v.R.Gen {
			return -1, fmt.Errorf("object %s missing for length reference", v.R)
		}
		// A separate scanner keeps the shared cursor where it is.
		tmp := scanner.New(o.reader, o.limits.ScannerConfig(o.recovery))
		obj, err := o.scanObject(ctx, tmp, table, v.R, offset, depth+1)
		if err != nil {
			return -1, err
		}
		if num, ok := obj.(raw.NumberObj); ok {
			return num.Int(), nil
		}
		return -1, fmt.Errorf("length reference %v is not numeric", v.R)
	}
	return -1, nil
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, table xref.Table, ref raw.ObjectRef, objStreamNum int) (raw.Object, error) {
	if objs, ok := o.objstm[objStreamNum]; ok {
		if obj, ok := objs[ref.Num]; ok {
			return obj, nil
		}
		return nil, fmt.Errorf("object %s not found in object stream %d", ref, objStreamNum)
	}
	streamObj, err := o.loadFrom(ctx, table, raw.ObjectRef{Num: objStreamNum})
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", objStreamNum, err)
	}
	st, ok := streamObj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("object stream %d is not a stream", objStreamNum)
	}
	header, body, err := xref.DecodeObjStream(ctx, st, o.limits.FilterLimits())
	if err != nil {
		return nil, err
	}
	objs := make(map[int]raw.Object, len(header))
	for _, h := range header {
		if h.Offset > len(body) {
			return nil, fmt.Errorf("object stream %d: offset %d for object %d exceeds body", objStreamNum, h.Offset, h.Num)
		}
		s := scanner.New(bytes.NewReader(body[h.Offset:]), o.limits.ScannerConfig(o.recovery))
		or := scanner.NewObjectReader(s, o.recovery)
		or.SetObject(h.Num, 0)
		obj, err := or.ReadObject()
		if err != nil {
			return nil, fmt.Errorf("object %d in object stream %d: %w", h.Num, objStreamNum, err)
		}
		if _, dup := objs[h.Num]; !dup {
			objs[h.Num] = obj
		}
	}
	o.objstm[objStreamNum] = objs
	if obj, ok := objs[ref.Num]; ok {
		return obj, nil
	}
	return nil, fmt.Errorf("object %s not found in object stream %d", ref, objStreamNum)
}
