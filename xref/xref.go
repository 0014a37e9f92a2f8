package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/wudi/layersplit/filters"
	"github.com/wudi/layersplit/ir/raw"
	"github.com/wudi/layersplit/recovery"
	"github.com/wudi/layersplit/scanner"
)

// ErrNotFound reports a startxref or xref section that could not be located.
var ErrNotFound = errors.New("xref not found")

// Table maps object numbers to their location in the file.
type Table interface {
	// Lookup returns the byte offset of an uncompressed, in-use object.
	Lookup(objNum int) (offset int64, gen int, found bool)
	// ObjStream returns the object stream and index holding a compressed object.
	ObjStream(objNum int) (streamNum int, idx int, found bool)
	// Objects lists the in-use object numbers, compressed ones included.
	Objects() []int
	Trailer() *raw.DictObj
	Type() string
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, r io.ReaderAt) (Table, error)
	// Incremental returns the sections read by the last Resolve, newest first.
	Incremental() []Table
	// Repair rebuilds a table by scanning the file for object headers.
	Repair(ctx context.Context, r io.ReaderAt) (Table, error)
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Scanner      scanner.Config
	Filters      filters.Limits
}

const defaultMaxXRefDepth = 50

func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = defaultMaxXRefDepth
	}
	cfg.Scanner.Recovery = cfg.Recovery
	return &resolver{cfg: cfg}
}

type resolver struct {
	cfg      ResolverConfig
	sections []Table
}

type entryKind int

const (
	entryFree entryKind = iota
	entryInUse
	entryCompressed
)

type entry struct {
	kind   entryKind
	offset int64
	gen    int
	stream int
	index  int
}

type table struct {
	entries map[int]entry
	trailer *raw.DictObj
	kind    string
}

func newTable(kind string) *table {
	return &table{entries: make(map[int]entry), kind: kind}
}

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.kind != entryInUse {
		return 0, 0, false
	}
	return e.offset, e.gen, true
}

func (t *table) ObjStream(objNum int) (int, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.kind != entryCompressed {
		return 0, 0, false
	}
	return e.stream, e.index, true
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.kind != entryFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *table) Trailer() *raw.DictObj { return t.trailer }
func (t *table) Type() string          { return t.kind }

// mergeOlder adds entries and trailer keys from an older section without
// overriding anything already present.
func (t *table) mergeOlder(old *table) {
	for num, e := range old.entries {
		if _, ok := t.entries[num]; !ok {
			t.entries[num] = e
		}
	}
	if old.trailer == nil {
		return
	}
	if t.trailer == nil {
		t.trailer = raw.Dict()
	}
	for _, k := range old.trailer.Keys() {
		if _, ok := t.trailer.Get(k); !ok {
			v, _ := old.trailer.Get(k)
			t.trailer.Set(k, v)
		}
	}
}

func (r *resolver) Incremental() []Table { return r.sections }

// Resolve follows startxref through every Prev section. When the chain is
// unusable and the recovery strategy allows it, the table is rebuilt by Repair.
func (r *resolver) Resolve(ctx context.Context, rd io.ReaderAt) (Table, error) {
	r.sections = nil
	data := readAll(rd)
	t, err := r.resolveChain(ctx, data)
	if err == nil {
		return t, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !r.allowRepair(err) {
		return nil, err
	}
	repaired, rerr := r.repair(ctx, data)
	if rerr != nil {
		return nil, fmt.Errorf("%w (repair: %v)", err, rerr)
	}
	return repaired, nil
}

func (r *resolver) allowRepair(err error) bool {
	if r.cfg.Recovery == nil {
		return false
	}
	switch r.cfg.Recovery.OnError(nil, err, recovery.Location{Component: "xref"}) {
	case recovery.ActionFix, recovery.ActionSkip:
		return true
	}
	return false
}

func (r *resolver) resolveChain(ctx context.Context, data []byte) (*table, error) {
	offset, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	merged := newTable("table")
	visited := make(map[int64]bool)
	for depth := 0; offset >= 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= r.cfg.MaxXRefDepth {
			return nil, fmt.Errorf("xref chain exceeds %d sections", r.cfg.MaxXRefDepth)
		}
		if visited[offset] {
			return nil, fmt.Errorf("xref chain loops at offset %d", offset)
		}
		visited[offset] = true

		section, err := r.readSection(ctx, data, offset)
		if err != nil {
			return nil, err
		}
		r.sections = append(r.sections, section)
		if depth == 0 {
			merged.kind = section.kind
		}
		merged.mergeOlder(section)

		offset = -1
		if prev, ok := section.trailer.GetInt("Prev"); ok {
			offset = prev
		}
	}
	if _, ok := merged.trailer.GetRef("Root"); !ok {
		return nil, errors.New("trailer has no /Root")
	}
	if size, ok := merged.trailer.GetInt("Size"); ok {
		for num, e := range merged.entries {
			if e.kind != entryFree && int64(num) >= size {
				return nil, fmt.Errorf("xref entry %d beyond trailer /Size %d", num, size)
			}
		}
	}
	for _, k := range []string{"Prev", "XRefStm"} {
		merged.trailer.Delete(k)
	}
	return merged, nil
}

// readSection parses one xref section: a classic table (with an optional
// hybrid XRefStm) or a cross-reference stream.
func (r *resolver) readSection(ctx context.Context, data []byte, offset int64) (*table, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, fmt.Errorf("%w: offset %d out of range", ErrNotFound, offset)
	}
	s := scanner.New(bytes.NewReader(data), r.cfg.Scanner)
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	or := scanner.NewObjectReader(s, r.cfg.Recovery)
	tok, err := or.Next()
	if err != nil {
		return nil, fmt.Errorf("%w at offset %d: %v", ErrNotFound, offset, err)
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		t, err := readClassic(or)
		if err != nil {
			return nil, err
		}
		if stmOff, ok := t.trailer.GetInt("XRefStm"); ok {
			hybrid, err := r.readStreamSection(ctx, data, stmOff)
			if err != nil {
				return nil, fmt.Errorf("hybrid XRefStm: %w", err)
			}
			for num, e := range hybrid.entries {
				if cur, ok := t.entries[num]; !ok || cur.kind == entryFree {
					t.entries[num] = e
				}
			}
		}
		return t, nil
	}
	if tok.Type == scanner.TokenNumber {
		return r.readStreamSection(ctx, data, offset)
	}
	return nil, fmt.Errorf("%w: no xref keyword or stream at offset %d", ErrNotFound, offset)
}

func readClassic(or *scanner.ObjectReader) (*table, error) {
	t := newTable("table")
	for {
		tok, err := or.Next()
		if err != nil {
			return nil, fmt.Errorf("unexpected end of xref section: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := or.ReadObject()
			if err != nil {
				return nil, fmt.Errorf("trailer: %w", err)
			}
			dict, ok := obj.(*raw.DictObj)
			if !ok {
				return nil, errors.New("trailer is not a dictionary")
			}
			t.trailer = dict
			return t, nil
		}
		countTok, err := or.Next()
		if err != nil {
			return nil, err
		}
		if !isUint(tok) || !isUint(countTok) {
			return nil, fmt.Errorf("invalid xref subsection header at offset %d", tok.Pos)
		}
		start, count := int(tok.Int), int(countTok.Int)
		for i := 0; i < count; i++ {
			off, err := or.Next()
			if err != nil {
				return nil, fmt.Errorf("unexpected end of xref section: %w", err)
			}
			gen, err := or.Next()
			if err != nil {
				return nil, fmt.Errorf("unexpected end of xref section: %w", err)
			}
			kind, err := or.Next()
			if err != nil {
				return nil, fmt.Errorf("unexpected end of xref section: %w", err)
			}
			if !isUint(off) || !isUint(gen) || kind.Type != scanner.TokenKeyword || (kind.Str != "n" && kind.Str != "f") {
				return nil, fmt.Errorf("invalid xref entry for object %d", start+i)
			}
			num := start + i
			if kind.Str == "f" {
				t.entries[num] = entry{kind: entryFree, gen: int(gen.Int)}
				continue
			}
			t.entries[num] = entry{kind: entryInUse, offset: off.Int, gen: int(gen.Int)}
		}
	}
}

func isUint(tok scanner.Token) bool {
	return tok.Type == scanner.TokenNumber && tok.IsInt && tok.Int >= 0
}

func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, fmt.Errorf("%w: startxref missing", ErrNotFound)
	}
	rest := bytes.TrimLeft(data[idx+len("startxref"):], " \t\r\n\f\x00")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	off, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse startxref: %v", ErrNotFound, err)
	}
	return off, nil
}

func readAll(r io.ReaderAt) []byte {
	var buf bytes.Buffer
	const chunk = int64(32 * 1024)
	for off := int64(0); ; off += chunk {
		tmp := make([]byte, chunk)
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil {
			break
		}
		if int64(n) < chunk {
			break
		}
	}
	return buf.Bytes()
}
