package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/layersplit/filters"
	"github.com/wudi/layersplit/ir/raw"
	"github.com/wudi/layersplit/scanner"
)

func (r *resolver) Repair(ctx context.Context, rd io.ReaderAt) (Table, error) {
	return r.repair(ctx, readAll(rd))
}

// repair scans the entire file to reconstruct the xref table.
// It looks for "<num> <gen> obj" patterns and "trailer" dictionaries; later
// definitions of an object win, as they would after an incremental update.
func (r *resolver) repair(ctx context.Context, data []byte) (*table, error) {
	cfg := r.cfg.Scanner
	cfg.Recovery = nil
	s := scanner.New(bytes.NewReader(data), cfg)
	or := scanner.NewObjectReader(s, nil)
	t := newTable("repaired")
	var lastTrailer, lastXRefDict *raw.DictObj
	var catalog raw.ObjectRef

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := or.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Skip past whatever the tokenizer rejected.
			if serr := or.SeekTo(s.Position() + 1); serr != nil {
				break
			}
			continue
		}

		switch {
		case tok.Type == scanner.TokenNumber && tok.IsInt:
			if err := or.SeekTo(tok.Pos); err != nil {
				return nil, err
			}
			ref, obj, err := or.ReadIndirect(nil)
			if ref.Num == 0 {
				// Not an object header; resume right after the number.
				if serr := or.SeekTo(tok.Pos); serr != nil {
					return nil, serr
				}
				if _, serr := or.Next(); serr != nil {
					break
				}
				continue
			}
			t.entries[ref.Num] = entry{kind: entryInUse, offset: tok.Pos, gen: ref.Gen}
			if err != nil {
				// The body is left for the object loader to recover.
				continue
			}
			var dict *raw.DictObj
			switch v := obj.(type) {
			case *raw.DictObj:
				dict = v
			case *raw.StreamObj:
				dict = v.Dict
				if typ, _ := dict.GetName("Type"); typ == "ObjStm" {
					r.indexObjStream(ctx, t, ref.Num, v)
				}
			}
			if dict == nil {
				continue
			}
			switch typ, _ := dict.GetName("Type"); typ {
			case "Catalog":
				catalog = ref
			case "XRef":
				lastXRefDict = dict
			}
		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			if obj, err := or.ReadObject(); err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					lastTrailer = dict
				}
			}
		}
	}

	if len(t.entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}
	switch {
	case lastTrailer != nil:
		t.trailer = lastTrailer
	case lastXRefDict != nil:
		t.trailer = lastXRefDict
	default:
		t.trailer = raw.Dict()
	}
	if _, ok := t.trailer.GetRef("Root"); !ok {
		if catalog.Num == 0 {
			return nil, errors.New("repair failed: no catalog found")
		}
		t.trailer.Set("Root", raw.RefObj{R: catalog})
	}
	max := 0
	for num := range t.entries {
		if num > max {
			max = num
		}
	}
	t.trailer.Set("Size", raw.NumberInt(int64(max+1)))
	for _, k := range []string{"Prev", "XRefStm"} {
		t.trailer.Delete(k)
	}
	return t, nil
}

// indexObjStream registers the objects held in an object stream, unless a
// top-level definition of the same number was already found.
func (r *resolver) indexObjStream(ctx context.Context, t *table, streamNum int, st *raw.StreamObj) {
	nums, err := ObjStreamNumbers(ctx, st, r.cfg.Filters)
	if err != nil {
		return
	}
	for idx, num := range nums {
		if e, ok := t.entries[num]; ok && e.kind == entryInUse {
			continue
		}
		t.entries[num] = entry{kind: entryCompressed, stream: streamNum, index: idx}
	}
}

// ObjStreamNumbers decodes an object stream header and returns the object
// numbers it holds, in index order.
func ObjStreamNumbers(ctx context.Context, st *raw.StreamObj, limits filters.Limits) ([]int, error) {
	header, _, err := DecodeObjStream(ctx, st, limits)
	if err != nil {
		return nil, err
	}
	nums := make([]int, len(header))
	for i, h := range header {
		nums[i] = h.Num
	}
	return nums, nil
}

// ObjStreamEntry is one (object number, offset) pair from an object stream header.
type ObjStreamEntry struct {
	Num    int
	Offset int
}

// DecodeObjStream returns the header pairs and the object body of an /ObjStm
// stream. Offsets are relative to the returned body.
func DecodeObjStream(ctx context.Context, st *raw.StreamObj, limits filters.Limits) ([]ObjStreamEntry, []byte, error) {
	n, _ := st.Dict.GetInt("N")
	first, _ := st.Dict.GetInt("First")
	data := st.Data
	if names, params := filters.ExtractFilters(st.Dict); len(names) > 0 {
		decoded, err := filters.NewStandardPipeline(limits).Decode(ctx, data, names, params)
		if err != nil {
			return nil, nil, fmt.Errorf("decode object stream: %w", err)
		}
		data = decoded
	}
	if n < 0 || first < 0 || first > int64(len(data)) {
		return nil, nil, fmt.Errorf("object stream /First %d exceeds length %d", first, len(data))
	}
	s := scanner.New(bytes.NewReader(data[:first]), scanner.Config{})
	header := make([]ObjStreamEntry, 0, n)
	for int64(len(header)) < n {
		numTok, err := s.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("object stream header: %w", err)
		}
		offTok, err := s.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("object stream header: %w", err)
		}
		if !isUint(numTok) || !isUint(offTok) {
			return nil, nil, errors.New("object stream header holds a non-integer")
		}
		header = append(header, ObjStreamEntry{Num: int(numTok.Int), Offset: int(offTok.Int)})
	}
	return header, data[first:], nil
}
