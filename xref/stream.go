package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/wudi/layersplit/filters"
	"github.com/wudi/layersplit/ir/raw"
	"github.com/wudi/layersplit/scanner"
)

// readStreamSection parses a cross-reference stream (PDF 1.5+) at offset.
func (r *resolver) readStreamSection(ctx context.Context, data []byte, offset int64) (*table, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, fmt.Errorf("%w: xref stream offset %d out of range", ErrNotFound, offset)
	}
	s := scanner.New(bytes.NewReader(data), r.cfg.Scanner)
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	or := scanner.NewObjectReader(s, r.cfg.Recovery)
	ref, obj, err := or.ReadIndirect(nil)
	if err != nil {
		return nil, fmt.Errorf("xref stream at offset %d: %w", offset, err)
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("object %s at offset %d is not a stream", ref, offset)
	}
	if typ, _ := st.Dict.GetName("Type"); typ != "XRef" {
		return nil, fmt.Errorf("object %s at offset %d is not an xref stream", ref, offset)
	}
	return decodeXRefStream(ctx, st, r.cfg.Filters)
}

func decodeXRefStream(ctx context.Context, st *raw.StreamObj, limits filters.Limits) (*table, error) {
	dict := st.Dict
	w, err := intArray(dict, "W")
	if err != nil {
		return nil, err
	}
	if len(w) != 3 {
		return nil, fmt.Errorf("xref stream /W must have 3 entries, got %d", len(w))
	}
	rowLen := 0
	for _, v := range w {
		if v < 0 || v > 8 {
			return nil, fmt.Errorf("invalid xref stream field width %d", v)
		}
		rowLen += v
	}
	if rowLen == 0 {
		return nil, errors.New("xref stream row width is zero")
	}

	size, _ := dict.GetInt("Size")
	index := []int{0, int(size)}
	if _, ok := dict.Get("Index"); ok {
		if index, err = intArray(dict, "Index"); err != nil {
			return nil, err
		}
		if len(index)%2 != 0 {
			return nil, errors.New("xref stream /Index has odd length")
		}
	}

	payload := st.Data
	if names, params := filters.ExtractFilters(dict); len(names) > 0 {
		payload, err = filters.NewStandardPipeline(limits).Decode(ctx, payload, names, params)
		if err != nil {
			return nil, fmt.Errorf("decode xref stream: %w", err)
		}
	}

	t := newTable("xref-stream")
	t.trailer = dict
	pos := 0
	for i := 0; i < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+rowLen > len(payload) {
				return nil, fmt.Errorf("xref stream truncated at object %d", start+j)
			}
			row := payload[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1)
			if w[0] > 0 {
				typ = field(row[:w[0]])
			}
			f2 := field(row[w[0] : w[0]+w[1]])
			f3 := field(row[w[0]+w[1]:])
			num := start + j
			switch typ {
			case 0:
				t.entries[num] = entry{kind: entryFree, gen: int(f3)}
			case 1:
				t.entries[num] = entry{kind: entryInUse, offset: f2, gen: int(f3)}
			case 2:
				t.entries[num] = entry{kind: entryCompressed, stream: int(f2), index: int(f3)}
			default:
				// Unknown types are reserved and read as null references.
			}
		}
	}
	return t, nil
}

func field(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func intArray(dict *raw.DictObj, key string) ([]int, error) {
	obj, ok := dict.Get(key)
	if !ok {
		return nil, fmt.Errorf("xref stream missing /%s", key)
	}
	arr, ok := obj.(*raw.ArrayObj)
	if !ok {
		return nil, fmt.Errorf("xref stream /%s is not an array", key)
	}
	out := make([]int, 0, arr.Len())
	for _, it := range arr.Items {
		n, ok := it.(raw.NumberObj)
		if !ok || !n.IsInteger() || n.Int() < 0 {
			return nil, fmt.Errorf("xref stream /%s holds a non-integer", key)
		}
		out = append(out, int(n.Int()))
	}
	return out, nil
}
