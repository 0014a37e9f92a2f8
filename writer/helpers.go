package writer

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/wudi/layersplit/filters"
	"github.com/wudi/layersplit/ir/raw"
)

func pdfVersion(doc *raw.Document, cfg Config) string {
	if cfg.Version != "" {
		return string(cfg.Version)
	}
	if doc.Version != "" {
		return doc.Version
	}
	return string(PDF17)
}

// fileID returns the two /ID strings. Deterministic IDs hash the body that
// precedes the xref table.
func fileID(body []byte, cfg Config) [2][]byte {
	sum := xxh3.Hash128(body).Bytes()
	seed := sum[:]
	if cfg.Deterministic {
		return [2][]byte{seed, seed}
	}
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		id = seed
	}
	idB := make([]byte, len(id))
	copy(idB, id)
	return [2][]byte{id, idB}
}

// prepareStream returns the dictionary and payload to write for st, with
// /Length matching the payload. The source stream is not modified.
func prepareStream(st *raw.StreamObj, cfg Config) (*raw.DictObj, []byte, error) {
	dict := cloneDict(st.Dict)
	data := st.Data
	if _, filtered := dict.Get("Filter"); !filtered && cfg.Compression != 0 && len(data) > 0 {
		enc, err := filters.FlateEncode(data, cfg.Compression)
		if err != nil {
			return nil, nil, fmt.Errorf("compress stream: %w", err)
		}
		data = enc
		dict.Set("Filter", raw.NameLiteral("FlateDecode"))
		dict.Delete("DecodeParms")
	}
	dict.Set("Length", raw.NumberInt(int64(len(data))))
	return dict, data, nil
}

func cloneDict(d *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	if d == nil {
		return out
	}
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		out.Set(k, v)
	}
	return out
}

func buildTrailer(size int, root raw.ObjectRef, info *raw.ObjectRef, ids [2][]byte) *raw.DictObj {
	trailer := raw.Dict()
	trailer.Set("Size", raw.NumberInt(int64(size)))
	trailer.Set("Root", raw.Ref(root.Num, root.Gen))
	if info != nil {
		trailer.Set("Info", raw.Ref(info.Num, info.Gen))
	}
	trailer.Set("ID", raw.NewArray(raw.HexStr(ids[0]), raw.HexStr(ids[1])))
	return trailer
}

// AppendValue appends the PDF syntax for a direct object. Dictionaries keep
// their key order; streams are rendered as their dictionary only.
func AppendValue(b []byte, o raw.Object) []byte {
	switch v := o.(type) {
	case raw.NameObj:
		return append(b, pdfNameLiteral(v.Value())...)
	case raw.NumberObj:
		if v.IsInteger() {
			return strconv.AppendInt(b, v.Int(), 10)
		}
		return strconv.AppendFloat(b, v.Float(), 'f', -1, 64)
	case raw.BoolObj:
		return strconv.AppendBool(b, v.Value())
	case raw.NullObj:
		return append(b, "null"...)
	case raw.StringObj:
		if v.IsHex() {
			b = append(b, '<')
			b = append(b, strings.ToUpper(hex.EncodeToString(v.Value()))...)
			return append(b, '>')
		}
		return append(b, escapeLiteralString(v.Value())...)
	case *raw.ArrayObj:
		b = append(b, '[')
		for i, it := range v.Items {
			if i > 0 {
				b = append(b, ' ')
			}
			b = AppendValue(b, it)
		}
		return append(b, ']')
	case *raw.DictObj:
		b = append(b, "<<"...)
		for _, k := range v.Keys() {
			val, _ := v.Get(k)
			b = append(b, ' ')
			b = append(b, pdfNameLiteral(k)...)
			b = append(b, ' ')
			b = AppendValue(b, val)
		}
		return append(b, " >>"...)
	case *raw.StreamObj:
		return AppendValue(b, v.Dict)
	case raw.RefObj:
		return append(b, v.Ref().String()...)
	default:
		return append(b, "null"...)
	}
}

// Value renders a direct object as PDF syntax.
func Value(o raw.Object) string { return string(AppendValue(nil, o)) }

func escapeLiteralString(rawBytes []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, ch := range rawBytes {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		case '\b':
			b.WriteString("\\b")
		case '\f':
			b.WriteString("\\f")
		default:
			if ch < 0x20 || ch >= 0x80 {
				fmt.Fprintf(&b, "\\%03o", ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}

// pdfNameLiteral escapes delimiters, whitespace, '#' and non-printable bytes
// as #XX.
func pdfNameLiteral(value string) string {
	var b strings.Builder
	b.WriteByte('/')
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch > 0x20 && ch < 0x7f && !strings.ContainsRune("#()<>[]{}/%", rune(ch)) {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "#%02X", ch)
	}
	return b.String()
}
