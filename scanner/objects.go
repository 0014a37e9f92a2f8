package scanner

import (
	"errors"
	"fmt"

	"github.com/wudi/layersplit/ir/raw"
	"github.com/wudi/layersplit/recovery"
)

// ObjectReader assembles raw objects from a token stream. It keeps a small
// pushback buffer so callers can peek at the token following an object.
type ObjectReader struct {
	s   Scanner
	buf []Token
	rec recovery.Strategy
	loc recovery.Location
}

func NewObjectReader(s Scanner, rec recovery.Strategy) *ObjectReader {
	return &ObjectReader{s: s, rec: rec, loc: recovery.Location{Component: "parser"}}
}

// SetObject records the object being read so recovery reports can name it.
func (r *ObjectReader) SetObject(num, gen int) {
	r.loc.ObjectNum = num
	r.loc.ObjectGen = gen
	r.s.SetRecoveryLocation(r.loc)
}

func (r *ObjectReader) Next() (Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *ObjectReader) Unread(tok Token) { r.buf = append(r.buf, tok) }

// SeekTo repositions the underlying scanner and drops any pushed-back tokens.
func (r *ObjectReader) SeekTo(offset int64) error {
	r.buf = r.buf[:0]
	return r.s.SeekTo(offset)
}

// LengthFunc returns the payload length declared by a stream dictionary,
// or a negative value when it is unknown.
type LengthFunc func(dict *raw.DictObj) int64

// DirectLength reads /Length when it is a direct integer.
func DirectLength(dict *raw.DictObj) int64 {
	if n, ok := dict.GetInt("Length"); ok && n >= 0 {
		return n
	}
	return -1
}

// ReadIndirect reads "N G obj <object>" and, when a dictionary is followed by
// a stream keyword, the stream payload. The trailing endobj is not consumed.
func (r *ObjectReader) ReadIndirect(lengthOf LengthFunc) (raw.ObjectRef, raw.Object, error) {
	num, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	gen, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	kw, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	if num.Type != TokenNumber || !num.IsInt || gen.Type != TokenNumber || !gen.IsInt || kw.Type != TokenKeyword || kw.Str != "obj" {
		return raw.ObjectRef{}, nil, fmt.Errorf("expected object header at offset %d", num.Pos)
	}
	ref := raw.ObjectRef{Num: int(num.Int), Gen: int(gen.Int)}
	r.SetObject(ref.Num, ref.Gen)

	obj, err := r.ReadObject()
	if err != nil {
		return ref, nil, fmt.Errorf("object %s: %w", ref, err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return ref, obj, nil
	}
	if lengthOf == nil {
		lengthOf = DirectLength
	}
	r.s.SetNextStreamLength(lengthOf(dict))
	tok, err := r.Next()
	if err != nil {
		r.s.SetNextStreamLength(-1)
		return ref, dict, nil
	}
	if tok.Type == TokenStream {
		return ref, raw.NewStream(dict, tok.Bytes), nil
	}
	r.s.SetNextStreamLength(-1)
	r.Unread(tok)
	return ref, dict, nil
}

// ReadObject reads one direct object.
func (r *ObjectReader) ReadObject() (raw.Object, error) {
	tok, err := r.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case TokenNumber:
		if tok.IsInt {
			return raw.NumberObj{I: tok.Int, IsInt: true}, nil
		}
		return raw.NumberObj{F: tok.Float}, nil
	case TokenBoolean:
		return raw.BoolObj{V: tok.Bool}, nil
	case TokenNull:
		return raw.NullObj{}, nil
	case TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case TokenArray:
		return r.readArray()
	case TokenDict:
		return r.readDict()
	case TokenRef:
		return raw.RefObj{R: raw.ObjectRef{Num: int(tok.Int), Gen: tok.Gen}}, nil
	}
	if tok.Type == TokenKeyword && tok.Str == "endobj" {
		return nil, errors.New("unexpected endobj")
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", tok.Str, tok.Pos)
}

func (r *ObjectReader) readArray() (raw.Object, error) {
	arr := &raw.ArrayObj{}
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		if tok.Type == TokenKeyword && tok.Str == "endobj" {
			if err := r.recover(errors.New("unexpected endobj in array (missing ]?)"), tok.Pos); err != nil {
				return nil, err
			}
			r.Unread(tok)
			return arr, nil
		}
		r.Unread(tok)
		item, err := r.ReadObject()
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func (r *ObjectReader) readDict() (raw.Object, error) {
	d := raw.Dict()
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != TokenName {
			if tok.Type == TokenStream || (tok.Type == TokenKeyword && tok.Str == "endobj") {
				if err := r.recover(errors.New("unterminated dict (missing >>?)"), tok.Pos); err != nil {
					return nil, err
				}
				r.Unread(tok)
				return d, nil
			}
			return nil, fmt.Errorf("expected name in dict at offset %d", tok.Pos)
		}
		val, err := r.ReadObject()
		if err != nil {
			return nil, err
		}
		d.Set(tok.Str, val)
	}
}

func (r *ObjectReader) recover(err error, pos int64) error {
	if r.rec == nil {
		return err
	}
	loc := r.loc
	loc.ByteOffset = pos
	switch r.rec.OnError(nil, err, loc) {
	case recovery.ActionFix, recovery.ActionSkip, recovery.ActionWarn:
		return nil
	}
	return err
}
