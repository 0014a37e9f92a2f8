// Package pdftest builds small PDF files in memory with correct xref offsets.
package pdftest

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// Builder appends objects to a PDF body and records their offsets.
type Builder struct {
	buf     bytes.Buffer
	offsets map[int]int64
	order   []int
}

// New starts a file with a %PDF header and a binary marker comment.
func New(version string) *Builder {
	b := &Builder{offsets: make(map[int]int64)}
	fmt.Fprintf(&b.buf, "%%PDF-%s\n%%\xe2\xe3\xcf\xd3\n", version)
	return b
}

func (b *Builder) record(num int) {
	if _, ok := b.offsets[num]; !ok {
		b.order = append(b.order, num)
	}
	b.offsets[num] = int64(b.buf.Len())
}

// Object writes "num 0 obj body endobj".
func (b *Builder) Object(num int, body string) *Builder {
	b.record(num)
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
	return b
}

// Stream writes a stream object. dict holds the entries besides /Length.
func (b *Builder) Stream(num int, dict string, data []byte) *Builder {
	b.record(num)
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< %s /Length %d >>\nstream\n", num, dict, len(data))
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
	return b
}

// Raw appends bytes verbatim.
func (b *Builder) Raw(s string) *Builder {
	b.buf.WriteString(s)
	return b
}

// Offset returns where object num was last written.
func (b *Builder) Offset(num int) int64 { return b.offsets[num] }

// Len returns the current file length.
func (b *Builder) Len() int64 { return int64(b.buf.Len()) }

// Objects returns the object numbers written so far, ascending.
func (b *Builder) Objects() []int {
	nums := append([]int(nil), b.order...)
	sort.Ints(nums)
	return nums
}

// XRefTable writes a classic xref section listing nums (object 0 is always
// free), the trailer entries and startxref. It returns the section offset.
func (b *Builder) XRefTable(nums []int, trailer string) int64 {
	start := b.Len()
	b.buf.WriteString("xref\n0 1\n0000000000 65535 f \n")
	for _, n := range nums {
		if n == 0 {
			continue
		}
		fmt.Fprintf(&b.buf, "%d 1\n%010d 00000 n \n", n, b.offsets[n])
	}
	fmt.Fprintf(&b.buf, "trailer\n<< %s >>\nstartxref\n%d\n%%%%EOF\n", trailer, start)
	return start
}

// Finish writes a single xref table over every object and a trailer with
// /Size and the given extra entries.
func (b *Builder) Finish(trailer string) []byte {
	nums := b.Objects()
	size := 1
	if len(nums) > 0 {
		size = nums[len(nums)-1] + 1
	}
	b.XRefTable(nums, fmt.Sprintf("/Size %d %s", size, trailer))
	return b.Bytes()
}

// Compressed locates an object inside an object stream.
type Compressed struct {
	Stream int
	Index  int
}

// ObjStm writes an object stream holding the given bodies and returns where
// each object landed, for use with XRefStream.
func (b *Builder) ObjStm(num int, objs map[int]string, flate bool) map[int]Compressed {
	nums := make([]int, 0, len(objs))
	for n := range objs {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	var header, body strings.Builder
	loc := make(map[int]Compressed, len(nums))
	for i, n := range nums {
		fmt.Fprintf(&header, "%d %d ", n, body.Len())
		body.WriteString(objs[n])
		body.WriteString(" ")
		loc[n] = Compressed{Stream: num, Index: i}
	}
	data := []byte(header.String() + body.String())
	dict := fmt.Sprintf("/Type /ObjStm /N %d /First %d", len(nums), header.Len())
	if flate {
		data = Deflate(data)
		dict += " /Filter /FlateDecode"
	}
	b.Stream(num, dict, data)
	return loc
}

// XRefStream writes a cross-reference stream as object num covering every
// object written so far plus the compressed ones, then startxref.
func (b *Builder) XRefStream(num int, compressed map[int]Compressed, trailer string, flate bool) []byte {
	b.record(num)
	size := num + 1
	for _, n := range b.order {
		if n+1 > size {
			size = n + 1
		}
	}
	for n := range compressed {
		if n+1 > size {
			size = n + 1
		}
	}
	rows := make([]byte, 0, size*7)
	for n := 0; n < size; n++ {
		switch {
		case n == 0:
			rows = append(rows, 0, 0, 0, 0, 0, 0xff, 0xff)
		case compressed[n] != (Compressed{}):
			c := compressed[n]
			rows = append(rows, 2, byte(c.Stream>>24), byte(c.Stream>>16), byte(c.Stream>>8), byte(c.Stream), byte(c.Index>>8), byte(c.Index))
		default:
			if off, ok := b.offsets[n]; ok {
				rows = append(rows, 1, byte(off>>24), byte(off>>16), byte(off>>8), byte(off), 0, 0)
			} else {
				rows = append(rows, 0, 0, 0, 0, 0, 0, 0)
			}
		}
	}
	dict := fmt.Sprintf("/Type /XRef /Size %d /W [1 4 2] %s", size, trailer)
	if flate {
		rows = Deflate(rows)
		dict += " /Filter /FlateDecode"
	}
	start := b.Offset(num)
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< %s /Length %d >>\nstream\n", num, dict, len(rows))
	b.buf.Write(rows)
	fmt.Fprintf(&b.buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", start)
	return b.Bytes()
}

// Bytes returns the file built so far.
func (b *Builder) Bytes() []byte { return append([]byte(nil), b.buf.Bytes()...) }

// Deflate compresses data as a zlib stream.
func Deflate(data []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(data)
	w.Close()
	return buf.Bytes()
}
