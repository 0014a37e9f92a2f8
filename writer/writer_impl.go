package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/layersplit/ir/raw"
)

type impl struct{}

func (w *impl) SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	return w.serializeObject(ref, obj, Config{})
}

func (w *impl) serializeObject(ref raw.ObjectRef, obj raw.Object, cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	switch o := obj.(type) {
	case *raw.StreamObj:
		dict, data, err := prepareStream(o, cfg)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", ref, err)
		}
		buf.Write(AppendValue(nil, dict))
		buf.WriteString("\nstream\n")
		buf.Write(data)
		buf.WriteString("\nendstream\n")
	case nil:
		buf.WriteString("null\n")
	default:
		buf.Write(AppendValue(nil, o))
		buf.WriteByte('\n')
	}
	buf.WriteString("endobj\n")
	return buf.Bytes(), nil
}

// Write serializes every object in doc in ascending object number order
// followed by a classic xref table and trailer. Numbers missing from the
// object table are written as free entries.
func (w *impl) Write(ctx context.Context, doc *raw.Document, out io.Writer, cfg Config) error {
	root, ok := doc.RootRef()
	if !ok {
		return errors.New("document has no /Root")
	}
	if _, ok := doc.Lookup(root); !ok {
		return fmt.Errorf("catalog %s not in object table", root)
	}

	// One generation per number; Refs sorts higher generations last.
	byNum := make(map[int]raw.ObjectRef)
	maxNum := 0
	for _, ref := range doc.Refs() {
		if ref.Num <= 0 {
			continue
		}
		byNum[ref.Num] = ref
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", pdfVersion(doc, cfg))
	offsets := make(map[int]int64, len(byNum))
	for num := 1; num <= maxNum; num++ {
		ref, ok := byNum[num]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		serialized, err := w.serializeObject(ref, doc.Objects[ref], cfg)
		if err != nil {
			return err
		}
		offsets[num] = int64(buf.Len())
		buf.Write(serialized)
	}

	xrefOffset := buf.Len()
	ids := fileID(buf.Bytes(), cfg)
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= maxNum; num++ {
		if off, ok := offsets[num]; ok {
			fmt.Fprintf(&buf, "%010d %05d n \n", off, byNum[num].Gen)
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}

	var info *raw.ObjectRef
	if ref, ok := doc.Trailer.GetRef("Info"); ok {
		if _, present := doc.Lookup(ref); present {
			info = &ref
		}
	}
	trailer := buildTrailer(maxNum+1, root, info, ids)
	buf.WriteString("trailer\n")
	buf.Write(AppendValue(nil, trailer))
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	_, err := out.Write(buf.Bytes())
	return err
}
