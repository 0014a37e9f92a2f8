package writer

import (
	"context"
	"io"

	"github.com/wudi/layersplit/ir/raw"
)

type PDFVersion string

// PDF17 is written when neither the config nor the document names a version.
const PDF17 PDFVersion = "1.7"

// Config controls serialization. The zero value writes the document's own
// version, leaves stream data untouched and generates a random file ID.
type Config struct {
	// Version overrides the header version. Empty keeps the document's.
	Version PDFVersion
	// Compression is the Flate level applied to streams that carry no
	// /Filter. Zero leaves such streams uncompressed.
	Compression int
	// Deterministic derives /ID from the written bytes so identical input
	// produces identical output.
	Deterministic bool
}

type Writer interface {
	Write(ctx context.Context, doc *raw.Document, w io.Writer, cfg Config) error
	SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error)
}

// NewWriter returns the default writer.
func NewWriter() Writer { return &impl{} }
