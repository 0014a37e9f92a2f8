package parser

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/wudi/layersplit/internal/pdftest"
)

func BenchmarkParseManyPages(b *testing.B) {
	const pages = 200
	pb := pdftest.New("1.7")
	pb.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	pb.Object(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages))
	for i := 0; i < pages; i++ {
		pb.Object(3+i, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}
	data := pb.Finish("/Root 1 0 R")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := NewDocumentParser(Config{})
		if _, err := p.Parse(context.Background(), bytes.NewReader(data)); err != nil {
			b.Fatalf("parse failed: %v", err)
		}
	}
}
