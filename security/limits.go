package security

import (
	"time"

	"github.com/wudi/layersplit/filters"
	"github.com/wudi/layersplit/recovery"
	"github.com/wudi/layersplit/scanner"
)

// Limits defines the resource boundaries applied while reading a source PDF.
// They bound what a hostile file can cost (deflate bombs, deep nesting,
// endless Prev chains) before a page is abandoned.
type Limits struct {
	// Maximum decompressed stream size. Default: 100 MB.
	MaxDecompressedSize int64

	// Maximum indirect reference chain followed while resolving. Default: 100.
	MaxIndirectDepth int

	// Maximum xref sections followed through Prev entries. Default: 50.
	MaxXRefDepth int

	// Maximum page tree nesting. Default: 64.
	MaxPageTreeDepth int

	// Maximum array and dictionary nesting. Default: 256.
	MaxNestingDepth int

	// Maximum name length in bytes. Default: 1024.
	MaxNameLength int

	// Maximum string length (bytes). Default: 10 MB.
	MaxStringLength int64

	// Maximum raw stream length (bytes). Default: 50 MB.
	MaxStreamLength int64

	// Maximum decode time per stream. Default: 30s.
	MaxDecodeTime time.Duration

	// Maximum total parse time. Default: 5m.
	MaxParseTime time.Duration
}

// DefaultLimits returns a Limits struct with safe default values.
func DefaultLimits() Limits {
	return Limits{
		MaxDecompressedSize: 100 * 1024 * 1024, // 100 MB
		MaxIndirectDepth:    100,
		MaxXRefDepth:        50,
		MaxPageTreeDepth:    64,
		MaxNestingDepth:     256,
		MaxNameLength:       1024,
		MaxStringLength:     10 * 1024 * 1024, // 10 MB
		MaxStreamLength:     50 * 1024 * 1024, // 50 MB
		MaxDecodeTime:       30 * time.Second,
		MaxParseTime:        5 * time.Minute,
	}
}

// ScannerConfig maps the limits onto tokenizer settings.
func (l Limits) ScannerConfig(rec recovery.Strategy) scanner.Config {
	return scanner.Config{
		MaxNameLength:   l.MaxNameLength,
		MaxStringLength: l.MaxStringLength,
		MaxArrayDepth:   l.MaxNestingDepth,
		MaxDictDepth:    l.MaxNestingDepth,
		MaxStreamLength: l.MaxStreamLength,
		MaxStreamScan:   l.MaxStreamLength,
		Recovery:        rec,
	}
}

// FilterLimits maps the limits onto stream decoding settings.
func (l Limits) FilterLimits() filters.Limits {
	return filters.Limits{
		MaxDecompressedSize: l.MaxDecompressedSize,
		MaxDecodeTime:       l.MaxDecodeTime,
	}
}
