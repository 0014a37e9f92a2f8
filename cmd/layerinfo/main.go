package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/wudi/layersplit/document"
	"github.com/wudi/layersplit/layers"
	"github.com/wudi/layersplit/parser"
	"github.com/wudi/layersplit/recovery"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run prints the document's layers and, per page, the layers its resources
// mention. Nothing is written to disk.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("layerinfo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stdout, "Usage: layerinfo [flags] <pdf>")
		fs.PrintDefaults()
	}
	listing := fs.Bool("listing", false, "Print each page's resource listing")
	strict := fs.Bool("strict", false, "Fail on malformed input instead of repairing it")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	var rec recovery.Strategy = recovery.NewLenientStrategy()
	if *strict {
		rec = recovery.NewStrictStrategy()
	}
	doc, err := document.Open(ctx, fs.Arg(0), document.Options{Parser: parser.Config{Recovery: rec}})
	if err != nil {
		fmt.Fprintf(stderr, "layerinfo: %v\n", err)
		return 1
	}
	defer doc.Close()

	all, err := doc.Layers()
	if err != nil {
		fmt.Fprintf(stderr, "layerinfo: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%d pages, %d layers\n", doc.PageCount(), len(all))
	for _, l := range all {
		fmt.Fprintf(stdout, "  %s %q\n", l.Ref, l.Name)
	}

	for i := 0; i < doc.PageCount(); i++ {
		page, err := doc.Page(i)
		if err != nil {
			fmt.Fprintf(stdout, "page %d: %v\n", i+1, err)
			continue
		}
		text, err := doc.ResourceListing(page)
		if err != nil {
			fmt.Fprintf(stdout, "page %d (%s): %v\n", i+1, page.Ref, err)
			continue
		}
		used := layers.NewDirective(layers.Match(text, all))
		fmt.Fprintf(stdout, "page %d (%s): %s\n", i+1, page.Ref, layers.FormatRefs(used.Refs))
		if *listing {
			fmt.Fprintf(stdout, "  %s\n", text)
		}
	}
	return 0
}
