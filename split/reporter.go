package split

import (
	"fmt"
	"io"
)

// Reporter receives the user-facing progress of a run.
type Reporter interface {
	Start(total int, input string)
	PageSaved(page int, path string, layers int)
	PageFailed(page int, err error)
	Fatal(err error)
}

// TextReporter prints one line per event. Page numbers are 1-based.
type TextReporter struct {
	W io.Writer
}

func (r TextReporter) Start(total int, input string) {
	fmt.Fprintf(r.W, "Processing %d pages from %s...\n", total, input)
}

func (r TextReporter) PageSaved(page int, path string, layers int) {
	fmt.Fprintf(r.W, "Saved Page %d to %s (%d layers)\n", page, path, layers)
}

func (r TextReporter) PageFailed(page int, err error) {
	fmt.Fprintf(r.W, "Error processing page %d: %v\n", page, err)
}

func (r TextReporter) Fatal(err error) {
	fmt.Fprintf(r.W, "Fatal Error: %v\n", err)
}

type nopReporter struct{}

func (nopReporter) Start(int, string)          {}
func (nopReporter) PageSaved(int, string, int) {}
func (nopReporter) PageFailed(int, error)      {}
func (nopReporter) Fatal(error)                {}
