package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/wudi/layersplit/document"
	"github.com/wudi/layersplit/observability"
	"github.com/wudi/layersplit/parser"
	"github.com/wudi/layersplit/recovery"
	"github.com/wudi/layersplit/split"
	"github.com/wudi/layersplit/writer"
)

const usageLine = "Usage: layersplit [flags] <input_pdf> <output_directory>"

type options struct {
	input         string
	outDir        string
	manifest      string
	metrics       string
	logLevel      string
	logFormat     string
	compress      bool
	deterministic bool
	strict        bool
}

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stdout, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("layersplit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stdout, usageLine)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.manifest, "manifest", "", "Write a JSON manifest of the run to this path")
	fs.StringVar(&opts.metrics, "metrics", "", "Write Prometheus metrics in textfile format to this path")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "Diagnostic log level: debug, info, warn, error")
	fs.StringVar(&opts.logFormat, "log-format", "console", "Diagnostic log format: console or json")
	fs.BoolVar(&opts.compress, "compress", false, "Flate-compress unfiltered streams in the output")
	fs.BoolVar(&opts.deterministic, "deterministic", false, "Derive file IDs from content so reruns are byte-identical")
	fs.BoolVar(&opts.strict, "strict", false, "Fail on malformed input instead of repairing it")
	if err := fs.Parse(args); err != nil {
		return options{}, errUsage
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return options{}, errUsage
	}
	opts.input = fs.Arg(0)
	opts.outDir = fs.Arg(1)
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stdout, stderr)
	if err != nil {
		return 2
	}
	logger, err := observability.NewZerologLogger(observability.LogConfig{
		Level:  opts.logLevel,
		Format: opts.logFormat,
		Output: stderr,
	})
	if err != nil {
		fmt.Fprintf(stderr, "layersplit: %v\n", err)
		return 2
	}

	var rec recovery.Strategy = recovery.NewLenientStrategy().WithLogger(logger)
	if opts.strict {
		rec = recovery.NewStrictStrategy()
	}
	wcfg := writer.Config{Deterministic: opts.deterministic}
	if opts.compress {
		wcfg.Compression = 9
	}
	metrics := observability.NewMetrics()

	s := split.New(split.Config{
		Input:     opts.input,
		OutputDir: opts.outDir,
		Document: document.Options{
			Parser: parser.Config{Recovery: rec},
			Writer: wcfg,
		},
	},
		split.WithReporter(split.TextReporter{W: stdout}),
		split.WithLogger(logger),
		split.WithMetrics(metrics),
	)

	res, runErr := s.Run(ctx)
	if res == nil {
		return 1
	}
	code := 0
	if runErr != nil {
		fmt.Fprintf(stderr, "layersplit: %v\n", runErr)
		code = 1
	}
	if opts.manifest != "" {
		if err := split.WriteManifest(opts.manifest, res); err != nil {
			fmt.Fprintf(stderr, "layersplit: manifest: %v\n", err)
			code = 1
		}
	}
	if opts.metrics != "" {
		if err := metrics.WriteTextfile(opts.metrics); err != nil {
			fmt.Fprintf(stderr, "layersplit: metrics: %v\n", err)
			code = 1
		}
	}
	return code
}
