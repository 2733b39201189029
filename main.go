package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"sfmtransfer/sfm"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries the parsed CLI flag values. Explicit records which
// flags were set on the command line, so file-based configuration is only
// overridden where the user actually typed something.
type AppOptions struct {
	Input              string
	Reference          string
	Output             string
	ConfigFile         string
	Method             string
	FilePattern        string
	MetadataList       string
	TransferPoses      bool
	TransferIntrinsics bool
	Overview           string
	GridSpacing        float64
	Probe              bool
	RenderOverview     bool
	MQTT               bool
	Verbose            bool

	Explicit map[string]bool
}

// AppRunner is the mode surface run dispatches to; App implements it.
type AppRunner interface {
	ApplyOptions(opts AppOptions) error
	RunTransfer() error
	RunProbe() error
	RunOverview() error
}

// run parses the flags, applies them to the app, and dispatches exactly one
// mode. All user-facing output goes through out so tests can capture it.
func run(args []string, out io.Writer, app AppRunner) error {
	fs := flag.NewFlagSet("sfmtransfer", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.Input, "input", "", "Target scene file (required)")
	fs.StringVar(&opts.Reference, "reference", "", "Reference scene file to transfer data from (required)")
	fs.StringVar(&opts.Output, "output", "", "Output scene file (required in transfer mode)")
	fs.StringVar(&opts.ConfigFile, "config", "", "Path to YAML configuration preset")
	fs.StringVar(&opts.Method, "method", "from_viewid",
		"View matching method: from_viewid, from_filepath or from_metadata")
	fs.StringVar(&opts.FilePattern, "file-matching-pattern", "",
		"Regexp applied to view paths for from_filepath (empty: match base filenames)")
	fs.StringVar(&opts.MetadataList, "metadata-matching-list", strings.Join(sfm.DefaultMetadataKeys, ","),
		"Comma-separated metadata keys for from_metadata")
	fs.BoolVar(&opts.TransferPoses, "transfer-poses", true, "Transfer poses for matched views")
	fs.BoolVar(&opts.TransferIntrinsics, "transfer-intrinsics", true, "Transfer intrinsics for matched views")
	fs.StringVar(&opts.Overview, "overview", "", "Write an alignment overview (.svg or .png)")
	fs.Float64Var(&opts.GridSpacing, "grid-spacing", 1.0, "Overview grid spacing in world units")
	fs.BoolVar(&opts.Probe, "probe", false, "Summarize the input scenes and exit")
	fs.BoolVar(&opts.RenderOverview, "render-overview", false, "Match and render the overview only, no transfer")
	fs.BoolVar(&opts.MQTT, "mqtt", false, "Publish the transfer report over MQTT")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Debug logging and effective configuration dump")

	if err := fs.Parse(args); err != nil {
		return err
	}

	opts.Explicit = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { opts.Explicit[f.Name] = true })

	fmt.Fprintf(out, "sfmtransfer version: %s\n", Version)

	if err := app.ApplyOptions(opts); err != nil {
		return err
	}

	switch {
	case opts.Probe:
		return app.RunProbe()
	case opts.RenderOverview:
		return app.RunOverview()
	default:
		return app.RunTransfer()
	}
}

func main() {
	// A .env file is optional; the real environment always wins.
	_ = godotenv.Load()

	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("Error: %v", err)
	}
}
