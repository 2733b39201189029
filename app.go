package main

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/davecgh/go-spew/spew"

	"sfmtransfer/sfm"
)

// App encapsulates the resolved configuration and the run modes. All
// user-facing output goes through out; diagnostics go through the log
// package.
type App struct {
	out    io.Writer
	opts   AppOptions
	config *sfm.Config
	method sfm.MatchingMethod
}

// NewApp creates a new App instance writing user output to out.
func NewApp(out io.Writer) *App {
	return &App{out: out}
}

// ApplyOptions resolves the effective configuration from the preset file,
// the environment and the explicitly set CLI flags, in ascending precedence.
// All configuration errors surface here, before any scene file is read.
func (a *App) ApplyOptions(opts AppOptions) error {
	a.opts = opts

	config := sfm.DefaultConfig()
	if opts.ConfigFile != "" {
		loaded, err := sfm.LoadConfig(opts.ConfigFile)
		if err != nil {
			return err
		}
		config = loaded
	}
	sfm.ApplyEnvOverrides(config)

	// Flags override the file only when typed on the command line, so a
	// preset keeps its say over flag defaults.
	if opts.Explicit["method"] {
		config.Method = opts.Method
	}
	if opts.Explicit["file-matching-pattern"] {
		config.FileMatchingPattern = opts.FilePattern
	}
	if opts.Explicit["metadata-matching-list"] {
		config.MetadataMatchingList = splitList(opts.MetadataList)
	}
	if opts.Explicit["transfer-poses"] {
		config.TransferPoses = &opts.TransferPoses
	}
	if opts.Explicit["transfer-intrinsics"] {
		config.TransferIntrinsics = &opts.TransferIntrinsics
	}
	if opts.Explicit["grid-spacing"] {
		config.Overview.GridSpacing = opts.GridSpacing
	}

	method, err := sfm.ParseMatchingMethod(config.Method)
	if err != nil {
		return err
	}
	if _, err := sfm.CompileFilePattern(config.FileMatchingPattern); err != nil {
		return err
	}
	if config.Overview.GridSpacing < 0 {
		return fmt.Errorf("grid spacing must not be negative, got %g", config.Overview.GridSpacing)
	}

	a.config = config
	a.method = method

	if opts.Verbose {
		fmt.Fprintf(a.out, "Effective configuration:\n%s", spew.Sdump(a.config))
	}
	return nil
}

// RunTransfer loads both scenes, resolves common views, runs the transfer
// engine and saves the result. Overview rendering and report publishing are
// optional trailers; only publishing failures are non-fatal.
func (a *App) RunTransfer() error {
	if a.opts.Input == "" || a.opts.Reference == "" || a.opts.Output == "" {
		return fmt.Errorf("transfer requires -input, -reference and -output")
	}

	target, err := sfm.LoadScene(a.opts.Input)
	if err != nil {
		return fmt.Errorf("loading target scene %s: %w", a.opts.Input, err)
	}
	reference, err := sfm.LoadScene(a.opts.Reference)
	if err != nil {
		return fmt.Errorf("loading reference scene %s: %w", a.opts.Reference, err)
	}

	tSum := sfm.Summarize(target)
	rSum := sfm.Summarize(reference)
	fmt.Fprintf(a.out, "Loaded target: %s (%d views, %d fully calibrated)\n",
		a.opts.Input, tSum.Views, tSum.FullyDefined)
	fmt.Fprintf(a.out, "Loaded reference: %s (%d views, %d fully calibrated)\n",
		a.opts.Reference, rSum.Views, rSum.FullyDefined)

	if !a.config.GetTransferPoses() && !a.config.GetTransferIntrinsics() {
		log.Printf("Warning: pose and intrinsic transfer are both disabled, nothing to do")
		if err := sfm.SaveScene(a.opts.Output, target); err != nil {
			return fmt.Errorf("saving scene %s: %w", a.opts.Output, err)
		}
		return fmt.Errorf("nothing to transfer: -transfer-poses and -transfer-intrinsics are both disabled")
	}

	pairs, err := a.findPairs(target, reference)
	if err != nil {
		return err
	}

	stats := sfm.Transfer(target, reference, pairs, sfm.TransferOptions{
		Poses:      a.config.GetTransferPoses(),
		Intrinsics: a.config.GetTransferIntrinsics(),
	})
	fmt.Fprintf(a.out, "Updated %d view(s): %d pose(s) copied, %d intrinsic(s) assigned\n",
		stats.Updated, stats.PosesCopied, stats.IntrinsicsAssigned)
	if skipped := stats.Pairs - stats.Updated; skipped > 0 {
		fmt.Fprintf(a.out, "Skipped %d pair(s): %d complete, %d incomplete reference, %d rig-linked, %d unknown\n",
			skipped, stats.SkippedComplete, stats.SkippedIncompleteRef, stats.SkippedRig, stats.SkippedUnknownView)
	}

	if err := sfm.SaveScene(a.opts.Output, target); err != nil {
		return fmt.Errorf("saving scene %s: %w", a.opts.Output, err)
	}
	fmt.Fprintf(a.out, "Saved: %s\n", a.opts.Output)

	if a.opts.Overview != "" {
		if err := a.renderOverview(a.opts.Overview, target, reference, pairs); err != nil {
			return err
		}
	}
	if a.opts.MQTT {
		a.publishReport(stats)
	}
	return nil
}

// RunProbe prints a summary of the input scene, and of the reference scene
// when one is given. Nothing is matched or written.
func (a *App) RunProbe() error {
	if a.opts.Input == "" {
		return fmt.Errorf("probe requires -input")
	}

	if err := a.probeScene("Target", a.opts.Input); err != nil {
		return err
	}
	if a.opts.Reference != "" {
		if err := a.probeScene("Reference", a.opts.Reference); err != nil {
			return err
		}
	}
	return nil
}

// RunOverview resolves common views and renders the alignment overview
// without transferring or saving anything.
func (a *App) RunOverview() error {
	if a.opts.Input == "" || a.opts.Reference == "" {
		return fmt.Errorf("render-overview requires -input and -reference")
	}

	target, err := sfm.LoadScene(a.opts.Input)
	if err != nil {
		return fmt.Errorf("loading target scene %s: %w", a.opts.Input, err)
	}
	reference, err := sfm.LoadScene(a.opts.Reference)
	if err != nil {
		return fmt.Errorf("loading reference scene %s: %w", a.opts.Reference, err)
	}

	pairs, err := a.findPairs(target, reference)
	if err != nil {
		return err
	}

	path := a.opts.Overview
	if path == "" {
		path = "overview.svg"
	}
	return a.renderOverview(path, target, reference, pairs)
}

// findPairs resolves the correspondence set under the effective method and
// reports how many pairs were found. An empty set is fatal: with nothing to
// transfer the run must not pretend to have aligned anything.
func (a *App) findPairs(target, reference *sfm.Scene) ([]sfm.Correspondence, error) {
	pairs, err := sfm.FindCommonViews(a.method, target, reference, sfm.MatchOptions{
		FilePattern:  a.config.FileMatchingPattern,
		MetadataKeys: a.config.MetadataMatchingList,
	})
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(a.out, "Found %d common view(s) using %s\n", len(pairs), a.method)
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no common views found between target and reference")
	}
	if a.opts.Verbose {
		for _, p := range pairs {
			log.Printf("matched target view %d <- reference view %d", p.TargetViewID, p.ReferenceViewID)
		}
	}
	return pairs, nil
}

func (a *App) probeScene(label, path string) error {
	s, err := sfm.LoadScene(path)
	if err != nil {
		return fmt.Errorf("loading scene %s: %w", path, err)
	}
	sum := sfm.Summarize(s)

	fmt.Fprintf(a.out, "=== %s ===\n", label)
	fmt.Fprintf(a.out, "File: %s\n", path)
	fmt.Fprintf(a.out, "Format version: %s\n", s.Version)
	fmt.Fprintf(a.out, "Views: %d (%d fully calibrated, %d rig-linked)\n",
		sum.Views, sum.FullyDefined, sum.RigViews)
	fmt.Fprintf(a.out, "Poses: %d, Intrinsics: %d, Rigs: %d\n",
		sum.Poses, sum.Intrinsics, sum.Rigs)
	if len(sum.MetadataKeys) > 0 {
		fmt.Fprintf(a.out, "Metadata keys: %s\n", strings.Join(sum.MetadataKeys, ", "))
	}
	fmt.Fprintln(a.out)
	return nil
}

func (a *App) renderOverview(path string, target, reference *sfm.Scene, pairs []sfm.Correspondence) error {
	renderer := sfm.NewOverviewRenderer(target, reference, pairs)
	if a.config.Overview.GridSpacing > 0 {
		renderer.GridSpacing = a.config.Overview.GridSpacing
	}
	renderer.Labels = a.config.Overview.GetLabels()

	if err := renderer.WriteFile(path); err != nil {
		return fmt.Errorf("rendering overview %s: %w", path, err)
	}
	fmt.Fprintf(a.out, "Overview written to %s\n", path)
	return nil
}

// publishReport pushes the transfer report over MQTT. The scene is already
// saved when this runs, so every failure here is reported as a warning and
// never changes the exit status.
func (a *App) publishReport(stats sfm.TransferStats) {
	client, err := sfm.ConnectMQTT(&a.config.MQTT)
	if err != nil {
		log.Printf("Warning: connecting to MQTT broker: %v", err)
		return
	}
	defer client.Disconnect()

	publisher := sfm.NewPublisher(client.GetClient(), &a.config.MQTT)
	report := sfm.TransferReport{
		Method:    a.method.String(),
		Target:    a.opts.Input,
		Reference: a.opts.Reference,
		Output:    a.opts.Output,
		Pairs:     stats.Pairs,
		Stats:     stats,
	}
	if err := publisher.PublishReport(report); err != nil {
		log.Printf("Warning: publishing transfer report: %v", err)
	}
}

// splitList splits a comma-separated flag value, trimming whitespace and
// dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
