package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/floegence/imagent/internal/pipeline"
)

type runFlags struct {
	concurrency int
	quiet       bool
	routes      bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.concurrency, "concurrency", "j", 0, "Images processed at once (default: engine.concurrency)")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Do not print the live transcript")
	cmd.Flags().BoolVar(&f.routes, "routes", false, "Also print routing decisions")
}

func (f *runFlags) options(out io.Writer) runtimeOptions {
	opts := runtimeOptions{Concurrency: f.concurrency, Routes: f.routes}
	if !f.quiet {
		opts.Out = out
	}
	return opts
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [dir|image...]",
		Short: "Process every image in a directory, or the given image files",
		Long: `Runs one independent agent loop per image. With no arguments the configured
images.dir is processed. A failing image is reported and the batch continues;
the exit code is 3 when any image failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.buildRuntime(f.options(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			rep, err := runTargets(cmd.Context(), rt.processor, a.cfg.Images.Dir, args)
			printSummary(cmd.OutOrStdout(), rep)
			if err != nil {
				return err
			}
			if n := rep.Failed(); n > 0 {
				return &exitError{code: 3, err: fmt.Errorf("%d of %d images failed", n, len(rep.Outcomes))}
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

// runTargets processes a single directory argument as a directory and anything else as files.
func runTargets(ctx context.Context, p *pipeline.Processor, defaultDir string, args []string) (pipeline.Report, error) {
	if len(args) == 0 {
		args = []string{defaultDir}
	}
	if len(args) == 1 {
		if st, err := os.Stat(args[0]); err == nil && st.IsDir() {
			return p.ProcessDir(ctx, args[0])
		}
	}
	return p.ProcessPaths(ctx, args)
}

func printSummary(w io.Writer, rep pipeline.Report) {
	if len(rep.Outcomes) == 0 {
		fmt.Fprintln(w, "No images found.")
		return
	}
	fmt.Fprintf(w, "\nProcessed %d images, %d failed.\n", len(rep.Outcomes), rep.Failed())
	for _, o := range rep.Outcomes {
		status := "ok"
		detail := firstLine(o.Result.Answer)
		if o.Failed() {
			status = "FAILED"
			detail = o.Err.Error()
		}
		fmt.Fprintf(w, "  %-6s %s  run=%s  %s  %s\n", status, o.ImagePath, o.RunID, o.Duration.Round(time.Millisecond), detail)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		f        runFlags
		existing bool
	)
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Process images as they are added to a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Images.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			rt, err := a.buildRuntime(f.options(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			a.log.Info("watching for images", "dir", dir, "existing", existing)
			return rt.processor.Watch(cmd.Context(), dir, existing)
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&existing, "existing", false, "Process images already in the directory first")
	return cmd
}
