package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/floegence/imagent/internal/ai"
	"github.com/floegence/imagent/internal/runlog"
	"github.com/floegence/imagent/internal/transcript"
)

type replayReport struct {
	RunID     string     `json:"run_id"`
	ImagePath string     `json:"image_path,omitempty"`
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	Messages  int        `json:"messages"`
	ToolCalls int        `json:"tool_calls"`
	Guidance  int        `json:"guidance"`
	Routes    []ai.Route `json:"routes"`
	// Complete is true when the re-derived routes end in the terminal branch.
	Complete bool `json:"complete"`
}

func buildReplayReport(t runlog.Transcript, policy ai.EscalationPolicy) replayReport {
	msgs := t.Messages()
	status, errText := t.Status()
	rep := replayReport{
		RunID:     t.RunID,
		ImagePath: t.ImagePath(),
		Status:    status,
		Error:     errText,
		Messages:  len(msgs),
		Routes:    []ai.Route{},
	}
	for _, m := range msgs {
		rep.ToolCalls += len(m.ToolCalls)
		if m.Role == ai.RoleGuidance {
			rep.Guidance++
		}
	}
	transitions, complete := ai.ReplayRoutes(msgs, policy)
	for _, tr := range transitions {
		rep.Routes = append(rep.Routes, tr.Route)
	}
	rep.Complete = complete
	return rep
}

func newReplayCmd(a *app) *cobra.Command {
	var (
		format string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "replay [run-id|file]",
		Short: "Re-derive the routing decisions of a stored run, or list stored runs",
		Long: `Loads a run transcript from the state directory (or a .jsonl file) and replays
its Message Log through the router. Without an argument the most recent runs
are listed. The exit code is 2 when the stored run did not finish.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := runlog.New(runlog.Options{Logger: a.log, StateDir: a.cfg.StateDir})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return listRuns(out, store, limit)
			}

			t, err := loadTranscript(store, args[0])
			if err != nil {
				return err
			}
			policy, err := ai.ParseEscalation(a.cfg.Engine.Escalation)
			if err != nil {
				return err
			}
			rep := buildReplayReport(t, policy)

			switch strings.TrimSpace(strings.ToLower(format)) {
			case "", "text":
				printReplay(out, t, rep)
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				enc.SetEscapeHTML(false)
				if err := enc.Encode(rep); err != nil {
					return err
				}
			default:
				return &exitError{code: 2, err: fmt.Errorf("invalid --format: %q (want json|text)", format)}
			}
			if rep.Status != "finished" {
				return &exitError{code: 2, err: fmt.Errorf("run %s is %s", rep.RunID, rep.Status)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: json|text")
	cmd.Flags().IntVar(&limit, "limit", 20, "Runs listed when no run is given")
	return cmd
}

// loadTranscript treats arg as a file path when it names an existing file, else as a run id.
func loadTranscript(store *runlog.Store, arg string) (runlog.Transcript, error) {
	arg = strings.TrimSpace(arg)
	if st, err := os.Stat(arg); err == nil && !st.IsDir() {
		return runlog.LoadFile(arg)
	}
	return store.Load(arg)
}

func listRuns(w io.Writer, store *runlog.Store, limit int) error {
	runs, err := store.List(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintf(w, "No runs stored in %s.\n", store.Dir())
		return err
	}
	for _, r := range runs {
		if _, err := fmt.Fprintf(w, "%s  %s  %d bytes\n", r.RunID, r.ModifiedAt.Local().Format(time.DateTime), r.SizeBytes); err != nil {
			return err
		}
	}
	return nil
}

func printReplay(w io.Writer, t runlog.Transcript, rep replayReport) {
	p := transcript.New(w, transcript.Options{})
	for _, m := range t.Messages() {
		p.OnEvent(ai.Event{Kind: ai.EventMessageAppended, RunID: t.RunID, Message: &m})
	}
	routes := make([]string, len(rep.Routes))
	for i, r := range rep.Routes {
		routes[i] = string(r)
	}
	fmt.Fprintf(w, "\nrun:      %s\n", rep.RunID)
	if rep.ImagePath != "" {
		fmt.Fprintf(w, "image:    %s\n", rep.ImagePath)
	}
	fmt.Fprintf(w, "status:   %s\n", rep.Status)
	if rep.Error != "" {
		fmt.Fprintf(w, "error:    %s\n", rep.Error)
	}
	fmt.Fprintf(w, "messages: %d (%d tool calls, %d guidance)\n", rep.Messages, rep.ToolCalls, rep.Guidance)
	fmt.Fprintf(w, "routes:   %s\n", strings.Join(routes, " -> "))
	fmt.Fprintf(w, "complete: %t\n", rep.Complete)
}
