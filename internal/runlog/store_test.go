package runlog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/floegence/imagent/internal/ai"
	aitools "github.com/floegence/imagent/internal/ai/tools"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Options{StateDir: t.TempDir()})
	require.NoError(t, err)
	return s
}

func TestNew_RequiresStateDir(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.Error(t, err)
}

func TestStore_RecordsEngineRun(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	turns := []ai.TurnResult{
		{ToolCalls: []ai.ToolCall{{ID: "c1", Name: "classify_image", Args: map[string]any{"image_path": "a.png"}}}},
		{Text: "done"},
	}
	n := 0
	provider := ai.ProviderFunc(func(context.Context, ai.TurnRequest) (ai.TurnResult, error) {
		n++
		return turns[n-1], nil
	})
	catalog, err := aitools.NewCatalog(aitools.Tool{
		Definition: aitools.Definition{Name: "classify_image"},
		Invoke: func(context.Context, json.RawMessage) (aitools.Result, error) {
			return aitools.OK("论文"), nil
		},
	})
	require.NoError(t, err)
	engine, err := ai.NewEngine(ai.Config{Provider: provider, Model: "m", Catalog: catalog, Observer: s})
	require.NoError(t, err)

	res, err := engine.Run(context.Background(), "process a.png", ai.WithRunID("run-1"), ai.WithLabels(map[string]string{LabelImagePath: "a.png"}))
	require.NoError(t, err)

	tr, err := s.Load("run-1")
	require.NoError(t, err)
	require.Equal(t, "run-1", tr.RunID)
	require.Equal(t, "a.png", tr.ImagePath())
	status, errText := tr.Status()
	require.Equal(t, "finished", status)
	require.Empty(t, errText)

	got := tr.Messages()
	if diff := cmp.Diff(res.Messages, got); diff != "" {
		t.Fatalf("reloaded log differs (-run +loaded):\n%s", diff)
	}

	transitions, complete := ai.ReplayRoutes(got, ai.OutcomePolicy{})
	require.True(t, complete)
	routes := make([]ai.Route, 0, len(transitions))
	for _, tn := range transitions {
		routes = append(routes, tn.Route)
	}
	require.Equal(t, res.Routes, routes)
}

func TestStore_FailedAndIncompleteStatus(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	s.OnEvent(ai.Event{Kind: ai.EventRunStarted, RunID: "r2"})
	s.OnEvent(ai.Event{Kind: ai.EventRouteSelected, RunID: "r2", Route: ai.RouteTools})
	tr, err := s.Load("r2")
	require.NoError(t, err)
	require.Len(t, tr.Entries, 1, "route events are not stored")
	status, _ := tr.Status()
	require.Equal(t, "incomplete", status)

	s.OnEvent(ai.Event{Kind: ai.EventRunFailed, RunID: "r2", Err: "budget exceeded"})
	tr, err = s.Load("r2")
	require.NoError(t, err)
	status, errText := tr.Status()
	require.Equal(t, "failed", status)
	require.Equal(t, "budget exceeded", errText)
}

func TestStore_RejectsUnsafeRunIDs(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	s.Append(Entry{Kind: ai.EventRunStarted, RunID: "../escape"})
	_, err := os.Stat(filepath.Join(filepath.Dir(s.Dir()), "escape.jsonl"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = s.Load("../escape")
	require.Error(t, err)
	_, err = s.Load("missing")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestLoadFile_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "x.jsonl")
	body := `{"kind":"run.started","run_id":"x"}` + "\nnot json\n\n" +
		`{"kind":"message.appended","run_id":"x","message":{"role":"instruction","text":"hi"}}` + "\n"
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))

	tr, err := LoadFile(p)
	require.NoError(t, err)
	require.Len(t, tr.Entries, 2)
	require.Equal(t, []ai.Message{{Role: ai.RoleInstruction, Text: "hi"}}, tr.Messages())
}

func TestStore_ListNewestFirst(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	for _, id := range []string{"a", "b", "c"} {
		s.Append(Entry{Kind: ai.EventRunStarted, RunID: id})
	}
	runs, err := s.List(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		require.Positive(t, r.SizeBytes)
	}
}
