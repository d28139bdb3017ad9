package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/floegence/imagent/internal/ai"
	aitools "github.com/floegence/imagent/internal/ai/tools"
	"github.com/floegence/imagent/internal/runlog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRunner extracts the image path from the seed instruction and fails for paths containing "bad".
type fakeRunner struct {
	mu    sync.Mutex
	paths []string

	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	done     chan string
}

func (f *fakeRunner) Run(ctx context.Context, instruction string, opts ...ai.RunOption) (ai.RunResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	first, _, _ := strings.Cut(instruction, "\n")
	path := strings.TrimPrefix(first, "Please analyze the image at the following path: ")

	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ai.RunResult{}, ctx.Err()
		}
	}
	if f.done != nil {
		defer func() { f.done <- path }()
	}
	id := "run-" + filepath.Base(path)
	if strings.Contains(path, "bad") {
		return ai.RunResult{RunID: id}, &ai.RunError{RunID: id, Kind: ai.RunErrorModelFailure, Err: errors.New("model down")}
	}
	return ai.RunResult{RunID: id, Answer: "done", Steps: 3}, nil
}

func writeImages(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o600))
	}
}

func TestSeedInstruction(t *testing.T) {
	t.Parallel()

	got := SeedInstruction("images/a.png", true)
	require.True(t, strings.HasPrefix(got, "Please analyze the image at the following path: images/a.png\n"))
	require.Contains(t, got, "search tool")
	require.True(t, strings.HasSuffix(got, "Let me know when you are done."))
	require.NotContains(t, SeedInstruction("a.png", false), "search tool")
}

func TestProcessDir_IsolatesFailures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeImages(t, dir, "a.png", "bad.jpg", "c.JPEG", "notes.txt")
	runner := &fakeRunner{}
	var seen atomic.Int32
	p, err := New(Options{Runner: runner, OnOutcome: func(Outcome) { seen.Add(1) }})
	require.NoError(t, err)

	rep, err := p.ProcessDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, rep.Outcomes, 3)
	require.Equal(t, 1, rep.Failed())
	require.Equal(t, int32(3), seen.Load())

	require.Equal(t, filepath.Join(dir, "a.png"), rep.Outcomes[0].ImagePath)
	require.Equal(t, "run-a.png", rep.Outcomes[0].RunID)
	require.False(t, rep.Outcomes[0].Failed())

	bad := rep.Outcomes[1]
	require.True(t, bad.Failed())
	require.Equal(t, ai.RunErrorModelFailure, ai.RunErrorKindOf(bad.Err))
	require.Equal(t, "run-bad.jpg", bad.RunID)
	require.False(t, rep.Outcomes[2].Failed())
}

func TestProcessDir_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for i := range 8 {
		writeImages(t, dir, fmt.Sprintf("img%d.png", i))
	}
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	p, err := New(Options{Runner: runner, Concurrency: 3})
	require.NoError(t, err)

	rep, err := p.ProcessDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, rep.Outcomes, 8)
	require.LessOrEqual(t, runner.peak.Load(), int32(3))
	require.Greater(t, runner.peak.Load(), int32(1))
}

func TestProcessPaths_StopsSchedulingOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, err := New(Options{Runner: &fakeRunner{}})
	require.NoError(t, err)

	rep, err := p.ProcessPaths(ctx, []string{"a.png", "b.png"})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, rep.Outcomes)
}

func TestProcessFile_LabelsRunWithImagePath(t *testing.T) {
	t.Parallel()

	var labels map[string]string
	runner := runnerFunc(func(_ context.Context, _ string, opts ...ai.RunOption) (ai.RunResult, error) {
		labels = captureLabels(t, opts)
		return ai.RunResult{RunID: "r"}, nil
	})
	p, err := New(Options{Runner: runner})
	require.NoError(t, err)
	p.ProcessFile(context.Background(), "images/x.png")
	require.Equal(t, map[string]string{runlog.LabelImagePath: "images/x.png"}, labels)
}

func TestWatch_ProcessesNewImages(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeImages(t, dir, "old.png")
	runner := &fakeRunner{done: make(chan string, 4)}
	p, err := New(Options{Runner: runner, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Watch(ctx, dir, true) }()

	require.Equal(t, filepath.Join(dir, "old.png"), waitFor(t, runner.done))

	writeImages(t, dir, "new.jpg", "skip.txt")
	require.Equal(t, filepath.Join(dir, "new.jpg"), waitFor(t, runner.done))

	cancel()
	require.NoError(t, <-errc)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.paths, 2)
}

func TestWatch_RejectsFile(t *testing.T) {
	t.Parallel()

	f := filepath.Join(t.TempDir(), "x.png")
	writeImages(t, filepath.Dir(f), "x.png")
	p, err := New(Options{Runner: &fakeRunner{}})
	require.NoError(t, err)
	require.Error(t, p.Watch(context.Background(), f, false))
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run")
		return ""
	}
}

// captureLabels replays opts through a one-step engine run and returns the run.started labels.
func captureLabels(t *testing.T, opts []ai.RunOption) map[string]string {
	t.Helper()
	var got map[string]string
	catalog, err := aitools.NewCatalog()
	require.NoError(t, err)
	engine, err := ai.NewEngine(ai.Config{
		Provider: ai.ProviderFunc(func(context.Context, ai.TurnRequest) (ai.TurnResult, error) {
			return ai.TurnResult{Text: "done"}, nil
		}),
		Model:   "m",
		Catalog: catalog,
		Observer: ai.ObserverFunc(func(ev ai.Event) {
			if ev.Kind == ai.EventRunStarted {
				got = ev.Labels
			}
		}),
	})
	require.NoError(t, err)
	_, err = engine.Run(context.Background(), "x", opts...)
	require.NoError(t, err)
	return got
}

type runnerFunc func(ctx context.Context, instruction string, opts ...ai.RunOption) (ai.RunResult, error)

func (f runnerFunc) Run(ctx context.Context, instruction string, opts ...ai.RunOption) (ai.RunResult, error) {
	return f(ctx, instruction, opts...)
}
