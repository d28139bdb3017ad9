// Package pipeline drives one independent engine run per image.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/floegence/imagent/internal/ai"
	"github.com/floegence/imagent/internal/imagefile"
	"github.com/floegence/imagent/internal/runlog"
)

// Runner is satisfied by *ai.Engine.
type Runner interface {
	Run(ctx context.Context, instruction string, opts ...ai.RunOption) (ai.RunResult, error)
}

type Options struct {
	Runner     Runner
	Extensions []string
	// Concurrency bounds simultaneous runs; <= 0 means 1.
	Concurrency int
	// WithSearch mentions the search tool in the seed instruction.
	WithSearch bool
	// Debounce is how long a watched file must stay unchanged before it is processed.
	Debounce time.Duration
	// OnOutcome, when set, is called after every run. Calls may be concurrent.
	OnOutcome func(Outcome)
	Logger    *slog.Logger
}

type Outcome struct {
	ImagePath string
	RunID     string
	Result    ai.RunResult
	Err       error
	Duration  time.Duration
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Report holds the outcomes of a batch in directory order.
type Report struct {
	Outcomes []Outcome
}

func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

type Processor struct {
	opts Options
}

func New(opts Options) (*Processor, error) {
	if opts.Runner == nil {
		return nil, errors.New("missing runner")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = imagefile.DefaultExtensions
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Processor{opts: opts}, nil
}

// SeedInstruction is the Instruction every run starts from.
func SeedInstruction(path string, withSearch bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Please analyze the image at the following path: %s\n", path)
	b.WriteString("1. First, classify the image to determine its type.\n")
	b.WriteString("2. Second, based on the type, extract the relevant information.\n")
	if withSearch {
		b.WriteString("Specifically, for \"论文\" type images, if there is not enough content description extracted from the image, you should use the search tool to get the content description.\n")
	}
	b.WriteString("3. Finally, save the extracted information to the database.\n")
	b.WriteString("Let me know when you are done.")
	return b.String()
}

// ProcessFile runs the engine once for path. Run failures are reported in the Outcome.
func (p *Processor) ProcessFile(ctx context.Context, path string) Outcome {
	start := time.Now()
	logger := p.opts.Logger.With("image", path)
	logger.Info("processing image")

	res, err := p.opts.Runner.Run(ctx, SeedInstruction(path, p.opts.WithSearch),
		ai.WithLabels(map[string]string{runlog.LabelImagePath: path}))
	out := Outcome{ImagePath: path, RunID: res.RunID, Result: res, Err: err, Duration: time.Since(start)}
	var runErr *ai.RunError
	if errors.As(err, &runErr) && out.RunID == "" {
		out.RunID = runErr.RunID
	}
	if err != nil {
		logger.Error("image failed", "run_id", out.RunID, "error", err)
	} else {
		logger.Info("image finished", "run_id", out.RunID, "steps", res.Steps, "took", out.Duration.Round(time.Millisecond))
	}
	if p.opts.OnOutcome != nil {
		p.opts.OnOutcome(out)
	}
	return out
}

// ProcessDir runs every image in dir. A failing run never stops the batch; only directory
// errors and cancellation are returned.
func (p *Processor) ProcessDir(ctx context.Context, dir string) (Report, error) {
	paths, err := imagefile.Scan(dir, p.opts.Extensions)
	if err != nil {
		return Report{}, err
	}
	return p.ProcessPaths(ctx, paths)
}

func (p *Processor) ProcessPaths(ctx context.Context, paths []string) (Report, error) {
	outcomes := make([]Outcome, len(paths))
	started := make([]bool, len(paths))

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		started[i] = true
		g.Go(func() error {
			outcomes[i] = p.ProcessFile(ctx, path)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Outcomes: make([]Outcome, 0, len(paths))}
	for i := range paths {
		if started[i] {
			rep.Outcomes = append(rep.Outcomes, outcomes[i])
		}
	}
	return rep, ctx.Err()
}

// pending debounces filesystem events per path.
type pending struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	ready  chan string
	delay  time.Duration
}

func newPending(delay time.Duration) *pending {
	return &pending{timers: map[string]*time.Timer{}, ready: make(chan string, 64), delay: delay}
}

func (p *pending) touch(ctx context.Context, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.timers[path]; ok {
		t.Reset(p.delay)
		return
	}
	p.timers[path] = time.AfterFunc(p.delay, func() {
		p.mu.Lock()
		delete(p.timers, path)
		p.mu.Unlock()
		select {
		case p.ready <- path:
		case <-ctx.Done():
		}
	})
}

func (p *pending) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for path, t := range p.timers {
		t.Stop()
		delete(p.timers, path)
	}
}

func (p *Processor) hasImageExt(path string) bool {
	return imagefile.HasExtension(filepath.Base(path), p.opts.Extensions)
}
