// Package runlog keeps an append-only JSONL transcript of every engine run.
package runlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/floegence/imagent/internal/ai"
)

const maxLineBytes = 8 << 20 // 8 MiB

// LabelImagePath is the run label naming the processed image.
const LabelImagePath = "image_path"

var (
	ErrRunNotFound = errors.New("run not found")
	runIDPattern   = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

type Entry struct {
	CreatedAt string       `json:"created_at"`
	Kind      ai.EventKind `json:"kind"`
	RunID     string       `json:"run_id"`
	Step      int          `json:"step,omitempty"`
	Route     ai.Route     `json:"route,omitempty"`
	Message   *ai.Message  `json:"message,omitempty"`
	Error     string       `json:"error,omitempty"`
	// Labels are the run attributes recorded on run.started (the image path).
	Labels map[string]string `json:"labels,omitempty"`
}

type Options struct {
	Logger *slog.Logger
	// StateDir is the imagent state directory; transcripts live under StateDir/runs.
	StateDir string
}

// Store writes one <run_id>.jsonl file per run. It implements ai.Observer.
type Store struct {
	log *slog.Logger
	dir string

	mu sync.Mutex
}

func New(opts Options) (*Store, error) {
	stateDir := strings.TrimSpace(opts.StateDir)
	if stateDir == "" {
		return nil, errors.New("missing StateDir")
	}
	dir := filepath.Join(stateDir, "runs")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{log: logger, dir: dir}, nil
}

func (s *Store) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// OnEvent records message, start and terminal events. Route events are derivable from the
// messages and are not stored.
func (s *Store) OnEvent(ev ai.Event) {
	if s == nil || ev.Kind == ai.EventRouteSelected {
		return
	}
	e := Entry{
		CreatedAt: time.UnixMilli(ev.AtUnixMs).UTC().Format(time.RFC3339Nano),
		Kind:      ev.Kind,
		RunID:     ev.RunID,
		Step:      ev.Step,
		Route:     ev.Route,
		Message:   ev.Message,
		Error:     ev.Err,
		Labels:    ev.Labels,
	}
	if ev.AtUnixMs == 0 {
		e.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	s.Append(e)
}

func (s *Store) Append(e Entry) {
	if s == nil {
		return
	}
	if !runIDPattern.MatchString(e.RunID) {
		s.log.Warn("runlog append skipped", "run_id", e.RunID, "error", "invalid run id")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.pathFor(e.RunID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.log.Warn("runlog append failed", "run_id", e.RunID, "error", err)
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&e); err != nil {
		s.log.Warn("runlog encode failed", "run_id", e.RunID, "error", err)
	}
}

func (s *Store) pathFor(runID string) string {
	return filepath.Join(s.dir, runID+".jsonl")
}

// Transcript is a reloaded run.
type Transcript struct {
	RunID   string
	Entries []Entry
}

// Messages returns the run's Message Log in append order.
func (t Transcript) Messages() []ai.Message {
	var out []ai.Message
	for _, e := range t.Entries {
		if e.Kind == ai.EventMessageAppended && e.Message != nil {
			out = append(out, ai.CloneMessage(*e.Message))
		}
	}
	return out
}

// Status is "finished", "failed" or "incomplete".
func (t Transcript) Status() (status string, errText string) {
	for i := len(t.Entries) - 1; i >= 0; i-- {
		switch t.Entries[i].Kind {
		case ai.EventRunFinished:
			return "finished", ""
		case ai.EventRunFailed:
			return "failed", t.Entries[i].Error
		}
	}
	return "incomplete", ""
}

// ImagePath returns the image recorded on run.started, if any.
func (t Transcript) ImagePath() string {
	for _, e := range t.Entries {
		if e.Kind == ai.EventRunStarted {
			return e.Labels[LabelImagePath]
		}
	}
	return ""
}

// Load reads the transcript of runID from the store.
func (s *Store) Load(runID string) (Transcript, error) {
	if s == nil {
		return Transcript{}, errors.New("nil runlog store")
	}
	runID = strings.TrimSpace(runID)
	if !runIDPattern.MatchString(runID) {
		return Transcript{}, fmt.Errorf("invalid run id %q", runID)
	}
	t, err := LoadFile(s.pathFor(runID))
	if errors.Is(err, os.ErrNotExist) {
		return Transcript{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return t, err
}

// LoadFile reads a transcript file. Malformed lines are skipped.
func LoadFile(path string) (Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return Transcript{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	out := Transcript{RunID: strings.TrimSuffix(filepath.Base(path), ".jsonl")}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		if e.RunID != "" {
			out.RunID = e.RunID
		}
		out.Entries = append(out.Entries, e)
	}
	return out, sc.Err()
}

type RunInfo struct {
	RunID      string
	ModifiedAt time.Time
	SizeBytes  int64
}

// List returns stored runs, newest first.
func (s *Store) List(limit int) ([]RunInfo, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := make([]RunInfo, 0, len(ents))
	for _, ent := range ents {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		out = append(out, RunInfo{
			RunID:      strings.TrimSuffix(name, ".jsonl"),
			ModifiedAt: info.ModTime(),
			SizeBytes:  info.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].RunID > out[j].RunID
		}
		return out[i].ModifiedAt.After(out[j].ModifiedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
