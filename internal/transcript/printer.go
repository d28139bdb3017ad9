// Package transcript prints engine events as a readable, line-oriented transcript.
package transcript

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/floegence/imagent/internal/ai"
	"github.com/floegence/imagent/internal/runlog"
)

const (
	DefaultWidth    = 100
	DefaultMaxLines = 6
	minWidth        = 40
	shortIDLen      = 8
	ellipsis        = "…"
)

type Options struct {
	// Width caps every printed line. Zero uses the terminal width, or DefaultWidth.
	Width int
	// MaxLines caps the lines printed per message body.
	MaxLines int
	// Routes also prints route.selected events.
	Routes bool
}

type styles struct {
	run      lipgloss.Style
	role     map[ai.Role]lipgloss.Style
	outcome  map[string]lipgloss.Style
	call     lipgloss.Style
	dim      lipgloss.Style
	failure  lipgloss.Style
	finished lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		run: r.NewStyle().Bold(true),
		role: map[ai.Role]lipgloss.Style{
			ai.RoleInstruction: r.NewStyle().Foreground(lipgloss.Color("12")),
			ai.RoleDecision:    r.NewStyle().Foreground(lipgloss.Color("13")),
			ai.RoleToolResult:  r.NewStyle().Foreground(lipgloss.Color("6")),
			ai.RoleGuidance:    r.NewStyle().Foreground(lipgloss.Color("11")),
		},
		outcome: map[string]lipgloss.Style{
			"ok":           r.NewStyle().Foreground(lipgloss.Color("10")),
			"soft_failure": r.NewStyle().Foreground(lipgloss.Color("11")),
			"hard_failure": r.NewStyle().Foreground(lipgloss.Color("9")),
		},
		call:     r.NewStyle().Bold(true),
		dim:      r.NewStyle().Faint(true),
		failure:  r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		finished: r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
	}
}

// Printer is an ai.Observer. Events from concurrent runs are serialized and each line carries
// a short run id.
type Printer struct {
	mu       sync.Mutex
	w        io.Writer
	width    int
	maxLines int
	routes   bool
	st       styles
}

func New(w io.Writer, opts Options) *Printer {
	if w == nil {
		w = io.Discard
	}
	width := opts.Width
	if width <= 0 {
		width = detectWidth(w)
	}
	maxLines := opts.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Printer{
		w:        w,
		width:    max(width, minWidth),
		maxLines: maxLines,
		routes:   opts.Routes,
		st:       newStyles(lipgloss.NewRenderer(w)),
	}
}

// detectWidth uses the terminal size when w is a terminal.
func detectWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return DefaultWidth
	}
	cols, _, err := term.GetSize(int(f.Fd()))
	if err != nil || cols <= 0 {
		return DefaultWidth
	}
	return cols
}

func (p *Printer) OnEvent(ev ai.Event) {
	lines := p.render(ev)
	if len(lines) == 0 {
		return
	}
	prefix := p.st.dim.Render("[" + shortID(ev.RunID) + "]")
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(prefix)
		b.WriteByte(' ')
		b.WriteString(line)
		b.WriteByte('\n')
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, b.String())
}

func (p *Printer) render(ev ai.Event) []string {
	// The prefix is "[xxxxxxxx] ".
	avail := p.width - shortIDLen - 3
	switch ev.Kind {
	case ai.EventRunStarted:
		head := "run started"
		if img := ev.Labels[runlog.LabelImagePath]; img != "" {
			head += " " + truncate(img, avail-len(head)-1)
		}
		return []string{p.st.run.Render(head)}
	case ai.EventMessageAppended:
		if ev.Message == nil {
			return nil
		}
		return p.renderMessage(*ev.Message, avail)
	case ai.EventRouteSelected:
		if !p.routes {
			return nil
		}
		return []string{p.st.dim.Render(fmt.Sprintf("step %d -> %s", ev.Step, ev.Route))}
	case ai.EventRunFinished:
		return []string{p.st.finished.Render(fmt.Sprintf("run finished after %d steps", ev.Step))}
	case ai.EventRunFailed:
		return []string{p.st.failure.Render(truncate("run failed: "+ev.Err, avail))}
	default:
		return nil
	}
}

func (p *Printer) renderMessage(m ai.Message, avail int) []string {
	tag := string(m.Role)
	label := styleOr(p.st.role, m.Role, p.st.dim).Render(tag)
	bodyWidth := avail - runewidth.StringWidth(tag) - 1

	var out []string
	switch m.Role {
	case ai.RoleDecision:
		body := p.clip(m.Text, bodyWidth)
		if len(body) == 0 && len(m.ToolCalls) == 0 {
			body = []string{p.st.dim.Render("(empty)")}
		}
		out = p.block(label, tag, body)
		for _, c := range m.ToolCalls {
			call := truncate("-> "+c.Name+" "+c.ArgsJSON(), avail-2)
			out = append(out, "  "+p.st.call.Render(call))
		}
	case ai.RoleToolResult:
		if m.Result == nil {
			return []string{label}
		}
		outcome := string(m.Result.Outcome)
		head := m.Result.ToolName + " " + outcome
		if runewidth.StringWidth(head) > bodyWidth {
			head = truncate(head, bodyWidth)
		} else {
			head = p.st.call.Render(m.Result.ToolName) + " " + styleOr(p.st.outcome, outcome, p.st.dim).Render(outcome)
		}
		out = append(out, label+" "+head)
		for _, line := range p.clip(m.Result.Content, avail-2) {
			out = append(out, "  "+line)
		}
	default:
		out = p.block(label, tag, p.clip(m.Text, bodyWidth))
	}
	return out
}

// block puts the first body line next to the label and indents the rest under it.
func (p *Printer) block(label, tag string, body []string) []string {
	if len(body) == 0 {
		return []string{label}
	}
	indent := strings.Repeat(" ", runewidth.StringWidth(tag)+1)
	out := make([]string, 0, len(body))
	out = append(out, label+" "+body[0])
	for _, line := range body[1:] {
		out = append(out, indent+line)
	}
	return out
}

// clip splits text into at most maxLines non-empty lines, each at most width columns.
func (p *Printer) clip(text string, width int) []string {
	var out []string
	hidden := 0
	for line := range strings.SplitSeq(strings.TrimSpace(text), "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(out) == p.maxLines {
			hidden++
			continue
		}
		out = append(out, truncate(line, width))
	}
	if hidden > 0 {
		out = append(out, p.st.dim.Render(fmt.Sprintf("(%d more lines)", hidden)))
	}
	return out
}

func styleOr[K comparable](m map[K]lipgloss.Style, k K, def lipgloss.Style) lipgloss.Style {
	if st, ok := m[k]; ok {
		return st
	}
	return def
}

func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.Truncate(s, width, ellipsis)
}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}
