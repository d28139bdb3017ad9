package ai

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	aitools "github.com/floegence/imagent/internal/ai/tools"
)

func TestSession_AppendOnlyReads(t *testing.T) {
	t.Parallel()

	s := NewSession("run-1", NewInstruction("classify img.png"))
	s.Append(NewDecision("", []ToolCall{{ID: "c1", Name: "classify_image", Args: map[string]any{"image_path": "img.png", "nested": map[string]any{"k": "v"}}}}))
	s.Append(NewToolResultMessage(ToolResult{CallID: "c1", ToolName: "classify_image", Outcome: aitools.OutcomeOK, Content: "论文"}))
	require.Equal(t, 3, s.Len())
	require.Equal(t, "run-1", s.RunID())

	tail := s.Tail(2)
	require.Len(t, tail, 2)
	tail[0].ToolCalls[0].Args["image_path"] = "mutated"
	tail[0].ToolCalls[0].Args["nested"].(map[string]any)["k"] = "mutated"
	tail[1].Result.Content = "mutated"

	again := s.Tail(2)
	require.Equal(t, "img.png", again[0].ToolCalls[0].Args["image_path"])
	require.Equal(t, "v", again[0].ToolCalls[0].Args["nested"].(map[string]any)["k"])
	require.Equal(t, "论文", again[1].Result.Content)

	require.Len(t, s.Tail(10), 3)
	require.Nil(t, s.Tail(0))

	last, ok := s.Last()
	require.True(t, ok)
	require.Equal(t, RoleToolResult, last.Role)
}

func TestSession_ConcurrentReaders(t *testing.T) {
	t.Parallel()

	s := NewSession("run", NewInstruction("go"))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Snapshot()
				_ = s.Len()
			}
		}()
	}
	for i := 0; i < 100; i++ {
		s.Append(NewGuidance("x"))
	}
	wg.Wait()
	require.Equal(t, 101, s.Len())
}
