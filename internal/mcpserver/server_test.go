package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/overture/internal/eventbridge"
	"github.com/kingrea/overture/internal/pipeline"
	"github.com/kingrea/overture/internal/recovery"
	"github.com/kingrea/overture/internal/workspace"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	ws := workspace.New(t.TempDir())
	coord, err := pipeline.New(ws, pipeline.WithClock(clock))
	require.NoError(t, err)
	return New(coord, recovery.New(ws, recovery.WithClock(clock)), "test", nil)
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (map[string]any, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	if res.IsError {
		return map[string]any{"error": text.Text}, false
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out, true
}

func TestToolsDrivePipeline(t *testing.T) {
	s := newTestServer(t)

	out, ok := call(t, s.forward(eventbridge.TypePipelineInit), map[string]any{
		"steps": []any{"create-prd", "create-spec"},
		"goal":  "ship onboarding",
	})
	require.True(t, ok, out)
	sessionID := out["session_id"].(string)

	out, ok = call(t, s.forward(eventbridge.TypeStepDispatch), map[string]any{
		"session_id": sessionID,
		"step_index": float64(1),
		"step_name":  "create-prd",
		"task":       "Draft the PRD",
	})
	require.True(t, ok, out)
	require.Equal(t, "libretto", out["persona"])
	require.Contains(t, out["message"], "Draft the PRD")
	ref := out["reference_id"].(string)

	out, ok = call(t, s.forward(eventbridge.TypeStepOutcome), map[string]any{
		"session_id":   sessionID,
		"decision":     "approve",
		"reference_id": ref,
	})
	require.True(t, ok, out)
	require.Equal(t, "advanced", out["outcome"])

	out, ok = call(t, s.handleStatus, map[string]any{"session_id": sessionID})
	require.True(t, ok, out)
	view := out["record"].(map[string]any)
	require.Equal(t, "create-spec", view["current_step"])
	require.Contains(t, out["summary"], "current_step: create-spec")

	out, ok = call(t, s.handleLatest, map[string]any{})
	require.True(t, ok, out)
	require.Equal(t, sessionID, out["record"].(map[string]any)["session_id"])
}

func TestToolErrorsAreResults(t *testing.T) {
	s := newTestServer(t)

	out, ok := call(t, s.forward(eventbridge.TypeStepDispatch), map[string]any{"step_index": float64(1), "step_name": "create-prd"})
	require.False(t, ok)
	require.Contains(t, out["error"], "session_id")

	out, ok = call(t, s.handleStatus, map[string]any{"session_id": "ses-20261019-120000-deadbeef"})
	require.False(t, ok)
	require.Contains(t, out["error"], "not found")

	out, ok = call(t, s.forward(eventbridge.TypeStepDispatch), map[string]any{"session_id": "../../outside", "step_index": float64(1), "step_name": "create-prd"})
	require.False(t, ok)
	require.Contains(t, out["error"], "invalid session id")

	out, ok = call(t, s.handleLatest, map[string]any{})
	require.True(t, ok)
	require.Equal(t, "none", out["status"])
}
