package sessmcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llnl/session-recorder/internal/sessiontest"
	"github.com/llnl/session-recorder/library"
	"github.com/llnl/session-recorder/session"
)

func mcpSession(t *testing.T) (*mcp.ClientSession, *library.Library, string) {
	t.Helper()
	root := t.TempDir()
	zip := sessiontest.WriteZip(t, root)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lib := library.New(root, nil, logger)
	t.Cleanup(func() { lib.Close() })

	srv := NewServer(lib, logger, "test")
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "sessmcp-test", Version: "0.1.0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs, lib, zip
}

func call[T any](t *testing.T, cs *mcp.ClientSession, name string, args any) T {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent")
	require.False(t, res.IsError, "%s: %s", name, tc.Text)

	var out T
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &out))
	return out
}

func callErr(t *testing.T, cs *mcp.ClientSession, name string, args any) string {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.True(t, res.IsError, "%s: expected a tool error", name)
	require.NotEmpty(t, res.Content)
	return res.Content[0].(*mcp.TextContent).Text
}

func TestTools_Listed(t *testing.T) {
	cs, _, _ := mcpSession(t)
	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"session_list", "session_load", "session_unload", "session_summary",
		"session_actions", "session_snapshot_markdown", "session_network",
		"session_console", "session_search",
	}, names)
}

func TestSessionList(t *testing.T) {
	cs, _, zip := mcpSession(t)
	out := call[struct {
		Sessions []struct {
			ID      string `json:"id"`
			Archive string `json:"archive"`
		} `json:"sessions"`
	}](t, cs, "session_list", map[string]any{})
	require.Len(t, out.Sessions, 1)
	assert.Equal(t, sessiontest.ID, out.Sessions[0].ID)
	assert.Equal(t, zip, out.Sessions[0].Archive)
}

func TestSessionLoadAndUnload(t *testing.T) {
	cs, lib, zip := mcpSession(t)

	out := call[loadResult](t, cs, "session_load", map[string]any{"path": zip})
	assert.Equal(t, sessiontest.ID, out.SessionID)
	assert.Equal(t, 4, out.ActionCount)
	assert.Equal(t, int64(10000), out.Duration)
	assert.True(t, out.HasVoice)
	assert.Equal(t, []string{sessiontest.PageURL}, out.URLs)
	assert.Equal(t, 1, out.Summary.Clicks)
	assert.Equal(t, 1, out.Summary.Inputs)
	assert.Equal(t, 1, out.Summary.Navigations)
	assert.Equal(t, 1, out.Summary.VoiceSegments)
	assert.Equal(t, []string{sessiontest.ID}, lib.Loaded())

	un := call[map[string]any](t, cs, "session_unload", map[string]any{"sessionId": sessiontest.ID})
	assert.Equal(t, true, un["success"])
	assert.Empty(t, lib.Loaded())

	un = call[map[string]any](t, cs, "session_unload", map[string]any{"sessionId": sessiontest.ID})
	assert.Equal(t, false, un["success"])
}

func TestSessionLoad_Errors(t *testing.T) {
	cs, _, _ := mcpSession(t)
	assert.Contains(t, callErr(t, cs, "session_load", map[string]any{}), "path is required")
	assert.Contains(t, callErr(t, cs, "session_load", map[string]any{"path": "/nowhere/x.zip"}), "not found")
	assert.Contains(t, callErr(t, cs, "session_summary", map[string]any{}), "sessionId is required")
}

func TestSessionSummary(t *testing.T) {
	cs, _, _ := mcpSession(t)
	sum := call[session.Summary](t, cs, "session_summary", map[string]any{"sessionId": sessiontest.ID})
	assert.Equal(t, 4, sum.TotalActions)
	assert.Equal(t, 2, sum.ErrorCount)
	assert.Equal(t, sessiontest.VoiceText, sum.TranscriptPreview)
	assert.Contains(t, sum.FeaturesDetected, "authentication")
}

func TestSessionActions(t *testing.T) {
	cs, _, _ := mcpSession(t)

	type page struct {
		Actions []session.Action `json:"actions"`
		Total   int              `json:"total"`
	}
	all := call[page](t, cs, "session_actions", map[string]any{"sessionId": sessiontest.ID, "limit": 2})
	assert.Equal(t, 4, all.Total)
	require.Len(t, all.Actions, 2)
	assert.Equal(t, "nav-1", all.Actions[0].ID)

	clicks := call[page](t, cs, "session_actions", map[string]any{
		"sessionId": sessiontest.ID,
		"types":     []string{"click"},
	})
	require.Equal(t, 1, clicks.Total)
	assert.Equal(t, "action-2", clicks.Actions[0].ID)
}

func TestSessionSnapshotMarkdown(t *testing.T) {
	cs, _, _ := mcpSession(t)
	out := call[snapshotResult](t, cs, "session_snapshot_markdown", map[string]any{
		"sessionId": sessiontest.ID,
		"actionId":  "action-1",
		"snapshot":  "before",
	})
	assert.Equal(t, "before", out.Snapshot)
	assert.Equal(t, sessiontest.PageURL, out.URL)
	assert.Contains(t, out.Markdown, "# Sign in")
	assert.NotContains(t, out.Markdown, "alert(1)")

	assert.Contains(t, callErr(t, cs, "session_snapshot_markdown", map[string]any{
		"sessionId": sessiontest.ID,
		"actionId":  "voice-1",
	}), "has no snapshots")
	assert.Contains(t, callErr(t, cs, "session_snapshot_markdown", map[string]any{
		"sessionId": sessiontest.ID,
		"actionId":  "action-1",
		"snapshot":  "during",
	}), "before or after")
}

func TestSessionNetwork(t *testing.T) {
	cs, _, _ := mcpSession(t)
	type page struct {
		Entries []session.NetworkEntry `json:"entries"`
		Total   int                    `json:"total"`
	}
	failed := call[page](t, cs, "session_network", map[string]any{"sessionId": sessiontest.ID, "minStatus": 400})
	require.Equal(t, 1, failed.Total)
	assert.Equal(t, "POST", failed.Entries[0].Method)

	big := call[page](t, cs, "session_network", map[string]any{"sessionId": sessiontest.ID, "minSize": 1000})
	assert.Equal(t, 1, big.Total)
}

func TestSessionConsole(t *testing.T) {
	cs, _, _ := mcpSession(t)
	type page struct {
		Entries []session.ConsoleEntry `json:"entries"`
		Total   int                    `json:"total"`
	}
	errs := call[page](t, cs, "session_console", map[string]any{"sessionId": sessiontest.ID, "levels": []string{"error"}})
	require.Equal(t, 1, errs.Total)
	assert.Contains(t, errs.Entries[0].Stack, "submit")

	byStack := call[page](t, cs, "session_console", map[string]any{"sessionId": sessiontest.ID, "text": "app.js"})
	assert.Equal(t, 1, byStack.Total)
}

func TestSessionSearch(t *testing.T) {
	cs, _, _ := mcpSession(t)
	out := call[struct {
		Matches []library.Match `json:"matches"`
		Total   int             `json:"total"`
	}](t, cs, "session_search", map[string]any{"sessionId": sessiontest.ID, "query": "alice@"})
	require.Equal(t, 1, out.Total)
	assert.Equal(t, "action-1", out.Matches[0].ActionID)
	assert.Equal(t, "value", out.Matches[0].Field)

	assert.Contains(t, callErr(t, cs, "session_search", map[string]any{"sessionId": sessiontest.ID}), "query is required")
}
