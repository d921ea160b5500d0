package sessmcp

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/llnl/session-recorder/catalog"
	"github.com/llnl/session-recorder/kit"
	"github.com/llnl/session-recorder/library"
	"github.com/llnl/session-recorder/session"
)

// --- session_list ---

type listReq struct {
	Limit int `json:"limit"`
}

func (t *Tools) registerList(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "session_list",
		Description: "List recorded sessions, newest first.",
		InputSchema: inputSchema(map[string]any{
			"limit": prop("integer", "Maximum number of sessions (default all)"),
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*listReq)
		entries, err := t.lib.List(ctx, r.Limit)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []*catalog.Entry{}
		}
		return map[string]any{"sessions": entries, "loaded": t.lib.Loaded()}, nil
	}
	t.add(srv, tool, endpoint, kit.DecodeJSON[listReq]())
}

// --- session_load ---

type loadReq struct {
	Path string `json:"path"`
}

type loadResult struct {
	SessionID   string         `json:"sessionId"`
	Duration    int64          `json:"duration"`
	ActionCount int            `json:"actionCount"`
	HasVoice    bool           `json:"hasVoice"`
	HasNotes    bool           `json:"hasNotes"`
	URLs        []string       `json:"urls"`
	Summary     session.Counts `json:"summary"`
}

func (t *Tools) registerLoad(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "session_load",
		Description: "Load a recorded session from a zip, a directory or a session id and return an overview.",
		InputSchema: inputSchema(map[string]any{
			"path": prop("string", "Session zip, session directory or session id"),
		}, []string{"path"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*loadReq)
		if r.Path == "" {
			return nil, errors.New("path is required")
		}
		s, err := t.lib.Load(ctx, r.Path)
		if err != nil {
			return nil, err
		}
		sum := session.Summarize(s.Loaded)
		urls := make([]string, 0, len(sum.URLs))
		for _, u := range sum.URLs {
			urls = append(urls, u.URL)
		}
		return &loadResult{
			SessionID:   sum.SessionID,
			Duration:    sum.DurationMs,
			ActionCount: sum.TotalActions,
			HasVoice:    sum.HasVoice,
			HasNotes:    sum.HasNotes,
			URLs:        urls,
			Summary:     sum.Counts,
		}, nil
	}
	t.add(srv, tool, endpoint, kit.DecodeJSON[loadReq]())
}

// --- session_unload ---

type sessionReq struct {
	SessionID string `json:"sessionId"`
}

func (r sessionReq) SessionRef() string { return r.SessionID }

func (t *Tools) registerUnload(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "session_unload",
		Description: "Release a loaded session.",
		InputSchema: inputSchema(map[string]any{
			"sessionId": prop("string", "Session id"),
		}, []string{"sessionId"}),
	}
	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*sessionReq)
		if r.SessionID == "" {
			return nil, errSessionID
		}
		ok := t.lib.Unload(r.SessionID)
		msg := "Session " + r.SessionID + " unloaded"
		if !ok {
			msg = "Session " + r.SessionID + " not found"
		}
		return map[string]any{"success": ok, "message": msg}, nil
	}
	t.add(srv, tool, endpoint, kit.DecodeJSON[sessionReq]())
}

// --- session_summary ---

func (t *Tools) registerSummary(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "session_summary",
		Description: "Summarize a session: action counts by type, visited URLs, errors, transcript preview and detected features.",
		InputSchema: inputSchema(map[string]any{
			"sessionId": prop("string", "Session id"),
		}, []string{"sessionId"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*sessionReq)
		s, err := t.session(ctx, r.SessionID)
		if err != nil {
			return nil, err
		}
		return session.Summarize(s.Loaded), nil
	}
	t.add(srv, tool, endpoint, kit.DecodeJSON[sessionReq]())
}

// --- session_actions ---

type actionsReq struct {
	sessionReq
	Types  []string `json:"types"`
	Offset int      `json:"offset"`
	Limit  int      `json:"limit"`
}

func (t *Tools) registerActions(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "session_actions",
		Description: "List the actions of a session in timeline order, optionally filtered by type.",
		InputSchema: inputSchema(map[string]any{
			"sessionId": prop("string", "Session id"),
			"types":     arrayProp("Action types to keep (click, input, navigation, voice_transcript, ...)"),
			"offset":    prop("integer", "Actions to skip"),
			"limit":     prop("integer", "Maximum actions to return (default 100)"),
		}, []string{"sessionId"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*actionsReq)
		s, err := t.session(ctx, r.SessionID)
		if err != nil {
			return nil, err
		}
		types := make([]session.Type, 0, len(r.Types))
		for _, typ := range r.Types {
			types = append(types, session.Type(typ))
		}
		actions, total := s.Actions(library.ActionQuery{Types: types, Offset: r.Offset, Limit: r.Limit})
		return map[string]any{"actions": actions, "total": total}, nil
	}
	t.add(srv, tool, endpoint, kit.DecodeJSON[actionsReq]())
}

// --- session_snapshot_markdown ---

type snapshotReq struct {
	sessionReq
	ActionID string `json:"actionId"`
	Snapshot string `json:"snapshot"`
}

type snapshotResult struct {
	ActionID string `json:"actionId"`
	Snapshot string `json:"snapshot"`
	URL      string `json:"url"`
	Markdown string `json:"markdown"`
}

func (t *Tools) registerSnapshotMarkdown(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "session_snapshot_markdown",
		Description: "Return the page an action happened on, as markdown, from its before or after snapshot.",
		InputSchema: inputSchema(map[string]any{
			"sessionId": prop("string", "Session id"),
			"actionId":  prop("string", "Id of a recorded interaction"),
			"snapshot":  map[string]any{"type": "string", "enum": []string{"before", "after"}, "description": "Which snapshot (default after)"},
		}, []string{"sessionId", "actionId"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*snapshotReq)
		s, err := t.session(ctx, r.SessionID)
		if err != nil {
			return nil, err
		}
		return t.snapshotMarkdown(s, r.ActionID, r.Snapshot)
	}
	t.add(srv, tool, endpoint, kit.DecodeJSON[snapshotReq]())
}

// --- session_network ---

type networkReq struct {
	sessionReq
	Status    int    `json:"status"`
	MinStatus int    `json:"minStatus"`
	MinSize   int64  `json:"minSize"`
	URL       string `json:"url"`
	Offset    int    `json:"offset"`
	Limit     int    `json:"limit"`
}

func (t *Tools) registerNetwork(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "session_network",
		Description: "Search the network log of a session by status, minimum status, minimum size or URL substring.",
		InputSchema: inputSchema(map[string]any{
			"sessionId": prop("string", "Session id"),
			"status":    prop("integer", "Exact HTTP status"),
			"minStatus": prop("integer", "Minimum HTTP status, e.g. 400 for failures"),
			"minSize":   prop("integer", "Minimum response size in bytes"),
			"url":       prop("string", "URL substring"),
			"offset":    prop("integer", "Entries to skip"),
			"limit":     prop("integer", "Maximum entries to return (default 100)"),
		}, []string{"sessionId"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*networkReq)
		s, err := t.session(ctx, r.SessionID)
		if err != nil {
			return nil, err
		}
		entries, total := s.NetworkEntries(library.NetworkQuery{
			Status:    r.Status,
			MinStatus: r.MinStatus,
			MinSize:   r.MinSize,
			URL:       r.URL,
			Offset:    r.Offset,
			Limit:     r.Limit,
		})
		return map[string]any{"entries": entries, "total": total}, nil
	}
	t.add(srv, tool, endpoint, kit.DecodeJSON[networkReq]())
}

// --- session_console ---

type consoleReq struct {
	sessionReq
	Levels []string `json:"levels"`
	Text   string   `json:"text"`
	Offset int      `json:"offset"`
	Limit  int      `json:"limit"`
}

func (t *Tools) registerConsole(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "session_console",
		Description: "Search the console log of a session by level or text.",
		InputSchema: inputSchema(map[string]any{
			"sessionId": prop("string", "Session id"),
			"levels":    arrayProp("Levels to keep (log, info, warn, error, debug)"),
			"text":      prop("string", "Text contained in the message or stack"),
			"offset":    prop("integer", "Entries to skip"),
			"limit":     prop("integer", "Maximum entries to return (default 100)"),
		}, []string{"sessionId"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*consoleReq)
		s, err := t.session(ctx, r.SessionID)
		if err != nil {
			return nil, err
		}
		entries, total := s.ConsoleEntries(library.ConsoleQuery{
			Levels: r.Levels,
			Text:   r.Text,
			Offset: r.Offset,
			Limit:  r.Limit,
		})
		return map[string]any{"entries": entries, "total": total}, nil
	}
	t.add(srv, tool, endpoint, kit.DecodeJSON[consoleReq]())
}

// --- session_search ---

type searchReq struct {
	sessionReq
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (t *Tools) registerSearch(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "session_search",
		Description: "Full-text search over transcripts, input values, keys, URLs and notes of a session.",
		InputSchema: inputSchema(map[string]any{
			"sessionId": prop("string", "Session id"),
			"query":     prop("string", "Text to find, case-insensitive"),
			"limit":     prop("integer", "Maximum matches (default 100)"),
		}, []string{"sessionId", "query"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*searchReq)
		if r.Query == "" {
			return nil, errors.New("query is required")
		}
		s, err := t.session(ctx, r.SessionID)
		if err != nil {
			return nil, err
		}
		matches := s.Search(r.Query, r.Limit)
		return map[string]any{"matches": matches, "total": len(matches)}, nil
	}
	t.add(srv, tool, endpoint, kit.DecodeJSON[searchReq]())
}
