// Package sessmcp exposes recorded sessions to agents as MCP tools.
package sessmcp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/llnl/session-recorder/kit"
	"github.com/llnl/session-recorder/library"
	"github.com/llnl/session-recorder/session"
	"github.com/llnl/session-recorder/snapshot"
)

const toolTimeout = 30 * time.Second

// Tools serves the session query tools.
type Tools struct {
	lib    *library.Library
	logger *slog.Logger
	md     *converter.Converter
}

// New creates the tool set over lib.
func New(lib *library.Library, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{
		lib:    lib,
		logger: logger,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// NewServer returns an MCP server with every tool registered.
func NewServer(lib *library.Library, logger *slog.Logger, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "sessrec", Version: version}, nil)
	New(lib, logger).Register(srv)
	return srv
}

// Register adds the tools to srv.
func (t *Tools) Register(srv *mcp.Server) {
	t.registerList(srv)
	t.registerLoad(srv)
	t.registerUnload(srv)
	t.registerSummary(srv)
	t.registerActions(srv)
	t.registerSnapshotMarkdown(srv)
	t.registerNetwork(srv)
	t.registerConsole(srv)
	t.registerSearch(srv)
}

func (t *Tools) add(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, endpoint, decode,
		kit.Recovery(t.logger),
		kit.Logging(t.logger, tool.Name),
		kit.Timeout(toolTimeout),
	)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func arrayProp(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

var errSessionID = errors.New("sessionId is required")

// session loads the session an argument names. Sessions are loaded on
// first use, so session_load is optional.
func (t *Tools) session(ctx context.Context, id string) (*library.Session, error) {
	if id == "" {
		return nil, errSessionID
	}
	return t.lib.Load(ctx, id)
}

// snapshotMarkdown converts the stored snapshot of an action to markdown.
func (t *Tools) snapshotMarkdown(s *library.Session, actionID, which string) (*snapshotResult, error) {
	var a *session.Action
	for i := range s.Manifest.Actions {
		if s.Manifest.Actions[i].ID == actionID {
			a = &s.Manifest.Actions[i]
			break
		}
	}
	if a == nil {
		return nil, fmt.Errorf("sessmcp: action %s not found in %s", actionID, s.ID)
	}
	in, ok := a.Interaction()
	if !ok {
		return nil, fmt.Errorf("sessmcp: action %s (%s) has no snapshots", actionID, a.Type)
	}

	snap := in.After
	switch which {
	case "", "after":
		which = "after"
	case "before":
		snap = in.Before
	default:
		return nil, fmt.Errorf("sessmcp: snapshot must be before or after, got %q", which)
	}

	src, err := fs.ReadFile(s.FS, path.Clean(snap.HTML))
	if err != nil {
		return nil, fmt.Errorf("sessmcp: read %s: %w", snap.HTML, err)
	}
	html, err := snapshot.RenderHTML(string(src), snapshot.RenderOptions{NoScript: true})
	if err != nil {
		return nil, fmt.Errorf("sessmcp: restore %s: %w", snap.HTML, err)
	}
	md, err := t.md.ConvertString(html, converter.WithDomain(snap.URL))
	if err != nil {
		return nil, fmt.Errorf("sessmcp: convert %s: %w", snap.HTML, err)
	}
	return &snapshotResult{
		ActionID: actionID,
		Snapshot: which,
		URL:      snap.URL,
		Markdown: strings.TrimSpace(md),
	}, nil
}
