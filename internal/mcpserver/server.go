// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes note search tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/notesearch/internal/apperr"
	"github.com/starford/notesearch/internal/noteservice"
)

const guideURI = "notesearch://search-guide"

// Server wraps the MCP server with note search tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"notesearch",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Hybrid search over notes: exact title match, full-text keywords and semantic similarity. "+
			"Results are merged and attributed to the sources that found them. See get_search_guide."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 20)")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Note id, the path relative to the vault (e.g. folder/note.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List notes, newest first, optionally within a folder."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
		mcp.WithNumber("limit", mcp.Description("Max notes (0 for all)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("index_status",
		mcp.WithDescription("Report staleness and build state of the full-text and semantic indexes."),
	), s.indexStatus)

	s.mcp.AddTool(mcp.NewTool("build_search_index",
		mcp.WithDescription("Rebuild the full-text and semantic indexes and wait for completion."),
	), s.buildSearchIndex)

	s.mcp.AddTool(mcp.NewTool("get_search_guide",
		mcp.WithDescription("Explains how search results are ranked and what the result fields mean."),
	), s.getSearchGuide)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Search Guide",
			mcp.WithResourceDescription("How hybrid search ranks and attributes results."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query must not be empty"), nil
	}
	resp, err := s.svc.Search(ctx, query, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(resp)
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.GetNote(ctx, path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(note.Content), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes, err := s.svc.ListNotes(ctx, req.GetString("folder", ""), req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ids := make([]string, 0, len(notes))
	for _, n := range notes {
		ids = append(ids, n.ID)
	}
	return mcp.NewToolResultText(strings.Join(ids, "\n")), nil
}

func (s *Server) indexStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.svc.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st)
}

func (s *Server) buildSearchIndex(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.svc.BuildIndexes(ctx, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("indexed %d notes (fulltext), %d notes (semantic)", res.FullText, res.Semantic)), nil
}

func (s *Server) getSearchGuide(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(SearchGuide), nil
}

func (s *Server) readGuideResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     SearchGuide,
		},
	}, nil
}
