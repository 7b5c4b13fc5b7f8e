// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes slip-box tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/noteservice"
)

const guideURI = "slipbox://linking-guide"

// Server wraps the MCP server with slip-box tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Session
}

// New creates a new MCP server with all slip-box tools registered.
func New(svc *noteservice.Session, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Slipbox",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	directionEnum := mcp.Enum(string(models.Anterior), string(models.Posterior))

	s.mcp.AddTool(mcp.NewTool("capture_note",
		mcp.WithDescription("Capture a new atomic note. Optionally link it to an existing note in the same step. "+
			"Read the linking guide first via get_linking_guide or the "+guideURI+" resource."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Plain-text note content; #tags are derived from it")),
		mcp.WithString("link_from", mcp.Description("Id of an existing note to link the new note to")),
		mcp.WithString("direction", directionEnum, mcp.Description("Where the new note sits relative to link_from")),
	), s.captureNote)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note with its anterior and posterior links resolved."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List notes newest first, one \"id<TAB>title\" per line."),
		mcp.WithString("tag", mcp.Description("Optional tag filter, with or without #")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Replace the content of a note. Tags are re-derived."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New content")),
		mcp.WithString("if_match", mcp.Description("Checksum from read_note; the update fails if the note changed since")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note and every link to it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("link_notes",
		mcp.WithDescription("Link two existing notes. The reverse link is recorded on the target."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source note id")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target note id")),
		mcp.WithString("direction", mcp.Required(), directionEnum, mcp.Description("Where target sits relative to source")),
	), s.linkNotes)

	s.mcp.AddTool(mcp.NewTool("unlink_notes",
		mcp.WithDescription("Remove a link between two notes, on both ends."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source note id")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target note id")),
		mcp.WithString("direction", mcp.Required(), directionEnum, mcp.Description("Direction the link was made in")),
	), s.unlinkNotes)

	s.mcp.AddTool(mcp.NewTool("neighborhood",
		mcp.WithDescription("Notes within depth hops of a focus note, grouped by distance, with the links between them."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Focus note id")),
		mcp.WithNumber("depth", mcp.Description("Hop count, default 1")),
	), s.neighborhood)

	s.mcp.AddTool(mcp.NewTool("get_linking_guide",
		mcp.WithDescription("Returns the slip-box linking guide. "+
			"Call this before capturing or linking notes."),
	), s.getLinkingGuide)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Linking Guide",
			mcp.WithResourceDescription("How notes, tags and directed links work in the slip-box."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLinkingGuideResource,
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

// optional returns the string argument key, or "" if it is absent.
func optional(req mcp.CallToolRequest, key string) string {
	v, err := req.RequireString(key)
	if err != nil {
		return ""
	}
	return v
}

func direction(req mcp.CallToolRequest) (models.Direction, error) {
	raw, err := req.RequireString("direction")
	if err != nil {
		return "", err
	}
	return models.ParseDirection(raw)
}

// toolError renders err for the model. Domain errors get a short reason.
func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found: " + err.Error())
	case errors.Is(err, apperr.ErrConflict):
		return mcp.NewToolResultError("note changed since it was read; read it again and retry")
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcpserver: marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) captureNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var n models.Note
	if from := optional(req, "link_from"); from != "" {
		dir, derr := direction(req)
		if derr != nil {
			return mcp.NewToolResultError(derr.Error()), nil
		}
		n, err = s.svc.CreateAndLink(from, content, dir)
	} else {
		n, err = s.svc.Create(content)
	}
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", n.ID)), nil
}

func (s *Server) readNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.Note(id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(n)
}

func (s *Server) listNotes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag := strings.TrimPrefix(optional(req, "tag"), "#")
	items := s.svc.List(tag)
	if len(items) == 0 {
		return mcp.NewToolResultText("no notes found"), nil
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, it.ID+"\t"+it.Title)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) updateNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.UpdateContent(id, content, optional(req, "if_match")); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated: %s", id)), nil
}

func (s *Server) deleteNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Delete(id); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) linkArgs(req mcp.CallToolRequest) (source, target string, dir models.Direction, err error) {
	if source, err = req.RequireString("source"); err != nil {
		return
	}
	if target, err = req.RequireString("target"); err != nil {
		return
	}
	dir, err = direction(req)
	return
}

func (s *Server) linkNotes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, target, dir, err := s.linkArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Link(source, target, dir); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("linked: %s -[%s]-> %s", source, dir, target)), nil
}

func (s *Server) unlinkNotes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, target, dir, err := s.linkArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Unlink(source, target, dir); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("unlinked: %s -[%s]-> %s", source, dir, target)), nil
}

func (s *Server) neighborhood(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	nb, err := s.svc.Neighborhood(id, req.GetInt("depth", 1))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(nb)
}

func (s *Server) getLinkingGuide(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(LinkingGuide), nil
}

func (s *Server) readLinkingGuideResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     LinkingGuide,
		},
	}, nil
}
