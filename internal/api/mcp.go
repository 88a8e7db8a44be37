package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/attune/internal/errdefs"
	"github.com/kalambet/attune/internal/personality"
	"github.com/kalambet/attune/internal/pipeline"
	"github.com/kalambet/attune/internal/profile"
)

const profileURIPrefix = "attune://profile/"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Evolver *pipeline.Evolver
	Store   *profile.Store
	Version string
}

// NewMCPServer creates an MCP server with all attune tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"attune",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("attune adapts a per-user personality from conversation and scores reply quality."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("process_message",
			mcp.WithDescription("Run one user message through the adaptation pipeline and return the reply, personality changes, and quality report."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
			mcp.WithString("message", mcp.Description("The user's message")),
		),
		mcpProcessMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("get_user_stats",
			mcp.WithDescription("Return conversation, quality and evolution statistics for one user."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
		),
		mcpUserStats(deps),
	)

	s.AddTool(
		mcp.NewTool("get_global_stats",
			mcp.WithDescription("Return statistics aggregated over every user."),
		),
		mcpGlobalStats(deps),
	)

	s.AddTool(
		mcp.NewTool("personality_summary",
			mcp.WithDescription("Describe a user's current personality in words."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
		),
		mcpPersonalitySummary(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"attune://stats",
			"Global Stats",
			mcp.WithResourceDescription("Statistics aggregated over every user as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			profileURIPrefix+"{user_id}",
			"User Profile",
			mcp.WithTemplateDescription("A user's stored profile as JSON"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	return s
}

func mcpProcessMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		message := req.GetString("message", "")

		res, err := deps.Evolver.ProcessMessage(ctx, userID, message)
		if err != nil && !errdefs.IsCollaborator(err) {
			return mcpError(fmt.Sprintf("process_message failed: %v", err)), nil
		}
		resp := ChatResponse{Result: res}
		if err != nil {
			resp.Error = err.Error()
		}
		return mcpJSON(resp)
	}
}

func mcpUserStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		st, err := deps.Store.Stats(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get stats: %v", err)), nil
		}
		return mcpJSON(st)
	}
}

func mcpGlobalStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		gs, err := deps.Store.GlobalStats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get global stats: %v", err)), nil
		}
		return mcpJSON(gs)
	}
}

func mcpPersonalitySummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		p, err := deps.Store.Load(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load profile: %v", err)), nil
		}
		s := personality.Summarize(p.Personality)
		return mcpText(fmt.Sprintf("%s\n\n%s", s.Line, personality.PromptLines(p.Personality))), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		gs, err := deps.Store.GlobalStats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get global stats: %w", err)
		}
		return jsonResource(req.Params.URI, gs)
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		userID := strings.TrimPrefix(req.Params.URI, profileURIPrefix)
		if userID == req.Params.URI || userID == "" {
			return nil, fmt.Errorf("invalid profile URI %q", req.Params.URI)
		}
		p, err := deps.Store.Load(userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}
		return jsonResource(req.Params.URI, p)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
