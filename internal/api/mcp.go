package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/norma-app/norma/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Logger   EventLogger
	Searcher EventSearcher
}

// NewMCPServer creates an MCP server exposing the journal to agent clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"norma",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("norma is a personal event journal. Log things the user did in free text and answer questions about their history."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("log_event",
			mcp.WithDescription("Record a free-text statement about something the user did. The statement is converted to a timestamped event record."),
			mcp.WithString("text", mcp.Description("The statement, e.g. \"I drank coffee this morning\""), mcp.Required()),
		),
		mcpLogEvent(deps),
	)

	s.AddTool(
		mcp.NewTool("search_events",
			mcp.WithDescription("Answer a free-text question about the user's event history and return the matching records."),
			mcp.WithString("query", mcp.Description("The question, e.g. \"When did I last run?\""), mcp.Required()),
		),
		mcpSearchEvents(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"norma://events/recent",
			"Recent Events",
			mcp.WithResourceDescription("Last 20 stored event records as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentEvents(deps),
	)

	return s
}

func mcpLogEvent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		event, err := deps.Logger.LogEvent(ctx, text)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to log event: %v", err)), nil
		}
		if event == nil {
			return mcpText("Nothing to log: the statement was blank."), nil
		}

		b, err := json.Marshal(event)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal event: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchEvents(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		results, err := deps.Searcher.Search(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecentEvents(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		events, err := deps.Store.ListEvents(20, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}
		if events == nil {
			events = []storage.Event{}
		}

		b, err := json.Marshal(events)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal events: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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
