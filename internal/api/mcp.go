package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rugintel/sentinel/internal/gemini"
	"github.com/rugintel/sentinel/internal/pipeline"
)

const (
	contextResourceURI = "knowledge://context"
	recentResourceURI  = "interactions://recent"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Chat ChatService
	// Store is optional; without it the recent interactions resource is not registered.
	Store   InteractionStore
	Version string
}

// NewMCPServer creates an MCP server exposing the assistant as a tool and
// the assembled knowledge context as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"sentinel",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("RugIntel Sentinel: answers questions about the RugIntel subnet from its knowledge base."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_sentinel",
			mcp.WithDescription("Ask the RugIntel Sentinel a question. The answer is grounded in the RugIntel knowledge base and formatted as light markdown."),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
		),
		mcpAskSentinel(deps),
	)

	s.AddResource(
		mcp.NewResource(
			contextResourceURI,
			"Knowledge Context",
			mcp.WithResourceDescription("The assembled knowledge base context injected into every prompt"),
			mcp.WithMIMEType("text/plain"),
		),
		mcpResourceContext(deps),
	)

	if deps.Store != nil {
		s.AddResource(
			mcp.NewResource(
				recentResourceURI,
				"Recent Interactions",
				mcp.WithResourceDescription("Last 10 recorded questions (summaries only)"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecent(deps),
		)
	}

	return s
}

func mcpAskSentinel(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		ans, err := deps.Chat.Answer(ctx, question)
		if err != nil {
			return mcpAnswerError(err), nil
		}
		return mcpText(ans.Text), nil
	}
}

// mcpAnswerError classifies an Answer failure the same way the HTTP
// endpoint does.
func mcpAnswerError(err error) *mcp.CallToolResult {
	var upstream *gemini.UpstreamError
	switch {
	case errors.Is(err, pipeline.ErrEmptyMessage):
		return mcpError("question is required")
	case errors.Is(err, pipeline.ErrNotConfigured):
		return mcpError(msgNotConfigured)
	case errors.As(err, &upstream):
		return mcpError(fmt.Sprintf("%s (HTTP %d): %s", msgUpstreamFailed, upstream.StatusCode, upstream.Body))
	case pipeline.StatusCode(err) == http.StatusGatewayTimeout:
		return mcpError(fmt.Sprintf("%s: request timed out", msgUpstreamFailed))
	default:
		return mcpError(fmt.Sprintf("%s: %v", msgInternal, err))
	}
}

func mcpResourceContext(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		text, err := deps.Chat.Context(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to assemble context: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     text,
			},
		}, nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Store.ListInteractions(ctx, 10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Query     string `json:"query"`
			Status    string `json:"status"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			query := ix.UserQuery
			if utf8.RuneCountInString(query) > 200 {
				query = string([]rune(query)[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				Query:     query,
				Status:    ix.Status,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
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
