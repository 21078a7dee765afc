package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/ingestd/internal/retrieval"
	"github.com/kalambet/ingestd/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store       Store
	Retriever   Retriever
	DefaultTopK int
}

// NewMCPServer creates an MCP server exposing retrieval and ingestion tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"ingestd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("ingestd: PDF attachments chunked and embedded per companion, searchable by meaning."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("retrieve_chunks",
			mcp.WithDescription("Return the chunks of a companion's attachment most relevant to a query, closest first."),
			mcp.WithString("companion_id", mcp.Description("Companion ID"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description("Maximum number of chunks (default 5)")),
		),
		mcpRetrieveChunks(deps),
	)

	s.AddTool(
		mcp.NewTool("companion_status",
			mcp.WithDescription("Show a companion's embedding status and number of stored chunks."),
			mcp.WithString("companion_id", mcp.Description("Companion ID"), mcp.Required()),
		),
		mcpCompanionStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("enqueue_ingestion",
			mcp.WithDescription("Queue a fresh ingestion of a companion's attachment."),
			mcp.WithString("companion_id", mcp.Description("Companion ID"), mcp.Required()),
		),
		mcpEnqueueIngestion(deps),
	)

	return s
}

func mcpRetrieveChunks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("companion_id")
		if err != nil {
			return mcpError("companion_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		topK := deps.DefaultTopK
		if topK <= 0 {
			topK = defaultTopK
		}
		topK = req.GetInt("top_k", topK)

		matches, err := deps.Retriever.Retrieve(ctx, id, query, topK)
		if errors.Is(err, retrieval.ErrNotReady) {
			return mcpError(fmt.Sprintf("companion %s is still being ingested or failed ingestion", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}
		return mcpJSON(matches)
	}
}

func mcpCompanionStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("companion_id")
		if err != nil {
			return mcpError("companion_id is required"), nil
		}

		resp, err := companionStatus(ctx, deps.Store, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("companion %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("status lookup failed: %v", err)), nil
		}
		return mcpJSON(resp)
	}
}

func mcpEnqueueIngestion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("companion_id")
		if err != nil {
			return mcpError("companion_id is required"), nil
		}

		resp, err := enqueueIngestion(ctx, deps.Store, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("companion %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue ingestion: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued job %s for companion %s", resp.Job.ID, id)), nil
	}
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
