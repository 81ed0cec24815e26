package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/common"
	"github.com/ternarybob/chantier/internal/interfaces"
	"github.com/ternarybob/chantier/internal/models"
)

// MCPHandler exposes the RAG tools over the MCP streamable HTTP transport
type MCPHandler struct {
	engine  interfaces.QueryEngine
	store   interfaces.VectorStore
	indexer interfaces.Indexer
	userID  string
	logger  arbor.ILogger
	http    http.Handler
}

// NewMCPHandler creates the MCP server with the rag_query and rag_status tools.
// Tool calls run as userID.
func NewMCPHandler(engine interfaces.QueryEngine, store interfaces.VectorStore, indexer interfaces.Indexer, userID string, logger arbor.ILogger) *MCPHandler {
	h := &MCPHandler{
		engine:  engine,
		store:   store,
		indexer: indexer,
		userID:  userID,
		logger:  logger,
	}

	mcpServer := server.NewMCPServer(
		"chantier",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)
	mcpServer.AddTool(ragQueryTool(), h.handleQuery)
	mcpServer.AddTool(ragStatusTool(), h.handleStatus)

	h.http = server.NewStreamableHTTPServer(mcpServer)
	return h
}

// ServeHTTP handles /mcp
func (h *MCPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.http.ServeHTTP(w, r)
}

func ragQueryTool() mcp.Tool {
	return mcp.NewTool("rag_query",
		mcp.WithDescription("Answer a question about construction sites using the indexed business data"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Question in natural language"),
		),
		mcp.WithString("scope_id",
			mcp.Description("Restrict retrieval to one site id"),
		),
		mcp.WithString("entity_type",
			mcp.Description("Restrict retrieval to one entity type (site, client, order, task, ...)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum sources to retrieve (max: 50)"),
		),
	)
}

func ragStatusTool() mcp.Tool {
	return mcp.NewTool("rag_status",
		mcp.WithDescription("Show indexed chunk counts per entity type"),
	)
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
		IsError: isError,
	}
}

func (h *MCPHandler) handleQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return textResult("Error: question parameter is required", true), nil
	}

	qc := &models.QueryContext{
		ScopeID: request.GetString("scope_id", ""),
		Limit:   request.GetInt("limit", 0),
	}
	if raw := request.GetString("entity_type", ""); raw != "" {
		entityType, err := models.ParseEntityType(raw)
		if err != nil {
			return textResult(fmt.Sprintf("Error: %v", err), true), nil
		}
		qc.EntityType = entityType
	}

	resp, err := h.engine.Answer(ctx, &models.RAGQuery{Question: question, UserID: h.userID, Context: qc})
	if err != nil {
		h.logger.Error().Err(err).Msg("MCP rag_query failed")
		return textResult(fmt.Sprintf("Error (%s): %v", interfaces.KindOf(err), err), true), nil
	}

	return textResult(formatAnswer(resp), false), nil
}

func (h *MCPHandler) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var sb strings.Builder
	stats := h.store.Stats(ctx)

	sb.WriteString("# RAG status\n\n")
	sb.WriteString(fmt.Sprintf("Chunks: %d (dimension %d)\n", h.store.Count(), h.store.Dimension()))
	sb.WriteString(fmt.Sprintf("Indexing: %t\n\n", h.indexer.IsRunning()))
	for _, entityType := range models.AllEntityTypes() {
		sb.WriteString(fmt.Sprintf("- %s: %d\n", entityType, stats[entityType]))
	}

	return textResult(sb.String(), false), nil
}

// formatAnswer renders an answer and its sources as markdown
func formatAnswer(resp *models.RAGResponse) string {
	var sb strings.Builder
	sb.WriteString(resp.Answer)
	sb.WriteString(fmt.Sprintf("\n\nConfidence: %.2f\n", resp.Confidence))

	if len(resp.Sources) > 0 {
		sb.WriteString("\n## Sources\n\n")
		for i, source := range resp.Sources {
			score := 0.0
			if i < len(resp.Scores) {
				score = resp.Scores[i]
			}
			sb.WriteString(fmt.Sprintf("%d. %s (%s, %.2f)\n", i+1, source.Metadata.EntityName, source.ID, score))
		}
	}
	return sb.String()
}
