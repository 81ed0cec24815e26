package handlers

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestMCP_RagQuery(t *testing.T) {
	f := newHandlerFixture(t)
	_, err := f.indexer.IndexAll(context.Background())
	require.NoError(t, err)

	h := NewMCPHandler(f.handler.engine, f.store, f.indexer, "mcp", arbor.NewLogger())

	result := callTool(t, h.handleQuery, map[string]interface{}{"question": "chantier Lantin"})
	assert.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "stub answer")
	assert.Contains(t, text, "site:s1")

	result = callTool(t, h.handleQuery, map[string]interface{}{})
	assert.True(t, result.IsError)

	result = callTool(t, h.handleQuery, map[string]interface{}{"question": "x", "entity_type": "spaceship"})
	assert.True(t, result.IsError)
}

func TestMCP_RagStatus(t *testing.T) {
	f := newHandlerFixture(t)
	_, err := f.indexer.IndexAll(context.Background())
	require.NoError(t, err)

	h := NewMCPHandler(f.handler.engine, f.store, f.indexer, "mcp", arbor.NewLogger())
	text := resultText(t, callTool(t, h.handleStatus, nil))
	assert.Contains(t, text, "Chunks: 3")
	assert.Contains(t, text, "- site: 3")
}
