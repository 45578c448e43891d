package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"setup", "gmail", "mcp", "server", "v2"}, Words("Setup Gmail-MCP server (v2)!"))
	assert.Empty(t, Words("  ... "))
}

func TestContentTokensDropsShortAndStopWords(t *testing.T) {
	got := ContentTokens("Configure the Gmail MCP server for an AI agent")
	assert.Equal(t, Set([]string{"configure", "gmail", "mcp", "server", "agent"}), got)
}

func TestJaccard(t *testing.T) {
	a := Set([]string{"gmail", "mcp", "oauth"})
	b := Set([]string{"gmail", "mcp"})
	assert.InDelta(t, 2.0/3.0, Jaccard(a, b), 1e-9)
	assert.Equal(t, Jaccard(a, b), Jaccard(b, a))
	assert.Equal(t, 0.0, Jaccard(nil, nil))
	assert.Equal(t, 0.0, Jaccard(a, nil))
	assert.Equal(t, 1.0, Jaccard(a, a))
}
