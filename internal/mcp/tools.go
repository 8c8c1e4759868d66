package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jamaly87/codebase-semantic-search/internal/indexroot"
	"github.com/jamaly87/codebase-semantic-search/internal/manifest"
	"github.com/jamaly87/codebase-semantic-search/internal/models"
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool definitions for the MCP server
func (s *Server) getTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "semantic_search",
			Description: "Search for code in a repository using natural language queries. Use this tool when the user asks questions like 'where is...', 'find...', 'show me...', 'how do we...', or any question about locating specific code, functions, classes, or logic in the codebase. Returns ranked code matches with exact file locations, line numbers, and relevance scores. Works with semantic understanding (e.g., 'authentication logic' finds auth-related code even without exact keyword matches). Requires the repository to have been indexed first with index_codebase.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Natural language search query describing what code to find. Examples: 'JWT token validation', 'CSV file parsing', 'database connection setup', 'user authentication logic', 'error handling for API requests'. Can be short phrases or questions.",
					},
					"repo_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the repository to search",
					},
					"limit": map[string]interface{}{
						"type":        "number",
						"description": "Maximum number of results to return (default: 5)",
						"default":     5,
					},
					"scope": map[string]interface{}{
						"type":        "string",
						"description": "Optional relative subdirectory to restrict results to, e.g. 'internal/auth'",
						"default":     "",
					},
				},
				Required: []string{"query", "repo_path"},
			},
		},
		{
			Name:        "grep_search",
			Description: "Search for code by scanning files on demand and reranking matches with a cross-encoder, without requiring a prior index_codebase call. Use this tool for a quick one-off lookup in a repository that has not been indexed, or when the user explicitly asks for a 'grep'-style search. Slower per call than semantic_search on a repeatedly-queried repository, since nothing is cached between calls.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Search phrase or regular expression",
					},
					"repo_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the repository to search",
					},
					"limit": map[string]interface{}{
						"type":        "number",
						"description": "Maximum number of results to return (default: 10)",
						"default":     10,
					},
				},
				Required: []string{"query", "repo_path"},
			},
		},
		{
			Name:        "index_codebase",
			Description: "Index a code repository to enable semantic search. Use this tool when: (1) First time working with a new repository, (2) User explicitly asks to 'index', 'scan', or 'prepare' a codebase, (3) Before the first search query on a repository. This scans all code files, breaks them into structural blocks, generates embeddings, and stores them in the local vector store. Incremental by default (only reprocesses changed files); force_reindex clears the prior index first.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"repo_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the repository to index",
					},
					"force_reindex": map[string]interface{}{
						"type":        "boolean",
						"description": "Force full reindex even if repository is already indexed (default: false)",
						"default":     false,
					},
				},
				Required: []string{"repo_path"},
			},
		},
		{
			Name:        "clear_cache",
			Description: "Clear the index for a repository. Use this tool when: (1) User reports incorrect or stale search results, (2) Repository structure has changed significantly (files moved/renamed), (3) User explicitly asks to 'clear cache', 'reset index', or 'start fresh', (4) Debugging indexing issues. After clearing, the repository must be reindexed using index_codebase.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"repo_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the repository whose index should be cleared",
					},
				},
				Required: []string{"repo_path"},
			},
		},
		{
			Name:        "get_index_status",
			Description: "Get indexing status and statistics for a repository. Use this tool when: (1) User asks if a repository is indexed or 'is this repo ready?', (2) User asks 'how many files are indexed?', (3) Checking if indexing is needed before a search. Returns: total files indexed and total blocks embedded.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"repo_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the repository",
					},
				},
				Required: []string{"repo_path"},
			},
		},
	}
}

// Tool handlers

func (s *Server) handleSemanticSearch(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return errorResult("query is required and must be a string"), nil
	}

	repoPath, ok := args["repo_path"].(string)
	if !ok || repoPath == "" {
		return errorResult("repo_path is required and must be a string"), nil
	}

	limit := s.config.Search.MaxResults
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	scope, _ := args["scope"].(string)

	hits, err := s.engine.Search(ctx, repoPath, query, limit, scope)
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: formatHits(hits),
			},
		},
	}, nil
}

func (s *Server) handleGrepSearch(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return errorResult("query is required and must be a string"), nil
	}

	repoPath, ok := args["repo_path"].(string)
	if !ok || repoPath == "" {
		return errorResult("repo_path is required and must be a string"), nil
	}

	limit := 10
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	hits, err := s.grep.Run(ctx, repoPath, query, limit, s.config.Reranker.MaxCandidates)
	if err != nil {
		return errorResult(fmt.Sprintf("grep failed: %v", err)), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: formatHits(hits),
			},
		},
	}, nil
}

func (s *Server) handleIndexCodebase(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	repoPath, ok := args["repo_path"].(string)
	if !ok || repoPath == "" {
		return errorResult("repo_path is required and must be a string"), nil
	}

	forceReindex := false
	if fr, ok := args["force_reindex"].(bool); ok {
		forceReindex = fr
	}

	if forceReindex {
		if err := s.engine.Clear(repoPath); err != nil {
			return errorResult(fmt.Sprintf("failed to clear prior index: %v", err)), nil
		}
	}

	stats, err := s.engine.Build(ctx, repoPath)
	if err != nil {
		return errorResult(fmt.Sprintf("indexing failed: %v", err)), nil
	}

	response := map[string]interface{}{
		"message":       "Indexing completed",
		"repo":          repoPath,
		"force_reindex": forceReindex,
		"files_changed": stats.Changed,
		"files_deleted": stats.Deleted,
		"files_unchanged": stats.Unchanged,
		"errors":        stats.Errors,
	}

	return successResult(response), nil
}

func (s *Server) handleClearCache(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	repoPath, ok := args["repo_path"].(string)
	if !ok || repoPath == "" {
		return errorResult("repo_path is required and must be a string"), nil
	}

	if err := s.engine.Clear(repoPath); err != nil {
		return errorResult(fmt.Sprintf("failed to clear index: %v", err)), nil
	}

	response := map[string]interface{}{
		"message": "Index cleared successfully",
		"repo":    repoPath,
	}

	return successResult(response), nil
}

func (s *Server) handleGetIndexStatus(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	repoPath, ok := args["repo_path"].(string)
	if !ok || repoPath == "" {
		return errorResult("repo_path is required and must be a string"), nil
	}

	dir := filepath.Join(repoPath, indexroot.IndexDirName)
	m, err := manifest.Load(dir, repoPath)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to read index status: %v", err)), nil
	}

	totalBlocks := 0
	for _, entry := range m.Files {
		totalBlocks += len(entry.Blocks)
	}

	response := map[string]interface{}{
		"repo":         repoPath,
		"files_indexed": len(m.Files),
		"blocks_total": totalBlocks,
	}

	return successResult(response), nil
}

// Helper functions

func successResult(data interface{}) *mcp.CallToolResult {
	jsonData, _ := json.MarshalIndent(data, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(jsonData),
			},
		},
	}
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: fmt.Sprintf("Error: %s", message),
			},
		},
		IsError: true,
	}
}

func formatHits(hits []models.SearchHit) string {
	if len(hits) == 0 {
		return "No results found."
	}

	var output strings.Builder
	output.WriteString(fmt.Sprintf("Found %d results:\n\n", len(hits)))

	for i, h := range hits {
		location := fmt.Sprintf("%s:%d-%d", h.File, h.Line, h.EndLine)
		if h.Name != "" {
			location += fmt.Sprintf(" (%s %s)", h.Kind, h.Name)
		}

		output.WriteString(fmt.Sprintf("%d. %s\n", i+1, location))
		output.WriteString(fmt.Sprintf("   score: %.3f\n", h.Score))

		lines := strings.Split(h.Content, "\n")
		previewLines := 3
		if len(lines) < previewLines {
			previewLines = len(lines)
		}

		output.WriteString("   Preview:\n")
		for j := 0; j < previewLines; j++ {
			line := strings.TrimSpace(lines[j])
			if len(line) > 80 {
				line = line[:80] + "..."
			}
			output.WriteString(fmt.Sprintf("   │ %s\n", line))
		}
		if len(lines) > previewLines {
			output.WriteString(fmt.Sprintf("   │ ... (%d more lines)\n", len(lines)-previewLines))
		}

		output.WriteString("\n")
	}

	return output.String()
}
