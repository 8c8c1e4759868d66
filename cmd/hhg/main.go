// Command hhg is the unified CLI for the code search engine: build/update an
// index, run semantic or grep search against it, serve the MCP tool surface,
// report status, or delete an index. It supersedes the separate
// cmd/index, cmd/server, and cmd/search-test entrypoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jamaly87/codebase-semantic-search/internal/embedding"
	"github.com/jamaly87/codebase-semantic-search/internal/engine"
	"github.com/jamaly87/codebase-semantic-search/internal/extractor"
	"github.com/jamaly87/codebase-semantic-search/internal/indexroot"
	"github.com/jamaly87/codebase-semantic-search/internal/manifest"
	"github.com/jamaly87/codebase-semantic-search/internal/mcp"
	"github.com/jamaly87/codebase-semantic-search/internal/models"
	"github.com/jamaly87/codebase-semantic-search/internal/rerank"
	"github.com/jamaly87/codebase-semantic-search/pkg/config"
	"github.com/jamaly87/codebase-semantic-search/pkg/ignore"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch cmd {
	case "build":
		runBuild(cfg, args)
	case "search":
		runSearch(cfg, args)
	case "grep":
		runGrep(cfg, args)
	case "serve":
		runServe(cfg)
	case "status":
		runStatus(cfg, args)
	case "clean":
		runClean(cfg, args)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `hhg - semantic code search

Usage:
  hhg build [path]                 Build or incrementally update the index
  hhg search -query "..." [path]   Semantic search against the index
  hhg grep -query "..." [path]     Scan-and-rerank search, no index required
  hhg serve                        Run the MCP server over stdio
  hhg status [path]                Show index statistics
  hhg clean [path]                 Delete the index`)
}

func newEngine(cfg *config.Config) (*engine.Engine, error) {
	ex, err := extractor.New()
	if err != nil {
		return nil, fmt.Errorf("creating extractor: %w", err)
	}
	embedder := embedding.NewCachedEmbedder(embedding.NewOllamaEmbedder(&cfg.Embeddings))
	eng := engine.New(ex, embedder, cfg.Indexing.ParallelWorkers).
		WithIgnoreMatcher(ignore.NewMatcher(cfg.Ignore.Patterns))
	if cfg.Cache.Enabled {
		if _, err := eng.WithHashCache(cfg.Cache.Directory); err != nil {
			return nil, fmt.Errorf("attaching hash cache: %w", err)
		}
	}
	return eng, nil
}

func repoPathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("Failed to get current directory: %v", err)
	}
	return wd
}

func runBuild(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	fs.Parse(args)
	root := repoPathArg(fs.Args())

	eng, err := newEngine(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	slog.Info("Building index", "repository", root)
	start := time.Now()
	stats, err := eng.Build(context.Background(), root)
	if err != nil {
		log.Fatalf("Build failed: %v", err)
	}

	slog.Info("Build completed",
		"duration", time.Since(start),
		"changed", stats.Changed,
		"deleted", stats.Deleted,
		"unchanged", stats.Unchanged,
		"errors", stats.Errors)
}

func runSearch(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	query := fs.String("query", "", "search query")
	limit := fs.Int("n", cfg.Search.MaxResults, "number of results")
	scope := fs.String("scope", "", "restrict results to a relative subdirectory")
	fs.Parse(args)

	if *query == "" {
		log.Fatal("search requires -query")
	}
	root := repoPathArg(fs.Args())

	eng, err := newEngine(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, indexroot.IndexDirName)); os.IsNotExist(err) {
		slog.Info("No index found, building first", "repository", root)
		if _, err := eng.Build(context.Background(), root); err != nil {
			log.Fatalf("Build failed: %v", err)
		}
	}

	start := time.Now()
	hits, err := eng.Search(context.Background(), root, *query, *limit, *scope)
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}
	printHits(hits, time.Since(start))
}

func runGrep(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("grep", flag.ExitOnError)
	query := fs.String("query", "", "search pattern")
	limit := fs.Int("n", 10, "number of results")
	fs.Parse(args)

	if *query == "" {
		log.Fatal("grep requires -query")
	}
	root := repoPathArg(fs.Args())

	ex, err := extractor.New()
	if err != nil {
		log.Fatalf("Failed to create extractor: %v", err)
	}

	var rr rerank.Reranker
	if cfg.Reranker.Enabled {
		rr = rerank.NewHTTPReranker(cfg.Reranker.URL)
	}
	g := rerank.New(ex, rr)

	start := time.Now()
	hits, err := g.Run(context.Background(), root, *query, *limit, cfg.Reranker.MaxCandidates)
	if err != nil {
		log.Fatalf("Grep failed: %v", err)
	}
	printHits(hits, time.Since(start))
}

func runServe(cfg *config.Config) {
	server, err := mcp.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}
	defer server.Close()

	slog.Info("Starting MCP server on stdio transport")
	if err := server.Start(context.Background()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func runStatus(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)
	root := repoPathArg(fs.Args())

	dir := filepath.Join(root, indexroot.IndexDirName)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		fmt.Printf("No index at %s\n", dir)
		return
	}

	m, err := manifest.Load(dir, root)
	if err != nil {
		log.Fatalf("Failed to read index: %v", err)
	}

	totalBlocks := 0
	for _, entry := range m.Files {
		totalBlocks += len(entry.Blocks)
	}

	fmt.Printf("Index: %s\n", dir)
	fmt.Printf("  Files:  %d\n", len(m.Files))
	fmt.Printf("  Blocks: %d\n", totalBlocks)
}

func runClean(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	fs.Parse(args)
	root := repoPathArg(fs.Args())

	eng, err := newEngine(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}
	if err := eng.Clear(root); err != nil {
		log.Fatalf("Clean failed: %v", err)
	}
	fmt.Println("Index deleted")
}

func printHits(hits []models.SearchHit, elapsed time.Duration) {
	if len(hits) == 0 {
		fmt.Println("No results found")
		return
	}
	for i, h := range hits {
		location := fmt.Sprintf("%s:%d-%d", h.File, h.Line, h.EndLine)
		if h.Name != "" {
			location += fmt.Sprintf(" (%s %s)", h.Kind, h.Name)
		}
		fmt.Printf("%d. %s  score=%.3f\n", i+1, location, h.Score)
	}
	fmt.Printf("\n%d results (%.2fs)\n", len(hits), elapsed.Seconds())
}
