package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/vecdocs/internal/chunker"
	"github.com/kalambet/vecdocs/internal/duplicate"
	"github.com/kalambet/vecdocs/internal/ingest"
	"github.com/kalambet/vecdocs/internal/vectorstore"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Documents Documents
	Version   string
	// Dimension and Metric fill in create_index calls that omit them.
	Dimension int
	Metric    string
}

// NewMCPServer creates an MCP server with the document and index tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"vecdocs",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("vecdocs stores documents as embedded chunks in named vector indexes. Use search_documents to find relevant passages and add_document_with_duplicate_check to ingest without creating near-duplicates."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Chunk, embed and store a document. Near-identical content updates the existing document instead. Empty content is accepted and stores nothing."),
			mcp.WithString("content", mcp.Description("Document text; may be empty"), mcp.Required()),
			mcp.WithString("index", mcp.Description("Index name (default: configured index)")),
			mcp.WithString("id", mcp.Description("Document id (default: generated)")),
			mcp.WithObject("metadata", mcp.Description("Metadata object stored with every chunk")),
			mcp.WithString("strategy", mcp.Description("Chunking strategy: recursive, character, token, markdown, html, json, latex")),
		),
		mcpAddDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("add_document_with_duplicate_check",
			mcp.WithDescription("Add a document after asking the language model whether similar stored documents make it a skip, an update or a new document. Empty content is accepted and stores nothing."),
			mcp.WithString("content", mcp.Description("Document text; may be empty"), mcp.Required()),
			mcp.WithString("index", mcp.Description("Index name (default: configured index)")),
			mcp.WithString("id", mcp.Description("Document id (default: generated)")),
			mcp.WithObject("metadata", mcp.Description("Metadata object stored with every chunk")),
			mcp.WithString("strategy", mcp.Description("Chunking strategy")),
			mcp.WithNumber("threshold", mcp.Description("Similarity threshold in [0, 1]")),
			mcp.WithString("duplicate_strategy", mcp.Description("semantic, metadata or hybrid")),
			mcp.WithNumber("top_k", mcp.Description("Similar documents shown to the model, at least 0")),
		),
		mcpAddDocumentWithDuplicateCheck(deps),
	)

	s.AddTool(
		mcp.NewTool("update_document",
			mcp.WithDescription("Replace a document's content and merge its metadata."),
			mcp.WithString("id", mcp.Description("Document id"), mcp.Required()),
			mcp.WithString("index", mcp.Description("Index name (default: configured index)")),
			mcp.WithString("content", mcp.Description("New content; omit to keep only metadata changes")),
			mcp.WithObject("metadata", mcp.Description("Metadata merged over the stored metadata")),
		),
		mcpUpdateDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_document",
			mcp.WithDescription("Delete every chunk of a document."),
			mcp.WithString("id", mcp.Description("Document id"), mcp.Required()),
			mcp.WithString("index", mcp.Description("Index name (default: configured index)")),
		),
		mcpDeleteDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantic search over stored chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("index", mcp.Description("Index name (default: configured index)")),
			mcp.WithNumber("top_k", mcp.Description("Maximum number of results (default 10)")),
			mcp.WithNumber("min_score", mcp.Description("Drop results scoring below this value")),
			mcp.WithObject("filter", mcp.Description("Metadata filter: {key: value}, {key: {$eq: v}} or {key: {$in: [...]}}")),
		),
		mcpSearchDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List documents rebuilt from their chunks, newest first."),
			mcp.WithString("index", mcp.Description("Index name (default: configured index)")),
			mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
			mcp.WithNumber("offset", mcp.Description("Documents to skip")),
			mcp.WithObject("filter", mcp.Description("Metadata filter")),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("get_document",
			mcp.WithDescription("Fetch one document by id."),
			mcp.WithString("id", mcp.Description("Document id"), mcp.Required()),
			mcp.WithString("index", mcp.Description("Index name (default: configured index)")),
		),
		mcpGetDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("create_index",
			mcp.WithDescription("Create a vector index."),
			mcp.WithString("name", mcp.Description("Index name"), mcp.Required()),
			mcp.WithNumber("dimension", mcp.Description("Vector dimension (default: configured dimension)")),
			mcp.WithString("metric", mcp.Description("cosine, euclidean or dotproduct")),
		),
		mcpCreateIndex(deps),
	)

	s.AddTool(
		mcp.NewTool("list_indexes",
			mcp.WithDescription("List index names."),
		),
		mcpListIndexes(deps),
	)

	s.AddTool(
		mcp.NewTool("describe_index",
			mcp.WithDescription("Show an index's dimension, metric and chunk count."),
			mcp.WithString("name", mcp.Description("Index name"), mcp.Required()),
		),
		mcpDescribeIndex(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_index",
			mcp.WithDescription("Delete an index and everything stored in it."),
			mcp.WithString("name", mcp.Description("Index name"), mcp.Required()),
		),
		mcpDeleteIndex(deps),
	)

	return s
}

func mcpAddDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in, errResult := newDocumentArg(req)
		if errResult != nil {
			return errResult, nil
		}
		res, err := deps.Documents.AddDocument(ctx, req.GetString("index", ""), in)
		if err != nil {
			return mcpAppError(err), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpAddDocumentWithDuplicateCheck(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in, errResult := newDocumentArg(req)
		if errResult != nil {
			return errResult, nil
		}

		cfg := deps.Documents.DuplicateConfig()
		cfg.Enabled = true
		cfg.Threshold = req.GetFloat("threshold", cfg.Threshold)
		cfg.TopK = req.GetInt("top_k", cfg.TopK)
		if s := req.GetString("duplicate_strategy", ""); s != "" {
			strategy, err := duplicate.ParseStrategy(s)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			cfg.Strategy = strategy
		}
		if err := cfg.Validate(); err != nil {
			return mcpError(err.Error()), nil
		}

		res, err := deps.Documents.AddDocumentWithDuplicateCheck(ctx, req.GetString("index", ""), in, &cfg)
		if err != nil {
			return mcpAppError(err), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpUpdateDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		metadata, err := objectArg(req, "metadata")
		if err != nil {
			return mcpError(err.Error()), nil
		}
		var content *string
		if c, err := req.RequireString("content"); err == nil {
			content = &c
		}
		if content == nil && metadata == nil {
			return mcpError("at least one of content or metadata is required"), nil
		}

		doc, err := deps.Documents.UpdateDocument(ctx, req.GetString("index", ""), id, content, metadata)
		if err != nil {
			return mcpAppError(err), nil
		}
		return mcpJSON(doc), nil
	}
}

func mcpDeleteDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		n, err := deps.Documents.DeleteDocument(ctx, req.GetString("index", ""), id)
		if err != nil {
			return mcpAppError(err), nil
		}
		return mcpText(fmt.Sprintf("Deleted %d chunks of document %s", n, id)), nil
	}
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		filter, err := objectArg(req, "filter")
		if err != nil {
			return mcpError(err.Error()), nil
		}

		topK := req.GetInt("top_k", ingest.DefaultSearchTopK)
		if topK <= 0 {
			topK = ingest.DefaultSearchTopK
		}
		if topK > 100 {
			topK = 100
		}
		opts := ingest.SearchOptions{TopK: topK, Filter: vectorstore.Filter(filter)}
		if _, ok := req.GetArguments()["min_score"]; ok {
			minScore := req.GetFloat("min_score", 0)
			opts.MinScore = &minScore
		}

		results, err := deps.Documents.SearchDocuments(ctx, query, req.GetString("index", ""), opts)
		if err != nil {
			return mcpAppError(err), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(results), nil
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filter, err := objectArg(req, "filter")
		if err != nil {
			return mcpError(err.Error()), nil
		}
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}
		offset := req.GetInt("offset", 0)
		if offset < 0 {
			offset = 0
		}

		res, err := deps.Documents.ListDocuments(ctx, req.GetString("index", ""), limit, offset, vectorstore.Filter(filter))
		if err != nil {
			return mcpAppError(err), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpGetDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		doc, err := deps.Documents.GetDocument(ctx, req.GetString("index", ""), id)
		if err != nil {
			return mcpAppError(err), nil
		}
		return mcpJSON(doc), nil
	}
}

func mcpCreateIndex(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		dimension := req.GetInt("dimension", deps.Dimension)
		metric := req.GetString("metric", deps.Metric)

		if err := deps.Documents.CreateIndex(ctx, name, dimension, metric); err != nil {
			return mcpAppError(err), nil
		}
		return mcpText(fmt.Sprintf("Created index %s", name)), nil
	}
}

func mcpListIndexes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		names, err := deps.Documents.ListIndexes(ctx)
		if err != nil {
			return mcpAppError(err), nil
		}
		if names == nil {
			names = []string{}
		}
		return mcpJSON(names), nil
	}
}

func mcpDescribeIndex(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		stats, err := deps.Documents.DescribeIndex(ctx, name)
		if err != nil {
			return mcpAppError(err), nil
		}
		return mcpJSON(stats), nil
	}
}

func mcpDeleteIndex(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		if err := deps.Documents.DeleteIndex(ctx, name); err != nil {
			return mcpAppError(err), nil
		}
		return mcpText(fmt.Sprintf("Deleted index %s", name)), nil
	}
}

// newDocumentArg reads the arguments shared by the add tools.
func newDocumentArg(req mcp.CallToolRequest) (ingest.NewDocument, *mcp.CallToolResult) {
	content, err := req.RequireString("content")
	if err != nil {
		return ingest.NewDocument{}, mcpError("content is required")
	}
	metadata, err := objectArg(req, "metadata")
	if err != nil {
		return ingest.NewDocument{}, mcpError(err.Error())
	}
	in := ingest.NewDocument{
		ID:       req.GetString("id", ""),
		Content:  content,
		Metadata: metadata,
	}
	if s := req.GetString("strategy", ""); s != "" {
		strategy, err := chunker.ParseStrategy(s)
		if err != nil {
			return ingest.NewDocument{}, mcpError(err.Error())
		}
		in.Strategy = strategy
	}
	return in, nil
}

// objectArg returns an object argument. Clients that cannot send nested
// objects may pass it as a JSON string instead.
func objectArg(req mcp.CallToolRequest, key string) (map[string]any, error) {
	switch v := req.GetArguments()[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("invalid %s JSON: %v", key, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%s must be an object", key)
	}
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

// mcpAppError reports a service error. The message starts with the error
// code so clients can branch on it.
func mcpAppError(err error) *mcp.CallToolResult {
	return mcpError(err.Error())
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
