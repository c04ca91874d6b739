package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/vecdocs/internal/document"
	"github.com/kalambet/vecdocs/internal/ingest"
	"github.com/kalambet/vecdocs/internal/vectorstore"
)

func newTestMCPDeps(t *testing.T, chat *mockChat) MCPDeps {
	t.Helper()
	return MCPDeps{
		Documents: newTestService(t, chat),
		Version:   "test",
		Dimension: testDim,
		Metric:    "cosine",
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	result, err := handler(context.Background(), makeCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("%s returned error: %v", name, err)
	}
	return result
}

// addedDocument decodes an add_document result and checks its status.
func addedDocument(t *testing.T, result *mcp.CallToolResult, want ingest.Status) document.Document {
	t.Helper()
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var res ingest.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Status != want {
		t.Fatalf("status = %q, want %q", res.Status, want)
	}
	return res.Document
}

func TestNewMCPServer(t *testing.T) {
	if s := NewMCPServer(newTestMCPDeps(t, nil)); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_AddAndGetDocument(t *testing.T) {
	deps := newTestMCPDeps(t, nil)

	result := callTool(t, mcpAddDocument(deps), "add_document", map[string]interface{}{
		"content":  "tool calls over stdio",
		"metadata": map[string]interface{}{"source": "mcp"},
	})
	doc := addedDocument(t, result, ingest.Added)
	if doc.ID == "" || doc.ChunkCount != 1 {
		t.Fatalf("doc = %+v", doc)
	}

	result = callTool(t, mcpGetDocument(deps), "get_document", map[string]interface{}{"id": doc.ID})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var got document.Document
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Content != "tool calls over stdio" || got.Metadata["source"] != "mcp" {
		t.Errorf("got = %+v", got)
	}
}

func TestMCPTool_AddDocument_MetadataAsString(t *testing.T) {
	deps := newTestMCPDeps(t, nil)

	result := callTool(t, mcpAddDocument(deps), "add_document", map[string]interface{}{
		"content":  "metadata arrives as a JSON string",
		"metadata": `{"source":"string"}`,
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), `"source":"string"`) {
		t.Errorf("result = %s", toolText(t, result))
	}

	result = callTool(t, mcpAddDocument(deps), "add_document", map[string]interface{}{
		"content":  "broken",
		"metadata": `{oops`,
	})
	if !result.IsError {
		t.Fatal("expected error for invalid metadata JSON")
	}
}

func TestMCPTool_AddDocument_MissingContent(t *testing.T) {
	deps := newTestMCPDeps(t, nil)
	result := callTool(t, mcpAddDocument(deps), "add_document", map[string]interface{}{})
	if !result.IsError {
		t.Fatal("expected error for missing content")
	}
}

func TestMCPTool_AddDocument_EmptyContentAccepted(t *testing.T) {
	deps := newTestMCPDeps(t, nil)
	doc := addedDocument(t, callTool(t, mcpAddDocument(deps), "add_document", map[string]interface{}{"content": ""}), ingest.Added)
	if doc.ChunkCount != 0 {
		t.Errorf("chunkCount = %d, want 0", doc.ChunkCount)
	}
}

func TestMCPTool_AddDocument_RepeatReportsUpdate(t *testing.T) {
	deps := newTestMCPDeps(t, nil)
	args := map[string]interface{}{"content": "weekly sync notes for the platform team"}
	first := addedDocument(t, callTool(t, mcpAddDocument(deps), "add_document", args), ingest.Added)
	second := addedDocument(t, callTool(t, mcpAddDocument(deps), "add_document", args), ingest.Updated)
	if second.ID != first.ID {
		t.Errorf("updated id = %s, want %s", second.ID, first.ID)
	}
}

func TestMCPTool_AddDocumentWithDuplicateCheck_Update(t *testing.T) {
	chat := &mockChat{}
	deps := newTestMCPDeps(t, chat)
	origDoc := addedDocument(t, callTool(t, mcpAddDocument(deps), "add_document", map[string]interface{}{
		"content": "standup is at nine every weekday",
	}), ingest.Added)
	chat.response = `{"action":"update","reason":"newer time","targetDocumentId":"` + origDoc.ID + `","confidence":0.8}`

	result := callTool(t, mcpAddDocumentWithDuplicateCheck(deps), "add_document_with_duplicate_check", map[string]interface{}{
		"content":   "standup is at nine every weekday",
		"threshold": 0.5,
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var res ingest.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Status != ingest.Updated || res.Document.ID != origDoc.ID {
		t.Errorf("result = %+v, want update of %s", res, origDoc.ID)
	}
}

func TestMCPTool_AddDocumentWithDuplicateCheck_BadStrategy(t *testing.T) {
	deps := newTestMCPDeps(t, nil)
	result := callTool(t, mcpAddDocumentWithDuplicateCheck(deps), "add_document_with_duplicate_check", map[string]interface{}{
		"content":            "x",
		"duplicate_strategy": "fuzzy",
	})
	if !result.IsError {
		t.Fatal("expected error for unknown duplicate strategy")
	}
}

func TestMCPTool_AddDocumentWithDuplicateCheck_OutOfRange(t *testing.T) {
	deps := newTestMCPDeps(t, nil)
	for name, args := range map[string]map[string]interface{}{
		"threshold above one": {"content": "x", "threshold": 5.0},
		"negative threshold":  {"content": "x", "threshold": -0.5},
		"negative top_k":      {"content": "x", "top_k": -1.0},
	} {
		t.Run(name, func(t *testing.T) {
			result := callTool(t, mcpAddDocumentWithDuplicateCheck(deps), "add_document_with_duplicate_check", args)
			if !result.IsError {
				t.Fatalf("expected error, got %s", toolText(t, result))
			}
		})
	}
}

func TestMCPTool_UpdateAndDelete(t *testing.T) {
	deps := newTestMCPDeps(t, nil)
	doc := addedDocument(t, callTool(t, mcpAddDocument(deps), "add_document", map[string]interface{}{"content": "old words here"}), ingest.Added)

	result := callTool(t, mcpUpdateDocument(deps), "update_document", map[string]interface{}{
		"id":      doc.ID,
		"content": "brand new words",
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "brand new words") {
		t.Errorf("result = %s", toolText(t, result))
	}

	result = callTool(t, mcpUpdateDocument(deps), "update_document", map[string]interface{}{"id": doc.ID})
	if !result.IsError {
		t.Fatal("expected error when neither content nor metadata is given")
	}

	result = callTool(t, mcpDeleteDocument(deps), "delete_document", map[string]interface{}{"id": doc.ID})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "Deleted 1 chunks") {
		t.Errorf("result = %s", toolText(t, result))
	}

	result = callTool(t, mcpGetDocument(deps), "get_document", map[string]interface{}{"id": doc.ID})
	if !result.IsError || !strings.HasPrefix(toolText(t, result), "DOCUMENT_NOT_FOUND") {
		t.Errorf("get after delete = %s, want DOCUMENT_NOT_FOUND", toolText(t, result))
	}
}

func TestMCPTool_SearchDocuments(t *testing.T) {
	deps := newTestMCPDeps(t, nil)
	add := mcpAddDocument(deps)
	callTool(t, add, "add_document", map[string]interface{}{"content": "postgres replication lag", "metadata": map[string]interface{}{"team": "db"}})
	callTool(t, add, "add_document", map[string]interface{}{"content": "frontend bundle size", "metadata": map[string]interface{}{"team": "web"}})

	result := callTool(t, mcpSearchDocuments(deps), "search_documents", map[string]interface{}{
		"query":  "replication lag",
		"top_k":  5,
		"filter": map[string]interface{}{"team": "db"},
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var results []document.SearchResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &results); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(results) != 1 || !strings.Contains(results[0].Content, "replication") {
		t.Errorf("results = %+v", results)
	}

	result = callTool(t, mcpSearchDocuments(deps), "search_documents", map[string]interface{}{
		"query":     "replication lag",
		"min_score": 2.0,
	})
	if got := toolText(t, result); got != "[]" {
		t.Errorf("min_score above every score = %s, want []", got)
	}
}

func TestMCPTool_SearchDocuments_MissingQuery(t *testing.T) {
	deps := newTestMCPDeps(t, nil)
	result := callTool(t, mcpSearchDocuments(deps), "search_documents", map[string]interface{}{})
	if !result.IsError {
		t.Fatal("expected error for missing query")
	}
}

func TestMCPTool_ListDocuments(t *testing.T) {
	deps := newTestMCPDeps(t, nil)
	add := mcpAddDocument(deps)
	callTool(t, add, "add_document", map[string]interface{}{"content": "one apple"})
	callTool(t, add, "add_document", map[string]interface{}{"content": "two bananas"})

	result := callTool(t, mcpListDocuments(deps), "list_documents", map[string]interface{}{"limit": 1})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var page ingest.ListResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &page); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(page.Documents) != 1 || page.Total != 2 {
		t.Errorf("page = %d docs, total %d; want 1 of 2", len(page.Documents), page.Total)
	}
}

func TestMCPTool_IndexTools(t *testing.T) {
	deps := newTestMCPDeps(t, nil)

	result := callTool(t, mcpCreateIndex(deps), "create_index", map[string]interface{}{"name": "papers"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	result = callTool(t, mcpListIndexes(deps), "list_indexes", nil)
	if got := toolText(t, result); got != `["papers"]` {
		t.Errorf("list_indexes = %s", got)
	}

	result = callTool(t, mcpDescribeIndex(deps), "describe_index", map[string]interface{}{"name": "papers"})
	var stats vectorstore.IndexStats
	if err := json.Unmarshal([]byte(toolText(t, result)), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.Dimension != testDim || stats.Metric != vectorstore.Cosine {
		t.Errorf("stats = %+v", stats)
	}

	result = callTool(t, mcpCreateIndex(deps), "create_index", map[string]interface{}{"name": "Bad Name"})
	if !result.IsError || !strings.HasPrefix(toolText(t, result), "INDEX_CREATION_FAILED") {
		t.Errorf("create bad name = %s", toolText(t, result))
	}

	result = callTool(t, mcpDeleteIndex(deps), "delete_index", map[string]interface{}{"name": "papers"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	result = callTool(t, mcpDescribeIndex(deps), "describe_index", map[string]interface{}{"name": "papers"})
	if !result.IsError {
		t.Fatal("expected error describing a deleted index")
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps := newTestMCPDeps(t, nil)
	addHandler := mcpAddDocument(deps)
	searchHandler := mcpSearchDocuments(deps)

	// Create the index up front so concurrent adds do not race on it.
	callTool(t, mcpCreateIndex(deps), "create_index", map[string]interface{}{"name": "docs"})

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := addHandler(context.Background(), makeCallToolRequest("add_document", map[string]interface{}{
				"content": "concurrent content",
			}))
			if err != nil {
				errs <- err
			}
		}()
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := searchHandler(context.Background(), makeCallToolRequest("search_documents", map[string]interface{}{
				"query": "concurrent",
			}))
			if err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}
