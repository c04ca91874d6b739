package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/vecdocs/internal/chunker"
	"github.com/kalambet/vecdocs/internal/document"
	"github.com/kalambet/vecdocs/internal/duplicate"
	"github.com/kalambet/vecdocs/internal/ingest"
	"github.com/kalambet/vecdocs/internal/vectorstore"
)

const maxRequestBodySize = 10 << 20 // 10MB

// Documents is the ingestion surface exposed over REST and MCP.
// *ingest.Service implements it.
type Documents interface {
	AddDocument(ctx context.Context, index string, in ingest.NewDocument) (ingest.Result, error)
	AddDocumentWithDuplicateCheck(ctx context.Context, index string, in ingest.NewDocument, cfg *duplicate.Config) (ingest.Result, error)
	UpdateDocument(ctx context.Context, index, id string, content *string, metadata map[string]any) (document.Document, error)
	DeleteDocument(ctx context.Context, index, id string) (int, error)
	SearchDocuments(ctx context.Context, query, index string, opts ingest.SearchOptions) ([]document.SearchResult, error)
	ListDocuments(ctx context.Context, index string, limit, offset int, filter vectorstore.Filter) (ingest.ListResult, error)
	GetDocument(ctx context.Context, index, id string) (document.Document, error)
	CreateIndex(ctx context.Context, name string, dimension int, metric string) error
	DeleteIndex(ctx context.Context, name string) error
	ListIndexes(ctx context.Context) ([]string, error)
	DescribeIndex(ctx context.Context, name string) (vectorstore.IndexStats, error)
	DuplicateConfig() duplicate.Config
}

type AppDeps struct {
	Documents Documents
	// Token guards every route except /health. Empty disables auth.
	Token string
	// Dimension is used when a create-index request omits one.
	Dimension int
	Metric    string
}

// AddDocumentRequest is the body of POST /indexes/{index}/documents.
type AddDocumentRequest struct {
	ID             string             `json:"id"`
	Content        string             `json:"content"`
	Metadata       map[string]any     `json:"metadata"`
	Strategy       string             `json:"strategy"`
	DuplicateCheck *DuplicateOverride `json:"duplicateCheck"`
}

// DuplicateOverride replaces individual duplicate check settings for one
// request. Unset fields keep the configured values.
type DuplicateOverride struct {
	Enabled   *bool    `json:"enabled"`
	Threshold *float64 `json:"threshold"`
	Strategy  *string  `json:"strategy"`
	TopK      *int     `json:"topK"`
}

type UpdateDocumentRequest struct {
	Content  *string        `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

type SearchRequest struct {
	Query    string             `json:"query"`
	TopK     int                `json:"topK"`
	Filter   vectorstore.Filter `json:"filter"`
	MinScore *float64           `json:"minScore"`
}

type CreateIndexRequest struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/indexes", handleListIndexes(deps))
		r.Post("/indexes", handleCreateIndex(deps))
		r.Get("/indexes/{index}", handleDescribeIndex(deps))
		r.Delete("/indexes/{index}", handleDeleteIndex(deps))

		r.Post("/indexes/{index}/documents", handleAddDocument(deps))
		r.Get("/indexes/{index}/documents", handleListDocuments(deps))
		r.Get("/indexes/{index}/documents/{id}", handleGetDocument(deps))
		r.Patch("/indexes/{index}/documents/{id}", handleUpdateDocument(deps))
		r.Delete("/indexes/{index}/documents/{id}", handleDeleteDocument(deps))
		r.Post("/indexes/{index}/search", handleSearch(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListIndexes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := deps.Documents.ListIndexes(r.Context())
		if err != nil {
			writeAppError(w, err)
			return
		}
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"indexes": names})
	}
}

func handleCreateIndex(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateIndexRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, codeInvalidRequest, "name is required")
			return
		}
		if req.Dimension == 0 {
			req.Dimension = deps.Dimension
		}
		if req.Metric == "" {
			req.Metric = deps.Metric
		}

		if err := deps.Documents.CreateIndex(r.Context(), req.Name, req.Dimension, req.Metric); err != nil {
			writeAppError(w, err)
			return
		}
		stats, err := deps.Documents.DescribeIndex(r.Context(), req.Name)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, stats)
	}
}

func handleDescribeIndex(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Documents.DescribeIndex(r.Context(), chi.URLParam(r, "index"))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleDeleteIndex(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Documents.DeleteIndex(r.Context(), chi.URLParam(r, "index")); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// handleAddDocument stores a document. With ?dedupe=true the duplicate
// check runs first and the response carries its outcome.
func handleAddDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddDocumentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		index := chi.URLParam(r, "index")
		in := ingest.NewDocument{
			ID:       req.ID,
			Content:  req.Content,
			Metadata: req.Metadata,
		}
		if req.Strategy != "" {
			strategy, err := chunker.ParseStrategy(req.Strategy)
			if err != nil {
				httpError(w, http.StatusBadRequest, codeInvalidRequest, "%v", err)
				return
			}
			in.Strategy = strategy
		}

		dedupe, _ := strconv.ParseBool(r.URL.Query().Get("dedupe"))
		if !dedupe && req.DuplicateCheck == nil {
			res, err := deps.Documents.AddDocument(r.Context(), index, in)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, addStatusCode(res), res)
			return
		}

		cfg, err := req.DuplicateCheck.apply(deps.Documents.DuplicateConfig())
		if err != nil {
			httpError(w, http.StatusBadRequest, codeInvalidRequest, "duplicateCheck: %v", err)
			return
		}
		res, err := deps.Documents.AddDocumentWithDuplicateCheck(r.Context(), index, in, &cfg)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, addStatusCode(res), res)
	}
}

// addStatusCode is 201 only when a new document was stored.
func addStatusCode(res ingest.Result) int {
	if res.Status == ingest.Added {
		return http.StatusCreated
	}
	return http.StatusOK
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		var filter vectorstore.Filter
		if raw := r.URL.Query().Get("filter"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &filter); err != nil {
				httpError(w, http.StatusBadRequest, codeInvalidRequest, "invalid filter JSON: %v", err)
				return
			}
		}

		res, err := deps.Documents.ListDocuments(r.Context(), chi.URLParam(r, "index"), limit, offset, filter)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if res.Documents == nil {
			res.Documents = []document.Document{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"documents": res.Documents,
			"total":     res.Total,
			"limit":     limit,
			"offset":    offset,
		})
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Documents.GetDocument(r.Context(), chi.URLParam(r, "index"), chi.URLParam(r, "id"))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleUpdateDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateDocumentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Content == nil && req.Metadata == nil {
			httpError(w, http.StatusBadRequest, codeInvalidRequest, "at least one of content or metadata is required")
			return
		}

		doc, err := deps.Documents.UpdateDocument(r.Context(), chi.URLParam(r, "index"), chi.URLParam(r, "id"), req.Content, req.Metadata)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Documents.DeleteDocument(r.Context(), chi.URLParam(r, "index"), chi.URLParam(r, "id"))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deletedChunks": n})
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.TopK > 100 {
			req.TopK = 100
		}

		results, err := deps.Documents.SearchDocuments(r.Context(), req.Query, chi.URLParam(r, "index"), ingest.SearchOptions{
			TopK:     req.TopK,
			Filter:   req.Filter,
			MinScore: req.MinScore,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}
		if results == nil {
			results = []document.SearchResult{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

// apply overlays o on base. A nil override enables the check with the
// base settings.
func (o *DuplicateOverride) apply(base duplicate.Config) (duplicate.Config, error) {
	cfg := base
	cfg.Enabled = true
	if o == nil {
		return cfg, nil
	}
	if o.Enabled != nil {
		cfg.Enabled = *o.Enabled
	}
	if o.Threshold != nil {
		cfg.Threshold = *o.Threshold
	}
	if o.Strategy != nil {
		s, err := duplicate.ParseStrategy(*o.Strategy)
		if err != nil {
			return duplicate.Config{}, err
		}
		cfg.Strategy = s
	}
	if o.TopK != nil {
		cfg.TopK = *o.TopK
	}
	if err := cfg.Validate(); err != nil {
		return duplicate.Config{}, err
	}
	return cfg, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
