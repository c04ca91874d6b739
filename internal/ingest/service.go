// Package ingest orchestrates document ingestion: chunking, embedding,
// duplicate resolution and storage of chunk vectors, plus the read paths
// that rebuild documents from stored chunks.
package ingest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/vecdocs/internal/apperr"
	"github.com/kalambet/vecdocs/internal/chunker"
	"github.com/kalambet/vecdocs/internal/document"
	"github.com/kalambet/vecdocs/internal/duplicate"
	"github.com/kalambet/vecdocs/internal/engine"
	"github.com/kalambet/vecdocs/internal/vectorstore"
)

const (
	// DefaultRedirectThreshold is the chunk score above which AddDocument
	// treats a stored chunk as a copy of a new one.
	DefaultRedirectThreshold = 0.95

	DefaultSearchTopK = 10

	// neighborsPerDocument widens neighbour searches so that documents
	// with many matching chunks do not crowd out the others.
	neighborsPerDocument = 5
)

// Metadata keys set on skipped placeholder documents.
const (
	KeySkipped     = "skipped"
	KeyDuplicateOf = "duplicateOf"
	KeySkipReason  = "skipReason"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrEmptyQuery       = errors.New("query is empty")
	ErrNoIndex          = errors.New("no index name given and no default index configured")
)

// Embedder turns text into vectors.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// DuplicateChecker decides how to handle near-duplicates.
type DuplicateChecker interface {
	Check(ctx context.Context, content string, metadata map[string]any, neighbors []document.SearchResult, cfg duplicate.Config) duplicate.CheckResult
}

// Config holds orchestration settings.
type Config struct {
	DefaultIndex      string
	Metric            vectorstore.Metric
	AutoCreateIndex   bool
	RedirectThreshold float64
	Duplicate         duplicate.Config
}

// Service is the ingestion orchestrator. It holds no per-document state;
// concurrent calls for the same document id may interleave.
type Service struct {
	store    vectorstore.Store
	embedder Embedder
	chunker  *chunker.Chunker
	detector DuplicateChecker
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewService wires a Service. detector may be nil, in which case duplicate
// checks never find duplicates.
func NewService(store vectorstore.Store, embedder Embedder, ch *chunker.Chunker, detector DuplicateChecker, cfg Config, logger *slog.Logger) *Service {
	if cfg.RedirectThreshold <= 0 {
		cfg.RedirectThreshold = DefaultRedirectThreshold
	}
	if cfg.Metric == "" {
		cfg.Metric = vectorstore.Cosine
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		embedder: embedder,
		chunker:  ch,
		detector: detector,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// DuplicateConfig returns the configured duplicate check settings.
func (s *Service) DuplicateConfig() duplicate.Config {
	return s.cfg.Duplicate
}

// NewDocument is the input of the add operations. ID is optional. Strategy
// overrides the configured chunking strategy when set.
type NewDocument struct {
	ID       string           `json:"id,omitempty"`
	Content  string           `json:"content"`
	Metadata map[string]any   `json:"metadata,omitempty"`
	Strategy chunker.Strategy `json:"strategy,omitempty"`
}

// Status is the terminal state of an ingestion request.
type Status string

const (
	Added   Status = "added"
	Updated Status = "updated"
	Skipped Status = "skipped"
)

// Result is the outcome of AddDocumentWithDuplicateCheck.
type Result struct {
	Document  document.Document      `json:"document"`
	Status    Status                 `json:"status"`
	Duplicate *duplicate.CheckResult `json:"duplicateCheck,omitempty"`
}

// SearchOptions narrow a search.
type SearchOptions struct {
	TopK     int                `json:"topK,omitempty"`
	Filter   vectorstore.Filter `json:"filter,omitempty"`
	MinScore *float64           `json:"minScore,omitempty"`
}

// ListResult is one page of documents and the number of documents overall.
type ListResult struct {
	Documents []document.Document `json:"documents"`
	Total     int                 `json:"total"`
}

// prepared is content that has been chunked and embedded but not stored.
type prepared struct {
	content string
	chunks  []document.Chunk
	vectors [][]float32
}

func (s *Service) indexName(index string) (string, error) {
	if index = strings.TrimSpace(index); index != "" {
		return index, nil
	}
	if s.cfg.DefaultIndex != "" {
		return s.cfg.DefaultIndex, nil
	}
	return "", ErrNoIndex
}

// AddDocument stores a document under its supplied id or a new one. When
// a stored document is a near-copy of the new content, that document is
// updated instead and the result carries Updated. Empty content yields a
// document with no chunks and performs no writes.
func (s *Service) AddDocument(ctx context.Context, index string, in NewDocument) (Result, error) {
	index, err := s.indexName(index)
	if err != nil {
		return Result{}, s.fail(apperr.DocumentAdd, "resolving index", err, map[string]any{"documentId": in.ID})
	}
	details := map[string]any{"indexName": index, "documentId": in.ID}

	p, err := s.prepare(ctx, in.Content, in.Strategy)
	if err != nil {
		return Result{}, s.fail(apperr.DocumentAdd, "preparing document", err, details)
	}
	if len(p.chunks) == 0 {
		return Result{Document: s.emptyDocument(in), Status: Added}, nil
	}
	if err := s.ensureIndex(ctx, index, len(p.vectors[0])); err != nil {
		return Result{}, s.fail(apperr.DocumentAdd, "preparing index", err, details)
	}

	target, score, err := s.redirectTarget(ctx, index, p)
	if err != nil {
		return Result{}, s.fail(apperr.DocumentAdd, "looking up near-identical documents", err, details)
	}
	if target != "" {
		s.logger.Info("near-identical document found, updating instead of adding",
			"index", index, "document_id", target, "score", score)
		doc, err := s.replace(ctx, index, target, p, in.Metadata)
		if err != nil {
			return Result{}, s.fail(apperr.DocumentAdd, "redirecting to update", err, map[string]any{"indexName": index, "documentId": target})
		}
		return Result{Document: doc, Status: Updated}, nil
	}

	doc, err := s.insert(ctx, index, in.ID, p, in.Metadata)
	if err != nil {
		return Result{}, s.fail(apperr.DocumentAdd, "storing chunks", err, details)
	}
	return Result{Document: doc, Status: Added}, nil
}

// AddDocumentWithDuplicateCheck runs the duplicate detector before
// storing. A skip decision performs no writes and returns a placeholder
// flagged with skipped=true; update replaces the target document's chunks;
// add stores a new document. cfg nil uses the configured settings.
func (s *Service) AddDocumentWithDuplicateCheck(ctx context.Context, index string, in NewDocument, cfg *duplicate.Config) (Result, error) {
	index, err := s.indexName(index)
	if err != nil {
		return Result{}, s.fail(apperr.DocumentAdd, "resolving index", err, map[string]any{"documentId": in.ID})
	}
	details := map[string]any{"indexName": index, "documentId": in.ID}
	dupCfg := s.cfg.Duplicate
	if cfg != nil {
		dupCfg = *cfg
	}

	p, err := s.prepare(ctx, in.Content, in.Strategy)
	if err != nil {
		return Result{}, s.fail(apperr.DocumentAdd, "preparing document", err, details)
	}
	if len(p.chunks) == 0 {
		return Result{Document: s.emptyDocument(in), Status: Added}, nil
	}

	neighbors, err := s.neighbors(ctx, index, p.vectors, dupCfg.TopK)
	if err != nil {
		return Result{}, s.fail(apperr.DocumentAdd, "searching for duplicates", err, details)
	}

	var check duplicate.CheckResult
	if s.detector != nil {
		check = s.detector.Check(ctx, in.Content, in.Metadata, neighbors, dupCfg)
	} else {
		check = duplicate.CheckResult{Threshold: dupCfg.Threshold, SimilarDocuments: []document.SimilarDocument{}}
	}
	res := Result{Duplicate: &check}

	decision := duplicate.Decision{Action: duplicate.Add}
	if check.IsDuplicate && check.Decision != nil && len(check.SimilarDocuments) > 0 {
		decision = *check.Decision
	}

	switch decision.Action {
	case duplicate.Skip:
		best := check.SimilarDocuments[0]
		s.logger.Info("skipping duplicate document", "index", index, "duplicate_of", best.DocumentID, "reason", decision.Reason)
		res.Document = s.skippedDocument(in, best.DocumentID, decision.Reason)
		res.Status = Skipped
		return res, nil

	case duplicate.Update:
		if !similarTo(check.SimilarDocuments, decision.TargetDocumentID) {
			s.logger.Warn("update target is not among similar documents, adding instead",
				"index", index, "target", decision.TargetDocumentID)
			break
		}
		if err := s.ensureIndex(ctx, index, len(p.vectors[0])); err != nil {
			return Result{}, s.fail(apperr.DocumentUpdate, "preparing index", err, details)
		}
		doc, err := s.replace(ctx, index, decision.TargetDocumentID, p, in.Metadata)
		if err != nil {
			return Result{}, s.fail(apperr.DocumentUpdate, "updating duplicate", err,
				map[string]any{"indexName": index, "documentId": decision.TargetDocumentID})
		}
		res.Document = doc
		res.Status = Updated
		return res, nil
	}

	if err := s.ensureIndex(ctx, index, len(p.vectors[0])); err != nil {
		return Result{}, s.fail(apperr.DocumentAdd, "preparing index", err, details)
	}
	doc, err := s.insert(ctx, index, in.ID, p, in.Metadata)
	if err != nil {
		return Result{}, s.fail(apperr.DocumentAdd, "storing chunks", err, details)
	}
	res.Document = doc
	res.Status = Added
	return res, nil
}

// UpdateDocument replaces a document's chunks. Metadata is merged over the
// stored metadata. A nil content deletes every chunk and records nothing
// new, so the returned document has a chunk count of zero.
func (s *Service) UpdateDocument(ctx context.Context, index, id string, content *string, metadata map[string]any) (document.Document, error) {
	index, err := s.indexName(index)
	if err != nil {
		return document.Document{}, s.fail(apperr.DocumentUpdate, "resolving index", err, map[string]any{"documentId": id})
	}
	details := map[string]any{"indexName": index, "documentId": id}
	if strings.TrimSpace(id) == "" {
		return document.Document{}, s.fail(apperr.DocumentUpdate, "document id is required", ErrDocumentNotFound, details)
	}

	var p prepared
	if content != nil {
		p, err = s.prepare(ctx, *content, "")
		if err != nil {
			return document.Document{}, s.fail(apperr.DocumentUpdate, "preparing document", err, details)
		}
		if len(p.vectors) > 0 {
			if err := s.ensureIndex(ctx, index, len(p.vectors[0])); err != nil {
				return document.Document{}, s.fail(apperr.DocumentUpdate, "preparing index", err, details)
			}
		}
	}

	doc, err := s.replace(ctx, index, id, p, metadata)
	if err != nil {
		return document.Document{}, s.fail(apperr.DocumentUpdate, "replacing chunks", err, details)
	}
	return doc, nil
}

// DeleteDocument removes every chunk of a document and returns how many
// were deleted. Deleting a missing document is not an error.
func (s *Service) DeleteDocument(ctx context.Context, index, id string) (int, error) {
	index, err := s.indexName(index)
	if err != nil {
		return 0, s.fail(apperr.DocumentDelete, "resolving index", err, map[string]any{"documentId": id})
	}
	details := map[string]any{"indexName": index, "documentId": id}

	existing, err := s.chunksOf(ctx, index, id)
	if err != nil {
		return 0, s.fail(apperr.DocumentDelete, "loading chunks", err, details)
	}
	if err := s.deleteChunks(ctx, index, id, existing); err != nil {
		return 0, s.fail(apperr.DocumentDelete, "deleting chunks", err, details)
	}
	s.logger.Debug("document deleted", "index", index, "document_id", id, "chunks", len(existing))
	return len(existing), nil
}

// SearchDocuments returns the chunks most similar to query.
func (s *Service) SearchDocuments(ctx context.Context, query, index string, opts SearchOptions) ([]document.SearchResult, error) {
	index, err := s.indexName(index)
	if err != nil {
		return nil, s.fail(apperr.DocumentSearch, "resolving index", err, map[string]any{"query": query})
	}
	details := map[string]any{"indexName": index, "query": query}
	if strings.TrimSpace(query) == "" {
		return nil, s.fail(apperr.DocumentSearch, "searching", ErrEmptyQuery, details)
	}

	vec, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, s.fail(apperr.DocumentSearch, "embedding query", err, details)
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultSearchTopK
	}
	matches, err := s.store.Query(ctx, vectorstore.QueryParams{
		IndexName: index,
		Vector:    vec,
		TopK:      topK,
		Filter:    opts.Filter,
		MinScore:  opts.MinScore,
	})
	if err != nil {
		return nil, s.fail(apperr.DocumentSearch, "querying index", err, details)
	}
	return searchResults(matches), nil
}

// ListDocuments aggregates every chunk matching filter into documents,
// newest first, and returns the requested page with the overall total.
func (s *Service) ListDocuments(ctx context.Context, index string, limit, offset int, filter vectorstore.Filter) (ListResult, error) {
	index, err := s.indexName(index)
	if err != nil {
		return ListResult{}, s.fail(apperr.DocumentList, "resolving index", err, nil)
	}

	records, err := vectorstore.Enumerate(ctx, s.store, index, filter)
	if err != nil {
		return ListResult{}, s.fail(apperr.DocumentList, "enumerating chunks", err, map[string]any{"indexName": index})
	}
	docs := document.Aggregate(toRecords(records), s.now())
	return ListResult{Documents: document.Paginate(docs, limit, offset), Total: len(docs)}, nil
}

// GetDocument rebuilds one document from its chunks.
func (s *Service) GetDocument(ctx context.Context, index, id string) (document.Document, error) {
	index, err := s.indexName(index)
	if err != nil {
		return document.Document{}, s.fail(apperr.DocumentList, "resolving index", err, map[string]any{"documentId": id})
	}
	details := map[string]any{"indexName": index, "documentId": id}

	records, err := vectorstore.Enumerate(ctx, s.store, index, vectorstore.Filter{document.KeyDocumentID: id})
	if err != nil {
		return document.Document{}, s.fail(apperr.DocumentList, "loading chunks", err, details)
	}
	docs := document.Aggregate(toRecords(records), s.now())
	if len(docs) == 0 {
		return document.Document{}, apperr.New(apperr.DocumentNotFound, "no chunks stored for document", ErrDocumentNotFound, details)
	}
	return docs[0], nil
}

// CreateIndex creates an index. A dimension of zero or less fails.
func (s *Service) CreateIndex(ctx context.Context, name string, dimension int, metric string) error {
	details := map[string]any{"indexName": name}
	m, err := vectorstore.ParseMetric(metric)
	if err != nil {
		return apperr.New(apperr.IndexCreation, "creating index", err, details)
	}
	if err := s.store.CreateIndex(ctx, name, dimension, m); err != nil {
		return apperr.New(apperr.IndexCreation, "creating index", err, details)
	}
	s.logger.Info("index created", "index", name, "dimension", dimension, "metric", m)
	return nil
}

// DeleteIndex drops an index and every chunk in it.
func (s *Service) DeleteIndex(ctx context.Context, name string) error {
	if err := s.store.DeleteIndex(ctx, name); err != nil {
		return apperr.New(apperr.IndexDeletion, "deleting index", err, map[string]any{"indexName": name})
	}
	s.logger.Info("index deleted", "index", name)
	return nil
}

// ListIndexes returns index names in sorted order.
func (s *Service) ListIndexes(ctx context.Context) ([]string, error) {
	names, err := s.store.ListIndexes(ctx)
	if err != nil {
		return nil, apperr.New(apperr.IndexList, "listing indexes", err, nil)
	}
	return names, nil
}

// DescribeIndex returns the dimension, metric and record count of an index.
func (s *Service) DescribeIndex(ctx context.Context, name string) (vectorstore.IndexStats, error) {
	stats, err := s.store.DescribeIndex(ctx, name)
	if err != nil {
		return vectorstore.IndexStats{}, apperr.New(apperr.IndexDescribe, "describing index", err, map[string]any{"indexName": name})
	}
	return stats, nil
}

// prepare chunks and embeds content. Chunks carry no document id yet.
func (s *Service) prepare(ctx context.Context, content string, strategy chunker.Strategy) (prepared, error) {
	ch := s.chunker
	if strategy != "" && strategy != ch.Options().Strategy {
		var err error
		if ch, err = ch.WithStrategy(strategy); err != nil {
			return prepared{}, err
		}
	}

	p := prepared{content: content, chunks: ch.Split("", content)}
	if len(p.chunks) == 0 {
		return p, nil
	}
	texts := make([]string, len(p.chunks))
	for i, c := range p.chunks {
		texts[i] = c.Content
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return prepared{}, err
	}
	if len(vecs) != len(texts) {
		return prepared{}, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(texts))
	}
	p.vectors = vecs
	return p, nil
}

// ensureIndex creates a missing index with the given dimension when
// AutoCreateIndex is set. An existing index is left as is; a dimension
// mismatch surfaces at upsert time.
func (s *Service) ensureIndex(ctx context.Context, index string, dimension int) error {
	_, err := s.store.DescribeIndex(ctx, index)
	if err == nil {
		return nil
	}
	if !errors.Is(err, vectorstore.ErrIndexNotFound) || !s.cfg.AutoCreateIndex {
		return err
	}
	if err := s.store.CreateIndex(ctx, index, dimension, s.cfg.Metric); err != nil {
		return fmt.Errorf("auto-creating index: %w", err)
	}
	s.logger.Info("index auto-created", "index", index, "dimension", dimension, "metric", s.cfg.Metric)
	return nil
}

// redirectTarget returns the stored document that p is a near-copy of,
// or "" when there is none. Every chunk of p must match a chunk of the
// same document above the redirect threshold, and that document must have
// as many chunks as p. A shared header or a document that merely contains
// p does not qualify. The score is the weakest chunk match.
func (s *Service) redirectTarget(ctx context.Context, index string, p prepared) (string, float64, error) {
	var candidates map[string]float64
	for _, vec := range p.vectors {
		matches, err := s.store.Query(ctx, vectorstore.QueryParams{IndexName: index, Vector: vec, TopK: neighborsPerDocument})
		if err != nil {
			return "", 0, err
		}
		hits := make(map[string]float64)
		for _, m := range matches {
			id := document.MetaString(m.Metadata, document.KeyDocumentID)
			if id == "" || m.Score <= s.cfg.RedirectThreshold {
				continue
			}
			if cur, ok := hits[id]; !ok || m.Score > cur {
				hits[id] = m.Score
			}
		}

		if candidates == nil {
			candidates = hits
		} else {
			for id, score := range candidates {
				hit, ok := hits[id]
				if !ok {
					delete(candidates, id)
					continue
				}
				candidates[id] = min(score, hit)
			}
		}
		if len(candidates) == 0 {
			return "", 0, nil
		}
	}

	best, bestScore := "", 0.0
	for _, id := range slices.Sorted(maps.Keys(candidates)) {
		if best != "" && candidates[id] <= bestScore {
			continue
		}
		existing, err := s.chunksOf(ctx, index, id)
		if err != nil {
			return "", 0, err
		}
		if len(existing) != len(p.chunks) {
			continue
		}
		best, bestScore = id, candidates[id]
	}
	return best, bestScore, nil
}

// neighbors returns the stored chunks nearest to any of vectors, each
// chunk once with its best score, in descending score order. A missing
// index has no neighbours.
func (s *Service) neighbors(ctx context.Context, index string, vectors [][]float32, topK int) ([]document.SearchResult, error) {
	if topK <= 0 {
		topK = duplicate.DefaultTopK
	}
	limit := topK * neighborsPerDocument

	best := make(map[string]vectorstore.QueryResult)
	for _, vec := range vectors {
		matches, err := s.store.Query(ctx, vectorstore.QueryParams{IndexName: index, Vector: vec, TopK: limit})
		if errors.Is(err, vectorstore.ErrIndexNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if cur, ok := best[m.ID]; !ok || m.Score > cur.Score {
				best[m.ID] = m
			}
		}
	}

	merged := slices.SortedFunc(maps.Values(best), func(a, b vectorstore.QueryResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return searchResults(merged), nil
}

// insert stores p under id, or a new id when id is empty. An id that
// already has chunks is replaced rather than mixed with new chunks.
func (s *Service) insert(ctx context.Context, index, id string, p prepared, metadata map[string]any) (document.Document, error) {
	if id != "" {
		return s.replace(ctx, index, id, p, metadata)
	}
	now := s.now()
	doc := document.Document{
		ID:         s.newID(),
		Content:    p.content,
		Metadata:   cloneMeta(metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
		ChunkCount: len(p.chunks),
	}
	if err := s.write(ctx, index, doc, p); err != nil {
		return document.Document{}, err
	}
	s.logger.Debug("document added", "index", index, "document_id", doc.ID, "chunks", doc.ChunkCount)
	return doc, nil
}

// replace deletes the chunks stored for id and writes p in their place,
// keeping the original creation time and merging metadata over the stored
// metadata. Chunks deleted before a failure are not restored.
func (s *Service) replace(ctx context.Context, index, id string, p prepared, metadata map[string]any) (document.Document, error) {
	existing, err := s.chunksOf(ctx, index, id)
	if err != nil {
		return document.Document{}, err
	}

	now := s.now()
	doc := document.Document{
		ID:         id,
		Content:    p.content,
		Metadata:   map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
		ChunkCount: len(p.chunks),
	}
	if prev := document.Aggregate(toRecords(existing), now); len(prev) > 0 {
		doc.CreatedAt = prev[0].CreatedAt
		maps.Copy(doc.Metadata, prev[0].Metadata)
	}
	maps.Copy(doc.Metadata, metadata)

	if err := s.deleteChunks(ctx, index, id, existing); err != nil {
		return document.Document{}, err
	}
	if err := s.write(ctx, index, doc, p); err != nil {
		return document.Document{}, err
	}
	s.logger.Debug("document replaced", "index", index, "document_id", id,
		"old_chunks", len(existing), "new_chunks", doc.ChunkCount)
	return doc, nil
}

// write upserts p's chunks tagged with doc's id and timestamps.
func (s *Service) write(ctx context.Context, index string, doc document.Document, p prepared) error {
	if len(p.chunks) == 0 {
		return nil
	}
	ids := make([]string, len(p.chunks))
	metas := make([]map[string]any, len(p.chunks))
	for i, c := range p.chunks {
		c.DocumentID = doc.ID
		ids[i] = c.ID
		metas[i] = c.StorageMetadata(doc.Metadata, doc.CreatedAt, doc.UpdatedAt)
	}
	return s.store.Upsert(ctx, index, ids, p.vectors, metas)
}

// chunksOf returns every stored chunk of a document. A missing index holds
// no chunks.
func (s *Service) chunksOf(ctx context.Context, index, id string) ([]vectorstore.QueryResult, error) {
	records, err := vectorstore.Enumerate(ctx, s.store, index, vectorstore.Filter{document.KeyDocumentID: id})
	if errors.Is(err, vectorstore.ErrIndexNotFound) {
		return nil, nil
	}
	return records, err
}

// deleteChunks deletes chunks one by one and reports every failed id in a
// single CHUNK_DELETE_FAILED error.
func (s *Service) deleteChunks(ctx context.Context, index, id string, chunks []vectorstore.QueryResult) error {
	var (
		failed []string
		errs   []error
	)
	for _, c := range chunks {
		if err := s.store.DeleteVector(ctx, index, c.ID); err != nil {
			failed = append(failed, c.ID)
			errs = append(errs, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	s.logger.Warn("failed to delete chunks", "index", index, "document_id", id, "failed", len(failed), "total", len(chunks))
	return apperr.New(apperr.ChunkDelete,
		fmt.Sprintf("deleted %d of %d chunks", len(chunks)-len(failed), len(chunks)),
		errors.Join(errs...),
		map[string]any{"indexName": index, "documentId": id, "failedChunkIds": failed})
}

func (s *Service) emptyDocument(in NewDocument) document.Document {
	id := in.ID
	if id == "" {
		id = s.newID()
	}
	now := s.now()
	return document.Document{ID: id, Content: in.Content, Metadata: cloneMeta(in.Metadata), CreatedAt: now, UpdatedAt: now}
}

func (s *Service) skippedDocument(in NewDocument, duplicateOf, reason string) document.Document {
	meta := cloneMeta(in.Metadata)
	meta[KeySkipped] = true
	meta[KeyDuplicateOf] = duplicateOf
	meta[KeySkipReason] = reason
	now := s.now()
	return document.Document{ID: duplicateOf, Content: in.Content, Metadata: meta, CreatedAt: now, UpdatedAt: now}
}

// fail wraps err with code. Provider errors are reported as
// UNSUPPORTED_PROVIDER whatever the operation.
func (s *Service) fail(code apperr.Code, msg string, err error, details map[string]any) error {
	if errors.Is(err, engine.ErrUnsupportedProvider) || errors.Is(err, engine.ErrEmbeddingsUnavailable) {
		code = apperr.UnsupportedProvider
	}
	s.logger.Error(msg, "code", code, "error", err)
	return apperr.Wrap(code, msg, err, details)
}

func similarTo(similar []document.SimilarDocument, id string) bool {
	for _, s := range similar {
		if s.DocumentID == id {
			return true
		}
	}
	return false
}

func searchResults(matches []vectorstore.QueryResult) []document.SearchResult {
	out := make([]document.SearchResult, len(matches))
	for i, m := range matches {
		out[i] = document.SearchResult{
			ID:       m.ID,
			Content:  document.MetaString(m.Metadata, document.KeyText),
			Metadata: m.Metadata,
			Score:    m.Score,
		}
	}
	return out
}

func toRecords(matches []vectorstore.QueryResult) []document.Record {
	out := make([]document.Record, len(matches))
	for i, m := range matches {
		out[i] = document.Record{ID: m.ID, Metadata: m.Metadata}
	}
	return out
}

func cloneMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+3)
	maps.Copy(out, m)
	return out
}
