package main

import (
	"context"

	"github.com/kalambet/vecdocs/internal/duplicate"
	"github.com/kalambet/vecdocs/internal/ingest"
)

// remoteDocuments adds documents through a running server.
type remoteDocuments struct {
	client *apiClient
}

type addRequest struct {
	ID             string             `json:"id,omitempty"`
	Content        string             `json:"content"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
	Strategy       string             `json:"strategy,omitempty"`
	DuplicateCheck *duplicateOverride `json:"duplicateCheck,omitempty"`
}

type duplicateOverride struct {
	Enabled   *bool    `json:"enabled,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Strategy  *string  `json:"strategy,omitempty"`
	TopK      *int     `json:"topK,omitempty"`
}

func newAddRequest(in ingest.NewDocument) addRequest {
	return addRequest{
		ID:       in.ID,
		Content:  in.Content,
		Metadata: in.Metadata,
		Strategy: string(in.Strategy),
	}
}

func (r remoteDocuments) AddDocument(ctx context.Context, index string, in ingest.NewDocument) (ingest.Result, error) {
	prefix, err := r.client.indexPath(index)
	if err != nil {
		return ingest.Result{}, err
	}
	resp, err := r.client.post(ctx, prefix+"/documents", newAddRequest(in))
	if err != nil {
		return ingest.Result{}, err
	}
	var res ingest.Result
	err = decodeJSON(resp, &res)
	return res, err
}

func (r remoteDocuments) AddDocumentWithDuplicateCheck(ctx context.Context, index string, in ingest.NewDocument, cfg *duplicate.Config) (ingest.Result, error) {
	prefix, err := r.client.indexPath(index)
	if err != nil {
		return ingest.Result{}, err
	}
	req := newAddRequest(in)
	if cfg != nil {
		strategy := string(cfg.Strategy)
		req.DuplicateCheck = &duplicateOverride{
			Enabled:   &cfg.Enabled,
			Threshold: &cfg.Threshold,
			Strategy:  &strategy,
			TopK:      &cfg.TopK,
		}
	}
	resp, err := r.client.post(ctx, prefix+"/documents?dedupe=true", req)
	if err != nil {
		return ingest.Result{}, err
	}
	var res ingest.Result
	err = decodeJSON(resp, &res)
	return res, err
}
