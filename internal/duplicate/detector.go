// Package duplicate decides whether a new document is a near-duplicate of
// stored content and asks a language model how to resolve it.
package duplicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/kalambet/vecdocs/internal/document"
	"github.com/kalambet/vecdocs/internal/engine"
)

// Action is the resolution chosen for a duplicate.
type Action string

const (
	Skip   Action = "skip"
	Update Action = "update"
	Add    Action = "add"
)

// Strategy selects how neighbours are judged similar.
type Strategy string

const (
	Semantic Strategy = "semantic"
	Meta     Strategy = "metadata"
	Hybrid   Strategy = "hybrid"
)

const (
	DefaultThreshold = 0.9
	DefaultTopK      = 3

	// FallbackReason is reported when the model call or its answer fails.
	FallbackReason     = "decision engine failed, conservatively adding"
	FallbackConfidence = 0.5
)

// identityKeys are the metadata keys compared by the metadata strategy.
var identityKeys = []string{"source", "url", "title", "fileName"}

var (
	ErrInvalidStrategy = errors.New("invalid duplicate strategy")
	ErrNoDecision      = errors.New("no decision in model response")
)

// Config controls a single duplicate check.
type Config struct {
	Enabled   bool     `json:"enabled"`
	Threshold float64  `json:"threshold"`
	Strategy  Strategy `json:"strategy"`
	TopK      int      `json:"topK"`
}

// DefaultConfig returns an enabled semantic check at 0.9.
func DefaultConfig() Config {
	return Config{Enabled: true, Threshold: DefaultThreshold, Strategy: Semantic, TopK: DefaultTopK}
}

// ParseStrategy converts a configuration string to a Strategy. Empty means
// Semantic.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return Semantic, nil
	case Semantic, Meta, Hybrid:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
}

// Validate reports settings a check cannot run with. An empty strategy
// means Semantic.
func (c Config) Validate() error {
	var errs []error
	if math.IsNaN(c.Threshold) || c.Threshold < 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("threshold %v outside [0, 1]", c.Threshold))
	}
	switch c.Strategy {
	case "", Semantic, Meta, Hybrid:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidStrategy, c.Strategy))
	}
	if c.TopK < 0 {
		errs = append(errs, fmt.Errorf("topK must not be negative, got %d", c.TopK))
	}
	return errors.Join(errs...)
}

// Decision is the model's resolution of a duplicate.
type Decision struct {
	Action           Action  `json:"action"`
	Reason           string  `json:"reason"`
	TargetDocumentID string  `json:"targetDocumentId,omitempty"`
	Confidence       float64 `json:"confidence"`
}

// Fallback is the decision used whenever the model cannot be consulted.
func Fallback() Decision {
	return Decision{Action: Add, Reason: FallbackReason, Confidence: FallbackConfidence}
}

// CheckResult is the outcome of Check. Decision is set only for duplicates.
type CheckResult struct {
	IsDuplicate      bool                       `json:"isDuplicate"`
	SimilarDocuments []document.SimilarDocument `json:"similarDocuments"`
	Decision         *Decision                  `json:"decision,omitempty"`
	Threshold        float64                    `json:"threshold"`
}

// Detector runs duplicate checks. Only Chat is used on the engine.
type Detector struct {
	chat   engine.Engine
	model  string
	logger *slog.Logger
}

// NewDetector creates a Detector asking the given model for decisions.
func NewDetector(chat engine.Engine, model string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{chat: chat, model: model, logger: logger}
}

// Check compares a new document with its nearest stored chunks. Neighbours
// are collapsed to the best chunk per document. When a duplicate is found
// the model is asked once for a decision; any failure yields Fallback and
// never an error.
func (d *Detector) Check(ctx context.Context, content string, metadata map[string]any, neighbors []document.SearchResult, cfg Config) CheckResult {
	res := CheckResult{Threshold: cfg.Threshold, SimilarDocuments: []document.SimilarDocument{}}
	if !cfg.Enabled {
		return res
	}

	res.SimilarDocuments = Similar(metadata, neighbors, cfg)
	res.IsDuplicate = len(res.SimilarDocuments) > 0
	if !res.IsDuplicate {
		return res
	}

	top := res.SimilarDocuments
	if cfg.TopK > 0 && len(top) > cfg.TopK {
		top = top[:cfg.TopK]
	}
	decision := d.decide(ctx, content, metadata, top)
	res.Decision = &decision
	return res
}

func (d *Detector) decide(ctx context.Context, content string, metadata map[string]any, similar []document.SimilarDocument) Decision {
	if d.chat == nil {
		d.logger.Warn("duplicate decision skipped, no chat engine configured")
		return Fallback()
	}

	raw, err := d.chat.Chat(ctx, d.model, BuildPrompt(content, metadata, similar), decisionSchema())
	if err != nil {
		d.logger.Warn("duplicate decision chat failed", "error", err)
		return Fallback()
	}

	dec, err := ParseDecision(raw)
	if err != nil {
		d.logger.Warn("failed to parse duplicate decision", "error", err, "response", raw)
		return Fallback()
	}
	if dec.Action == Update && dec.TargetDocumentID == "" {
		d.logger.Info("update decision without target, adding instead", "reason", dec.Reason)
		dec.Action = Add
	}
	if dec.Action != Update {
		dec.TargetDocumentID = ""
	}
	return dec
}

// Similar collapses neighbours to their best chunk per document and keeps
// those selected by cfg.Strategy, sorted by descending score.
func Similar(metadata map[string]any, neighbors []document.SearchResult, cfg Config) []document.SimilarDocument {
	best := make(map[string]document.SimilarDocument)
	var order []string
	for _, n := range neighbors {
		docID := document.MetaString(n.Metadata, document.KeyDocumentID)
		if docID == "" {
			docID = n.ID
		}
		cur, seen := best[docID]
		if seen && cur.Score >= n.Score {
			continue
		}
		if !seen {
			order = append(order, docID)
		}
		best[docID] = document.SimilarDocument{
			DocumentID: docID,
			Content:    n.Content,
			Metadata:   document.StripChunkKeys(n.Metadata),
			Score:      n.Score,
			ChunkID:    n.ID,
		}
	}

	out := make([]document.SimilarDocument, 0, len(order))
	for _, id := range order {
		s := best[id]
		semantic := s.Score >= cfg.Threshold
		meta := sameIdentity(metadata, s.Metadata)
		var keep bool
		switch cfg.Strategy {
		case Meta:
			keep = meta
		case Hybrid:
			keep = semantic || meta
		default:
			keep = semantic
		}
		if keep {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// sameIdentity reports whether both documents carry an equal, non-empty
// value for any identity key.
func sameIdentity(a, b map[string]any) bool {
	for _, k := range identityKeys {
		av := document.MetaString(a, k)
		if av != "" && av == document.MetaString(b, k) {
			return true
		}
	}
	return false
}

// ParseDecision extracts a Decision from a model response. Markdown fences
// and surrounding prose are tolerated; the action must be known and the
// confidence present and within [0, 1].
func ParseDecision(resp string) (Decision, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return Decision{}, ErrNoDecision
	}

	var obj struct {
		Action           string   `json:"action"`
		Reason           string   `json:"reason"`
		TargetDocumentID string   `json:"targetDocumentId"`
		Confidence       *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return Decision{}, fmt.Errorf("unmarshal decision: %w", err)
	}

	action := Action(strings.ToLower(strings.TrimSpace(obj.Action)))
	switch action {
	case Skip, Update, Add:
	default:
		return Decision{}, fmt.Errorf("unknown action %q", obj.Action)
	}
	if obj.Confidence == nil {
		return Decision{}, fmt.Errorf("missing confidence")
	}
	if *obj.Confidence < 0 || *obj.Confidence > 1 {
		return Decision{}, fmt.Errorf("confidence %v out of range", *obj.Confidence)
	}
	return Decision{
		Action:           action,
		Reason:           strings.TrimSpace(obj.Reason),
		TargetDocumentID: strings.TrimSpace(obj.TargetDocumentID),
		Confidence:       *obj.Confidence,
	}, nil
}

func decisionSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"action":           {Type: "string", Description: "How to handle the new document", Enum: []string{string(Skip), string(Update), string(Add)}},
			"reason":           {Type: "string", Description: "Short justification"},
			"targetDocumentId": {Type: "string", Description: "Document to replace; required when action is update"},
			"confidence":       {Type: "number", Description: "Confidence between 0 and 1"},
		},
		Required: []string{"action", "reason", "confidence"},
	}
}
