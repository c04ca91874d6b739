// Package chunker splits document content into overlapping chunks suitable
// for embedding. Offsets on every chunk are byte offsets into the original
// content.
package chunker

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/vecdocs/internal/document"
)

// Strategy selects how content is divided into chunks.
type Strategy string

const (
	Recursive Strategy = "recursive"
	Character Strategy = "character"
	Token     Strategy = "token"
	Markdown  Strategy = "markdown"
	HTML      Strategy = "html"
	JSON      Strategy = "json"
	LaTeX     Strategy = "latex"
)

const (
	DefaultSize    = 512
	DefaultOverlap = 50
)

var ErrInvalidOptions = errors.New("invalid chunking options")

// Options configure a Chunker. Size and Overlap are measured in runes for
// every strategy except Token, where they count whitespace-separated words.
type Options struct {
	Strategy        Strategy
	Size            int
	Overlap         int
	Separator       string
	ExtractMetadata bool
}

// DefaultOptions returns recursive splitting with 512/50.
func DefaultOptions() Options {
	return Options{Strategy: Recursive, Size: DefaultSize, Overlap: DefaultOverlap}
}

// Validate rejects unknown strategies and inconsistent sizes. Overlap is
// never clamped: Overlap >= Size is an error.
func (o Options) Validate() error {
	if _, err := ParseStrategy(string(o.Strategy)); err != nil {
		return err
	}
	if o.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidOptions, o.Size)
	}
	if o.Overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidOptions, o.Overlap)
	}
	if o.Overlap >= o.Size {
		return fmt.Errorf("%w: overlap %d must be smaller than size %d", ErrInvalidOptions, o.Overlap, o.Size)
	}
	return nil
}

// ParseStrategy converts a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case Recursive, Character, Token, Markdown, HTML, JSON, LaTeX:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidOptions, s)
}

// StrategyForFile picks a structural strategy from a file name's extension,
// falling back to def.
func StrategyForFile(name string, def Strategy) Strategy {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return Markdown
	case ".html", ".htm":
		return HTML
	case ".json":
		return JSON
	case ".tex":
		return LaTeX
	}
	return def
}

// piece is an intermediate chunk: a byte span of the original content, an
// optional text override when the chunk text is not the raw span (HTML),
// and chunk-level metadata.
type piece struct {
	start, end int
	text       string
	meta       map[string]any
}

// Chunker splits content according to a validated set of Options.
type Chunker struct {
	opts  Options
	newID func() string
}

// New validates opts and returns a Chunker.
func New(opts Options) (*Chunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{opts: opts, newID: uuid.NewString}, nil
}

// Options returns the chunker's configuration.
func (c *Chunker) Options() Options {
	return c.opts
}

// WithStrategy returns a copy of c using a different strategy.
func (c *Chunker) WithStrategy(s Strategy) (*Chunker, error) {
	opts := c.opts
	opts.Strategy = s
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{opts: opts, newID: c.newID}, nil
}

// Split divides content into chunks owned by documentID. Empty or
// whitespace-only content yields no chunks. Chunk indices are dense from 0.
func (c *Chunker) Split(documentID, content string) []document.Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	var (
		pieces  []piece
		docMeta map[string]any
	)
	switch c.opts.Strategy {
	case Character:
		pieces = runeWindows(content, 0, len(content), c.opts.Size, c.opts.Overlap)
	case Token:
		pieces = tokenWindows(content, c.opts.Size, c.opts.Overlap)
	case Markdown:
		pieces, docMeta = splitMarkdown(content, c.opts)
	case HTML:
		pieces, docMeta = splitHTML(content, c.opts)
	case JSON:
		pieces = splitJSON(content, c.opts)
	case LaTeX:
		pieces = newRecursive(content, latexSeparators(c.opts.Separator), c.opts).split(span{0, len(content)})
	default:
		pieces = newRecursive(content, textSeparators(c.opts.Separator), c.opts).split(span{0, len(content)})
	}

	chunks := make([]document.Chunk, 0, len(pieces))
	for _, p := range pieces {
		text := p.text
		if text == "" {
			text = content[p.start:p.end]
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		var meta map[string]any
		if c.opts.ExtractMetadata {
			meta = make(map[string]any, len(docMeta)+len(p.meta)+2)
			maps.Copy(meta, docMeta)
			maps.Copy(meta, p.meta)
			meta[document.KeyWordCount] = len(strings.Fields(text))
			meta[document.KeyCharCount] = utf8.RuneCountInString(text)
		}

		chunks = append(chunks, document.Chunk{
			ID:            c.newID(),
			DocumentID:    documentID,
			Content:       text,
			Index:         len(chunks),
			StartPosition: p.start,
			EndPosition:   p.end,
			Metadata:      meta,
		})
	}
	return chunks
}

// Split validates opts and splits content in one call.
func Split(documentID, content string, opts Options) ([]document.Chunk, error) {
	c, err := New(opts)
	if err != nil {
		return nil, err
	}
	return c.Split(documentID, content), nil
}
