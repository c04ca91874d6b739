// Package importer feeds files from disk into the ingestion service, one
// file at a time.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/vecdocs/internal/chunker"
	"github.com/kalambet/vecdocs/internal/duplicate"
	"github.com/kalambet/vecdocs/internal/ingest"
)

// Metadata keys set on imported documents.
const (
	KeySource   = "source"
	KeyFileName = "fileName"
	KeyFileType = "fileType"
)

// maxFileSize caps the bytes read from a single file.
const maxFileSize = 50 << 20

var (
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrNotText         = errors.New("file is not valid UTF-8 text")
	ErrFileTooLarge    = errors.New("file too large")
)

var supported = []string{".txt", ".md", ".markdown", ".html", ".htm", ".json", ".tex", ".pdf"}

// Supported reports whether the importer reads files with this name.
func Supported(name string) bool {
	return slices.Contains(supported, strings.ToLower(filepath.Ext(name)))
}

// Extensions returns the supported file extensions.
func Extensions() []string {
	return slices.Clone(supported)
}

// Adder is the part of the ingestion service the importer uses.
type Adder interface {
	AddDocument(ctx context.Context, index string, in ingest.NewDocument) (ingest.Result, error)
	AddDocumentWithDuplicateCheck(ctx context.Context, index string, in ingest.NewDocument, cfg *duplicate.Config) (ingest.Result, error)
}

// Options control an import run.
type Options struct {
	Index string
	// Dedupe routes every file through the duplicate check.
	Dedupe bool
	// Duplicate overrides the service's duplicate settings when Dedupe is set.
	Duplicate *duplicate.Config
	// Metadata is merged into every document; file keys win.
	Metadata map[string]any
}

// FileResult is the outcome for one file.
type FileResult struct {
	Path       string
	Index      int
	Total      int
	DocumentID string
	Status     ingest.Status
	Chunks     int
	Err        error
}

// Summary counts outcomes across a run.
type Summary struct {
	Files   int
	Added   int
	Updated int
	Skipped int
	Failed  int
}

type Importer struct {
	docs   Adder
	logger *slog.Logger
}

func New(docs Adder, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{docs: docs, logger: logger}
}

// Collect expands paths into the supported files beneath them, sorted.
// Hidden directories are skipped. A path naming an unsupported file is an
// error; unsupported files found while walking are ignored.
func Collect(paths []string) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if !Supported(root) {
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, root)
			}
			files = append(files, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if Supported(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", root, err)
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// Import adds each file in turn and reports every outcome to progress,
// which may be nil. A failing file is counted and the run continues; only
// context cancellation stops it early.
func (im *Importer) Import(ctx context.Context, files []string, opts Options, progress func(FileResult)) (Summary, error) {
	var sum Summary
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		res := im.importFile(ctx, path, opts)
		res.Index, res.Total = i+1, len(files)
		sum.Files++
		switch {
		case res.Err != nil:
			sum.Failed++
			im.logger.Warn("import failed", "path", path, "error", res.Err)
		case res.Status == ingest.Updated:
			sum.Updated++
		case res.Status == ingest.Skipped:
			sum.Skipped++
		default:
			sum.Added++
		}
		if progress != nil {
			progress(res)
		}
	}
	im.logger.Info("import finished", "files", sum.Files, "added", sum.Added, "updated", sum.Updated, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

func (im *Importer) importFile(ctx context.Context, path string, opts Options) FileResult {
	res := FileResult{Path: path}

	content, err := ReadFile(path)
	if err != nil {
		res.Err = err
		return res
	}

	meta := make(map[string]any, len(opts.Metadata)+3)
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	meta[KeySource] = path
	meta[KeyFileName] = filepath.Base(path)
	meta[KeyFileType] = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")

	in := ingest.NewDocument{
		Content:  content,
		Metadata: meta,
		Strategy: chunker.StrategyForFile(path, ""),
	}

	if opts.Dedupe {
		out, err := im.docs.AddDocumentWithDuplicateCheck(ctx, opts.Index, in, opts.Duplicate)
		if err != nil {
			res.Err = err
			return res
		}
		res.DocumentID, res.Status, res.Chunks = out.Document.ID, out.Status, out.Document.ChunkCount
		return res
	}

	out, err := im.docs.AddDocument(ctx, opts.Index, in)
	if err != nil {
		res.Err = err
		return res
	}
	res.DocumentID, res.Status, res.Chunks = out.Document.ID, out.Status, out.Document.ChunkCount
	return res
}

// ReadFile returns the text of a supported file. PDFs are reduced to their
// plain text.
func ReadFile(path string) (string, error) {
	if !Supported(path) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxFileSize {
		return "", fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, path, info.Size())
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return readPDF(path)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: %s", ErrNotText, path)
	}
	return string(b), nil
}

func readPDF(path string) (text string, err error) {
	// The PDF parser panics on some malformed input.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading pdf %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading text from %s: %w", path, err)
	}
	return buf.String(), nil
}
