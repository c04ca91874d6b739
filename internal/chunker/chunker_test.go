package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kalambet/vecdocs/internal/document"
)

func mustSplit(t *testing.T, content string, opts Options) []document.Chunk {
	t.Helper()
	chunks, err := Split("doc-1", content, opts)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	return chunks
}

// checkChunks verifies the invariants every strategy must uphold.
func checkChunks(t *testing.T, content string, chunks []document.Chunk, rawSlices bool) {
	t.Helper()
	seen := map[string]bool{}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has Index %d", i, c.Index)
		}
		if c.DocumentID != "doc-1" {
			t.Errorf("chunk %d DocumentID = %q", i, c.DocumentID)
		}
		if c.EndPosition < c.StartPosition {
			t.Errorf("chunk %d: end %d < start %d", i, c.EndPosition, c.StartPosition)
		}
		if c.StartPosition < 0 || c.EndPosition > len(content) {
			t.Errorf("chunk %d: span [%d,%d) outside content of %d bytes", i, c.StartPosition, c.EndPosition, len(content))
		}
		if rawSlices && content[c.StartPosition:c.EndPosition] != c.Content {
			t.Errorf("chunk %d: content does not match original slice", i)
		}
		if strings.TrimSpace(c.Content) == "" {
			t.Errorf("chunk %d is blank", i)
		}
		if seen[c.ID] {
			t.Errorf("duplicate chunk ID %q", c.ID)
		}
		seen[c.ID] = true
	}
}

func longText(words int) string {
	var sb strings.Builder
	for i := range words {
		if i > 0 {
			if i%40 == 0 {
				sb.WriteString(".\n\n")
			} else {
				sb.WriteByte(' ')
			}
		}
		fmt.Fprintf(&sb, "word%d", i)
	}
	return sb.String()
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		ok   bool
	}{
		{"defaults", DefaultOptions(), true},
		{"overlap equals size", Options{Strategy: Character, Size: 10, Overlap: 10}, false},
		{"overlap exceeds size", Options{Strategy: Token, Size: 10, Overlap: 11}, false},
		{"zero size", Options{Strategy: Recursive, Size: 0}, false},
		{"negative overlap", Options{Strategy: Recursive, Size: 10, Overlap: -1}, false},
		{"unknown strategy", Options{Strategy: "sentences", Size: 10}, false},
		{"no overlap", Options{Strategy: Markdown, Size: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("Validate() = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestSplit_InvalidOptionsFailFast(t *testing.T) {
	_, err := Split("doc-1", "some text", Options{Strategy: Character, Size: 50, Overlap: 50})
	if !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("err = %v, want ErrInvalidOptions", err)
	}
}

func TestSplit_EmptyContent(t *testing.T) {
	for _, s := range []Strategy{Recursive, Character, Token, Markdown, HTML, JSON, LaTeX} {
		for _, content := range []string{"", "   \n\t  "} {
			chunks := mustSplit(t, content, Options{Strategy: s, Size: 100, Overlap: 10})
			if len(chunks) != 0 {
				t.Errorf("%s: got %d chunks for %q, want 0", s, len(chunks), content)
			}
		}
	}
}

func TestCharacter_ExactWindows(t *testing.T) {
	chunks := mustSplit(t, "abcdefghij", Options{Strategy: Character, Size: 4, Overlap: 1})
	want := []string{"abcd", "defg", "ghij"}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	for i, w := range want {
		if chunks[i].Content != w {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i].Content, w)
		}
	}
}

func TestCharacter_OverlapInvariant(t *testing.T) {
	content := longText(800)
	opts := Options{Strategy: Character, Size: 512, Overlap: 50}
	chunks := mustSplit(t, content, opts)
	checkChunks(t, content, chunks, true)
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}

	for i := 0; i+1 < len(chunks); i++ {
		prev := []rune(chunks[i].Content)
		next := []rune(chunks[i+1].Content)
		if len(prev) != 512 {
			t.Errorf("chunk %d has %d runes, want 512", i, len(prev))
		}
		tail := string(prev[len(prev)-50:])
		if !strings.HasPrefix(string(next), tail) {
			t.Errorf("chunks %d and %d do not share %d runes", i, i+1, 50)
		}
	}
}

func TestCharacter_MultibyteOffsets(t *testing.T) {
	content := strings.Repeat("héllo wörld ", 20)
	chunks := mustSplit(t, content, Options{Strategy: Character, Size: 30, Overlap: 5})
	checkChunks(t, content, chunks, true)
	for i, c := range chunks[:len(chunks)-1] {
		if n := utf8.RuneCountInString(c.Content); n != 30 {
			t.Errorf("chunk %d has %d runes, want 30", i, n)
		}
	}
}

func TestToken_OverlapInvariant(t *testing.T) {
	content := longText(1500)
	chunks := mustSplit(t, content, Options{Strategy: Token, Size: 512, Overlap: 50})
	checkChunks(t, content, chunks, true)
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}

	for i := 0; i+1 < len(chunks); i++ {
		prev := strings.Fields(chunks[i].Content)
		next := strings.Fields(chunks[i+1].Content)
		if len(prev) != 512 {
			t.Errorf("chunk %d has %d words, want 512", i, len(prev))
		}
		shared := strings.Join(prev[len(prev)-50:], " ")
		if strings.Join(next[:50], " ") != shared {
			t.Errorf("chunks %d and %d do not share 50 words", i, i+1)
		}
	}
}

func TestToken_ShortText(t *testing.T) {
	chunks := mustSplit(t, "  just four words here ", Options{Strategy: Token, Size: 10, Overlap: 2})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Content != "just four words here" {
		t.Errorf("content = %q", chunks[0].Content)
	}
	if chunks[0].StartPosition != 2 {
		t.Errorf("StartPosition = %d, want 2", chunks[0].StartPosition)
	}
}

func TestRecursive_RespectsSize(t *testing.T) {
	content := longText(2000)
	chunks := mustSplit(t, content, DefaultOptions())
	checkChunks(t, content, chunks, true)
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c.Content); n > DefaultSize {
			t.Errorf("chunk %d has %d runes, exceeds %d", i, n, DefaultSize)
		}
	}
}

func TestRecursive_OverlapCarriesContext(t *testing.T) {
	ws := make([]string, 300)
	for i := range ws {
		ws[i] = fmt.Sprintf("w%d", i)
	}
	content := strings.Join(ws, " ")
	chunks := mustSplit(t, content, Options{Strategy: Recursive, Size: 200, Overlap: 40})
	for i := 0; i+1 < len(chunks); i++ {
		if chunks[i+1].StartPosition >= chunks[i].EndPosition {
			t.Errorf("chunks %d and %d do not overlap: [%d,%d) then [%d,%d)", i, i+1,
				chunks[i].StartPosition, chunks[i].EndPosition, chunks[i+1].StartPosition, chunks[i+1].EndPosition)
		}
	}
}

func TestRecursive_PrefersParagraphs(t *testing.T) {
	content := "first paragraph is here.\n\nsecond paragraph is here."
	chunks := mustSplit(t, content, Options{Strategy: Recursive, Size: 30, Overlap: 0})
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %+v", len(chunks), chunks)
	}
	if chunks[0].Content != "first paragraph is here." || chunks[1].Content != "second paragraph is here." {
		t.Errorf("chunks = %q, %q", chunks[0].Content, chunks[1].Content)
	}
}

func TestRecursive_CustomSeparator(t *testing.T) {
	content := "alpha|beta|gamma|delta"
	chunks := mustSplit(t, content, Options{Strategy: Recursive, Size: 12, Overlap: 0, Separator: "|"})
	checkChunks(t, content, chunks, true)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
}

func TestMarkdown_SectionsAndFrontMatter(t *testing.T) {
	content := "---\ntitle: Guide\ntags: [a, b]\n---\n# Intro\nHello there.\n\n## Setup\nInstall it.\n\n```\n# not a heading\n```\n# Usage\nRun it.\n"
	chunks := mustSplit(t, content, Options{Strategy: Markdown, Size: 200, Overlap: 0, ExtractMetadata: true})
	checkChunks(t, content, chunks, true)

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3: %+v", len(chunks), chunks)
	}
	for _, c := range chunks {
		if strings.Contains(c.Content, "title: Guide") {
			t.Error("front matter leaked into chunk text")
		}
		if c.Metadata["title"] != "Guide" {
			t.Errorf("chunk %d title = %v, want Guide", c.Index, c.Metadata["title"])
		}
	}
	if chunks[1].Metadata[document.KeySection] != "Setup" {
		t.Errorf("section = %v, want Setup", chunks[1].Metadata[document.KeySection])
	}
	headings, _ := chunks[1].Metadata[document.KeyHeadings].([]any)
	if len(headings) != 2 || headings[0] != "Intro" {
		t.Errorf("headings = %v, want [Intro Setup]", headings)
	}
	if !strings.Contains(chunks[1].Content, "# not a heading") {
		t.Error("fenced code block should stay inside its section")
	}
}

func TestMarkdown_WithoutExtraction(t *testing.T) {
	content := "---\ntitle: Guide\n---\n# Intro\nHello.\n"
	chunks := mustSplit(t, content, Options{Strategy: Markdown, Size: 100, Overlap: 0})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Metadata != nil {
		t.Errorf("metadata = %v, want nil", chunks[0].Metadata)
	}
}

func TestHTML_VisibleTextOnly(t *testing.T) {
	content := `<html><head><title>My Page</title><meta name="description" content="about things"><style>p{}</style></head>
<body><h1>Header</h1><p>First &amp; foremost.</p><script>var x = 1;</script><p>Second paragraph.</p></body></html>`
	chunks := mustSplit(t, content, Options{Strategy: HTML, Size: 200, Overlap: 0, ExtractMetadata: true})
	checkChunks(t, content, chunks, false)

	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 merged chunk", len(chunks))
	}
	c := chunks[0]
	for _, bad := range []string{"var x", "p{}", "<p>", "My Page"} {
		if strings.Contains(c.Content, bad) {
			t.Errorf("chunk contains %q: %q", bad, c.Content)
		}
	}
	if !strings.Contains(c.Content, "First & foremost.") {
		t.Errorf("entities not decoded: %q", c.Content)
	}
	if c.Metadata["title"] != "My Page" || c.Metadata["description"] != "about things" {
		t.Errorf("metadata = %v", c.Metadata)
	}
	if !strings.HasPrefix(content[c.StartPosition:], "Header") {
		t.Errorf("start offset %d does not point at first visible text", c.StartPosition)
	}
}

func TestHTML_OversizedBlockOffsets(t *testing.T) {
	para := strings.Repeat("lorem ipsum dolor sit amet ", 20)
	content := "<div><p>" + para + "</p></div>"
	chunks := mustSplit(t, content, Options{Strategy: HTML, Size: 100, Overlap: 10})
	checkChunks(t, content, chunks, false)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if content[c.StartPosition:c.EndPosition] != c.Content {
			t.Errorf("chunk %d: raw slice %q != text %q", i, content[c.StartPosition:c.EndPosition], c.Content)
		}
	}
}

func TestJSON_GroupsMembers(t *testing.T) {
	content := `{"name": "vecdocs", "tags": ["a", "b", "c"], "nested": {"deep": "value", "n": 42}, "flag": true}`
	chunks := mustSplit(t, content, Options{Strategy: JSON, Size: 40, Overlap: 0})
	checkChunks(t, content, chunks, true)

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c.Content); n > 40 {
			t.Errorf("chunk %d has %d runes: %q", i, n, c.Content)
		}
	}
	if chunks[0].Content != `"name": "vecdocs"` && !strings.HasPrefix(chunks[0].Content, `"name"`) {
		t.Errorf("first chunk = %q, want to start at the first member", chunks[0].Content)
	}
}

func TestJSON_SmallDocumentSingleChunk(t *testing.T) {
	content := `[1, 2, 3]`
	chunks := mustSplit(t, content, Options{Strategy: JSON, Size: 100, Overlap: 0})
	if len(chunks) != 1 || chunks[0].Content != content {
		t.Fatalf("chunks = %+v, want the whole document", chunks)
	}
}

func TestJSON_InvalidFallsBackToText(t *testing.T) {
	content := `{"broken": ` + strings.Repeat("x ", 100)
	chunks := mustSplit(t, content, Options{Strategy: JSON, Size: 50, Overlap: 5})
	checkChunks(t, content, chunks, true)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
}

func TestLaTeX_SplitsOnSections(t *testing.T) {
	content := "\\documentclass{article}\n\\begin{document}\n\\section{One}\nAlpha text here.\n\\section{Two}\nBeta text here.\n\\end{document}"
	chunks := mustSplit(t, content, Options{Strategy: LaTeX, Size: 45, Overlap: 0})
	checkChunks(t, content, chunks, true)

	var found bool
	for _, c := range chunks {
		if strings.HasPrefix(c.Content, "\\section{Two}") {
			found = true
		}
	}
	if !found {
		t.Errorf("no chunk starts at \\section{Two}: %+v", chunks)
	}
}

func TestExtractMetadata_Counts(t *testing.T) {
	chunks := mustSplit(t, "one two three", Options{Strategy: Recursive, Size: 100, Overlap: 0, ExtractMetadata: true})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Metadata[document.KeyWordCount] != 3 || chunks[0].Metadata[document.KeyCharCount] != 13 {
		t.Errorf("metadata = %v", chunks[0].Metadata)
	}
}

func TestStrategyForFile(t *testing.T) {
	tests := map[string]Strategy{
		"notes.md":     Markdown,
		"page.HTML":    HTML,
		"data.json":    JSON,
		"paper.tex":    LaTeX,
		"readme.txt":   Recursive,
		"no-extension": Recursive,
	}
	for name, want := range tests {
		if got := StrategyForFile(name, Recursive); got != want {
			t.Errorf("StrategyForFile(%q) = %q, want %q", name, got, want)
		}
	}
}
