package duplicate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/vecdocs/internal/document"
	"github.com/kalambet/vecdocs/internal/engine"
)

const (
	newPreviewRunes     = 1000
	similarPreviewRunes = 500
)

const systemPrompt = `You are a document deduplication engine. A new document is about to be stored in a knowledge base that already contains similar documents. Decide what to do with it. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Actions:
- "skip": the new document adds nothing the existing ones do not already cover
- "update": the new document is a newer or more complete version of one existing document; set targetDocumentId to that document's id
- "add": the new document is different enough to be stored separately

Rules:
- Only use ids listed under [Similar Documents] as targetDocumentId.
- Prefer "add" when unsure.
- confidence is a number between 0 and 1.`

// BuildPrompt constructs the chat messages asking for a duplicate decision.
func BuildPrompt(content string, metadata map[string]any, similar []document.SimilarDocument) []engine.Message {
	var sb strings.Builder
	sb.WriteString("[New Document]\n")
	writeMetadata(&sb, metadata)
	sb.WriteString(preview(content, newPreviewRunes))

	sb.WriteString("\n\n[Similar Documents]")
	for i, s := range similar {
		fmt.Fprintf(&sb, "\n\n%d. id: %s (similarity %.3f)\n", i+1, s.DocumentID, s.Score)
		writeMetadata(&sb, s.Metadata)
		sb.WriteString(preview(s.Content, similarPreviewRunes))
	}

	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: sb.String()},
	}
}

func writeMetadata(sb *strings.Builder, m map[string]any) {
	if len(m) == 0 {
		return
	}
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	fmt.Fprintf(sb, "metadata: %s\n", b)
}

// preview truncates s to at most n runes, marking the cut.
func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
