package chunker

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/vecdocs/internal/document"
)

var headingRe = regexp.MustCompile(`^(#{1,6})[ \t]+(.+?)[ \t]*#*[ \t]*$`)

// frontMatter detects a leading YAML block delimited by "---" lines. It
// returns the parsed values and the byte offset where the body begins.
// Unparseable front matter is left in the body.
func frontMatter(content string) (map[string]any, int) {
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return nil, 0
	}
	open := strings.Index(content, "\n") + 1
	rest := content[open:]
	i := 0
	for i <= len(rest) {
		nl := strings.IndexByte(rest[i:], '\n')
		line := rest[i:]
		if nl >= 0 {
			line = rest[i : i+nl]
		}
		if strings.TrimRight(line, "\r") == "---" || strings.TrimRight(line, "\r") == "..." {
			var meta map[string]any
			if err := yaml.Unmarshal([]byte(rest[:i]), &meta); err != nil {
				return nil, 0
			}
			end := open + i + len(line)
			if nl >= 0 {
				end++
			}
			return meta, end
		}
		if nl < 0 {
			break
		}
		i += nl + 1
	}
	return nil, 0
}

type mdSection struct {
	span     span
	headings []string
}

// markdownSections splits body (starting at byte offset base in content) at
// ATX headings outside fenced code blocks.
func markdownSections(content string, base int) []mdSection {
	var (
		sections []mdSection
		stack    []string
		levels   []int
		cur      = mdSection{span: span{base, base}}
		fence    string
	)

	pos := base
	for pos < len(content) {
		nl := strings.IndexByte(content[pos:], '\n')
		lineEnd := len(content)
		if nl >= 0 {
			lineEnd = pos + nl
		}
		line := strings.TrimRight(content[pos:lineEnd], "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case fence != "":
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
		case strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~"):
			fence = trimmed[:3]
		default:
			if m := headingRe.FindStringSubmatch(line); m != nil {
				cur.span.end = pos
				sections = append(sections, cur)

				level := len(m[1])
				for len(levels) > 0 && levels[len(levels)-1] >= level {
					levels = levels[:len(levels)-1]
					stack = stack[:len(stack)-1]
				}
				levels = append(levels, level)
				stack = append(stack, m[2])
				cur = mdSection{span: span{pos, pos}, headings: append([]string(nil), stack...)}
			}
		}

		if nl < 0 {
			pos = len(content)
		} else {
			pos = lineEnd + 1
		}
	}
	cur.span.end = len(content)
	return append(sections, cur)
}

// splitMarkdown emits one chunk per heading section, splitting oversized
// sections recursively. Front matter is never part of a chunk; with
// ExtractMetadata its values become document-level metadata and every chunk
// records its heading path.
func splitMarkdown(content string, opts Options) ([]piece, map[string]any) {
	meta, bodyStart := frontMatter(content)
	if !opts.ExtractMetadata {
		meta = nil
	}

	r := newRecursive(content, textSeparators(opts.Separator), opts)
	var out []piece
	for _, sec := range markdownSections(content, bodyStart) {
		var secMeta map[string]any
		if opts.ExtractMetadata && len(sec.headings) > 0 {
			headings := make([]any, len(sec.headings))
			for i, h := range sec.headings {
				headings[i] = h
			}
			secMeta = map[string]any{
				document.KeySection:  sec.headings[len(sec.headings)-1],
				document.KeyHeadings: headings,
			}
		}
		for _, p := range r.split(sec.span) {
			p.meta = secMeta
			out = append(out, p)
		}
	}
	return out, meta
}
