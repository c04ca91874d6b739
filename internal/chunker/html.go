package chunker

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

var htmlBlockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "body": true,
	"br": true, "dd": true, "div": true, "dl": true, "dt": true, "figcaption": true,
	"figure": true, "footer": true, "form": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "header": true, "hr": true, "html": true,
	"li": true, "main": true, "nav": true, "ol": true, "p": true, "pre": true,
	"section": true, "table": true, "tbody": true, "td": true, "th": true,
	"thead": true, "tr": true, "ul": true,
}

var htmlSkipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
}

// textNode is a run of visible text. raw spans the node in the original
// markup; exact reports whether the decoded text equals the raw bytes, in
// which case offsets inside the node map one to one.
type textNode struct {
	text    string
	raw     span
	exact   bool
	textOff int
}

type htmlBlock struct {
	text  string
	nodes []textNode
}

// rawOffset maps an offset in the block text to an offset in the markup.
func (b htmlBlock) rawOffset(off int, isEnd bool) int {
	for i, n := range b.nodes {
		nodeEnd := n.textOff + len(n.text)
		if isEnd {
			if i+1 < len(b.nodes) && off > b.nodes[i+1].textOff {
				continue
			}
			if off >= nodeEnd || !n.exact {
				return n.raw.end
			}
			return n.raw.start + (off - n.textOff)
		}
		if off >= nodeEnd {
			continue
		}
		if off <= n.textOff || !n.exact {
			return n.raw.start
		}
		return n.raw.start + (off - n.textOff)
	}
	return b.nodes[len(b.nodes)-1].raw.end
}

// parseHTML collects visible text grouped into blocks, plus the document
// title and named meta tags.
func parseHTML(content string) ([]htmlBlock, map[string]any) {
	var (
		blocks    []htmlBlock
		cur       []textNode
		meta      = map[string]any{}
		title     strings.Builder
		skipDepth int
		inHead    bool
		inTitle   bool
		pos       int
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		var sb strings.Builder
		for i := range cur {
			if i > 0 {
				sb.WriteByte(' ')
			}
			cur[i].textOff = sb.Len()
			sb.WriteString(cur[i].text)
		}
		blocks = append(blocks, htmlBlock{text: sb.String(), nodes: cur})
		cur = nil
	}

	z := html.NewTokenizer(strings.NewReader(content))
	for {
		tt := z.Next()
		start := pos
		pos += len(z.Raw())

		switch tt {
		case html.ErrorToken:
			flush()
			if t := strings.TrimSpace(title.String()); t != "" {
				meta["title"] = t
			}
			return blocks, meta

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			switch {
			case htmlSkipTags[tag]:
				if tt == html.StartTagToken {
					skipDepth++
				}
			case tag == "head":
				inHead = true
			case tag == "title":
				inTitle = tt == html.StartTagToken
			case tag == "meta" && hasAttr:
				var key, val string
				for {
					k, v, more := z.TagAttr()
					switch string(k) {
					case "name", "property":
						key = string(v)
					case "content":
						val = string(v)
					}
					if !more {
						break
					}
				}
				if key != "" && val != "" {
					meta[key] = val
				}
			}
			if htmlBlockTags[tag] {
				flush()
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case htmlSkipTags[tag]:
				if skipDepth > 0 {
					skipDepth--
				}
			case tag == "head":
				inHead = false
			case tag == "title":
				inTitle = false
			}
			if htmlBlockTags[tag] {
				flush()
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			if inTitle {
				title.WriteString(html.UnescapeString(content[start:pos]))
				continue
			}
			if inHead {
				continue
			}
			sp := trim(content, span{start, pos})
			if sp.start >= sp.end {
				continue
			}
			raw := content[sp.start:sp.end]
			text := strings.Join(strings.Fields(html.UnescapeString(raw)), " ")
			cur = append(cur, textNode{text: text, raw: sp, exact: text == raw})
		}
	}
}

// splitHTML chunks the visible text of an HTML document. Chunk text is the
// decoded text; positions span the originating markup. Small neighbouring
// blocks are merged up to Size; oversized blocks are split recursively with
// overlap.
func splitHTML(content string, opts Options) ([]piece, map[string]any) {
	blocks, meta := parseHTML(content)
	if !opts.ExtractMetadata {
		meta = nil
	}

	type unit struct {
		piece
		whole bool
	}
	var units []unit
	for _, b := range blocks {
		if utf8.RuneCountInString(b.text) <= opts.Size {
			units = append(units, unit{piece{start: b.nodes[0].raw.start, end: b.nodes[len(b.nodes)-1].raw.end, text: b.text}, true})
			continue
		}
		r := newRecursive(b.text, textSeparators(opts.Separator), opts)
		for _, p := range r.split(span{0, len(b.text)}) {
			units = append(units, unit{piece{
				start: b.rawOffset(p.start, false),
				end:   b.rawOffset(p.end, true),
				text:  b.text[p.start:p.end],
			}, false})
		}
	}

	var out []piece
	lastWhole := false
	for _, u := range units {
		if n := len(out); n > 0 && lastWhole && u.whole {
			last := &out[n-1]
			if utf8.RuneCountInString(last.text)+2+utf8.RuneCountInString(u.text) <= opts.Size {
				last.text += "\n\n" + u.text
				last.end = u.end
				continue
			}
		}
		out = append(out, u.piece)
		lastWhole = u.whole
	}
	return out, meta
}
