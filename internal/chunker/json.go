package chunker

import (
	"encoding/json"
)

// splitJSON groups the members of objects and elements of arrays into
// chunks of at most Size runes. Oversized members holding a container are
// split structurally at their own level; oversized scalars fall back to
// recursive text splitting. Invalid JSON is split as plain text.
func splitJSON(content string, opts Options) []piece {
	r := newRecursive(content, textSeparators(opts.Separator), opts)
	if !json.Valid([]byte(content)) {
		return r.split(span{0, len(content)})
	}
	j := &jsonSplitter{text: content, size: opts.Size, fallback: r}
	start := skipSpace(content, 0)
	return j.splitValue(span{start, j.valueEnd(start)})
}

type jsonSplitter struct {
	text     string
	size     int
	fallback *recursive
}

func (j *jsonSplitter) splitValue(v span) []piece {
	if runeLen(j.text, v) <= j.size {
		return []piece{{start: v.start, end: v.end}}
	}
	members := j.members(v)
	if len(members) == 0 {
		return j.fallback.split(v)
	}

	var out []piece
	var group []span
	emit := func() {
		if len(group) > 0 {
			out = append(out, piece{start: group[0].start, end: group[len(group)-1].end})
			group = nil
		}
	}
	for _, m := range members {
		l := runeLen(j.text, m)
		if l > j.size {
			emit()
			out = append(out, j.splitMember(m)...)
			continue
		}
		if len(group) > 0 && runeLen(j.text, span{group[0].start, m.end}) > j.size {
			emit()
		}
		group = append(group, m)
	}
	emit()
	return out
}

// splitMember splits an oversized object member or array element. For an
// object member the value part is split; the key stays with the first piece.
func (j *jsonSplitter) splitMember(m span) []piece {
	i := m.start
	if j.text[i] == '"' {
		end := j.stringEnd(i)
		k := skipSpace(j.text, end)
		if k < m.end && j.text[k] == ':' {
			valStart := skipSpace(j.text, k+1)
			pieces := j.splitValue(span{valStart, m.end})
			if len(pieces) > 0 && pieces[0].start == valStart && runeLen(j.text, span{m.start, pieces[0].end}) <= j.size {
				pieces[0].start = m.start
			}
			return pieces
		}
	}
	return j.splitValue(m)
}

// members returns the spans of an object's members ("key": value) or an
// array's elements. Scalars have no members.
func (j *jsonSplitter) members(v span) []span {
	open := j.text[v.start]
	if open != '{' && open != '[' {
		return nil
	}
	var out []span
	i := skipSpace(j.text, v.start+1)
	for i < v.end {
		c := j.text[i]
		if c == '}' || c == ']' {
			break
		}
		start := i
		if open == '{' {
			i = skipSpace(j.text, j.stringEnd(i))
			i = skipSpace(j.text, i+1) // past ':'
		}
		i = j.valueEnd(i)
		out = append(out, span{start, i})
		i = skipSpace(j.text, i)
		if i < v.end && j.text[i] == ',' {
			i = skipSpace(j.text, i+1)
		}
	}
	return out
}

// valueEnd returns the offset just past the JSON value starting at i. The
// input is known to be valid.
func (j *jsonSplitter) valueEnd(i int) int {
	switch j.text[i] {
	case '"':
		return j.stringEnd(i)
	case '{', '[':
		depth := 0
		for k := i; k < len(j.text); k++ {
			switch j.text[k] {
			case '"':
				k = j.stringEnd(k) - 1
			case '{', '[':
				depth++
			case '}', ']':
				depth--
				if depth == 0 {
					return k + 1
				}
			}
		}
		return len(j.text)
	default:
		k := i
		for k < len(j.text) {
			switch j.text[k] {
			case ',', '}', ']', ' ', '\t', '\n', '\r':
				return k
			}
			k++
		}
		return k
	}
}

// stringEnd returns the offset just past the string literal starting at i.
func (j *jsonSplitter) stringEnd(i int) int {
	for k := i + 1; k < len(j.text); k++ {
		switch j.text[k] {
		case '\\':
			k++
		case '"':
			return k + 1
		}
	}
	return len(j.text)
}

func skipSpace(text string, i int) int {
	for i < len(text) {
		switch text[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}
