package chunker

import (
	"slices"
	"strings"
)

var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

var latexDefaultSeparators = []string{
	"\n\\chapter{",
	"\n\\section{",
	"\n\\subsection{",
	"\n\\subsubsection{",
	"\n\\begin{enumerate}",
	"\n\\begin{itemize}",
	"\n\\begin{description}",
	"\n\\begin{list}",
	"\n\\begin{quote}",
	"\n\\begin{quotation}",
	"\n\\begin{verse}",
	"\n\\begin{verbatim}",
	"\n\\begin{align}",
	"$$",
	"$",
	"\n\n",
	"\n",
	" ",
	"",
}

func textSeparators(custom string) []string {
	return withCustom(defaultSeparators, custom)
}

func latexSeparators(custom string) []string {
	return withCustom(latexDefaultSeparators, custom)
}

// withCustom puts a caller-supplied separator in front of base.
func withCustom(base []string, custom string) []string {
	if custom == "" {
		return base
	}
	out := []string{custom}
	for _, s := range base {
		if s != custom {
			out = append(out, s)
		}
	}
	return out
}

// recursive splits text on the first separator present in a span, recursing
// into oversized pieces with the remaining separators, then greedily merges
// neighbouring pieces up to size runes. Each merged chunk starts with the
// trailing pieces of the previous chunk, up to overlap runes, so overlap is
// aligned to piece boundaries and may be shorter than requested.
type recursive struct {
	text    string
	seps    []string
	size    int
	overlap int
}

func newRecursive(text string, seps []string, opts Options) *recursive {
	return &recursive{text: text, seps: seps, size: opts.Size, overlap: opts.Overlap}
}

// split returns the trimmed, non-empty chunks of s.
func (r *recursive) split(s span) []piece {
	spans := r.splitSpan(s, r.seps)
	out := make([]piece, 0, len(spans))
	for _, sp := range spans {
		t := trim(r.text, sp)
		if t.start < t.end {
			out = append(out, piece{start: t.start, end: t.end})
		}
	}
	return out
}

func (r *recursive) splitSpan(s span, seps []string) []span {
	if runeLen(r.text, s) <= r.size {
		return []span{s}
	}

	idx := slices.IndexFunc(seps, func(sep string) bool {
		return sep == "" || strings.Contains(r.text[s.start:s.end], sep)
	})
	if idx < 0 || seps[idx] == "" {
		windows := runeWindows(r.text, s.start, s.end, r.size, r.overlap)
		out := make([]span, len(windows))
		for i, w := range windows {
			out[i] = span{w.start, w.end}
		}
		return out
	}
	rest := seps[idx+1:]

	var out, good []span
	for _, p := range splitAt(r.text, s, seps[idx]) {
		if runeLen(r.text, p) <= r.size {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, r.merge(good)...)
			good = nil
		}
		out = append(out, r.splitSpan(p, rest)...)
	}
	if len(good) > 0 {
		out = append(out, r.merge(good)...)
	}
	return out
}

// merge combines contiguous pieces, each at most size runes, into chunks of
// at most size runes.
func (r *recursive) merge(pieces []span) []span {
	lens := make([]int, len(pieces))
	for i, p := range pieces {
		lens[i] = runeLen(r.text, p)
	}

	var out []span
	first, total := 0, 0
	for i := range pieces {
		l := lens[i]
		if i > first && total+l > r.size {
			out = append(out, span{pieces[first].start, pieces[i-1].end})
			for first < i && (total > r.overlap || total+l > r.size) {
				total -= lens[first]
				first++
			}
		}
		total += l
	}
	if first < len(pieces) {
		out = append(out, span{pieces[first].start, pieces[len(pieces)-1].end})
	}
	return out
}

// splitAt cuts s before every occurrence of sep. The pieces cover s
// contiguously, each separator staying at the start of the piece it opens.
func splitAt(text string, s span, sep string) []span {
	seg := text[s.start:s.end]
	var out []span
	from, search := 0, 0
	for {
		i := strings.Index(seg[search:], sep)
		if i < 0 {
			break
		}
		cut := search + i
		if cut > from {
			out = append(out, span{s.start + from, s.start + cut})
		}
		from = cut
		search = cut + len(sep)
	}
	return append(out, span{s.start + from, s.end})
}
