package chunker

import (
	"unicode"
	"unicode/utf8"
)

// span is a half-open byte range [start, end) of the original content.
type span struct {
	start, end int
}

// runeWindows cuts text[start:end] into windows of size runes advancing by
// size-overlap, so consecutive windows share exactly overlap runes. The
// last window ends at end.
func runeWindows(text string, start, end, size, overlap int) []piece {
	offs := make([]int, 0, end-start)
	for i := start; i < end; {
		offs = append(offs, i)
		_, w := utf8.DecodeRuneInString(text[i:end])
		i += w
	}
	n := len(offs)
	if n == 0 {
		return nil
	}
	byteAt := func(r int) int {
		if r >= n {
			return end
		}
		return offs[r]
	}

	stride := size - overlap
	var out []piece
	for i := 0; ; i += stride {
		j := min(i+size, n)
		out = append(out, piece{start: byteAt(i), end: byteAt(j)})
		if j == n {
			break
		}
	}
	return out
}

// words returns the byte spans of the whitespace-separated words in text.
func words(text string) []span {
	var out []span
	inWord := false
	wordStart := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				out = append(out, span{wordStart, i})
				inWord = false
			}
			continue
		}
		if !inWord {
			wordStart = i
			inWord = true
		}
	}
	if inWord {
		out = append(out, span{wordStart, len(text)})
	}
	return out
}

// tokenWindows groups words into windows of size words advancing by
// size-overlap. A chunk's text is the original slice from its first word to
// its last, whitespace preserved.
func tokenWindows(text string, size, overlap int) []piece {
	ws := words(text)
	if len(ws) == 0 {
		return nil
	}
	stride := size - overlap
	var out []piece
	for i := 0; ; i += stride {
		j := min(i+size, len(ws))
		out = append(out, piece{start: ws[i].start, end: ws[j-1].end})
		if j == len(ws) {
			break
		}
	}
	return out
}

// trim shrinks s to exclude leading and trailing whitespace.
func trim(text string, s span) span {
	for s.start < s.end {
		r, w := utf8.DecodeRuneInString(text[s.start:s.end])
		if !unicode.IsSpace(r) {
			break
		}
		s.start += w
	}
	for s.end > s.start {
		r, w := utf8.DecodeLastRuneInString(text[s.start:s.end])
		if !unicode.IsSpace(r) {
			break
		}
		s.end -= w
	}
	return s
}

func runeLen(text string, s span) int {
	return utf8.RuneCountInString(text[s.start:s.end])
}
