package syntax

import "strings"

// applyBraceExpansions rewrites any *Lit part of w that contains a
// balanced {a,b,c} or {N..M[..S]} span into a *BraceExp part, matching
// the first unescaped brace group found in a single literal run. It does
// not cross quote boundaries: only contiguous unquoted literal text is a
// candidate, per the spec's requirement that brace content span a single
// literal part.
func applyBraceExpansions(w *Word) {
	var out []WordPart
	for _, p := range w.Parts {
		lit, ok := p.(*Lit)
		if !ok {
			out = append(out, p)
			continue
		}
		out = append(out, splitLitBraces(lit.Value)...)
	}
	w.Parts = out
}

func splitLitBraces(s string) []WordPart {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		if s == "" {
			return nil
		}
		return []WordPart{&Lit{Value: s}}
	}
	end := matchingBrace(s, start)
	if end < 0 {
		return []WordPart{&Lit{Value: s}}
	}
	inner := s[start+1 : end]
	be, ok := parseBraceBody(inner)
	var parts []WordPart
	if start > 0 {
		parts = append(parts, &Lit{Value: s[:start]})
	}
	if ok {
		parts = append(parts, be)
	} else {
		parts = append(parts, &Lit{Value: s[start : end+1]})
	}
	parts = append(parts, splitLitBraces(s[end+1:])...)
	return parts
}

// matchingBrace finds the index of the '}' matching the '{' at open,
// honoring nesting.
func matchingBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// parseBraceBody decides whether inner is a sequence {N..M[..S]} or a
// comma list {a,b,c}, and builds the corresponding BraceExp. A body with
// neither a top-level comma nor a ".." sequence is not a valid brace
// expansion and is returned literally by the caller.
func parseBraceBody(inner string) (*BraceExp, bool) {
	if from, to, step, ok := splitSequence(inner); ok {
		return &BraceExp{IsSeq: true, SeqFrom: from, SeqTo: to, SeqStep: step}, true
	}
	items := splitTopLevelCommas(inner)
	if len(items) < 2 {
		return nil, false
	}
	be := &BraceExp{}
	for _, it := range items {
		w, err := parseWordFromString(it, DefaultLimits)
		if err != nil {
			w = &Word{Parts: []WordPart{&Lit{Value: it}}}
		}
		be.Elems = append(be.Elems, w)
	}
	return be, true
}

func splitSequence(inner string) (from, to, step string, ok bool) {
	parts := splitTopLevelDotDot(inner)
	if len(parts) != 2 && len(parts) != 3 {
		return "", "", "", false
	}
	for _, p := range parts {
		if p == "" {
			return "", "", "", false
		}
	}
	from, to = parts[0], parts[1]
	if len(parts) == 3 {
		step = parts[2]
	}
	return from, to, step, true
}

func splitTopLevelDotDot(s string) []string {
	var out []string
	depth := 0
	last := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
		case '.':
			if depth == 0 && i+1 < len(s) && s[i+1] == '.' {
				out = append(out, s[last:i])
				i++
				last = i + 1
			}
		}
	}
	out = append(out, s[last:])
	return out
}

func splitTopLevelCommas(s string) []string {
	var out []string
	depth := 0
	last := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[last:i])
				last = i + 1
			}
		}
	}
	out = append(out, s[last:])
	return out
}
