package expand

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/vshlang/vsh/pattern"
	"github.com/vshlang/vsh/syntax"
	"github.com/vshlang/vsh/vfs"
)

// Config bundles everything the expansion engine needs beyond the word
// itself: the variable store, the sandboxed filesystem used for tilde
// and pathname expansion, and the interpreter-supplied callback for
// running a command substitution's statement list.
type Config struct {
	Env WriteEnviron
	FS  vfs.FS
	Cwd string

	NoUnset    bool // set -u: reading an unset parameter is an error
	NoGlob     bool // set -f: literal globs pass through unexpanded
	GlobStar   bool // shopt -s globstar: enables ** in the pattern mode; globbing still matches one path segment at a time
	NullGlob   bool // shopt -s nullglob: a glob with no matches vanishes
	FailGlob   bool // shopt -s failglob: a glob with no matches is an error
	NoCaseGlob bool // shopt -s nocaseglob / nocasematch

	// CmdSubst runs the statements inside a $(...) or `...` and returns
	// their captured, trailing-newline-trimmed stdout.
	CmdSubst func(ctx context.Context, cs *syntax.CmdSubst) (string, error)

	// HomeDir resolves ~ and ~user to a home directory path; returning
	// "" leaves the tilde prefix untouched, matching Bash's behavior
	// for an unknown user.
	HomeDir func(user string) string
}

// UnsetParameterError is returned by expansion when set -u is active
// and a word references a parameter that was never assigned.
type UnsetParameterError struct {
	Name string
}

func (e UnsetParameterError) Error() string {
	return fmt.Sprintf("%s: unbound variable", e.Name)
}

// BadSubstitutionError reports a malformed ${...} expansion, such as
// an explicit ${name?msg} with no value, or an invalid parameter op
// combination caught at expansion time rather than parse time.
type BadSubstitutionError struct {
	Msg string
}

func (e BadSubstitutionError) Error() string { return e.Msg }

func (c *Config) ifs() string {
	v := c.Env.Get("IFS")
	if !v.Set {
		return " \t\n"
	}
	return v.Str
}

// segment is one piece of an expanding word: the literal text plus
// whether it came from a quoted context, which exempts it from both
// IFS splitting and pathname expansion.
type segment struct {
	text   string
	quoted bool
}

// Literal fully expands a word to a single string: tilde, parameter,
// command, and arithmetic expansion run, but the result is never
// field-split or glob-expanded, and a brace-expansion part is an
// error here (only Fields brace-expands). This is the form
// used for assignment right-hand sides, array subscripts, and
// anywhere else Bash treats a word as already "quoted".
func (c *Config) Literal(ctx context.Context, w *syntax.Word) (string, error) {
	if w == nil {
		return "", nil
	}
	segs, err := c.expandParts(ctx, c.tildeParts(w.Parts), true)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, seg := range segs {
		sb.WriteString(seg.text)
	}
	return sb.String(), nil
}

// Pattern expands a word the way a case arm or the right-hand side of
// `[[ x == pattern ]]` does: substitutions run as usual, but text that
// came from an unquoted part keeps its glob metacharacters active
// while text from a quoted part has them escaped, so `"*"` only
// matches a literal asterisk.
func (c *Config) Pattern(ctx context.Context, w *syntax.Word) (string, error) {
	if w == nil {
		return "", nil
	}
	segs, err := c.expandParts(ctx, c.tildeParts(w.Parts), false)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, seg := range segs {
		if seg.quoted {
			sb.WriteString(pattern.QuoteMeta(seg.text, 0))
		} else {
			sb.WriteString(seg.text)
		}
	}
	return sb.String(), nil
}

func (c *Config) tildeParts(parts []syntax.WordPart) []syntax.WordPart {
	if len(parts) == 0 {
		return parts
	}
	tilde, ok := parts[0].(*syntax.Tilde)
	if !ok {
		return parts
	}
	home := ""
	if c.HomeDir != nil {
		home = c.HomeDir(tilde.User)
	}
	if home == "" {
		return parts
	}
	out := make([]syntax.WordPart, len(parts))
	copy(out, parts)
	out[0] = &syntax.Lit{Value: home}
	return out
}

// expandParts runs every dollar-construct in parts and returns the
// resulting segments in order. quoted marks the ambient quoting level
// the parts sit in (true inside "...", false at the bare word level);
// a SglQuoted or nested DblQuoted part is always quoted regardless.
func (c *Config) expandParts(ctx context.Context, parts []syntax.WordPart, quoted bool) ([]segment, error) {
	var out []segment
	for _, p := range parts {
		segs, err := c.expandPart(ctx, p, quoted)
		if err != nil {
			return nil, err
		}
		out = append(out, segs...)
	}
	return out, nil
}

func (c *Config) expandPart(ctx context.Context, p syntax.WordPart, quoted bool) ([]segment, error) {
	switch x := p.(type) {
	case *syntax.Lit:
		return []segment{{text: x.Value, quoted: quoted}}, nil
	case *syntax.Escaped:
		return []segment{{text: string(x.Value), quoted: true}}, nil
	case *syntax.SglQuoted:
		return []segment{{text: x.Value, quoted: true}}, nil
	case *syntax.DblQuoted:
		// x.Dollar marks the $"..." locale-translation form; this
		// sandbox has no locale catalog, so it expands like "...".
		return c.expandParts(ctx, x.Parts, true)
	case *syntax.Tilde:
		// Only the word-initial tilde expands; elsewhere it is literal.
		return []segment{{text: "~" + x.User, quoted: quoted}}, nil
	case *syntax.ParamExp:
		return c.expandParamSegments(ctx, x, quoted)
	case *syntax.CmdSubst:
		out, err := c.cmdSubst(ctx, x)
		if err != nil {
			return nil, err
		}
		return []segment{{text: out, quoted: quoted}}, nil
	case *syntax.ArithmExp:
		n, err := c.Arithm(ctx, x.X)
		if err != nil {
			return nil, err
		}
		return []segment{{text: strconv.FormatInt(n, 10), quoted: quoted}}, nil
	case *syntax.ExtGlob:
		body, err := c.Pattern(ctx, x.Pattern)
		if err != nil {
			return nil, err
		}
		return []segment{{text: string(x.Op) + "(" + body + ")", quoted: false}}, nil
	case *syntax.ProcSubst:
		return nil, fmt.Errorf("expand: process substitution is not supported in this sandbox")
	case *syntax.BraceExp:
		return nil, fmt.Errorf("expand: internal error: brace expansion was not resolved before field expansion")
	default:
		return nil, fmt.Errorf("expand: unhandled word part %T", p)
	}
}

func (c *Config) cmdSubst(ctx context.Context, cs *syntax.CmdSubst) (string, error) {
	if cs.ReadFile != nil {
		p, err := c.Literal(ctx, cs.ReadFile)
		if err != nil {
			return "", err
		}
		content, err := c.FS.ReadFile(ctx, vfs.ResolvePath(c.Cwd, p))
		if err != nil {
			return "", err
		}
		return strings.TrimRight(content, "\n"), nil
	}
	if c.CmdSubst == nil {
		return "", fmt.Errorf("expand: command substitution is not available in this context")
	}
	out, err := c.CmdSubst(ctx, cs)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// ExpandBraces expands every BraceExp part in w, returning one Word
// per combination. A word with no brace part returns a single-element
// slice unchanged. Multiple brace groups and nested groups (produced
// by the parser re-lexing each comma-separated element) both resolve
// through recursion, one group per pass, left to right.
func ExpandBraces(w *syntax.Word) []*syntax.Word {
	for i, p := range w.Parts {
		be, ok := p.(*syntax.BraceExp)
		if !ok {
			continue
		}
		before := w.Parts[:i]
		after := w.Parts[i+1:]
		var alts []*syntax.Word
		if be.IsSeq {
			alts = braceSequence(be)
		} else {
			alts = be.Elems
		}
		var out []*syntax.Word
		for _, alt := range alts {
			combined := &syntax.Word{}
			combined.Parts = append(combined.Parts, before...)
			combined.Parts = append(combined.Parts, alt.Parts...)
			combined.Parts = append(combined.Parts, after...)
			out = append(out, ExpandBraces(combined)...)
		}
		return out
	}
	return []*syntax.Word{w}
}

func braceSequence(be *syntax.BraceExp) []*syntax.Word {
	from, to, step := be.SeqFrom, be.SeqTo, be.SeqStep
	if n1, err1 := strconv.Atoi(from); err1 == nil {
		n2, err2 := strconv.Atoi(to)
		if err2 != nil {
			return nil
		}
		st := 1
		if step != "" {
			if s, err := strconv.Atoi(step); err == nil && s != 0 {
				st = s
			}
		}
		if st < 0 {
			st = -st
		}
		width := 0
		if strings.HasPrefix(from, "0") && len(from) > 1 || strings.HasPrefix(to, "0") && len(to) > 1 {
			width = len(from)
			if len(to) > width {
				width = len(to)
			}
		}
		var out []*syntax.Word
		if n1 <= n2 {
			for n := n1; n <= n2; n += st {
				out = append(out, &syntax.Word{Parts: []syntax.WordPart{&syntax.Lit{Value: padInt(n, width)}}})
			}
		} else {
			for n := n1; n >= n2; n -= st {
				out = append(out, &syntax.Word{Parts: []syntax.WordPart{&syntax.Lit{Value: padInt(n, width)}}})
			}
		}
		return out
	}
	if len(from) == 1 && len(to) == 1 {
		a, b := rune(from[0]), rune(to[0])
		st := 1
		if step != "" {
			if s, err := strconv.Atoi(step); err == nil && s != 0 {
				st = s
			}
		}
		if st < 0 {
			st = -st
		}
		var out []*syntax.Word
		if a <= b {
			for r := a; r <= b; r += rune(st) {
				out = append(out, &syntax.Word{Parts: []syntax.WordPart{&syntax.Lit{Value: string(r)}}})
			}
		} else {
			for r := a; r >= b; r -= rune(st) {
				out = append(out, &syntax.Word{Parts: []syntax.WordPart{&syntax.Lit{Value: string(r)}}})
			}
		}
		return out
	}
	return nil
}

func padInt(n, width int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	digits := s
	if neg {
		digits = s[1:]
	}
	for len(digits) < width {
		digits = "0" + digits
	}
	if neg {
		return "-" + digits
	}
	return digits
}

// Fields is the main entry point: it brace-expands, field-expands,
// and glob-expands a list of words the way the interpreter assembles
// a command's argv or a for-loop's word list.
func (c *Config) Fields(ctx context.Context, words ...*syntax.Word) ([]string, error) {
	var braced []*syntax.Word
	for _, w := range words {
		braced = append(braced, ExpandBraces(w)...)
	}
	var out []string
	for _, w := range braced {
		fields, err := c.wordFields(ctx, w)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			expanded, err := c.globField(ctx, f)
			if err != nil {
				return nil, err
			}
			out = append(out, expanded...)
		}
	}
	return out, nil
}

// field is one not-yet-globbed argv entry: its text plus whether every
// byte of it came from a quoted source, which disables globbing.
type field struct {
	text       string
	fullyQuoted bool
}

func (c *Config) wordFields(ctx context.Context, w *syntax.Word) ([]field, error) {
	segs, err := c.expandParts(ctx, c.tildeParts(w.Parts), false)
	if err != nil {
		return nil, err
	}
	return splitSegments(segs, c.ifs()), nil
}

func splitSegments(segs []segment, ifs string) []field {
	if len(segs) == 0 {
		return nil
	}
	var fields []field
	var cur strings.Builder
	curQuoted := true
	started := false

	flush := func() {
		if started {
			fields = append(fields, field{text: cur.String(), fullyQuoted: curQuoted})
		}
		cur.Reset()
		curQuoted = true
		started = false
	}

	for _, seg := range segs {
		if seg.quoted {
			if !started {
				started = true
			}
			cur.WriteString(seg.text)
			continue
		}
		curQuoted = false
		start := 0
		for i, r := range seg.text {
			if strings.ContainsRune(ifs, r) {
				cur.WriteString(seg.text[start:i])
				if start < i || !strings.ContainsRune(" \t\n", r) {
					started = true
				}
				flush()
				start = i + len(string(r))
				continue
			}
		}
		if start < len(seg.text) || start == 0 {
			cur.WriteString(seg.text[start:])
			if seg.text != "" {
				started = true
			}
		}
	}
	flush()
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func (c *Config) globField(ctx context.Context, f field) ([]string, error) {
	if c.NoGlob || f.fullyQuoted || !pattern.HasMeta(f.text, 0) {
		return []string{f.text}, nil
	}
	mode := pattern.Filenames
	if c.NoCaseGlob {
		mode |= pattern.NoGlobCase
	}
	if !c.GlobStar {
		mode |= pattern.NoGlobStar
	}
	matches, err := c.globPath(ctx, f.text, mode)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		switch {
		case c.NullGlob:
			return nil, nil
		case c.FailGlob:
			return nil, fmt.Errorf("expand: no match: %s", f.text)
		default:
			return []string{f.text}, nil
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// globPath expands a single glob pattern against c.FS, resolving
// relative to c.Cwd, and returns matching paths in the same relative
// or absolute shape the pattern was written in.
func (c *Config) globPath(ctx context.Context, pat string, mode pattern.Mode) ([]string, error) {
	abs := pat
	rel := !path.IsAbs(pat)
	cwdAbs := vfs.ResolvePath(c.Cwd, ".")
	if rel {
		abs = vfs.ResolvePath(c.Cwd, pat)
	}
	segs := strings.Split(strings.TrimPrefix(abs, "/"), "/")
	var results []string
	var walk func(dirPath string, idx int) error
	walk = func(dirPath string, idx int) error {
		if idx == len(segs) {
			out := dirPath
			if out == "" {
				out = "/"
			}
			if rel {
				out = strings.TrimPrefix(out, cwdAbs)
				out = strings.TrimPrefix(out, "/")
			}
			results = append(results, out)
			return nil
		}
		segPat := segs[idx]
		if !pattern.HasMeta(segPat, 0) {
			next := dirPath + "/" + segPat
			if exists, _ := c.FS.Exists(ctx, next); !exists {
				return nil
			}
			if idx < len(segs)-1 {
				isDir, _ := c.FS.IsDir(ctx, next)
				if !isDir {
					return nil
				}
			}
			return walk(next, idx+1)
		}
		names, err := c.FS.Readdir(ctx, dirPath)
		if err != nil {
			return nil
		}
		rx, err := pattern.Regexp(segPat, mode|pattern.EntireString)
		if err != nil {
			return err
		}
		re, err := regexp.Compile(rx)
		if err != nil {
			return err
		}
		for _, name := range names {
			if strings.HasPrefix(name, ".") && !strings.HasPrefix(segPat, ".") {
				continue
			}
			if !re.MatchString(name) {
				continue
			}
			next := dirPath + "/" + name
			if idx < len(segs)-1 {
				isDir, _ := c.FS.IsDir(ctx, next)
				if !isDir {
					continue
				}
			}
			if err := walk(next, idx+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk("", 0); err != nil {
		return nil, err
	}
	return results, nil
}
