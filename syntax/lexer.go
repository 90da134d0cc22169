package syntax

import (
	"fmt"
	"strings"
)

// LexError is returned for any malformed token: an unterminated quote or
// heredoc, or a source that exceeds a configured size/token limit.
type LexError struct {
	Reason string
	Pos    Pos
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Reason)
}

// Limits bounds how large a script the lexer/parser will accept, guarding
// an embedding host against pathological or adversarial input.
type Limits struct {
	MaxInputSize int
	MaxTokens    int
}

// DefaultLimits mirrors the kind of bound a sandboxing host would want:
// generous for real scripts, bounded against runaway generation.
var DefaultLimits = Limits{MaxInputSize: 1 << 20, MaxTokens: 200000}

// Token is one lexical token: either an operator/reserved-word-shaped
// control token, or a fully scanned Word carrying its structured parts.
type Token struct {
	Kind TokKind
	Pos  Pos
	Lit  string // raw spelling, used by the parser's reserved-word checks
	W    *Word  // populated when Kind == Word
}

// Lexer turns source text into a stream of Tokens. It never expands
// anything; quoting is preserved as structure in Word parts.
type Lexer struct {
	src    []rune
	i      int
	line   int
	col    int
	limits Limits
	ntoks  int

	// pendingHeredocs holds redirections awaiting their body, read from
	// the physical lines immediately following the next newline.
	pendingHeredocs []*Redirect

	unescapeHTML bool
}

// NewLexer creates a Lexer over src. When unescapeHTML is set, HTML
// entities appearing in source text (&lt; &gt; &amp; &quot; &#39;) are
// rewritten to their ASCII equivalents before tokenizing — a concession
// to LLM-authored scripts — but never inside single-quoted content.
func NewLexer(src string, limits Limits, unescapeHTML bool) (*Lexer, error) {
	if unescapeHTML {
		src = UnescapeHTMLOperators(src)
	}
	if limits.MaxInputSize > 0 && len(src) > limits.MaxInputSize {
		return nil, &LexError{Reason: "input exceeds maximum size", Pos: Pos{1, 1}}
	}
	l := &Lexer{src: []rune(src), line: 1, col: 1, limits: limits}
	return l, nil
}

func (l *Lexer) errf(pos Pos, format string, args ...any) error {
	return &LexError{Reason: fmt.Sprintf(format, args...), Pos: pos}
}

// lexState is a restorable snapshot of scanning position, used by the
// parser's one-token digit-prefix lookahead (is `2>&1` an fd redirect or
// is `2` just an argument followed by `>`?).
type lexState struct {
	i, line, col int
	heredocLen   int
}

func (l *Lexer) snapshot() lexState {
	return lexState{i: l.i, line: l.line, col: l.col, heredocLen: len(l.pendingHeredocs)}
}

func (l *Lexer) restore(s lexState) {
	l.i, l.line, l.col = s.i, s.line, s.col
	l.pendingHeredocs = l.pendingHeredocs[:s.heredocLen]
}

func (l *Lexer) eof() bool { return l.i >= len(l.src) }

func (l *Lexer) peekAt(off int) rune {
	j := l.i + off
	if j < 0 || j >= len(l.src) {
		return 0
	}
	return l.src[j]
}

func (l *Lexer) peek() rune { return l.peekAt(0) }

func (l *Lexer) pos() Pos { return Pos{l.line, l.col} }

func (l *Lexer) advance() rune {
	r := l.src[l.i]
	l.i++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

// skipBlanksAndContinuations eats spaces/tabs and backslash-newline line
// continuations, which are invisible to every other rule.
func (l *Lexer) skipBlanksAndContinuations() {
	for !l.eof() {
		switch l.peek() {
		case ' ', '\t':
			l.advance()
		case '\\':
			if l.peekAt(1) == '\n' {
				l.advance()
				l.advance()
				continue
			}
			return
		default:
			return
		}
	}
}

func (l *Lexer) skipComment() {
	for !l.eof() && l.peek() != '\n' {
		l.advance()
	}
}

var operatorTable = []struct {
	lit  string
	kind TokKind
}{
	{";;&", DblSemiAnd}, {";;", DblSemi}, {";&", SemiAnd}, {";", Semi},
	{"&&", AndAnd}, {"|&", OrAnd}, {"||", OrOr}, {"|", Or},
	{"<<<", DLessLess}, {"<<-", DLessDash}, {"<<", DLess}, {"<&", LessAnd}, {"<", Less},
	{"&>>", AppAll}, {"&>", RdrAll}, {">>", DGreat}, {">|", Clobber}, {">&", GreatAnd}, {">", Great},
	{"&", And},
}

// Next returns the next token in the stream, or a Kind==EOF token once
// the source is exhausted.
func (l *Lexer) Next() (Token, error) {
	l.skipBlanksAndContinuations()
	if !l.eof() && l.peek() == '#' {
		l.skipComment()
		l.skipBlanksAndContinuations()
	}
	if l.eof() {
		if len(l.pendingHeredocs) > 0 {
			if err := l.readHeredocBodies(); err != nil {
				return Token{}, err
			}
		}
		return Token{Kind: EOF, Pos: l.pos()}, nil
	}
	l.ntoks++
	if l.limits.MaxTokens > 0 && l.ntoks > l.limits.MaxTokens {
		return Token{}, l.errf(l.pos(), "too many tokens")
	}

	start := l.pos()
	r := l.peek()

	if r == '\n' {
		l.advance()
		if len(l.pendingHeredocs) > 0 {
			if err := l.readHeredocBodies(); err != nil {
				return Token{}, err
			}
		}
		return Token{Kind: Newline, Pos: start}, nil
	}

	if r == '(' {
		if l.peekAt(1) == '(' {
			l.advance()
			l.advance()
			return Token{Kind: DblLParen, Pos: start}, nil
		}
		l.advance()
		return Token{Kind: LParen, Pos: start}, nil
	}
	if r == ')' {
		if l.peekAt(1) == ')' {
			l.advance()
			l.advance()
			return Token{Kind: DblRParen, Pos: start}, nil
		}
		l.advance()
		return Token{Kind: RParen, Pos: start}, nil
	}

	if isOperatorStart(r) {
		for _, op := range operatorTable {
			if l.matchLit(op.lit) {
				for range op.lit {
					l.advance()
				}
				return Token{Kind: op.kind, Pos: start}, nil
			}
		}
	}

	w, err := l.scanWord()
	if err != nil {
		return Token{}, err
	}
	return Token{Kind: Word, Pos: start, Lit: literalText(w), W: w}, nil
}

func isOperatorStart(r rune) bool {
	switch r {
	case ';', '&', '|', '<', '>':
		return true
	}
	return false
}

func (l *Lexer) matchLit(s string) bool {
	for k, want := range []rune(s) {
		if l.peekAt(k) != want {
			return false
		}
	}
	return true
}

// UnescapeHTMLOperators rewrites &lt; &gt; &amp; &quot; &#39; to their
// ASCII equivalents, skipping any span inside single quotes. It is meant
// to run once, before lexing, when the host enables unescape_html.
func UnescapeHTMLOperators(src string) string {
	var b strings.Builder
	inSingle := false
	i := 0
	replacements := []struct{ from, to string }{
		{"&lt;", "<"}, {"&gt;", ">"}, {"&amp;", "&"}, {"&quot;", "\""}, {"&#39;", "'"},
	}
	for i < len(src) {
		c := src[i]
		if c == '\'' {
			inSingle = !inSingle
			b.WriteByte(c)
			i++
			continue
		}
		if inSingle {
			b.WriteByte(c)
			i++
			continue
		}
		matched := false
		for _, r := range replacements {
			if strings.HasPrefix(src[i:], r.from) {
				b.WriteString(r.to)
				i += len(r.from)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

func literalText(w *Word) string {
	if len(w.Parts) == 1 {
		if l, ok := w.Parts[0].(*Lit); ok {
			return l.Value
		}
	}
	return ""
}

// scanWord scans one unquoted/quoted word up to (but not including) the
// next blank or metacharacter.
func (l *Lexer) scanWord() (*Word, error) {
	w := &Word{}
	var lit strings.Builder
	flushLit := func() {
		if lit.Len() > 0 {
			w.Parts = append(w.Parts, &Lit{Value: lit.String()})
			lit.Reset()
		}
	}

	first := true
	for !l.eof() {
		r := l.peek()
		if r == ' ' || r == '\t' || r == '\n' || isOperatorStart(r) {
			break
		}
		if r == '(' || r == ')' {
			break
		}
		switch r {
		case '~':
			if first {
				flushLit()
				tilde, consumed := l.scanTilde()
				if consumed {
					w.Parts = append(w.Parts, tilde)
					first = false
					continue
				}
			}
			lit.WriteRune(l.advance())
		case '\'':
			flushLit()
			val, err := l.scanSingleQuoted()
			if err != nil {
				return nil, err
			}
			w.Parts = append(w.Parts, &SglQuoted{Value: val})
		case '"':
			flushLit()
			parts, err := l.scanDoubleQuoted()
			if err != nil {
				return nil, err
			}
			w.Parts = append(w.Parts, &DblQuoted{Parts: parts})
		case '\\':
			l.advance()
			if l.eof() {
				return nil, l.errf(l.pos(), "unterminated escape")
			}
			esc := l.advance()
			if esc == '\n' {
				continue
			}
			flushLit()
			w.Parts = append(w.Parts, &Escaped{Value: esc})
		case '$':
			flushLit()
			part, err := l.scanDollar()
			if err != nil {
				return nil, err
			}
			w.Parts = append(w.Parts, part)
		case '`':
			flushLit()
			cs, err := l.scanBacktick()
			if err != nil {
				return nil, err
			}
			w.Parts = append(w.Parts, cs)
		default:
			lit.WriteRune(l.advance())
		}
		first = false
	}
	flushLit()
	if len(w.Parts) == 0 {
		w.Parts = append(w.Parts, &Lit{Value: ""})
	}
	applyBraceExpansions(w)
	return w, nil
}

func (l *Lexer) scanTilde() (*Tilde, bool) {
	save := l.i
	saveLine, saveCol := l.line, l.col
	l.advance() // '~'
	var b strings.Builder
	for !l.eof() {
		r := l.peek()
		if r == '/' || r == ' ' || r == '\t' || r == '\n' || isOperatorStart(r) || r == '(' || r == ')' || r == ':' {
			break
		}
		if r == '$' || r == '`' || r == '"' || r == '\'' || r == '\\' {
			l.i, l.line, l.col = save, saveLine, saveCol
			return nil, false
		}
		b.WriteRune(l.advance())
	}
	return &Tilde{User: b.String()}, true
}

func (l *Lexer) scanSingleQuoted() (string, error) {
	start := l.pos()
	l.advance() // opening '
	var b strings.Builder
	for {
		if l.eof() {
			return "", l.errf(start, "unterminated single quote")
		}
		r := l.advance()
		if r == '\'' {
			return b.String(), nil
		}
		b.WriteRune(r)
	}
}

// scanDoubleQuoted scans the inside of "...", including the opening and
// closing quote characters, returning the Lit/expansion parts found.
func (l *Lexer) scanDoubleQuoted() ([]WordPart, error) {
	start := l.pos()
	l.advance() // opening "
	return l.scanDoubleQuotedBody(start)
}

func (l *Lexer) scanDoubleQuotedBody(start Pos) ([]WordPart, error) {
	var parts []WordPart
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, &Lit{Value: lit.String()})
			lit.Reset()
		}
	}
	for {
		if l.eof() {
			return nil, l.errf(start, "unterminated double quote")
		}
		r := l.peek()
		if r == '"' {
			l.advance()
			flush()
			return parts, nil
		}
		if r == '\\' {
			l.advance()
			if l.eof() {
				return nil, l.errf(start, "unterminated escape in double quote")
			}
			esc := l.advance()
			switch esc {
			case '$', '`', '"', '\\':
				lit.WriteRune(esc)
			case '\n':
				// escaped newline: line continuation, emits nothing
			default:
				lit.WriteRune('\\')
				lit.WriteRune(esc)
			}
			continue
		}
		if r == '$' {
			flush()
			part, err := l.scanDollar()
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
			continue
		}
		if r == '`' {
			flush()
			cs, err := l.scanBacktick()
			if err != nil {
				return nil, err
			}
			parts = append(parts, cs)
			continue
		}
		lit.WriteRune(l.advance())
	}
}

func (l *Lexer) scanBacktick() (*CmdSubst, error) {
	start := l.pos()
	l.advance() // opening `
	var b strings.Builder
	for {
		if l.eof() {
			return nil, l.errf(start, "unterminated backtick command substitution")
		}
		r := l.advance()
		if r == '`' {
			break
		}
		if r == '\\' && !l.eof() && (l.peek() == '`' || l.peek() == '\\' || l.peek() == '$') {
			b.WriteRune(l.advance())
			continue
		}
		b.WriteRune(r)
	}
	inner, err := Parse(b.String(), l.limits)
	if err != nil {
		return nil, err
	}
	return &CmdSubst{Stmts: inner.Stmts, Legacy: true}, nil
}

// scanDollar dispatches on the character following '$'.
func (l *Lexer) scanDollar() (WordPart, error) {
	l.advance() // '$'
	if l.eof() {
		return &Lit{Value: "$"}, nil
	}
	switch l.peek() {
	case '\'':
		l.advance()
		val, err := l.scanAnsiCQuoted()
		if err != nil {
			return nil, err
		}
		return &SglQuoted{Value: val}, nil
	case '"':
		start := l.pos()
		l.advance()
		parts, err := l.scanDoubleQuotedBody(start)
		if err != nil {
			return nil, err
		}
		return &DblQuoted{Dollar: true, Parts: parts}, nil
	case '(':
		if l.peekAt(1) == '(' {
			return l.scanArithmExpansion()
		}
		return l.scanCmdSubstExpansion()
	case '{':
		return l.scanBracedParam()
	default:
		return l.scanBareParam()
	}
}

func (l *Lexer) scanAnsiCQuoted() (string, error) {
	start := l.pos()
	var b strings.Builder
	for {
		if l.eof() {
			return "", l.errf(start, "unterminated $'...'")
		}
		r := l.advance()
		if r == '\'' {
			return b.String(), nil
		}
		if r == '\\' && !l.eof() {
			esc := l.advance()
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\':
				b.WriteByte('\\')
			case '\'':
				b.WriteByte('\'')
			case '"':
				b.WriteByte('"')
			case 'a':
				b.WriteByte(7)
			case 'b':
				b.WriteByte(8)
			case 'e', 'E':
				b.WriteByte(27)
			case 'f':
				b.WriteByte(12)
			case 'v':
				b.WriteByte(11)
			case 'x':
				n, val := l.readHex(2)
				if n > 0 && val != 0 {
					b.WriteByte(byte(val))
				}
			case 'u':
				n, val := l.readHex(4)
				if n > 0 {
					b.WriteRune(rune(val))
				}
			case 'U':
				n, val := l.readHex(8)
				if n > 0 {
					b.WriteRune(rune(val))
				}
			default:
				if esc >= '0' && esc <= '7' {
					val := int(esc - '0')
					for k := 0; k < 2 && !l.eof() && l.peek() >= '0' && l.peek() <= '7'; k++ {
						val = val*8 + int(l.advance()-'0')
					}
					if val != 0 {
						b.WriteByte(byte(val))
					}
				} else {
					b.WriteByte('\\')
					b.WriteRune(esc)
				}
			}
			continue
		}
		b.WriteRune(r)
	}
}

func (l *Lexer) readHex(max int) (n int, val int) {
	for n < max && !l.eof() && isHexDigit(l.peek()) {
		val = val*16 + hexVal(l.peek())
		l.advance()
		n++
	}
	return
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func hexVal(r rune) int {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0')
	case r >= 'a' && r <= 'f':
		return int(r-'a') + 10
	default:
		return int(r-'A') + 10
	}
}

func (l *Lexer) scanArithmExpansion() (WordPart, error) {
	start := l.pos()
	l.advance() // first (
	l.advance() // second (
	depth := 2
	var b strings.Builder
	for depth > 0 {
		if l.eof() {
			return nil, l.errf(start, "unterminated $(( ))")
		}
		r := l.advance()
		switch r {
		case '(':
			depth++
			b.WriteRune(r)
		case ')':
			depth--
			if depth > 0 {
				b.WriteRune(r)
			}
		default:
			b.WriteRune(r)
		}
	}
	x, err := ParseArithmetic(b.String())
	if err != nil {
		return nil, err
	}
	return &ArithmExp{X: x}, nil
}

func (l *Lexer) scanCmdSubstExpansion() (WordPart, error) {
	start := l.pos()
	l.advance() // (
	if l.peek() == '<' {
		save := l.i
		saveLine, saveCol := l.line, l.col
		l.advance()
		w, err := l.scanWord()
		if err == nil && l.peek() == ')' {
			l.advance()
			return &CmdSubst{ReadFile: w}, nil
		}
		l.i, l.line, l.col = save, saveLine, saveCol
	}
	inner, err := l.scanBalancedParens(start)
	if err != nil {
		return nil, err
	}
	stmts, perr := Parse(inner, l.limits)
	if perr != nil {
		return nil, perr
	}
	return &CmdSubst{Stmts: stmts.Stmts}, nil
}

// scanBalancedParens consumes runes up to the matching close paren,
// tracking nested parens and quotes so a `)` inside a string literal does
// not end the substitution early.
func (l *Lexer) scanBalancedParens(start Pos) (string, error) {
	depth := 1
	var b strings.Builder
	for depth > 0 {
		if l.eof() {
			return "", l.errf(start, "unterminated $(...)")
		}
		r := l.advance()
		switch r {
		case '(':
			depth++
			b.WriteRune(r)
		case ')':
			depth--
			if depth > 0 {
				b.WriteRune(r)
			}
		case '\'':
			b.WriteRune(r)
			for !l.eof() && l.peek() != '\'' {
				b.WriteRune(l.advance())
			}
			if !l.eof() {
				b.WriteRune(l.advance())
			}
		case '"':
			b.WriteRune(r)
			for !l.eof() && l.peek() != '"' {
				if l.peek() == '\\' {
					b.WriteRune(l.advance())
					if !l.eof() {
						b.WriteRune(l.advance())
					}
					continue
				}
				b.WriteRune(l.advance())
			}
			if !l.eof() {
				b.WriteRune(l.advance())
			}
		case '\\':
			b.WriteRune(r)
			if !l.eof() {
				b.WriteRune(l.advance())
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func (l *Lexer) scanBracedParam() (WordPart, error) {
	start := l.pos()
	l.advance() // {
	pe := &ParamExp{}
	if l.peek() == '#' && isNameStart(l.peekAt(1)) || (l.peek() == '#' && (l.peekAt(1) == '@' || l.peekAt(1) == '*')) {
		pe.Length = true
		l.advance()
	}
	if l.peek() == '!' {
		pe.Excl = true
		l.advance()
	}
	name, err := l.scanParamName()
	if err != nil {
		return nil, err
	}
	pe.Name = name
	if l.peek() == '[' {
		l.advance()
		idx, ierr := l.scanUntilMatchingBracket()
		if ierr != nil {
			return nil, l.errf(start, "unterminated array subscript")
		}
		w, werr := parseWordFromString(idx, l.limits)
		if werr != nil {
			return nil, werr
		}
		pe.Index = w
	}
	if err := l.scanParamOp(pe); err != nil {
		return nil, err
	}
	if l.eof() || l.peek() != '}' {
		return nil, l.errf(start, "unterminated ${...}")
	}
	l.advance()
	return pe, nil
}

func isNameStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
func isNameCont(r rune) bool {
	return isNameStart(r) || (r >= '0' && r <= '9')
}

func (l *Lexer) scanParamName() (string, error) {
	if !l.eof() && l.peek() >= '0' && l.peek() <= '9' {
		var b strings.Builder
		for !l.eof() && l.peek() >= '0' && l.peek() <= '9' {
			b.WriteRune(l.advance())
		}
		return b.String(), nil
	}
	if !l.eof() {
		switch l.peek() {
		case '@', '*', '#', '?', '$', '!', '-':
			return string(l.advance()), nil
		}
	}
	var b strings.Builder
	for !l.eof() && isNameCont(l.peek()) {
		b.WriteRune(l.advance())
	}
	if b.Len() == 0 {
		return "", l.errf(l.pos(), "bad substitution")
	}
	return b.String(), nil
}

func (l *Lexer) scanUntilMatchingBracket() (string, error) {
	var b strings.Builder
	depth := 0
	for {
		if l.eof() {
			return "", fmt.Errorf("unterminated")
		}
		r := l.peek()
		if r == '[' {
			depth++
		}
		if r == ']' {
			if depth == 0 {
				l.advance()
				return b.String(), nil
			}
			depth--
		}
		b.WriteRune(l.advance())
	}
}

// scanParamOp scans the optional operator suffix of a ${...} expansion
// and its operand word(s), honoring nested ${}/$()/quote balance.
func (l *Lexer) scanParamOp(pe *ParamExp) error {
	if l.eof() || l.peek() == '}' {
		return nil
	}
	two := func(a, b rune) bool { return l.peek() == a && l.peekAt(1) == b }
	switch {
	case l.peek() == ':' && l.peekAt(1) == '-':
		pe.Op = ParExpDefault
		l.advance()
		l.advance()
	case l.peek() == ':' && l.peekAt(1) == '=':
		pe.Op = ParExpAssign
		l.advance()
		l.advance()
	case l.peek() == ':' && l.peekAt(1) == '+':
		pe.Op = ParExpPlus
		l.advance()
		l.advance()
	case l.peek() == ':' && l.peekAt(1) == '?':
		pe.Op = ParExpError
		l.advance()
		l.advance()
	case l.peek() == ':':
		pe.Op = ParExpSlice
		l.advance()
		arg, err := l.scanBalancedUntilBrace(':')
		if err != nil {
			return err
		}
		w, werr := parseWordFromString(arg, l.limits)
		if werr != nil {
			return werr
		}
		pe.Arg = w
		if l.peek() == ':' {
			l.advance()
			arg2, err := l.scanBalancedUntilBrace(0)
			if err != nil {
				return err
			}
			w2, werr := parseWordFromString(arg2, l.limits)
			if werr != nil {
				return werr
			}
			pe.Arg2 = w2
		}
		return nil
	case l.peek() == '-':
		pe.Op = ParExpDefault
		l.advance()
	case l.peek() == '=':
		pe.Op = ParExpAssign
		l.advance()
	case l.peek() == '+':
		pe.Op = ParExpPlus
		l.advance()
	case l.peek() == '?':
		pe.Op = ParExpError
		l.advance()
	case two('#', '#'):
		pe.Op = ParExpRemLargePrefix
		l.advance()
		l.advance()
	case l.peek() == '#':
		pe.Op = ParExpRemSmallPrefix
		l.advance()
	case two('%', '%'):
		pe.Op = ParExpRemLargeSuffix
		l.advance()
		l.advance()
	case l.peek() == '%':
		pe.Op = ParExpRemSmallSuffix
		l.advance()
	case two('/', '#'):
		pe.Op = ParExpReplacePrefix
		l.advance()
		l.advance()
	case two('/', '%'):
		pe.Op = ParExpReplaceSuffix
		l.advance()
		l.advance()
	case two('/', '/'):
		pe.Op = ParExpReplaceAll
		l.advance()
		l.advance()
	case l.peek() == '/':
		pe.Op = ParExpReplace
		l.advance()
	case two('^', '^'):
		pe.Op = ParExpUpperAll
		l.advance()
		l.advance()
	case l.peek() == '^':
		pe.Op = ParExpUpperFirst
		l.advance()
	case two(',', ','):
		pe.Op = ParExpLowerAll
		l.advance()
		l.advance()
	case l.peek() == ',':
		pe.Op = ParExpLowerFirst
		l.advance()
	case l.peek() == '@':
		pe.Op = ParExpTransform
		l.advance()
	default:
		return nil
	}
	if pe.Op == ParExpReplace || pe.Op == ParExpReplaceAll || pe.Op == ParExpReplacePrefix || pe.Op == ParExpReplaceSuffix {
		arg, err := l.scanBalancedUntilBrace('/')
		if err != nil {
			return err
		}
		w, werr := parseWordFromString(arg, l.limits)
		if werr != nil {
			return werr
		}
		pe.Arg = w
		if l.peek() == '/' {
			l.advance()
			arg2, err := l.scanBalancedUntilBrace(0)
			if err != nil {
				return err
			}
			w2, werr := parseWordFromString(arg2, l.limits)
			if werr != nil {
				return werr
			}
			pe.Arg2 = w2
		}
		return nil
	}
	arg, err := l.scanBalancedUntilBrace(0)
	if err != nil {
		return err
	}
	w, werr := parseWordFromString(arg, l.limits)
	if werr != nil {
		return werr
	}
	pe.Arg = w
	return nil
}

// scanBalancedUntilBrace scans raw text for a ${...} operand, stopping at
// an unescaped '}' or, if stopAlso != 0, at that rune too, treating
// nested ${ / $( as opaque balanced spans and respecting quotes.
func (l *Lexer) scanBalancedUntilBrace(stopAlso rune) (string, error) {
	var b strings.Builder
	depth := 0
	for {
		if l.eof() {
			return "", l.errf(l.pos(), "unterminated ${...}")
		}
		r := l.peek()
		if depth == 0 && (r == '}' || (stopAlso != 0 && r == stopAlso)) {
			return b.String(), nil
		}
		switch r {
		case '{':
			depth++
			b.WriteRune(l.advance())
		case '}':
			depth--
			b.WriteRune(l.advance())
		case '\'':
			b.WriteRune(l.advance())
			for !l.eof() && l.peek() != '\'' {
				b.WriteRune(l.advance())
			}
			if !l.eof() {
				b.WriteRune(l.advance())
			}
		case '"':
			b.WriteRune(l.advance())
			for !l.eof() && l.peek() != '"' {
				if l.peek() == '\\' {
					b.WriteRune(l.advance())
				}
				if !l.eof() {
					b.WriteRune(l.advance())
				}
			}
			if !l.eof() {
				b.WriteRune(l.advance())
			}
		case '\\':
			b.WriteRune(l.advance())
			if !l.eof() {
				b.WriteRune(l.advance())
			}
		case '$':
			b.WriteRune(l.advance())
			if l.peek() == '(' || l.peek() == '{' {
				open, close := l.peek(), closeFor(l.peek())
				b.WriteRune(l.advance())
				d := 1
				for d > 0 && !l.eof() {
					c := l.peek()
					if c == open {
						d++
					} else if c == close {
						d--
					}
					b.WriteRune(l.advance())
				}
			}
		default:
			b.WriteRune(l.advance())
		}
	}
}

func closeFor(open rune) rune {
	if open == '(' {
		return ')'
	}
	return '}'
}

func (l *Lexer) scanBareParam() (WordPart, error) {
	pe := &ParamExp{Short: true}
	if l.eof() {
		return &Lit{Value: "$"}, nil
	}
	switch r := l.peek(); {
	case r >= '0' && r <= '9':
		pe.Name = string(l.advance())
		return pe, nil
	case r == '@' || r == '*' || r == '#' || r == '?' || r == '$' || r == '!' || r == '-':
		pe.Name = string(l.advance())
		return pe, nil
	case isNameStart(r):
		var b strings.Builder
		for !l.eof() && isNameCont(l.peek()) {
			b.WriteRune(l.advance())
		}
		pe.Name = b.String()
		return pe, nil
	default:
		return &Lit{Value: "$"}, nil
	}
}

func parseWordFromString(s string, limits Limits) (*Word, error) {
	sub, err := NewLexer(s, limits, false)
	if err != nil {
		return nil, err
	}
	return sub.scanWordAll()
}

// scanWordAll glues together every token-worth of text in s into a single
// Word, used for operand text captured by raw balanced-scanning which may
// itself contain blanks, e.g. inside ${x:-default value}.
func (l *Lexer) scanWordAll() (*Word, error) {
	w := &Word{}
	for !l.eof() {
		part, err := l.scanWord()
		if err != nil {
			return nil, err
		}
		w.Parts = append(w.Parts, part.Parts...)
		for !l.eof() && (l.peek() == ' ' || l.peek() == '\t') {
			l.advance()
			w.Parts = append(w.Parts, &Lit{Value: " "})
		}
	}
	if len(w.Parts) == 0 {
		w.Parts = append(w.Parts, &Lit{Value: ""})
	}
	return w, nil
}

// readHeredocBodies drains the raw lines following a newline to fill in
// each pending heredoc's content, in the order the redirections appeared.
func (l *Lexer) readHeredocBodies() error {
	docs := l.pendingHeredocs
	l.pendingHeredocs = nil
	for _, r := range docs {
		delim, quoted := heredocDelimText(r.Word)
		r.HeredocQuoted = quoted
		var lines []string
		for {
			if l.eof() {
				return l.errf(r.Pos, "unterminated heredoc (expected %q)", delim)
			}
			line := l.readRawLine()
			trimmed := line
			if r.Op == RedirHeredocTabs {
				trimmed = strings.TrimLeft(line, "\t")
			}
			if trimmed == delim {
				break
			}
			lines = append(lines, line)
		}
		body := strings.Join(lines, "\n")
		if len(lines) > 0 {
			body += "\n"
		}
		if quoted {
			r.Heredoc = &Word{Parts: []WordPart{&Lit{Value: body}}}
		} else {
			w, err := parseWordFromString(escapeForReparse(body), l.limits)
			if err != nil {
				return err
			}
			r.Heredoc = w
		}
	}
	return nil
}

// escapeForReparse lets heredoc bodies reuse the double-quote scanner for
// parameter/command/arithmetic expansion without delimiter handling
// getting confused by stray quote characters: wrap the body in double
// quotes, escaping any that were literal.
func escapeForReparse(body string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range body {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

func heredocDelimText(w *Word) (string, bool) {
	var b strings.Builder
	quoted := false
	for _, p := range w.Parts {
		switch v := p.(type) {
		case *Lit:
			b.WriteString(v.Value)
		case *SglQuoted:
			b.WriteString(v.Value)
			quoted = true
		case *DblQuoted:
			for _, ip := range v.Parts {
				if lit, ok := ip.(*Lit); ok {
					b.WriteString(lit.Value)
				}
			}
			quoted = true
		case *Escaped:
			b.WriteRune(v.Value)
			quoted = true
		}
	}
	return b.String(), quoted
}

func (l *Lexer) readRawLine() string {
	var b strings.Builder
	for !l.eof() && l.peek() != '\n' {
		b.WriteRune(l.advance())
	}
	if !l.eof() {
		l.advance()
	}
	return b.String()
}
