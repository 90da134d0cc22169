package syntax

import "fmt"

// ParseError is returned for any grammatically invalid script: an
// unexpected token, an unterminated compound command, or a malformed
// redirection target.
type ParseError struct {
	Reason string
	Pos    Pos
}

func (e *ParseError) Error() string { return fmt.Sprintf("%s: %s", e.Pos, e.Reason) }

// Parse tokenizes and parses src into a File. It is a pure function: no
// filesystem, no process, no expansion.
func Parse(src string, limits Limits) (*File, error) {
	lx, err := NewLexer(src, limits, false)
	if err != nil {
		return nil, err
	}
	p := &Parser{lx: lx}
	if err := p.next(); err != nil {
		return nil, err
	}
	stmts, err := p.stmtList(nil)
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != EOF {
		return nil, p.errf("unexpected token after script")
	}
	return &File{Stmts: stmts}, nil
}

// ParseWithOptions exposes the unescape_html preprocessing knob described
// in the lexer contract.
func ParseWithOptions(src string, limits Limits, unescapeHTML bool) (*File, error) {
	lx, err := NewLexer(src, limits, unescapeHTML)
	if err != nil {
		return nil, err
	}
	p := &Parser{lx: lx}
	if err := p.next(); err != nil {
		return nil, err
	}
	stmts, err := p.stmtList(nil)
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != EOF {
		return nil, p.errf("unexpected token after script")
	}
	return &File{Stmts: stmts}, nil
}

// Parser is a recursive-descent parser driven by one token of lookahead.
type Parser struct {
	lx  *Lexer
	tok Token
}

func (p *Parser) next() error {
	t, err := p.lx.Next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *Parser) errf(format string, args ...any) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...), Pos: p.tok.Pos}
}

func (p *Parser) skipNewlines() error {
	for p.tok.Kind == Newline {
		if err := p.next(); err != nil {
			return err
		}
	}
	return nil
}

// isWordLit reports whether the current token is a Word whose literal
// text equals any of lits — used to recognize reserved words, since the
// lexer itself only distinguishes true metacharacter operators.
func (p *Parser) isWordLit(lits ...string) bool {
	if p.tok.Kind != Word {
		return false
	}
	for _, s := range lits {
		if p.tok.Lit == s {
			return true
		}
	}
	return false
}

func stmtEnders(extra ...string) map[string]bool {
	m := map[string]bool{}
	for _, e := range extra {
		m[e] = true
	}
	return m
}

// stmtList parses statements until EOF or a reserved word in enders is
// seen at command-start position.
func (p *Parser) stmtList(enders map[string]bool) ([]*Stmt, error) {
	var out []*Stmt
	for {
		if err := p.skipNewlines(); err != nil {
			return nil, err
		}
		if p.tok.Kind == EOF {
			return out, nil
		}
		if p.tok.Kind == Semi {
			if err := p.next(); err != nil {
				return nil, err
			}
			continue
		}
		if p.tok.Kind == DblSemi || p.tok.Kind == SemiAnd || p.tok.Kind == DblSemiAnd {
			return out, nil
		}
		if enders != nil && p.tok.Kind == Word && enders[p.tok.Lit] {
			return out, nil
		}
		st, err := p.andOrList()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
		switch p.tok.Kind {
		case Semi:
			if err := p.next(); err != nil {
				return nil, err
			}
		case And:
			st.Background = true
			if err := p.next(); err != nil {
				return nil, err
			}
		case Newline, EOF:
		default:
			if enders != nil && p.tok.Kind == Word && enders[p.tok.Lit] {
				return out, nil
			}
		}
	}
}

// andOrList parses `pipeline ((&&|||) pipeline)*`, folding the chain into
// right-nested BinaryCmd-free Stmt wrapping: we represent the chain with
// a left-to-right list using Stmt.Cmd = *BinaryCmd only for pipes; the
// &&/|| chain itself is represented by returning a synthetic call that
// the interpreter walks as a flat AndOr list, stored on Stmt via Cmd.
func (p *Parser) andOrList() (*Stmt, error) {
	first, err := p.pipeline()
	if err != nil {
		return nil, err
	}
	chain := &AndOrList{Stmts: []*Stmt{first}}
	for {
		var op AndOrOp
		switch p.tok.Kind {
		case AndAnd:
			op = AndOp
		case OrOr:
			op = OrOp
		default:
			if len(chain.Stmts) == 1 {
				return first, nil
			}
			return &Stmt{Pos: first.Pos, Cmd: chain}, nil
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		if err := p.skipNewlines(); err != nil {
			return nil, err
		}
		next, err := p.pipeline()
		if err != nil {
			return nil, err
		}
		chain.Ops = append(chain.Ops, op)
		chain.Stmts = append(chain.Stmts, next)
	}
}

// pipeline parses `[!] command ((|||&) command)*`.
func (p *Parser) pipeline() (*Stmt, error) {
	negated := false
	if p.tok.Kind == Word && p.tok.Lit == "!" {
		negated = true
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	first, err := p.stmtCore()
	if err != nil {
		return nil, err
	}
	first.Negated = negated
	for p.tok.Kind == Or || p.tok.Kind == OrAnd {
		all := p.tok.Kind == OrAnd
		if err := p.next(); err != nil {
			return nil, err
		}
		if err := p.skipNewlines(); err != nil {
			return nil, err
		}
		rhsCore, err := p.stmtCore()
		if err != nil {
			return nil, err
		}
		op := Pipe
		if all {
			op = PipeAll
		}
		first = &Stmt{Pos: first.Pos, Cmd: &BinaryCmd{Op: op, X: first, Y: rhsCore}}
	}
	return first, nil
}

// stmtCore parses one statement's command plus its leading assignments
// and any redirections, without the &&/||/| decorations handled above.
func (p *Parser) stmtCore() (*Stmt, error) {
	pos := p.tok.Pos
	st := &Stmt{Pos: pos}
	for {
		name, val, isAssign := p.tryAssign()
		if !isAssign {
			break
		}
		st.Assigns = append(st.Assigns, &Assign{Pos: pos, Name: name.name, Index: name.index, Append: name.append, Value: val})
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	for {
		r, ok, err := p.tryRedirect()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		st.Redirs = append(st.Redirs, r)
	}
	cmd, err := p.command()
	if err != nil {
		return nil, err
	}
	st.Cmd = cmd
	for {
		r, ok, err := p.tryRedirect()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		st.Redirs = append(st.Redirs, r)
	}
	if cmd == nil && len(st.Redirs) == 0 && len(st.Assigns) == 0 {
		return nil, p.errf("unexpected token %v", p.tok.Kind)
	}
	if cmd == nil {
		st.Cmd = &CallExpr{}
	}
	return st, nil
}

type assignName struct {
	name   string
	index  *Word
	append bool
}

// tryAssign recognizes NAME=val, NAME+=val, NAME[i]=val at the current
// token, without consuming it if it isn't one (so callers can fall
// through to argument/command-name parsing).
func (p *Parser) tryAssign() (assignName, *Word, bool) {
	if p.tok.Kind != Word || len(p.tok.W.Parts) == 0 {
		return assignName{}, nil, false
	}
	lit, ok := p.tok.W.Parts[0].(*Lit)
	if !ok {
		return assignName{}, nil, false
	}
	i := 0
	for i < len(lit.Value) && isNameCont(rune(lit.Value[i])) {
		i++
	}
	if i == 0 || i >= len(lit.Value) {
		return assignName{}, nil, false
	}
	name := lit.Value[:i]
	rest := lit.Value[i:]
	var index *Word
	if len(rest) > 0 && rest[0] == '[' {
		end := matchingBracket(rest)
		if end < 0 {
			return assignName{}, nil, false
		}
		w, err := parseWordFromString(rest[1:end], DefaultLimits)
		if err != nil {
			return assignName{}, nil, false
		}
		index = w
		rest = rest[end+1:]
	}
	appendAssign := false
	if len(rest) > 0 && rest[0] == '+' {
		appendAssign = true
		rest = rest[1:]
	}
	if len(rest) == 0 || rest[0] != '=' {
		return assignName{}, nil, false
	}
	rest = rest[1:]
	restParts := append([]WordPart{}, p.tok.W.Parts[1:]...)
	if rest != "" {
		restParts = append([]WordPart{&Lit{Value: rest}}, restParts...)
	}
	applyBraceExpansions(&Word{Parts: restParts})
	return assignName{name: name, index: index, append: appendAssign}, &Word{Parts: restParts}, true
}

func matchingBracket(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// command dispatches to the right compound-command parser, or parses a
// simple command (a CallExpr).
func (p *Parser) command() (Command, error) {
	switch {
	case p.isWordLit("if"):
		return p.ifClause()
	case p.isWordLit("while"):
		return p.whileClause(false)
	case p.isWordLit("until"):
		return p.whileClause(true)
	case p.isWordLit("for"):
		return p.forClause()
	case p.isWordLit("case"):
		return p.caseClause()
	case p.isWordLit("function"):
		return p.funcDecl(true)
	case p.isWordLit("{"):
		return p.block()
	case p.tok.Kind == LParen:
		return p.subshell()
	case p.tok.Kind == DblLParen:
		return p.arithmCmd()
	case p.isWordLit("[["):
		return p.testClause()
	case p.isWordLit("declare", "typeset", "local", "readonly", "export", "unset"):
		return p.declClause()
	case p.tok.Kind == Word || p.tok.Kind == Semi || p.tok.Kind == Newline:
		return p.maybeFuncDeclOrCall()
	default:
		return nil, nil
	}
}

func (p *Parser) block() (*Block, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	stmts, err := p.stmtList(stmtEnders("}"))
	if err != nil {
		return nil, err
	}
	if !p.isWordLit("}") {
		return nil, p.errf("expected }")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	return &Block{Stmts: stmts}, nil
}

func (p *Parser) subshell() (*Subshell, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	stmts, err := p.stmtListUntilRParen()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != RParen {
		return nil, p.errf("expected )")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	return &Subshell{Stmts: stmts}, nil
}

func (p *Parser) stmtListUntilRParen() ([]*Stmt, error) {
	var out []*Stmt
	for {
		if err := p.skipNewlines(); err != nil {
			return nil, err
		}
		if p.tok.Kind == RParen || p.tok.Kind == EOF {
			return out, nil
		}
		if p.tok.Kind == Semi {
			if err := p.next(); err != nil {
				return nil, err
			}
			continue
		}
		st, err := p.andOrList()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
		if p.tok.Kind == Semi {
			if err := p.next(); err != nil {
				return nil, err
			}
		} else if p.tok.Kind == And {
			st.Background = true
			if err := p.next(); err != nil {
				return nil, err
			}
		}
	}
}

func (p *Parser) ifClause() (*IfClause, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	cond, err := p.stmtList(stmtEnders("then"))
	if err != nil {
		return nil, err
	}
	if !p.isWordLit("then") {
		return nil, p.errf("expected then")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	then, err := p.stmtList(stmtEnders("elif", "else", "fi"))
	if err != nil {
		return nil, err
	}
	ic := &IfClause{Cond: cond, Then: then}
	switch {
	case p.isWordLit("elif"):
		elif, err := p.ifClause()
		if err != nil {
			return nil, err
		}
		ic.Else = elif
		return ic, nil
	case p.isWordLit("else"):
		if err := p.next(); err != nil {
			return nil, err
		}
		elseStmts, err := p.stmtList(stmtEnders("fi"))
		if err != nil {
			return nil, err
		}
		if !p.isWordLit("fi") {
			return nil, p.errf("expected fi")
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		ic.Else = &IfClause{Then: elseStmts}
		return ic, nil
	case p.isWordLit("fi"):
		if err := p.next(); err != nil {
			return nil, err
		}
		return ic, nil
	default:
		return nil, p.errf("expected fi, elif or else")
	}
}

func (p *Parser) whileClause(until bool) (*WhileClause, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	cond, err := p.stmtList(stmtEnders("do"))
	if err != nil {
		return nil, err
	}
	if !p.isWordLit("do") {
		return nil, p.errf("expected do")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	body, err := p.stmtList(stmtEnders("done"))
	if err != nil {
		return nil, err
	}
	if !p.isWordLit("done") {
		return nil, p.errf("expected done")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	return &WhileClause{Until: until, Cond: cond, Do: body}, nil
}

func (p *Parser) forClause() (*ForClause, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	fc := &ForClause{}
	if p.tok.Kind == DblLParen {
		if err := p.next(); err != nil {
			return nil, err
		}
		loop, err := p.cStyleLoopBody()
		if err != nil {
			return nil, err
		}
		fc.Loop = loop
	} else {
		if p.tok.Kind != Word {
			return nil, p.errf("expected loop variable name")
		}
		name := p.tok.Lit
		if err := p.next(); err != nil {
			return nil, err
		}
		wi := &WordIter{Name: name}
		if err := p.skipNewlines(); err != nil {
			return nil, err
		}
		if p.isWordLit("in") {
			wi.HasIn = true
			if err := p.next(); err != nil {
				return nil, err
			}
			for p.tok.Kind == Word {
				wi.Items = append(wi.Items, p.tok.W)
				if err := p.next(); err != nil {
					return nil, err
				}
			}
		}
		fc.Loop = wi
	}
	if p.tok.Kind == Semi || p.tok.Kind == Newline {
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if err := p.skipNewlines(); err != nil {
		return nil, err
	}
	if !p.isWordLit("do") {
		return nil, p.errf("expected do")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	body, err := p.stmtList(stmtEnders("done"))
	if err != nil {
		return nil, err
	}
	if !p.isWordLit("done") {
		return nil, p.errf("expected done")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	fc.Do = body
	return fc, nil
}

func (p *Parser) cStyleLoopBody() (*CStyleLoop, error) {
	// Re-lex the raw C-style for header as a single arithmetic-ish blob
	// by collecting Word tokens joined by spaces until the matching )).
	var raw string
	for p.tok.Kind != DblRParen {
		if p.tok.Kind == EOF {
			return nil, p.errf("unterminated for ((;;))")
		}
		if p.tok.Kind == Word {
			raw += p.tok.Lit
		}
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if err := p.next(); err != nil { // consume ))
		return nil, err
	}
	segs := splitArithSemicolons(raw)
	cl := &CStyleLoop{}
	if segs[0] != "" {
		x, err := ParseArithmetic(segs[0])
		if err != nil {
			return nil, err
		}
		cl.Init = x
	}
	if len(segs) > 1 && segs[1] != "" {
		x, err := ParseArithmetic(segs[1])
		if err != nil {
			return nil, err
		}
		cl.Cond = x
	}
	if len(segs) > 2 && segs[2] != "" {
		x, err := ParseArithmetic(segs[2])
		if err != nil {
			return nil, err
		}
		cl.Post = x
	}
	return cl, nil
}

func splitArithSemicolons(s string) []string {
	var out []string
	depth := 0
	last := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ';':
			if depth == 0 {
				out = append(out, s[last:i])
				last = i + 1
			}
		}
	}
	out = append(out, s[last:])
	for len(out) < 3 {
		out = append(out, "")
	}
	return out
}

func (p *Parser) caseClause() (*CaseClause, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.Kind != Word {
		return nil, p.errf("expected word after case")
	}
	word := p.tok.W
	if err := p.next(); err != nil {
		return nil, err
	}
	if err := p.skipNewlines(); err != nil {
		return nil, err
	}
	if !p.isWordLit("in") {
		return nil, p.errf("expected in")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	cc := &CaseClause{Word: word}
	for {
		if err := p.skipNewlines(); err != nil {
			return nil, err
		}
		if p.isWordLit("esac") {
			if err := p.next(); err != nil {
				return nil, err
			}
			return cc, nil
		}
		hadParen := false
		if p.tok.Kind == LParen {
			hadParen = true
			if err := p.next(); err != nil {
				return nil, err
			}
		}
		item := &CaseItem{}
		for {
			if p.tok.Kind != Word {
				return nil, p.errf("expected case pattern")
			}
			item.Patterns = append(item.Patterns, p.tok.W)
			if err := p.next(); err != nil {
				return nil, err
			}
			if p.tok.Kind == Or {
				if err := p.next(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		_ = hadParen
		if p.tok.Kind != RParen {
			return nil, p.errf("expected ) in case pattern")
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		stmts, err := p.stmtList(stmtEnders("esac"))
		if err != nil {
			return nil, err
		}
		item.Stmts = stmts
		switch p.tok.Kind {
		case DblSemi:
			item.Op = CaseBreak
			if err := p.next(); err != nil {
				return nil, err
			}
		case SemiAnd:
			item.Op = CaseFallthru
			if err := p.next(); err != nil {
				return nil, err
			}
		case DblSemiAnd:
			item.Op = CaseResume
			if err := p.next(); err != nil {
				return nil, err
			}
		}
		cc.Items = append(cc.Items, item)
	}
}

func (p *Parser) funcDecl(keyword bool) (*FuncDecl, error) {
	if keyword {
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if p.tok.Kind != Word {
		return nil, p.errf("expected function name")
	}
	name := p.tok.Lit
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.Kind == LParen {
		if err := p.next(); err != nil {
			return nil, err
		}
		if p.tok.Kind != RParen {
			return nil, p.errf("expected ) after function name (")
		}
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if err := p.skipNewlines(); err != nil {
		return nil, err
	}
	body, err := p.command()
	if err != nil {
		return nil, err
	}
	block, ok := body.(*Block)
	if !ok {
		if sub, ok2 := body.(*Subshell); ok2 {
			block = &Block{Stmts: sub.Stmts}
		} else {
			return nil, p.errf("expected { ... } function body")
		}
	}
	return &FuncDecl{Name: name, Body: block}, nil
}

func (p *Parser) maybeFuncDeclOrCall() (Command, error) {
	if p.tok.Kind == Word {
		name := p.tok.Lit
		if name != "" && isValidName(name) {
			snap := p.lx.snapshot()
			savedTok := p.tok
			ok, decl := p.tryParseFuncDeclAfterName(name)
			if ok {
				return decl, nil
			}
			p.lx.restore(snap)
			p.tok = savedTok
		}
	}
	return p.simpleCommand()
}

func (p *Parser) tryParseFuncDeclAfterName(name string) (bool, *FuncDecl) {
	if err := p.next(); err != nil || p.tok.Kind != LParen {
		return false, nil
	}
	if err := p.next(); err != nil || p.tok.Kind != RParen {
		return false, nil
	}
	if err := p.next(); err != nil {
		return false, nil
	}
	if err := p.skipNewlines(); err != nil {
		return false, nil
	}
	body, err := p.command()
	if err != nil {
		return false, nil
	}
	if block, ok := body.(*Block); ok {
		return true, &FuncDecl{Name: name, Body: block}
	}
	if sub, ok := body.(*Subshell); ok {
		return true, &FuncDecl{Name: name, Body: &Block{Stmts: sub.Stmts}}
	}
	return false, nil
}

func isValidName(s string) bool {
	if s == "" || !isNameStart(rune(s[0])) {
		return false
	}
	for _, r := range s[1:] {
		if !isNameCont(r) {
			return false
		}
	}
	return true
}

func (p *Parser) simpleCommand() (Command, error) {
	ce := &CallExpr{}
	for p.tok.Kind == Word {
		if isStmtBoundaryLit(p.tok.Lit) && len(ce.Args) > 0 {
			break
		}
		if len(ce.Args) > 0 && isAllDigits(p.tok.Lit) {
			// `cmd 2>&1`: a digit word glued to a redirection operator is
			// that redirection's fd; leave it for tryRedirect.
			snap, saved := p.lx.snapshot(), p.tok
			digitEnd := Pos{saved.Pos.Line, saved.Pos.Col + len(saved.Lit)}
			err := p.next()
			isFD := err == nil && isRedirOpKind(p.tok.Kind) && p.tok.Pos == digitEnd
			p.lx.restore(snap)
			p.tok = saved
			if isFD {
				break
			}
		}
		ce.Args = append(ce.Args, p.tok.W)
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if len(ce.Args) == 0 {
		return nil, nil
	}
	return ce, nil
}

func isStmtBoundaryLit(lit string) bool {
	switch lit {
	case "then", "do", "else", "elif", "fi", "done", "esac", "}", "]]", "in":
		return true
	}
	return false
}

func (p *Parser) tryRedirect() (*Redirect, bool, error) {
	var fd *int
	if p.tok.Kind == Word && isAllDigits(p.tok.Lit) {
		digitEnd := Pos{p.tok.Pos.Line, p.tok.Pos.Col + len(p.tok.Lit)}
		n := atoiSmall(p.tok.Lit)
		snap := p.lx.snapshot()
		savedTok := p.tok
		if err := p.next(); err != nil {
			return nil, false, err
		}
		if isRedirOpKind(p.tok.Kind) && p.tok.Pos == digitEnd {
			fd = &n
		} else {
			p.lx.restore(snap)
			p.tok = savedTok
		}
	}
	pos := p.tok.Pos
	var op RedirOp
	switch p.tok.Kind {
	case Less:
		op = RedirLess
	case Great:
		op = RedirGreat
	case Clobber:
		op = RedirClobber
	case DGreat:
		op = RedirAppend
	case RdrAll:
		op = RedirRdrAll
	case AppAll:
		op = RedirAppAll
	case DLess:
		op = RedirHeredoc
	case DLessDash:
		op = RedirHeredocTabs
	case DLessLess:
		op = RedirHerestring
	case GreatAnd:
		op = RedirDupOut
	case LessAnd:
		op = RedirDupIn
	default:
		return nil, false, nil
	}
	if err := p.next(); err != nil {
		return nil, false, err
	}
	if p.tok.Kind != Word {
		return nil, false, p.errf("expected redirection target")
	}
	r := &Redirect{Pos: pos, Op: op, N: fd, Word: p.tok.W}
	if op == RedirHeredoc || op == RedirHeredocTabs {
		p.lx.pendingHeredocs = append(p.lx.pendingHeredocs, r)
	}
	if err := p.next(); err != nil {
		return nil, false, err
	}
	return r, true, nil
}

func isRedirOpKind(k TokKind) bool {
	switch k {
	case Less, Great, DGreat, DLess, DLessDash, DLessLess, Clobber, LessAnd, GreatAnd, RdrAll, AppAll:
		return true
	}
	return false
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func atoiSmall(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

func (p *Parser) arithmCmd() (*ArithmCmd, error) {
	start := p.tok.Pos
	depth := 2
	var raw string
	if err := p.next(); err != nil {
		return nil, err
	}
	for {
		if p.tok.Kind == DblRParen {
			break
		}
		if p.tok.Kind == EOF {
			return nil, &ParseError{Reason: "unterminated (( ))", Pos: start}
		}
		if p.tok.Kind == Word {
			raw += p.tok.Lit
		}
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	_ = depth
	if err := p.next(); err != nil {
		return nil, err
	}
	x, err := ParseArithmetic(raw)
	if err != nil {
		return nil, err
	}
	return &ArithmCmd{X: x}, nil
}

func (p *Parser) testClause() (*TestClause, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	x, err := p.testOrExpr()
	if err != nil {
		return nil, err
	}
	if !p.isWordLit("]]") {
		return nil, p.errf("expected ]]")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	return &TestClause{X: x}, nil
}

func (p *Parser) testOrExpr() (TestExpr, error) {
	x, err := p.testAndExpr()
	if err != nil {
		return nil, err
	}
	for p.tok.Kind == OrOr || p.isWordLit("-o") {
		if err := p.next(); err != nil {
			return nil, err
		}
		y, err := p.testAndExpr()
		if err != nil {
			return nil, err
		}
		x = &TestAndOr{And: false, X: x, Y: y}
	}
	return x, nil
}

func (p *Parser) testAndExpr() (TestExpr, error) {
	x, err := p.testUnaryOrAtom()
	if err != nil {
		return nil, err
	}
	for p.tok.Kind == AndAnd || p.isWordLit("-a") {
		if err := p.next(); err != nil {
			return nil, err
		}
		y, err := p.testUnaryOrAtom()
		if err != nil {
			return nil, err
		}
		x = &TestAndOr{And: true, X: x, Y: y}
	}
	return x, nil
}

func (p *Parser) testUnaryOrAtom() (TestExpr, error) {
	if p.isWordLit("!") {
		if err := p.next(); err != nil {
			return nil, err
		}
		x, err := p.testUnaryOrAtom()
		if err != nil {
			return nil, err
		}
		return &TestNot{X: x}, nil
	}
	if p.tok.Kind == LParen {
		if err := p.next(); err != nil {
			return nil, err
		}
		x, err := p.testOrExpr()
		if err != nil {
			return nil, err
		}
		if p.tok.Kind != RParen {
			return nil, p.errf("expected ) in [[ ]]")
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		return &TestParen{X: x}, nil
	}
	if p.tok.Kind == Word && isUnaryTestOp(p.tok.Lit) {
		op := p.tok.Lit
		if err := p.next(); err != nil {
			return nil, err
		}
		if p.tok.Kind != Word {
			return nil, p.errf("expected operand after %s", op)
		}
		operand := p.tok.W
		if err := p.next(); err != nil {
			return nil, err
		}
		return &TestUnary{Op: op, X: operand}, nil
	}
	if p.tok.Kind != Word {
		return nil, p.errf("expected test expression")
	}
	left := p.tok.W
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.Kind == Word && isBinaryTestOp(p.tok.Lit) {
		op := p.tok.Lit
		if err := p.next(); err != nil {
			return nil, err
		}
		if op == "=~" {
			// A regex's parentheses arrive as separate tokens; glue them
			// and the words between them back into one word.
			right := &Word{}
			for p.tok.Kind == LParen || p.tok.Kind == RParen || (p.tok.Kind == Word && !p.isWordLit("]]")) {
				switch p.tok.Kind {
				case LParen:
					right.Parts = append(right.Parts, &Lit{Value: "("})
				case RParen:
					right.Parts = append(right.Parts, &Lit{Value: ")"})
				default:
					right.Parts = append(right.Parts, p.tok.W.Parts...)
				}
				if err := p.next(); err != nil {
					return nil, err
				}
			}
			return &TestBinary{Op: op, X: left, Y: right}, nil
		}
		if p.tok.Kind != Word {
			return nil, p.errf("expected right-hand operand after %s", op)
		}
		right := p.tok.W
		if err := p.next(); err != nil {
			return nil, err
		}
		return &TestBinary{Op: op, X: left, Y: right}, nil
	}
	return &TestWord{X: left}, nil
}

func isUnaryTestOp(s string) bool {
	switch s {
	case "-e", "-f", "-d", "-s", "-r", "-w", "-x", "-L", "-h", "-z", "-n", "-v", "-o", "-p", "-S", "-b", "-c", "-g", "-u", "-k", "-t":
		return true
	}
	return false
}

func isBinaryTestOp(s string) bool {
	switch s {
	case "==", "=", "!=", "=~", "<", ">", "-eq", "-ne", "-lt", "-le", "-gt", "-ge", "-nt", "-ot", "-ef":
		return true
	}
	return false
}

func (p *Parser) declClause() (*DeclClause, error) {
	variant := p.tok.Lit
	if err := p.next(); err != nil {
		return nil, err
	}
	dc := &DeclClause{Variant: variant}
	for p.tok.Kind == Word {
		if len(p.tok.Lit) >= 2 && p.tok.Lit[0] == '-' {
			dc.Opts = append(dc.Opts, p.tok.W)
			if err := p.next(); err != nil {
				return nil, err
			}
			continue
		}
		name, val, isAssign := p.tryAssign()
		if isAssign {
			dc.Assigns = append(dc.Assigns, &Assign{Name: name.name, Index: name.index, Append: name.append, Value: val})
			if err := p.next(); err != nil {
				return nil, err
			}
			continue
		}
		// A bare NAME (no '='), e.g. `declare -i x`.
		if isValidName(p.tok.Lit) {
			dc.Assigns = append(dc.Assigns, &Assign{Name: p.tok.Lit, Naked: true})
			if err := p.next(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return dc, nil
}

// AndOrList represents a flattened chain of pipelines joined by && / ||,
// stored as the Cmd of a synthetic wrapping Stmt so the interpreter can
// apply short-circuit and errexit-suppression rules uniformly.
type AndOrList struct {
	Stmts []*Stmt
	Ops   []AndOrOp
}

func (*AndOrList) commandNode() {}

type AndOrOp int

const (
	AndOp AndOrOp = iota
	OrOp
)
