package interp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vshlang/vsh/expand"
	"github.com/vshlang/vsh/syntax"
)

// declFlags is the parsed set of -a -A -i -l -u -n -r -x -f -F -g -p
// options a declare-family invocation can carry.
type declFlags struct {
	array, assoc, integer, lower, upper, nameref bool
	readonly, export, funcs, funcNamesOnly       bool
	global, print                                bool
	unset                                        bool
}

func parseDeclFlags(opts []*syntax.Word) declFlags {
	var f declFlags
	for _, w := range opts {
		lit, ok := w.Lit()
		if !ok || len(lit) < 2 || lit[0] != '-' {
			continue
		}
		for _, c := range lit[1:] {
			switch c {
			case 'a':
				f.array = true
			case 'A':
				f.assoc = true
			case 'i':
				f.integer = true
			case 'l':
				f.lower = true
			case 'u':
				f.upper = true
			case 'n':
				f.nameref = true
			case 'r':
				f.readonly = true
			case 'x':
				f.export = true
			case 'f':
				f.funcs = true
			case 'F':
				f.funcs, f.funcNamesOnly = true, true
			case 'g':
				f.global = true
			case 'p':
				f.print = true
			case 'v':
			}
		}
	}
	return f
}

// runDeclClause implements declare/typeset/local/readonly/export/unset
// as parsed into a syntax.DeclClause, applying the variant's implied
// flags (readonly implies -r, export implies -x, local/unset operate
// on the current scope) on top of any explicit -a/-A/-i/... options.
func (it *Interpreter) runDeclClause(ctx context.Context, dc *syntax.DeclClause, stdin string) (string, string, int, error) {
	if dc.Variant == "unset" {
		var names []string
		for _, as := range dc.Assigns {
			names = append(names, as.Name)
		}
		return biUnset(ctx, it, names, stdin)
	}

	flags := parseDeclFlags(dc.Opts)
	switch dc.Variant {
	case "readonly":
		flags.readonly = true
	case "export":
		flags.export = true
	}
	isLocal := dc.Variant == "local" || (it.callDepth > 0 && !flags.global && (dc.Variant == "declare" || dc.Variant == "typeset"))

	if flags.funcs {
		return it.printFunctions(flags.funcNamesOnly, dc.Assigns), "", 0, nil
	}

	if len(dc.Assigns) == 0 {
		return it.printVariables(flags), "", 0, nil
	}

	ec := it.expandConfig()
	for _, as := range dc.Assigns {
		old := it.Store.Get(as.Name)
		if old.ReadOnly && !as.Naked {
			return "", fmt.Sprintf("bash: %s: %s: readonly variable\n", dc.Variant, as.Name), 1, nil
		}
		vr := old
		vr.Set = true
		if flags.array && vr.Kind == expand.Unknown {
			vr.Kind = expand.Indexed
		}
		if flags.assoc && vr.Kind == expand.Unknown {
			vr.Kind = expand.Associative
			vr.Map = map[string]string{}
		}
		if flags.integer {
			vr.Integer = true
		}
		if flags.lower {
			vr.Lower = true
		}
		if flags.upper {
			vr.Upper = true
		}
		if flags.nameref {
			vr.Kind = expand.NameRef
		}
		if flags.export {
			vr.Exported = true
		}

		if as.Array != nil {
			if err := it.applyArrayAssignInto(ctx, ec, as, &vr); err != nil {
				return "", fmt.Sprintf("bash: %s: %v\n", dc.Variant, err), 1, nil
			}
		} else if !as.Naked {
			val, err := ec.Literal(ctx, as.Value)
			if err != nil {
				return "", fmt.Sprintf("bash: %s: %v\n", dc.Variant, err), 1, nil
			}
			if vr.Integer {
				n, _ := ec.Arithm(ctx, &syntax.ArithmWord{X: as.Value})
				val = strconv.FormatInt(n, 10)
			}
			if vr.Lower {
				val = strings.ToLower(val)
			}
			if vr.Upper {
				val = strings.ToUpper(val)
			}
			if vr.Kind == expand.Unknown {
				vr.Kind = expand.String
			}
			switch vr.Kind {
			case expand.Indexed:
				vr.List = []string{val}
			case expand.Associative:
				if vr.Map == nil {
					vr.Map = map[string]string{}
				}
				vr.Map["0"] = val
			default:
				vr.Str = val
			}
		} else if vr.Kind == expand.Unknown {
			vr.Kind = expand.String
		}

		if flags.readonly {
			vr.ReadOnly = true
		}

		var setErr error
		if isLocal {
			setErr = it.Store.SetLocal(as.Name, vr)
		} else {
			it.Store.SetForce(as.Name, vr)
		}
		if setErr != nil {
			return "", fmt.Sprintf("bash: %s: %v\n", dc.Variant, setErr), 1, nil
		}
	}
	return "", "", 0, nil
}

func (it *Interpreter) applyArrayAssignInto(ctx context.Context, ec *expand.Config, as *syntax.Assign, vr *expand.Variable) error {
	hasKeys := false
	for _, el := range as.Array {
		if el.Index != nil {
			hasKeys = true
			break
		}
	}
	if hasKeys || vr.Kind == expand.Associative {
		m := map[string]string{}
		next := 0
		for _, el := range as.Array {
			val, err := ec.Literal(ctx, el.Value)
			if err != nil {
				return err
			}
			key := strconv.Itoa(next)
			if el.Index != nil {
				k, err := ec.Literal(ctx, el.Index)
				if err != nil {
					return err
				}
				key = k
			}
			m[key] = val
			if n, err := strconv.Atoi(key); err == nil && n >= next {
				next = n + 1
			}
		}
		vr.Kind = expand.Associative
		vr.Map = m
		return nil
	}
	var list []string
	for _, el := range as.Array {
		vals, err := ec.Fields(ctx, el.Value)
		if err != nil {
			return err
		}
		list = append(list, vals...)
	}
	vr.Kind = expand.Indexed
	vr.List = list
	return nil
}

// printVariables renders `declare -p`-style output: the teacher's
// idiom of one `declare -attrs name=value` line per variable, sorted
// by name for determinism.
func (it *Interpreter) printVariables(flags declFlags) string {
	var out strings.Builder
	it.Store.Each(func(name string, vr expand.Variable) bool {
		if isSpecialParamName(name) {
			return true
		}
		if flags.export && !vr.Exported {
			return true
		}
		if flags.readonly && !vr.ReadOnly {
			return true
		}
		fmt.Fprintf(&out, "declare %s %s=%s\n", attrString(vr), name, quoteShellWordPublic(vr.String()))
		return true
	})
	return out.String()
}

// isSpecialParamName reports whether name is one of the bookkeeping
// special parameters (`$?`, `$#`, `$$`, `$!`, `$-`, `$*`, `$@`) or a
// positional parameter (`$1`, `$2`, ...) — names `declare -p` never
// lists, since they aren't ordinary shell variables.
func isSpecialParamName(name string) bool {
	switch name {
	case "?", "#", "$", "!", "-", "*", "@":
		return true
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return name != ""
}

func attrString(vr expand.Variable) string {
	var b strings.Builder
	b.WriteByte('-')
	if vr.Exported {
		b.WriteByte('x')
	}
	if vr.ReadOnly {
		b.WriteByte('r')
	}
	if vr.Integer {
		b.WriteByte('i')
	}
	switch vr.Kind {
	case expand.Indexed:
		b.WriteByte('a')
	case expand.Associative:
		b.WriteByte('A')
	case expand.NameRef:
		b.WriteByte('n')
	}
	if b.Len() == 1 {
		b.WriteByte('-')
	}
	return b.String()
}

// printFunctions renders `declare -f`/`declare -F` output; -F prints
// only "declare -f name" headers, matching Bash's name-only mode. Plain
// -f reconstructs a best-effort function body from the AST: it walks
// simple-command pipelines and their &&/||/! decorations, but a
// compound statement (if/for/while/case/...) it can't render falls out
// as an empty line and is silently dropped, same as the body falls
// back to a bare `:` when nothing could be rendered at all. This is
// not a round-trip of the original source.
func (it *Interpreter) printFunctions(namesOnly bool, assigns []*syntax.Assign) string {
	var out strings.Builder
	names := sortedFuncNames(it)
	if len(assigns) > 0 {
		names = names[:0]
		for _, as := range assigns {
			names = append(names, as.Name)
		}
	}
	for _, n := range names {
		fd, ok := it.Store.GetFunc(n)
		if !ok {
			continue
		}
		fmt.Fprintf(&out, "declare -f %s\n", n)
		if !namesOnly {
			fmt.Fprintf(&out, "%s () \n{\n%s\n}\n", n, funcBodySource(fd))
		}
	}
	return out.String()
}

// funcBodySource renders fd's body as best-effort shell source, one
// 4-space-indented line per statement. Statements that don't reduce to
// a simple-command pipeline (compound commands) render as nothing and
// are dropped; if every statement drops, the body falls back to a
// lone ":" line.
func funcBodySource(fd *syntax.FuncDecl) string {
	var lines []string
	if fd.Body != nil {
		for _, s := range fd.Body.Stmts {
			if line := stmtToSource(s); line != "" {
				lines = append(lines, "    "+line)
			}
		}
	}
	if len(lines) == 0 {
		return "    :"
	}
	return strings.Join(lines, "\n")
}

func stmtToSource(s *syntax.Stmt) string {
	if s == nil {
		return ""
	}
	body := cmdToSource(s.Cmd)
	if body == "" {
		return ""
	}
	if s.Negated {
		body = "! " + body
	}
	return body
}

// cmdToSource renders the subset of Command a function body is
// expected to reduce to at top level: plain calls, &&/|| chains, and
// pipelines of those. Anything else (if/for/while/case/subshell/...)
// is out of scope and renders empty.
func cmdToSource(cmd syntax.Command) string {
	switch c := cmd.(type) {
	case *syntax.CallExpr:
		return callToSource(c)
	case *syntax.BinaryCmd:
		return pipelineToSource(c)
	case *syntax.AndOrList:
		return andOrToSource(c)
	default:
		return ""
	}
}

func andOrToSource(c *syntax.AndOrList) string {
	if len(c.Stmts) == 0 {
		return ""
	}
	parts := make([]string, 0, len(c.Stmts))
	for _, s := range c.Stmts {
		part := stmtToSource(s)
		if part == "" {
			return ""
		}
		parts = append(parts, part)
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for i, op := range c.Ops {
		if i+1 >= len(parts) {
			break
		}
		if op == syntax.AndOp {
			b.WriteString(" && ")
		} else {
			b.WriteString(" || ")
		}
		b.WriteString(parts[i+1])
	}
	return b.String()
}

func pipelineToSource(c *syntax.BinaryCmd) string {
	left := stmtToSource(c.X)
	right := stmtToSource(c.Y)
	if left == "" || right == "" {
		return ""
	}
	sep := " | "
	if c.Op == syntax.PipeAll {
		sep = " |& "
	}
	return left + sep + right
}

func callToSource(c *syntax.CallExpr) string {
	parts := make([]string, 0, len(c.Args))
	for _, w := range c.Args {
		wordStr, ok := wordToSource(w)
		if !ok {
			return ""
		}
		parts = append(parts, wordStr)
	}
	return strings.Join(parts, " ")
}

// wordToSource renders the literal/quoted/simple-parameter subset of a
// Word that the original reconstruction handles; anything fancier
// (command substitution, arithmetic, brace expansion, ...) reports
// false so the caller can drop the whole statement.
func wordToSource(w *syntax.Word) (string, bool) {
	if w == nil {
		return "", true
	}
	var b strings.Builder
	for _, p := range w.Parts {
		s, ok := wordPartToSource(p)
		if !ok {
			return "", false
		}
		b.WriteString(s)
	}
	return b.String(), true
}

func wordPartToSource(p syntax.WordPart) (string, bool) {
	switch v := p.(type) {
	case *syntax.Lit:
		return v.Value, true
	case *syntax.SglQuoted:
		return "'" + strings.ReplaceAll(v.Value, "'", `'\''`) + "'", true
	case *syntax.DblQuoted:
		var b strings.Builder
		for _, inner := range v.Parts {
			s, ok := wordPartToSource(inner)
			if !ok {
				return "", false
			}
			b.WriteString(s)
		}
		return `"` + b.String() + `"`, true
	case *syntax.ParamExp:
		if v.Short && v.Op == syntax.ParExpNone && v.Index == nil && !v.Excl && !v.Length {
			return "$" + v.Name, true
		}
		return "", false
	default:
		return "", false
	}
}

func quoteShellWordPublic(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
