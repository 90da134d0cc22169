package interp

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vshlang/vsh/expand"
	"github.com/vshlang/vsh/syntax"
)

// builtinFunc is the shape every builtin shares with a registry
// command, minus the narrow registry.Context view: builtins get the
// live *Interpreter because they mutate variables, cwd, and options
// directly instead of through a command's sandboxed surface.
type builtinFunc func(ctx context.Context, it *Interpreter, args []string, stdin string) (stdout, stderr string, code int, err error)

var builtins map[string]builtinFunc

func init() {
	builtins = map[string]builtinFunc{
		"cd":       biCd,
		"pushd":    biPushd,
		"popd":     biPopd,
		"dirs":     biDirs,
		"unset":    biUnset,
		"set":      biSet,
		"shopt":    biShopt,
		"read":     biRead,
		"getopts":  biGetopts,
		"hash":     biNoop,
		"type":     biType,
		"command":  biCommand,
		"builtin":  biBuiltin,
		"break":    biBreak,
		"continue": biContinue,
		"return":   biReturn,
		"exit":     biExit,
		"shift":    biShift,
		":":        biTrue,
		"true":     biTrue,
		"false":    biFalse,
		"echo":     biEcho,
		"printf":   biPrintf,
		"eval":     biEval,
		"test":     biTest,
		"[":        biBracket,
		"declare":  declareVariant("declare"),
		"typeset":  declareVariant("typeset"),
		"local":    declareVariant("local"),
		"readonly": declareVariant("readonly"),
		"export":   declareVariant("export"),
	}
}

func biNoop(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	return "", "", 0, nil
}

func biTrue(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	return "", "", 0, nil
}

func biFalse(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	return "", "", 1, nil
}

func biTest(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	return it.runTestBuiltin(ctx, args)
}

func biBracket(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	if len(args) == 0 || args[len(args)-1] != "]" {
		return "", "bash: [: missing closing ]\n", 2, nil
	}
	return it.runTestBuiltin(ctx, args[:len(args)-1])
}

func biCd(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	target := it.Store.getString("HOME")
	for _, a := range args {
		if a == "-L" || a == "-P" {
			continue
		}
		if a == "-" {
			target = it.prevDir
		} else {
			target = a
		}
	}
	if target == "" {
		target = "/"
	}
	newDir := it.resolve(target)
	isDir, err := it.FS.IsDir(ctx, newDir)
	if err != nil || !isDir {
		return "", fmt.Sprintf("bash: cd: %s: No such file or directory\n", target), 1, nil
	}
	it.prevDir = it.Cwd
	it.Cwd = newDir
	it.Store.setExported("OLDPWD", it.prevDir)
	it.Store.setExported("PWD", it.Cwd)
	return "", "", 0, nil
}

func biPushd(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	if len(args) == 0 {
		return "", "bash: pushd: no other directory\n", 1, nil
	}
	it.dirStack = append([]string{it.Cwd}, it.dirStack...)
	out, errOut, code, err := biCd(ctx, it, args, stdin)
	if code != 0 {
		it.dirStack = it.dirStack[1:]
		return out, errOut, code, err
	}
	return it.dirsOutput(), errOut, code, err
}

func biPopd(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	if len(it.dirStack) == 0 {
		return "", "bash: popd: directory stack empty\n", 1, nil
	}
	top := it.dirStack[0]
	it.dirStack = it.dirStack[1:]
	it.prevDir = it.Cwd
	it.Cwd = top
	it.Store.setExported("OLDPWD", it.prevDir)
	it.Store.setExported("PWD", it.Cwd)
	return it.dirsOutput(), "", 0, nil
}

func biDirs(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	if contains(args, "-c") {
		it.dirStack = nil
		return "", "", 0, nil
	}
	return it.dirsOutput(), "", 0, nil
}

func (it *Interpreter) dirsOutput() string {
	all := append([]string{it.Cwd}, it.dirStack...)
	return strings.Join(all, " ") + "\n"
}

func contains(args []string, s string) bool {
	for _, a := range args {
		if a == s {
			return true
		}
	}
	return false
}

func biUnset(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	funcMode := false
	var names []string
	for _, a := range args {
		switch a {
		case "-v":
		case "-f":
			funcMode = true
		case "-n":
		default:
			names = append(names, a)
		}
	}
	for _, n := range names {
		if funcMode {
			it.Store.UnsetFunc(n)
			continue
		}
		if err := it.Store.Unset(n); err != nil {
			return "", fmt.Sprintf("bash: unset: %v\n", err), 1, nil
		}
	}
	return "", "", 0, nil
}

func biSet(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	var positional []string
	for _, a := range args {
		if len(a) >= 2 && (a[0] == '-' || a[0] == '+') {
			on := a[0] == '-'
			for _, flag := range a[1:] {
				applySetFlag(&it.Options, flag, on)
			}
			continue
		}
		if a == "-o" || a == "+o" {
			continue
		}
		positional = append(positional, a)
	}
	if len(positional) > 0 {
		it.Store.setIndexed("@", positional)
		it.Store.setString("#", strconv.Itoa(len(positional)))
	}
	return "", "", 0, nil
}

func applySetFlag(opt *Options, flag rune, on bool) {
	switch flag {
	case 'e':
		opt.Errexit = on
	case 'u':
		opt.Nounset = on
	case 'f':
		opt.NoGlob = on
	case 'x':
		opt.Xtrace = on
	case 'v':
		opt.Verbose = on
	case 'a':
		opt.AllExport = on
	case 'C':
		opt.NoClobber = on
	}
}

func biShopt(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	set := true
	query := false
	var names []string
	for _, a := range args {
		switch a {
		case "-s":
			set = true
		case "-u":
			set = false
		case "-q":
			query = true
		case "-p":
		default:
			names = append(names, a)
		}
	}
	if query {
		for _, n := range names {
			if !shoptValue(it.Options, n) {
				return "", "", 1, nil
			}
		}
		return "", "", 0, nil
	}
	for _, n := range names {
		applyShopt(&it.Options, n, set)
	}
	return "", "", 0, nil
}

func shoptValue(opt Options, name string) bool {
	switch name {
	case "globstar":
		return opt.GlobStar
	case "nullglob":
		return opt.NullGlob
	case "failglob":
		return opt.FailGlob
	case "nocasematch":
		return opt.NoCaseMatch
	case "dotglob":
		return opt.DotGlob
	case "expand_aliases":
		return opt.ExpandAliases
	case "nocaseglob":
		return opt.NoCaseMatch
	}
	return false
}

func applyShopt(opt *Options, name string, on bool) {
	switch name {
	case "globstar":
		opt.GlobStar = on
	case "nullglob":
		opt.NullGlob = on
	case "failglob":
		opt.FailGlob = on
	case "nocasematch", "nocaseglob":
		opt.NoCaseMatch = on
	case "dotglob":
		opt.DotGlob = on
	case "expand_aliases":
		opt.ExpandAliases = on
	}
}

func biRead(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	raw := false
	var prompt string
	var names []string
	i := 0
	for i < len(args) {
		switch args[i] {
		case "-r":
			raw = true
		case "-p":
			i++
			if i < len(args) {
				prompt = args[i]
			}
		case "-s":
		case "-d", "-n", "-N", "-t", "-u", "-a":
			i++ // consume the operand of flags we accept but don't fully model
		default:
			names = append(names, args[i])
		}
		i++
	}
	_ = prompt
	if len(names) == 0 {
		names = []string{"REPLY"}
	}
	line, rest := firstLine(stdin)
	if line == "" && rest == "" && stdin == "" {
		return "", "", 1, nil
	}
	if !raw {
		line = unescapeBackslashes(line)
	}
	fields := strings.Fields(line)
	ifs := it.Store.getString("IFS")
	if ifs != " \t\n" {
		fields = splitByIFS(line, ifs)
	}
	for idx, name := range names {
		var v string
		if idx == len(names)-1 {
			v = strings.Join(fields[min(idx, len(fields)):], " ")
		} else if idx < len(fields) {
			v = fields[idx]
		}
		if err := it.Store.Set(name, expand.Variable{Set: true, Kind: expand.String, Str: v}); err != nil {
			return "", fmt.Sprintf("bash: read: %v\n", err), 1, nil
		}
	}
	it.Store.setString("__remaining_stdin__", rest)
	return "", "", 0, nil
}

func firstLine(s string) (line, rest string) {
	i := strings.IndexByte(s, '\n')
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

func unescapeBackslashes(s string) string {
	return expand.ExpandFormat(s)
}

func splitByIFS(s, ifs string) []string {
	if ifs == "" {
		return []string{s}
	}
	return strings.FieldsFunc(s, func(r rune) bool { return strings.ContainsRune(ifs, r) })
}

func biGetopts(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	if len(args) < 2 {
		return "", "bash: getopts: usage: getopts optstring name [arg]\n", 2, nil
	}
	optstring, name := args[0], args[1]
	operands := args[2:]
	if len(operands) == 0 {
		operands, _ = arrayStrings(it.Store.Get("@"))
	}
	optind := it.Store.getInt("OPTIND")
	if optind < 1 {
		optind = 1
	}
	if optind-1 >= len(operands) {
		it.Store.setString(name, "?")
		return "", "", 1, nil
	}
	arg := operands[optind-1]
	if len(arg) < 2 || arg[0] != '-' {
		it.Store.setString(name, "?")
		return "", "", 1, nil
	}
	opt := string(arg[1])
	idx := strings.IndexByte(optstring, arg[1])
	if idx < 0 {
		it.Store.setString(name, "?")
		it.Store.setString("OPTIND", strconv.Itoa(optind+1))
		return "", fmt.Sprintf("illegal option -- %s\n", opt), 0, nil
	}
	it.Store.setString(name, opt)
	optind++
	if idx+1 < len(optstring) && optstring[idx+1] == ':' {
		if len(arg) > 2 {
			it.Store.setString("OPTARG", arg[2:])
		} else if optind-1 < len(operands) {
			it.Store.setString("OPTARG", operands[optind-1])
			optind++
		}
	}
	it.Store.setString("OPTIND", strconv.Itoa(optind))
	return "", "", 0, nil
}

func biType(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	var out strings.Builder
	code := 0
	for _, name := range args {
		switch {
		case func() bool { _, ok := it.Store.GetFunc(name); return ok }():
			fmt.Fprintf(&out, "%s is a function\n", name)
		case func() bool { _, ok := builtins[name]; return ok }():
			fmt.Fprintf(&out, "%s is a shell builtin\n", name)
		case func() bool { _, ok := it.Commands.Lookup(name); return ok }():
			fmt.Fprintf(&out, "%s is a registered command\n", name)
		default:
			fmt.Fprintf(&out, "bash: type: %s: not found\n", name)
			code = 1
		}
	}
	return out.String(), "", code, nil
}

func biCommand(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	var rest []string
	for _, a := range args {
		if a == "-v" || a == "-p" {
			continue
		}
		rest = append(rest, a)
	}
	if len(rest) == 0 {
		return "", "", 0, nil
	}
	name, cargs := rest[0], rest[1:]
	if b, ok := builtins[name]; ok {
		return b(ctx, it, cargs, stdin)
	}
	if cmd, ok := it.Commands.LookupOrUnknown(name); ok {
		res, err := cmd(ctx, cargs, it.registryContext(stdin))
		return res.Stdout, res.Stderr, res.ExitCode, err
	}
	return it.runPathScript(ctx, name, cargs, stdin)
}

func biBuiltin(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	if len(args) == 0 {
		return "", "", 0, nil
	}
	if b, ok := builtins[args[0]]; ok {
		return b(ctx, it, args[1:], stdin)
	}
	return "", fmt.Sprintf("bash: builtin: %s: not a shell builtin\n", args[0]), 1, nil
}

func biBreak(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	n := 1
	if len(args) > 0 {
		n, _ = strconv.Atoi(args[0])
	}
	if n < 1 {
		n = 1
	}
	if it.loopDepth == 0 {
		return "", "bash: break: only meaningful in a `for', `while', or `until' loop\n", 0, nil
	}
	return "", "", 0, BreakError{Levels: n}
}

func biContinue(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	n := 1
	if len(args) > 0 {
		n, _ = strconv.Atoi(args[0])
	}
	if n < 1 {
		n = 1
	}
	if it.loopDepth == 0 {
		return "", "bash: continue: only meaningful in a `for', `while', or `until' loop\n", 0, nil
	}
	return "", "", 0, ContinueError{Levels: n}
}

func biReturn(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	code := it.lastExit
	if len(args) > 0 {
		code, _ = strconv.Atoi(args[0])
	}
	return "", "", code, ReturnError{Code: code & 0xff}
}

func biExit(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	code := it.lastExit
	if len(args) > 0 {
		code, _ = strconv.Atoi(args[0])
	}
	return "", "", code, ExitError{Code: code & 0xff}
}

func biShift(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	n := 1
	if len(args) > 0 {
		n, _ = strconv.Atoi(args[0])
	}
	pos, _ := arrayStrings(it.Store.Get("@"))
	if n > len(pos) {
		return "", "", 1, nil
	}
	pos = pos[n:]
	it.Store.setIndexed("@", pos)
	it.Store.setString("#", strconv.Itoa(len(pos)))
	return "", "", 0, nil
}

func biEcho(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	noNewline := false
	interpret := false
	i := 0
	for i < len(args) && strings.HasPrefix(args[i], "-") && len(args[i]) > 1 {
		valid := true
		for _, c := range args[i][1:] {
			if c != 'n' && c != 'e' && c != 'E' {
				valid = false
			}
		}
		if !valid {
			break
		}
		if strings.Contains(args[i], "n") {
			noNewline = true
		}
		if strings.Contains(args[i], "e") {
			interpret = true
		}
		i++
	}
	parts := args[i:]
	if interpret {
		for j, p := range parts {
			parts[j] = expand.ExpandFormat(p)
		}
	}
	out := strings.Join(parts, " ")
	if !noNewline {
		out += "\n"
	}
	return out, "", 0, nil
}

func biPrintf(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	if len(args) == 0 {
		return "", "bash: printf: usage: printf format [arguments]\n", 2, nil
	}
	format := expand.ExpandFormat(args[0])
	rest := args[1:]
	var out strings.Builder
	if len(rest) == 0 {
		fmt.Fprint(&out, renderPrintf(format, nil))
		return out.String(), "", 0, nil
	}
	for len(rest) > 0 {
		var consumed int
		s, n := renderPrintfOnce(format, rest)
		out.WriteString(s)
		consumed = n
		if consumed == 0 {
			break
		}
		rest = rest[consumed:]
	}
	return out.String(), "", 0, nil
}

func renderPrintf(format string, args []string) string {
	s, _ := renderPrintfOnce(format, args)
	return s
}

// renderPrintfOnce expands one cycle of format against args, Bash-style
// (a format with no conversions is printed once; otherwise it repeats
// until args are exhausted, which the caller's loop handles).
func renderPrintfOnce(format string, args []string) (string, int) {
	var out strings.Builder
	ai := 0
	next := func() string {
		if ai < len(args) {
			v := args[ai]
			ai++
			return v
		}
		return ""
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			out.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(format) && strings.ContainsRune("-+ 0#123456789.", rune(format[j])) {
			j++
		}
		if j >= len(format) {
			out.WriteByte('%')
			break
		}
		verb := format[j]
		spec := "%" + format[i+1:j+1]
		switch verb {
		case 'd', 'i':
			n, _ := strconv.ParseInt(next(), 0, 64)
			fmt.Fprintf(&out, strings.Replace(spec, string(verb), "d", 1), n)
		case 'f', 'g', 'e':
			f, _ := strconv.ParseFloat(next(), 64)
			fmt.Fprintf(&out, spec, f)
		case 's':
			fmt.Fprintf(&out, spec, next())
		case '%':
			out.WriteByte('%')
			j--
		default:
			fmt.Fprintf(&out, spec, next())
		}
		i = j
	}
	return out.String(), ai
}

func biEval(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
	script := strings.Join(args, " ")
	file, err := syntax.Parse(script, syntax.DefaultLimits)
	if err != nil {
		return "", fmt.Sprintf("bash: eval: %v\n", err), 1, nil
	}
	return it.withCaptured(ctx, file.Stmts)
}

// declareVariant builds the builtin for declare/typeset/local/readonly/
// export when invoked as an ordinary word (no special assignment
// parsing), e.g. from `command declare` or a function whose body calls
// it through a variable: it turns argv into a DeclClause for
// runDeclClause. The parser's DeclClause path is the common case,
// used whenever the statement itself was recognized as one of these
// keywords.
func declareVariant(variant string) builtinFunc {
	return func(ctx context.Context, it *Interpreter, args []string, stdin string) (string, string, int, error) {
		dc := &syntax.DeclClause{Variant: variant}
		for _, a := range args {
			if strings.HasPrefix(a, "-") {
				dc.Opts = append(dc.Opts, litWord(a))
				continue
			}
			if eq := strings.IndexByte(a, '='); eq >= 0 {
				dc.Assigns = append(dc.Assigns, &syntax.Assign{Name: a[:eq], Value: litWord(a[eq+1:])})
			} else {
				dc.Assigns = append(dc.Assigns, &syntax.Assign{Name: a, Naked: true})
			}
		}
		return it.runDeclClause(ctx, dc, stdin)
	}
}

// sortedFuncNames lists defined function names in a stable order, used
// by `declare -F`.
func sortedFuncNames(it *Interpreter) []string {
	names := make([]string, 0, len(it.Store.funcs))
	for n := range it.Store.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
