package interp

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vshlang/vsh/expand"
	"github.com/vshlang/vsh/pattern"
	"github.com/vshlang/vsh/registry"
	"github.com/vshlang/vsh/syntax"
	"github.com/vshlang/vsh/vfs"
)

// runStmts executes stmts in order against the interpreter's live
// state, matching the sequential, single-threaded execution model:
// no statement begins until the previous one (and any pipeline or
// function call it triggers) has fully completed.
func (it *Interpreter) runStmts(ctx context.Context, stmts []*syntax.Stmt) error {
	for _, st := range stmts {
		if err := it.runStmt(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (it *Interpreter) runStmt(ctx context.Context, st *syntax.Stmt) error {
	if st.Background {
		// Background jobs are a synchronous stub: run to completion
		// now and remember a fabricated pid for $!.
		err := it.runForeground(ctx, st)
		it.Store.setString("!", "1")
		if err != nil {
			if isNonCatchable(err) {
				return err
			}
		}
		return nil
	}
	return it.runForeground(ctx, st)
}

func (it *Interpreter) runForeground(ctx context.Context, st *syntax.Stmt) error {
	if list, ok := st.Cmd.(*syntax.AndOrList); ok {
		return it.runAndOr(ctx, list)
	}
	_, _, code, err := it.runPipelineStmt(ctx, st, "")
	it.afterStatement(code)
	if _, negated := flattenPipeline(st); negated {
		return err
	}
	return it.checkErrexit(err, code)
}

// runAndOr walks a flattened &&/|| chain, short-circuiting and
// suppressing errexit on every link but the last.
func (it *Interpreter) runAndOr(ctx context.Context, list *syntax.AndOrList) error {
	var lastErr error
	for i, link := range list.Stmts {
		wasCond := it.inCondition
		if i < len(list.Stmts)-1 {
			it.inCondition = true
		}
		_, _, code, err := it.runPipelineStmt(ctx, link, "")
		it.inCondition = wasCond
		it.afterStatement(code)
		if err != nil && isNonCatchable(err) {
			return err
		}
		lastErr = err
		if i == len(list.Stmts)-1 {
			break
		}
		op := list.Ops[i]
		if op == syntax.AndOp && code != 0 {
			return nil
		}
		if op == syntax.OrOp && code == 0 {
			return nil
		}
	}
	return it.checkErrexit(lastErr, it.lastExit)
}

func (it *Interpreter) afterStatement(code int) {
	it.lastExit = code
	it.Store.setString("?", strconv.Itoa(code))
}

// checkErrexit turns a plain nonzero exit into an ErrexitError when
// set -e is active and nothing in the calling context (a condition,
// a negation, a non-final link of an and/or chain) suppresses it.
func (it *Interpreter) checkErrexit(err error, code int) error {
	if err != nil {
		return err
	}
	if code != 0 && it.Options.Errexit && !it.inCondition {
		return ErrexitError{Code: code}
	}
	return nil
}

func isNonCatchable(err error) bool {
	switch err.(type) {
	case ExecutionLimitError:
		return true
	}
	return false
}

// runPipelineStmt executes one pipeline (possibly a single command,
// possibly a chain of BinaryCmd pipe links), honoring Negated and
// pipefail, and returns its captured stdout/stderr and exit code.
func (it *Interpreter) runPipelineStmt(ctx context.Context, st *syntax.Stmt, stdin string) (stdout, stderr string, code int, err error) {
	stmts, negated := flattenPipeline(st)
	var statuses []int
	curStdin := stdin
	var out, errOut string
	for i, link := range stmts {
		mergeErr := link.mergeStderr
		o, e, c, runErr := it.runOneCommand(ctx, link.stmt, curStdin)
		if runErr != nil && isNonCatchable(runErr) {
			return out, errOut, c, runErr
		}
		if runErr != nil {
			err = runErr
		}
		statuses = append(statuses, c)
		out, errOut = o, e
		if mergeErr {
			curStdin = o + e
		} else {
			curStdin = o
		}
		if i == len(stmts)-1 {
			it.stdout.WriteString(o)
			it.stderr.WriteString(e)
		}
	}
	code = statuses[len(statuses)-1]
	if it.Options.Pipefail {
		for _, c := range statuses {
			if c != 0 {
				code = c
			}
		}
	}
	it.setPipestatus(statuses)
	if negated {
		if code == 0 {
			code = 1
		} else {
			code = 0
		}
	}
	return out, errOut, code, err
}

func (it *Interpreter) setPipestatus(statuses []int) {
	strs := make([]string, len(statuses))
	for i, c := range statuses {
		strs[i] = strconv.Itoa(c)
	}
	it.Store.setIndexed("PIPESTATUS", strs)
}

type pipeLink struct {
	stmt        *syntax.Stmt
	mergeStderr bool // true if this stage's stdout+stderr feed the next stage (|&)
}

// flattenPipeline unwraps a left-nested chain of BinaryCmd pipe nodes
// into an ordered slice, along with whether the whole pipeline was
// negated with a leading `!`.
func flattenPipeline(st *syntax.Stmt) ([]pipeLink, bool) {
	bc, ok := st.Cmd.(*syntax.BinaryCmd)
	if !ok {
		return []pipeLink{{stmt: st}}, st.Negated
	}
	left, negated := flattenPipeline(bc.X)
	if len(left) > 0 {
		left[len(left)-1].mergeStderr = bc.Op == syntax.PipeAll
	}
	right := pipeLink{stmt: bc.Y}
	return append(left, right), negated
}

// runOneCommand applies one statement's assignments and redirections
// and dispatches its command node, returning captured stdout/stderr
// and an exit code. stdin is the string fed to this stage (from the
// previous pipeline stage, or "" at the head of a pipeline).
func (it *Interpreter) runOneCommand(ctx context.Context, st *syntax.Stmt, stdin string) (stdout, stderr string, code int, err error) {
	it.commandCount++
	if it.Limits.MaxCommandCount > 0 && it.commandCount > it.Limits.MaxCommandCount {
		return "", "", 1, ExecutionLimitError{Msg: "command count limit exceeded"}
	}

	ec := it.expandConfig()

	// Evaluate redirection input overrides first; heredocs and <file
	// take priority over the pipeline's own stdin feed, matching the
	// interpreter contract's "input redirections are evaluated first."
	effectiveStdin := stdin
	var outTargets []redirTarget
	var mergeStdoutStderr bool
	for _, rd := range st.Redirs {
		switch rd.Op {
		case syntax.RedirLess:
			path, e := ec.Literal(ctx, rd.Word)
			if e != nil {
				return "", "", 1, e
			}
			content, e := it.FS.ReadFile(ctx, it.resolve(path))
			if e != nil {
				return "", "", 1, fmt.Errorf("%s: No such file or directory", path)
			}
			effectiveStdin = content
		case syntax.RedirHeredoc, syntax.RedirHeredocTabs:
			body := ""
			if rd.Heredoc != nil {
				if rd.HeredocQuoted {
					body, _ = rd.Heredoc.Lit()
				} else {
					body, err = ec.Literal(ctx, rd.Heredoc)
					if err != nil {
						return "", "", 1, err
					}
				}
			}
			if rd.Op == syntax.RedirHeredocTabs {
				body = stripLeadingTabs(body)
			}
			effectiveStdin = body
		case syntax.RedirHerestring:
			s, e := ec.Literal(ctx, rd.Word)
			if e != nil {
				return "", "", 1, e
			}
			effectiveStdin = s + "\n"
		case syntax.RedirGreat, syntax.RedirClobber, syntax.RedirAppend, syntax.RedirRdrAll, syntax.RedirAppAll:
			path, e := ec.Literal(ctx, rd.Word)
			if e != nil {
				return "", "", 1, e
			}
			fd := 1
			if rd.N != nil {
				fd = *rd.N
			}
			outTargets = append(outTargets, redirTarget{
				fd:     fd,
				path:   it.resolve(path),
				append: rd.Op == syntax.RedirAppend || rd.Op == syntax.RedirAppAll,
				clobberOK: rd.Op == syntax.RedirClobber,
				all:    rd.Op == syntax.RedirRdrAll || rd.Op == syntax.RedirAppAll,
			})
		case syntax.RedirDupOut:
			target, e := ec.Literal(ctx, rd.Word)
			if e != nil {
				return "", "", 1, e
			}
			fd := 1
			if rd.N != nil {
				fd = *rd.N
			}
			if fd == 2 && target == "1" {
				mergeStdoutStderr = true
			}
			if fd == 1 && target == "2" {
				// stdout duplicated onto stderr; handled at capture time below.
				outTargets = append(outTargets, redirTarget{fd: 1, dupToStderr: true})
			}
		}
	}

	var o, e string
	var c int
	switch cmd := st.Cmd.(type) {
	case *syntax.CallExpr:
		o, e, c, err = it.runCallExpr(ctx, st, cmd, effectiveStdin)
	default:
		o, e, c, err = it.runCompound(ctx, st, effectiveStdin)
	}
	if mergeStdoutStderr {
		o, e = o+e, ""
	}
	for _, t := range outTargets {
		if t.dupToStderr {
			e, o = e+o, ""
			continue
		}
		content := o
		if t.fd == 2 {
			content = e
		}
		if t.all {
			content = o + e
		}
		if !t.append && !t.clobberOK && it.Options.NoClobber {
			if exists, _ := it.FS.Exists(ctx, t.path); exists {
				if isDir, _ := it.FS.IsDir(ctx, t.path); !isDir {
					return o, e, 1, fmt.Errorf("%s: cannot overwrite existing file", t.path)
				}
			}
		}
		if werr := it.FS.WriteFile(ctx, t.path, []byte(content), t.append); werr != nil {
			return o, e, 1, werr
		}
		if t.fd == 1 {
			o = ""
		} else if t.fd == 2 {
			e = ""
		}
	}
	return o, e, c, err
}

type redirTarget struct {
	fd          int
	path        string
	append      bool
	clobberOK   bool
	all         bool
	dupToStderr bool
}

func stripLeadingTabs(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimLeft(l, "\t")
	}
	return strings.Join(lines, "\n")
}

func (it *Interpreter) resolve(path string) string {
	return vfs.ResolvePath(it.Cwd, path)
}

// runCallExpr applies assignments and, for a bare assignment with no
// command words, makes them permanent; otherwise it resolves and runs
// the command name through the resolution chain: functions, builtins,
// the registry, then a VFS PATH search.
func (it *Interpreter) runCallExpr(ctx context.Context, st *syntax.Stmt, call *syntax.CallExpr, stdin string) (string, string, int, error) {
	ec := it.expandConfig()

	if len(call.Args) == 0 {
		if err := it.applyAssigns(ctx, st.Assigns, true); err != nil {
			return "", "", 1, err
		}
		return "", "", it.lastExpandExitOr0(), nil
	}

	// Temp assignments (NAME=val cmd args...) are visible only to this
	// invocation; restore afterward unless the command resolves to
	// nothing runnable, in which case they become permanent.
	var saved []savedTemp
	for _, as := range st.Assigns {
		old, existed := it.Store.vars[as.Name]
		saved = append(saved, savedTemp{name: as.Name, existed: existed, vr: old})
	}
	if err := it.applyAssigns(ctx, st.Assigns, true); err != nil {
		return "", "", 1, err
	}
	restoreTemps := func() {
		for _, s := range saved {
			if s.existed {
				it.Store.vars[s.name] = s.vr
			} else {
				delete(it.Store.vars, s.name)
			}
		}
	}

	words, err := ec.Fields(ctx, call.Args...)
	if err != nil {
		restoreTemps()
		return "", "", 1, err
	}
	if len(words) == 0 {
		return "", "", it.lastExpandExitOr0(), nil
	}
	name := words[0]
	args := words[1:]
	it.Store.setString("_", name)

	defer func() {
		if len(saved) > 0 {
			restoreTemps()
		}
	}()

	if fd, ok := it.Store.GetFunc(name); ok {
		out, errOut, code, ferr := it.callFunction(ctx, fd, args, stdin)
		return out, errOut, code, ferr
	}

	if b, ok := builtins[name]; ok {
		return b(ctx, it, args, stdin)
	}

	if cmd, ok := it.Commands.LookupOrUnknown(name); ok {
		out, rerr := cmd(ctx, args, it.registryContext(stdin))
		if rerr != nil {
			return out.Stdout, out.Stderr, out.ExitCode, rerr
		}
		return out.Stdout, out.Stderr, out.ExitCode, nil
	}

	out, errOut, code, perr := it.runPathScript(ctx, name, args, stdin)
	if perr != nil {
		switch perr.(type) {
		case CommandNotFoundError, PermissionDeniedError:
			return out, errOut, code, nil
		}
		return out, errOut, code, perr
	}
	return out, errOut, code, nil
}

type savedTemp struct {
	name    string
	existed bool
	vr      expand.Variable
}

func (it *Interpreter) lastExpandExitOr0() int { return 0 }

func (it *Interpreter) registryContext(stdin string) *registry.Context {
	env := map[string]string{}
	it.Store.Each(func(name string, vr expand.Variable) bool {
		if vr.Exported {
			env[name] = vr.String()
		}
		return true
	})
	return &registry.Context{
		FS:    it.FS,
		Cwd:   it.Cwd,
		Env:   env,
		Stdin: stdin,
		Exec: func(ctx context.Context, script string, env map[string]string, cwd string) (registry.Result, error) {
			sub := it.subshellClone()
			if cwd != "" {
				sub.Cwd = cwd
			}
			for k, v := range env {
				sub.Store.setExported(k, v)
			}
			res, err := sub.Run(ctx, script)
			return registry.Result{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}, err
		},
		Registered: it.Commands.Names,
	}
}

// runPathScript searches PATH (or treats a slash-containing name as a
// direct path) for a regular, executable file and interprets it as a
// nested script, stripping a leading shebang line if present.
func (it *Interpreter) runPathScript(ctx context.Context, name string, args []string, stdin string) (string, string, int, error) {
	var candidates []string
	if strings.Contains(name, "/") {
		candidates = []string{it.resolve(name)}
	} else {
		pathVar := it.Store.getString("PATH")
		if pathVar == "" {
			pathVar = "/bin:/usr/bin"
		}
		for _, dir := range strings.Split(pathVar, ":") {
			if dir == "" {
				dir = "."
			}
			candidates = append(candidates, vfs.ResolvePath(it.Cwd, dir+"/"+name))
		}
	}
	for _, path := range candidates {
		info, err := it.FS.Stat(ctx, path)
		if err != nil || info.IsDir {
			continue
		}
		if info.Mode&0o111 == 0 {
			return "", "", 126, PermissionDeniedError{Name: name}
		}
		content, err := it.FS.ReadFile(ctx, path)
		if err != nil {
			continue
		}
		content = stripShebang(content)
		sub := it.subshellClone()
		sub.Store.setString("0", name)
		sub.Store.setIndexed("@", args)
		sub.Store.setString("#", strconv.Itoa(len(args)))
		res, err := sub.Run(ctx, content)
		return res.Stdout, res.Stderr, res.ExitCode, err
	}
	return "", fmt.Sprintf("bash: %s: command not found\n", name), 127, CommandNotFoundError{Name: name}
}

func stripShebang(content string) string {
	if strings.HasPrefix(content, "#!") {
		if i := strings.IndexByte(content, '\n'); i >= 0 {
			return content[i+1:]
		}
		return ""
	}
	return content
}

// callFunction saves and restores positional parameters and FUNCNAME,
// pushes a local-variable scope, and catches ReturnError at the
// function boundary.
func (it *Interpreter) callFunction(ctx context.Context, fd *syntax.FuncDecl, args []string, stdin string) (string, string, int, error) {
	it.callDepth++
	if it.Limits.MaxCallDepth > 0 && it.callDepth > it.Limits.MaxCallDepth {
		it.callDepth--
		return "", "", 1, ExecutionLimitError{Msg: "call depth limit exceeded"}
	}
	defer func() { it.callDepth-- }()

	oldPos := it.Store.Get("@")
	oldHash := it.Store.Get("#")
	it.Store.setIndexed("@", args)
	it.Store.setString("#", strconv.Itoa(len(args)))
	it.funcNameStack = append(it.funcNameStack, fd.Name)
	funcnames := make([]string, len(it.funcNameStack))
	for i, n := range it.funcNameStack {
		funcnames[len(funcnames)-1-i] = n
	}
	it.Store.setIndexed("FUNCNAME", funcnames)

	it.Store.PushScope()
	oldStdout, oldStderr := it.stdout.String(), it.stderr.String()
	it.stdout.Reset()
	it.stderr.Reset()

	err := it.runStmts(ctx, fd.Body.Stmts)
	code := it.lastExit
	out, errOut := it.stdout.String(), it.stderr.String()

	it.stdout.Reset()
	it.stdout.WriteString(oldStdout)
	it.stderr.Reset()
	it.stderr.WriteString(oldStderr)

	it.Store.PopScope()
	it.funcNameStack = it.funcNameStack[:len(it.funcNameStack)-1]
	it.Store.SetForce("@", oldPos)
	it.Store.SetForce("#", oldHash)
	funcnames2 := make([]string, len(it.funcNameStack))
	for i, n := range it.funcNameStack {
		funcnames2[len(funcnames2)-1-i] = n
	}
	it.Store.setIndexed("FUNCNAME", funcnames2)

	if ret, ok := err.(ReturnError); ok {
		return out, errOut, ret.Code, nil
	}
	if err != nil {
		return out, errOut, code, err
	}
	return out, errOut, code, nil
}

// subshellClone deep-clones interpreter state for a `( ... )` group or
// a command substitution: variables, functions, options, cwd, and
// directory stack are copied so the subshell cannot mutate its
// parent's state, matching the subshell-isolation invariant.
func (it *Interpreter) subshellClone() *Interpreter {
	sub := &Interpreter{
		FS:            it.FS,
		Commands:      it.Commands,
		Store:         NewStore(),
		Cwd:           it.Cwd,
		Options:       it.Options,
		Limits:        it.Limits,
		dirStack:      append([]string{}, it.dirStack...),
		prevDir:       it.prevDir,
		parentHasLoop: it.parentHasLoop || it.loopDepth > 0,
		unescapeHTML:  it.unescapeHTML,
	}
	it.Store.Each(func(name string, vr expand.Variable) bool {
		sub.Store.vars[name] = vr
		return true
	})
	for name, fd := range it.Store.funcs {
		sub.Store.funcs[name] = fd
	}
	return sub
}

// runCompound dispatches every non-CallExpr command node.
func (it *Interpreter) runCompound(ctx context.Context, st *syntax.Stmt, stdin string) (string, string, int, error) {
	switch cmd := st.Cmd.(type) {
	case *syntax.Block:
		return it.runGroup(ctx, cmd.Stmts)
	case *syntax.Subshell:
		return it.runSubshell(ctx, cmd.Stmts)
	case *syntax.IfClause:
		return it.runIf(ctx, cmd)
	case *syntax.WhileClause:
		return it.runWhile(ctx, cmd)
	case *syntax.ForClause:
		return it.runFor(ctx, cmd)
	case *syntax.CaseClause:
		return it.runCase(ctx, cmd)
	case *syntax.FuncDecl:
		it.Store.SetFunc(cmd.Name, cmd)
		return "", "", 0, nil
	case *syntax.ArithmCmd:
		return it.runArithmCmd(ctx, cmd)
	case *syntax.TestClause:
		return it.runTestClause(ctx, cmd)
	case *syntax.DeclClause:
		return it.runDeclClause(ctx, cmd, stdin)
	case *syntax.BinaryCmd:
		// A nested pipeline reached here only via subshell grouping
		// parens around `(a | b)`; flatten and run it directly.
		return it.runPipelineStmt(ctx, &syntax.Stmt{Cmd: cmd}, stdin)
	default:
		return "", "", 0, fmt.Errorf("interp: unsupported command node %T", cmd)
	}
}

func (it *Interpreter) withCaptured(ctx context.Context, stmts []*syntax.Stmt) (string, string, int, error) {
	oldOut, oldErr := it.stdout.String(), it.stderr.String()
	it.stdout.Reset()
	it.stderr.Reset()
	err := it.runStmts(ctx, stmts)
	out, errOut := it.stdout.String(), it.stderr.String()
	it.stdout.Reset()
	it.stdout.WriteString(oldOut)
	it.stderr.Reset()
	it.stderr.WriteString(oldErr)
	return out, errOut, it.lastExit, err
}

func (it *Interpreter) runGroup(ctx context.Context, stmts []*syntax.Stmt) (string, string, int, error) {
	return it.withCaptured(ctx, stmts)
}

func (it *Interpreter) runSubshell(ctx context.Context, stmts []*syntax.Stmt) (string, string, int, error) {
	sub := it.subshellClone()
	err := sub.runStmts(ctx, stmts)
	code := sub.lastExit
	switch v := err.(type) {
	case ExitError:
		code = v.Code
		err = nil
	case ReturnError:
		code = v.Code
		err = nil
	case ErrexitError:
		code = v.Code
		err = nil
	}
	return sub.stdout.String(), sub.stderr.String(), code, err
}

func (it *Interpreter) runIf(ctx context.Context, cmd *syntax.IfClause) (string, string, int, error) {
	var out, errOut strings.Builder
	wasCond := it.inCondition
	it.inCondition = true
	_, _, code, err := it.withCapturedInto(ctx, cmd.Cond, &out, &errOut)
	it.inCondition = wasCond
	if err != nil && isNonCatchable(err) {
		return out.String(), errOut.String(), code, err
	}
	if code == 0 {
		o, e, c, ferr := it.withCapturedInto(ctx, cmd.Then, &out, &errOut)
		return o, e, c, ferr
	}
	if cmd.Else != nil {
		if cmd.Else.Cond != nil {
			return it.runIfInto(ctx, cmd.Else, &out, &errOut)
		}
		return it.withCapturedInto(ctx, cmd.Else.Then, &out, &errOut)
	}
	return out.String(), errOut.String(), 0, nil
}

func (it *Interpreter) runIfInto(ctx context.Context, cmd *syntax.IfClause, out, errOut *strings.Builder) (string, string, int, error) {
	o, e, c, err := it.runIf(ctx, cmd)
	out.WriteString(o)
	errOut.WriteString(e)
	return out.String(), errOut.String(), c, err
}

// withCapturedInto runs stmts, appending their output onto the
// caller-supplied builders so multi-clause compounds (if/elif/else)
// accumulate output across clauses instead of only returning the
// final clause's share.
func (it *Interpreter) withCapturedInto(ctx context.Context, stmts []*syntax.Stmt, out, errOut *strings.Builder) (string, string, int, error) {
	o, e, c, err := it.withCaptured(ctx, stmts)
	out.WriteString(o)
	errOut.WriteString(e)
	return out.String(), errOut.String(), c, err
}

func (it *Interpreter) runWhile(ctx context.Context, cmd *syntax.WhileClause) (string, string, int, error) {
	var out, errOut strings.Builder
	it.loopDepth++
	defer func() { it.loopDepth-- }()
	iterations := 0
	for {
		iterations++
		if it.Limits.MaxLoopIterations > 0 && iterations > it.Limits.MaxLoopIterations {
			return out.String(), errOut.String(), 1, ExecutionLimitError{Msg: "loop iteration limit exceeded"}
		}
		wasCond := it.inCondition
		it.inCondition = true
		_, _, code, err := it.withCapturedInto(ctx, cmd.Cond, &out, &errOut)
		it.inCondition = wasCond
		if err != nil {
			return out.String(), errOut.String(), code, err
		}
		truthy := code == 0
		if cmd.Until {
			truthy = code != 0
		}
		if !truthy {
			break
		}
		_, _, code, err = it.withCapturedInto(ctx, cmd.Do, &out, &errOut)
		if brErr, ok := err.(BreakError); ok {
			if brErr.Levels > 1 {
				return out.String(), errOut.String(), code, BreakError{Levels: brErr.Levels - 1}
			}
			break
		}
		if coErr, ok := err.(ContinueError); ok {
			if coErr.Levels > 1 {
				return out.String(), errOut.String(), code, ContinueError{Levels: coErr.Levels - 1}
			}
			continue
		}
		if err != nil {
			return out.String(), errOut.String(), code, err
		}
	}
	return out.String(), errOut.String(), 0, nil
}

func (it *Interpreter) runFor(ctx context.Context, cmd *syntax.ForClause) (string, string, int, error) {
	var out, errOut strings.Builder
	it.loopDepth++
	defer func() { it.loopDepth-- }()

	switch loop := cmd.Loop.(type) {
	case *syntax.WordIter:
		ec := it.expandConfig()
		var items []string
		if loop.Items == nil {
			items, _ = arrayStrings(it.Store.Get("@"))
		} else {
			var err error
			items, err = ec.Fields(ctx, loop.Items...)
			if err != nil {
				return out.String(), errOut.String(), 1, err
			}
		}
		iterations := 0
		for _, v := range items {
			iterations++
			if it.Limits.MaxLoopIterations > 0 && iterations > it.Limits.MaxLoopIterations {
				return out.String(), errOut.String(), 1, ExecutionLimitError{Msg: "loop iteration limit exceeded"}
			}
			if err := it.Store.Set(loop.Name, expand.Variable{Set: true, Kind: expand.String, Str: v}); err != nil {
				return out.String(), errOut.String(), 1, err
			}
			_, _, code, err := it.withCapturedInto(ctx, cmd.Do, &out, &errOut)
			if brErr, ok := err.(BreakError); ok {
				if brErr.Levels > 1 {
					return out.String(), errOut.String(), code, BreakError{Levels: brErr.Levels - 1}
				}
				return out.String(), errOut.String(), 0, nil
			}
			if coErr, ok := err.(ContinueError); ok {
				if coErr.Levels > 1 {
					return out.String(), errOut.String(), code, ContinueError{Levels: coErr.Levels - 1}
				}
				continue
			}
			if err != nil {
				return out.String(), errOut.String(), code, err
			}
		}
		return out.String(), errOut.String(), 0, nil

	case *syntax.CStyleLoop:
		ec := it.expandConfig()
		if loop.Init != nil {
			if _, err := ec.Arithm(ctx, loop.Init); err != nil {
				return out.String(), errOut.String(), 1, err
			}
		}
		iterations := 0
		for {
			if loop.Cond != nil {
				n, err := ec.Arithm(ctx, loop.Cond)
				if err != nil {
					return out.String(), errOut.String(), 1, err
				}
				if n == 0 {
					break
				}
			}
			iterations++
			if it.Limits.MaxLoopIterations > 0 && iterations > it.Limits.MaxLoopIterations {
				return out.String(), errOut.String(), 1, ExecutionLimitError{Msg: "loop iteration limit exceeded"}
			}
			_, _, code, err := it.withCapturedInto(ctx, cmd.Do, &out, &errOut)
			brk := false
			if brErr, ok := err.(BreakError); ok {
				if brErr.Levels > 1 {
					return out.String(), errOut.String(), code, BreakError{Levels: brErr.Levels - 1}
				}
				brk = true
			} else if coErr, ok := err.(ContinueError); ok {
				if coErr.Levels > 1 {
					return out.String(), errOut.String(), code, ContinueError{Levels: coErr.Levels - 1}
				}
			} else if err != nil {
				return out.String(), errOut.String(), code, err
			}
			if brk {
				break
			}
			if loop.Post != nil {
				if _, err := ec.Arithm(ctx, loop.Post); err != nil {
					return out.String(), errOut.String(), 1, err
				}
			}
		}
		return out.String(), errOut.String(), 0, nil
	}
	return "", "", 0, fmt.Errorf("interp: unsupported for-loop form")
}

func arrayStrings(vr expand.Variable) ([]string, bool) {
	switch vr.Kind {
	case expand.Indexed:
		return vr.List, true
	case expand.String:
		if vr.Str == "" {
			return nil, true
		}
		return []string{vr.Str}, true
	}
	return nil, false
}

func (it *Interpreter) runCase(ctx context.Context, cmd *syntax.CaseClause) (string, string, int, error) {
	var out, errOut strings.Builder
	ec := it.expandConfig()
	subject, err := ec.Literal(ctx, cmd.Word)
	if err != nil {
		return "", "", 1, err
	}
	matched := false
	fallingThrough := false
	for _, item := range cmd.Items {
		run := fallingThrough
		if !run {
			for _, patWord := range item.Patterns {
				pat, perr := ec.Pattern(ctx, patWord)
				if perr != nil {
					return out.String(), errOut.String(), 1, perr
				}
				ok, merr := pattern.Match(pat, subject, patternMode(it.Options))
				if merr != nil {
					return out.String(), errOut.String(), 1, merr
				}
				if ok {
					run = true
					break
				}
			}
		}
		if !run {
			continue
		}
		matched = true
		_, _, code, err := it.withCapturedInto(ctx, item.Stmts, &out, &errOut)
		if err != nil {
			return out.String(), errOut.String(), code, err
		}
		switch item.Op {
		case syntax.CaseBreak:
			return out.String(), errOut.String(), code, nil
		case syntax.CaseFallthru:
			fallingThrough = true
		case syntax.CaseResume:
			fallingThrough = false
		}
	}
	if !matched {
		return out.String(), errOut.String(), 0, nil
	}
	return out.String(), errOut.String(), 0, nil
}

func patternMode(opt Options) pattern.Mode {
	var m pattern.Mode
	if opt.NoCaseMatch {
		m |= pattern.NoGlobCase
	}
	if !opt.GlobStar {
		m |= pattern.NoGlobStar
	}
	return m
}

func (it *Interpreter) runArithmCmd(ctx context.Context, cmd *syntax.ArithmCmd) (string, string, int, error) {
	ec := it.expandConfig()
	n, err := ec.Arithm(ctx, cmd.X)
	if err != nil {
		return "", fmt.Sprintf("bash: ((: %v\n", err), 1, nil
	}
	if n == 0 {
		return "", "", 1, nil
	}
	return "", "", 0, nil
}

// applyAssigns expands and installs st.Assigns. permanent controls
// only whether allexport marks the assigned names exported.
func (it *Interpreter) applyAssigns(ctx context.Context, assigns []*syntax.Assign, permanent bool) error {
	ec := it.expandConfig()
	for _, as := range assigns {
		if err := it.applyOneAssign(ctx, ec, as); err != nil {
			return err
		}
	}
	if it.Options.AllExport && permanent {
		for _, as := range assigns {
			if vr, ok := it.Store.vars[as.Name]; ok {
				vr.Exported = true
				it.Store.vars[as.Name] = vr
			}
		}
	}
	return nil
}

func (it *Interpreter) applyOneAssign(ctx context.Context, ec *expand.Config, as *syntax.Assign) error {
	if as.Array != nil {
		return it.applyArrayAssign(ctx, ec, as)
	}
	val, err := ec.Literal(ctx, as.Value)
	if err != nil {
		return err
	}
	old := it.Store.Get(as.Name)
	if as.Append {
		switch old.Kind {
		case expand.Indexed:
			old.List = append(append([]string{}, old.List...), val)
			return it.Store.Set(as.Name, old)
		default:
			val = old.String() + val
		}
	}
	if old.Integer && !as.Append {
		n, err := ec.Arithm(ctx, &syntax.ArithmWord{X: as.Value})
		if err != nil {
			return err
		}
		val = strconv.FormatInt(n, 10)
	}
	nv := applyNumericAttrs(old, val)
	return it.Store.Set(as.Name, nv)
}

func applyNumericAttrs(old expand.Variable, val string) expand.Variable {
	nv := expand.Variable{Set: true, Kind: expand.String, Str: val,
		Exported: old.Exported, ReadOnly: old.ReadOnly, Integer: old.Integer,
		Lower: old.Lower, Upper: old.Upper}
	if nv.Lower {
		nv.Str = strings.ToLower(nv.Str)
	}
	if nv.Upper {
		nv.Str = strings.ToUpper(nv.Str)
	}
	return nv
}

func (it *Interpreter) applyArrayAssign(ctx context.Context, ec *expand.Config, as *syntax.Assign) error {
	hasKeys := false
	for _, el := range as.Array {
		if el.Index != nil {
			hasKeys = true
			break
		}
	}
	if hasKeys {
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
		return it.Store.Set(as.Name, expand.Variable{Set: true, Kind: expand.Associative, Map: m})
	}
	var list []string
	for _, el := range as.Array {
		vals, err := ec.Fields(ctx, el.Value)
		if err != nil {
			return err
		}
		list = append(list, vals...)
	}
	if as.Append {
		if old := it.Store.Get(as.Name); old.Kind == expand.Indexed {
			list = append(append([]string{}, old.List...), list...)
		}
	}
	return it.Store.Set(as.Name, expand.Variable{Set: true, Kind: expand.Indexed, List: list})
}

// sortedKeys returns the keys of m in sorted order. Nothing in the
// package calls it at present.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
