// Package interp implements a tree-walking interpreter for the
// embedded Bash dialect described by the syntax package: it drives
// statements, pipelines, and compound commands against an in-memory
// virtual filesystem and a pluggable command registry, never
// spawning a real operating-system process.
package interp

import (
	"context"
	"errors"
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

// Options holds the boolean shell options `set`/`shopt` toggle.
type Options struct {
	Errexit       bool
	Pipefail      bool
	Nounset       bool
	NoGlob        bool
	NoClobber     bool
	AllExport     bool
	NoBraceExpand bool
	Xtrace        bool
	Verbose       bool

	GlobStar      bool
	NullGlob      bool
	FailGlob      bool
	NoCaseMatch   bool
	DotGlob       bool
	ExpandAliases bool
}

// Limits bounds runaway scripts; exceeding any of them raises a
// non-catchable ExecutionLimitError.
type Limits struct {
	MaxCommandCount   int
	MaxLoopIterations int
	MaxCallDepth      int
}

// DefaultLimits is generous enough for ordinary scripts while still
// bounding pathological ones (infinite loops, runaway recursion).
var DefaultLimits = Limits{MaxCommandCount: 200000, MaxLoopIterations: 100000, MaxCallDepth: 200}

// Config configures a new Interpreter.
type Config struct {
	FS           vfs.FS
	InitialFiles *vfs.Manifest
	Cwd          string
	Env          map[string]string
	Limits       Limits
	Commands     *registry.Registry
	Options      Options
	UnescapeHTML bool
}

// Result is the outcome of running a script: captured output, the
// final exit code, and a snapshot of the resulting environment.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Env      map[string]string
}

// Interpreter owns all runtime state for one sandboxed shell: the
// variable store, the filesystem handle, the command registry, and
// the bookkeeping (cwd, dir stack, loop/call depth, option flags)
// that the interpreter's execution methods read and mutate.
type Interpreter struct {
	FS       vfs.FS
	Commands *registry.Registry
	Store    *Store
	Cwd      string
	Options  Options
	Limits   Limits

	dirStack []string
	prevDir  string

	loopDepth      int
	callDepth      int
	sourceDepth    int
	commandCount   int
	inCondition    bool
	funcNameStack  []string
	posStack       [][]string
	parentHasLoop  bool

	lastExit int

	stdout strings.Builder
	stderr strings.Builder

	unescapeHTML bool
}

// New constructs an Interpreter from cfg, seeding the virtual
// filesystem from cfg.InitialFiles and the variable store from
// cfg.Env, plus the ambient bookkeeping variables ($?, $$, IFS, PWD)
// a freshly started shell carries.
func New(ctx context.Context, cfg Config) (*Interpreter, error) {
	fs := cfg.FS
	if fs == nil {
		fs = vfs.NewMemFS()
	}
	if cfg.InitialFiles != nil {
		if err := cfg.InitialFiles.Apply(ctx, fs); err != nil {
			return nil, fmt.Errorf("interp: applying initial files: %w", err)
		}
	}
	cmds := cfg.Commands
	if cmds == nil {
		cmds = registry.NewDefault()
	}
	limits := cfg.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits
	}
	cwd := cfg.Cwd
	if cwd == "" {
		cwd = "/"
	}

	it := &Interpreter{
		FS:           fs,
		Commands:     cmds,
		Store:        NewStore(),
		Cwd:          cwd,
		Options:      cfg.Options,
		Limits:       limits,
		unescapeHTML: cfg.UnescapeHTML,
	}

	names := make([]string, 0, len(cfg.Env))
	for name := range cfg.Env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		it.Store.setExported(name, cfg.Env[name])
	}
	if _, ok := cfg.Env["IFS"]; !ok {
		it.Store.setString("IFS", " \t\n")
	}
	it.Store.setExported("PWD", cwd)
	it.Store.setString("OLDPWD", "")
	it.Store.setString("?", "0")
	it.Store.setString("$", "1")
	it.Store.setString("-", "")
	it.Store.setIndexed("@", nil)
	it.Store.setString("#", "0")
	it.Store.setString("0", "vsh")
	it.Store.setIndexed("FUNCNAME", nil)
	it.Store.setIndexed("PIPESTATUS", []string{"0"})
	it.Store.setString("SECONDS", "0")
	return it, nil
}

// Run parses and executes script against the interpreter's live
// state: variables, functions, and cwd set by one Run call are
// visible to the next, matching a persistent interactive-ish session
// rather than a one-shot process.
func (it *Interpreter) Run(ctx context.Context, script string) (Result, error) {
	file, err := syntax.Parse(script, syntax.DefaultLimits)
	if err != nil {
		it.lastExit = 2
		it.Store.setString("?", "2")
		return it.result(), err
	}
	err = it.runStmts(ctx, file.Stmts)
	code := it.lastExit
	switch e := unwrapControl(err); v := e.(type) {
	case nil:
	case ExitError:
		code = v.Code
		err = nil
	case ReturnError:
		code = v.Code
		err = nil
	case ErrexitError:
		code = v.Code
		err = nil
	case BreakError, ContinueError:
		err = nil
	}
	it.lastExit = code
	it.Store.setString("?", strconv.Itoa(code))
	res := it.result()
	res.ExitCode = code
	return res, err
}

func unwrapControl(err error) error {
	if err == nil {
		return nil
	}
	var ex ExitError
	var ret ReturnError
	var ee ErrexitError
	var br BreakError
	var co ContinueError
	switch {
	case errors.As(err, &ex):
		return ex
	case errors.As(err, &ret):
		return ret
	case errors.As(err, &ee):
		return ee
	case errors.As(err, &br):
		return br
	case errors.As(err, &co):
		return co
	}
	return err
}

func (it *Interpreter) result() Result {
	env := map[string]string{}
	it.Store.Each(func(name string, vr expand.Variable) bool {
		if vr.Exported {
			env[name] = vr.String()
		}
		return true
	})
	return Result{Stdout: it.stdout.String(), Stderr: it.stderr.String(), ExitCode: it.lastExit, Env: env}
}

// Reset restores the interpreter to a freshly constructed state,
// keeping the same filesystem and registry but clearing variables,
// functions, and captured output.
func (it *Interpreter) Reset(ctx context.Context, cfg Config) error {
	fresh, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	fresh.FS = it.FS
	fresh.Commands = it.Commands
	*it = *fresh
	return nil
}

// expandConfig builds an expand.Config bound to this interpreter's
// live state: variable store, filesystem, cwd, shell options, and
// the CmdSubst callback that runs a nested statement list through a
// cloned subshell.
func (it *Interpreter) expandConfig() *expand.Config {
	return &expand.Config{
		Env:         it.Store,
		FS:          it.FS,
		Cwd:         it.Cwd,
		NoUnset:     it.Options.Nounset,
		NoGlob:      it.Options.NoGlob,
		GlobStar:    it.Options.GlobStar,
		NullGlob:    it.Options.NullGlob,
		FailGlob:    it.Options.FailGlob,
		NoCaseGlob:  it.Options.NoCaseMatch,
		CmdSubst:    it.cmdSubst,
		HomeDir:     it.homeDir,
	}
}

func (it *Interpreter) homeDir(user string) string {
	switch user {
	case "":
		return it.Store.getString("HOME")
	case "+":
		return it.Cwd
	case "-":
		return it.Store.getString("OLDPWD")
	default:
		return ""
	}
}

func (it *Interpreter) cmdSubst(ctx context.Context, cs *syntax.CmdSubst) (string, error) {
	sub := it.subshellClone()
	err := sub.runStmts(ctx, cs.Stmts)
	code := sub.lastExit
	switch v := unwrapControl(err).(type) {
	case nil:
	case ExitError:
		code = v.Code
		err = nil
	case ReturnError:
		code = v.Code
		err = nil
	case ErrexitError:
		code = v.Code
		err = nil
	default:
		if err != nil {
			return sub.stdout.String(), err
		}
	}
	it.Store.setString("?", strconv.Itoa(code))
	return sub.stdout.String(), nil
}

// hasGlobMeta reports whether s contains any pathname-expansion
// metacharacter (per pattern.HasMeta). Nothing in the package calls
// it at present.
func hasGlobMeta(s string) bool { return pattern.HasMeta(s, 0) }
