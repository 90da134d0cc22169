package interp

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/vshlang/vsh/expand"
	"github.com/vshlang/vsh/pattern"
	"github.com/vshlang/vsh/syntax"
)

// runTestClause evaluates `[[ expr ]]`, whose exit code is 0 for true
// and 1 for false; a malformed operand (e.g. a non-numeric `-eq`
// argument) is reported on stderr with exit 2, matching Bash.
func (it *Interpreter) runTestClause(ctx context.Context, cmd *syntax.TestClause) (string, string, int, error) {
	ok, err := it.evalTestExpr(ctx, cmd.X)
	if err != nil {
		return "", fmt.Sprintf("bash: [[: %v\n", err), 2, nil
	}
	if ok {
		return "", "", 0, nil
	}
	return "", "", 1, nil
}

func (it *Interpreter) evalTestExpr(ctx context.Context, x syntax.TestExpr) (bool, error) {
	switch e := x.(type) {
	case *syntax.TestWord:
		s, err := it.expandConfig().Literal(ctx, e.X)
		if err != nil {
			return false, err
		}
		return s != "", nil
	case *syntax.TestNot:
		ok, err := it.evalTestExpr(ctx, e.X)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case *syntax.TestAndOr:
		left, err := it.evalTestExpr(ctx, e.X)
		if err != nil {
			return false, err
		}
		if e.And && !left {
			return false, nil
		}
		if !e.And && left {
			return true, nil
		}
		return it.evalTestExpr(ctx, e.Y)
	case *syntax.TestParen:
		return it.evalTestExpr(ctx, e.X)
	case *syntax.TestUnary:
		return it.evalTestUnary(ctx, e)
	case *syntax.TestBinary:
		return it.evalTestBinary(ctx, e)
	}
	return false, fmt.Errorf("unsupported test expression %T", x)
}

func (it *Interpreter) evalTestUnary(ctx context.Context, e *syntax.TestUnary) (bool, error) {
	ec := it.expandConfig()
	arg, err := ec.Literal(ctx, e.X)
	if err != nil {
		return false, err
	}
	switch e.Op {
	case "-z":
		return arg == "", nil
	case "-n":
		return arg != "", nil
	case "-v":
		return it.Store.Get(arg).IsSet(), nil
	case "-R":
		return it.Store.Get(arg).Kind == expand.NameRef, nil
	}
	path := it.resolve(arg)
	switch e.Op {
	case "-e", "-a":
		ok, _ := it.FS.Exists(ctx, path)
		return ok, nil
	case "-f":
		info, err := it.FS.Stat(ctx, path)
		return err == nil && info.IsFile, nil
	case "-d":
		ok, _ := it.FS.IsDir(ctx, path)
		return ok, nil
	case "-L", "-h":
		info, err := it.FS.Lstat(ctx, path)
		return err == nil && info.IsSymlink, nil
	case "-r", "-w":
		return it.FS.Exists(ctx, path)
	case "-x":
		info, err := it.FS.Stat(ctx, path)
		return err == nil && info.Mode&0o111 != 0, nil
	case "-s":
		info, err := it.FS.Stat(ctx, path)
		return err == nil && info.Size > 0, nil
	case "-o":
		return testShellOpt(it.Options, arg), nil
	}
	return false, fmt.Errorf("unsupported unary test operator %s", e.Op)
}

func testShellOpt(opt Options, name string) bool {
	switch name {
	case "errexit":
		return opt.Errexit
	case "pipefail":
		return opt.Pipefail
	case "nounset":
		return opt.Nounset
	case "noglob":
		return opt.NoGlob
	case "noclobber":
		return opt.NoClobber
	case "xtrace":
		return opt.Xtrace
	case "verbose":
		return opt.Verbose
	case "allexport":
		return opt.AllExport
	}
	return false
}

func (it *Interpreter) evalTestBinary(ctx context.Context, e *syntax.TestBinary) (bool, error) {
	ec := it.expandConfig()
	lhs, err := ec.Literal(ctx, e.X)
	if err != nil {
		return false, err
	}
	switch e.Op {
	case "=", "==", "!=":
		pat, err := ec.Pattern(ctx, e.Y)
		if err != nil {
			return false, err
		}
		ok, err := pattern.Match(pat, lhs, patternMode(it.Options))
		if err != nil {
			return false, err
		}
		if e.Op == "!=" {
			return !ok, nil
		}
		return ok, nil
	case "=~":
		rhs, err := ec.Literal(ctx, e.Y)
		if err != nil {
			return false, err
		}
		rx, err := regexp.Compile(rhs)
		if err != nil {
			return false, err
		}
		m := rx.FindStringSubmatch(lhs)
		if m == nil {
			return false, nil
		}
		it.Store.setIndexed("BASH_REMATCH", m)
		return true, nil
	case "<":
		rhs, err := ec.Literal(ctx, e.Y)
		if err != nil {
			return false, err
		}
		return lhs < rhs, nil
	case ">":
		rhs, err := ec.Literal(ctx, e.Y)
		if err != nil {
			return false, err
		}
		return lhs > rhs, nil
	case "-nt", "-ot", "-ef":
		rhs, err := ec.Literal(ctx, e.Y)
		if err != nil {
			return false, err
		}
		return it.evalFileCompare(ctx, e.Op, lhs, rhs)
	}
	rhs, err := ec.Literal(ctx, e.Y)
	if err != nil {
		return false, err
	}
	return evalNumericTest(e.Op, lhs, rhs)
}

func (it *Interpreter) evalFileCompare(ctx context.Context, op, lhs, rhs string) (bool, error) {
	li, lerr := it.FS.Stat(ctx, it.resolve(lhs))
	ri, rerr := it.FS.Stat(ctx, it.resolve(rhs))
	switch op {
	case "-nt":
		if lerr != nil {
			return false, nil
		}
		if rerr != nil {
			return true, nil
		}
		return li.MTime.After(ri.MTime), nil
	case "-ot":
		if rerr != nil {
			return false, nil
		}
		if lerr != nil {
			return true, nil
		}
		return li.MTime.Before(ri.MTime), nil
	case "-ef":
		return lerr == nil && rerr == nil && it.resolve(lhs) == it.resolve(rhs), nil
	}
	return false, nil
}

func evalNumericTest(op, lhs, rhs string) (bool, error) {
	l, err := strconv.ParseInt(lhs, 0, 64)
	if err != nil {
		return false, fmt.Errorf("%s: integer expression expected", lhs)
	}
	r, err := strconv.ParseInt(rhs, 0, 64)
	if err != nil {
		return false, fmt.Errorf("%s: integer expression expected", rhs)
	}
	switch op {
	case "-eq":
		return l == r, nil
	case "-ne":
		return l != r, nil
	case "-lt":
		return l < r, nil
	case "-le":
		return l <= r, nil
	case "-gt":
		return l > r, nil
	case "-ge":
		return l >= r, nil
	}
	return false, fmt.Errorf("unsupported binary test operator %s", op)
}

// runTestBuiltin implements `test`/`[`, a purely argument-driven form
// of the same operators `[[ ]]` supports via the typed TestExpr tree.
// Bash grammar for `test` is small enough to hand-parse directly over
// the already-expanded argument list.
func (it *Interpreter) runTestBuiltin(ctx context.Context, args []string) (string, string, int, error) {
	ok, err := it.evalTestArgs(ctx, args)
	if err != nil {
		return "", fmt.Sprintf("bash: test: %v\n", err), 2, nil
	}
	if ok {
		return "", "", 0, nil
	}
	return "", "", 1, nil
}

func (it *Interpreter) evalTestArgs(ctx context.Context, args []string) (bool, error) {
	switch len(args) {
	case 0:
		return false, nil
	case 1:
		return args[0] != "", nil
	case 2:
		if args[0] == "!" {
			ok, err := it.evalTestArgs(ctx, args[1:])
			return !ok, err
		}
		return it.evalUnaryArg(ctx, args[0], args[1])
	case 3:
		if args[0] == "!" {
			ok, err := it.evalTestArgs(ctx, args[1:])
			return !ok, err
		}
		return it.evalBinaryArg(ctx, args[0], args[1], args[2])
	default:
		if args[0] == "!" {
			ok, err := it.evalTestArgs(ctx, args[1:])
			return !ok, err
		}
		return false, fmt.Errorf("too many arguments")
	}
}

func (it *Interpreter) evalUnaryArg(ctx context.Context, op, arg string) (bool, error) {
	u := &syntax.TestUnary{Op: op, X: litWord(arg)}
	return it.evalTestUnary(ctx, u)
}

func (it *Interpreter) evalBinaryArg(ctx context.Context, lhs, op, rhs string) (bool, error) {
	b := &syntax.TestBinary{Op: op, X: litWord(lhs), Y: litWord(rhs)}
	return it.evalTestBinary(ctx, b)
}

func litWord(s string) *syntax.Word {
	return &syntax.Word{Parts: []syntax.WordPart{&syntax.SglQuoted{Value: s}}}
}
