package expand

import (
	"context"
	"testing"

	"github.com/vshlang/vsh/syntax"
	"github.com/vshlang/vsh/vfs"
)

type memEnviron struct {
	vars map[string]Variable
}

func newMemEnviron() *memEnviron { return &memEnviron{vars: map[string]Variable{}} }

func (m *memEnviron) Get(name string) Variable { return m.vars[name] }
func (m *memEnviron) Each(fn func(string, Variable) bool) {
	for k, v := range m.vars {
		if !fn(k, v) {
			return
		}
	}
}
func (m *memEnviron) Set(name string, vr Variable) error {
	m.vars[name] = vr
	return nil
}

func parseWord(t *testing.T, src string) *syntax.Word {
	t.Helper()
	f, err := syntax.Parse("x "+src, syntax.DefaultLimits)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	if len(f.Stmts) != 1 {
		t.Fatalf("parse %q: expected one statement, got %d", src, len(f.Stmts))
	}
	call, ok := f.Stmts[0].Cmd.(*syntax.CallExpr)
	if !ok || len(call.Args) != 2 {
		t.Fatalf("parse %q: expected a 2-word call, got %#v", src, f.Stmts[0].Cmd)
	}
	return call.Args[1]
}

func TestLiteralParamDefault(t *testing.T) {
	env := newMemEnviron()
	cfg := &Config{Env: env, FS: vfs.NewMemFS(), Cwd: "/"}
	w := parseWord(t, `${foo:-bar}`)
	got, err := cfg.Literal(context.Background(), w)
	if err != nil {
		t.Fatal(err)
	}
	if got != "bar" {
		t.Fatalf("got %q, want bar", got)
	}
}

func TestFieldsGlob(t *testing.T) {
	env := newMemEnviron()
	fs := vfs.NewMemFS()
	ctx := context.Background()
	fs.Mkdir(ctx, "/d", true)
	fs.WriteFile(ctx, "/d/a.txt", []byte("x"), false)
	fs.WriteFile(ctx, "/d/b.txt", []byte("x"), false)
	cfg := &Config{Env: env, FS: fs, Cwd: "/d"}
	w := parseWord(t, `*.txt`)
	got, err := cfg.Fields(ctx, w)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "a.txt" || got[1] != "b.txt" {
		t.Fatalf("got %v", got)
	}
}

func TestArithm(t *testing.T) {
	env := newMemEnviron()
	env.vars["x"] = Variable{Set: true, Kind: String, Str: "4"}
	cfg := &Config{Env: env}
	x, err := syntax.ParseArithmetic("x * 2 + 1")
	if err != nil {
		t.Fatal(err)
	}
	n, err := cfg.Arithm(context.Background(), x)
	if err != nil {
		t.Fatal(err)
	}
	if n != 9 {
		t.Fatalf("got %d, want 9", n)
	}
}

func TestBraceExpansion(t *testing.T) {
	w := parseWord(t, `f{a,b,c}.go`)
	words := ExpandBraces(w)
	if len(words) != 3 {
		t.Fatalf("got %d words", len(words))
	}
}
