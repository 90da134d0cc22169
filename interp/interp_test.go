package interp

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vshlang/vsh/vfs"
)

// run executes src against a fresh interpreter and returns its
// combined result, failing the test on a parse error (scripts in
// runTests are expected to at least parse).
func run(tb testing.TB, src string) Result {
	tb.Helper()
	ctx := context.Background()
	it, err := New(ctx, Config{})
	if err != nil {
		tb.Fatalf("New: %v", err)
	}
	res, err := it.Run(ctx, src)
	if err != nil {
		tb.Fatalf("Run(%q): %v", src, err)
	}
	return res
}

type runTest struct {
	in       string
	wantOut  string
	wantErr  string
	wantExit int
}

var runTests = []runTest{
	// no-op programs
	{in: "", wantOut: ""},
	{in: "true", wantOut: ""},
	{in: ":", wantOut: ""},
	{in: "{ :; }", wantOut: ""},
	{in: "(:)", wantOut: ""},

	// exit status codes
	{in: "exit 1", wantExit: 1},
	{in: "false", wantExit: 1},
	{in: "! false", wantExit: 0},
	{in: "! true", wantExit: 1},
	{in: "false; true", wantExit: 0},
	{in: "false || true", wantExit: 0},
	{in: "true && false", wantExit: 1},

	// echo and quoting
	{in: "echo", wantOut: "\n"},
	{in: "echo a b c", wantOut: "a b c\n"},
	{in: "echo -n foo", wantOut: "foo"},
	{in: `echo -e '\t'`, wantOut: "\t\n"},
	{in: "echo 'a  b'", wantOut: "a  b\n"},

	// variables and arithmetic
	{in: "x=5; echo $x", wantOut: "5\n"},
	{in: "x=5; (( y = x * 2 + 3 )); echo $y", wantOut: "13\n"},
	{in: "echo $((2 + 3 * 4))", wantOut: "14\n"},
	{in: "(( 1 / 0 ))", wantExit: 1},

	// arrays
	{in: `arr=(a "b c" d); for i in "${arr[@]}"; do echo "[$i]"; done`, wantOut: "[a]\n[b c]\n[d]\n"},
	{in: "arr=(a b c); echo ${#arr[@]}", wantOut: "3\n"},
	{in: "arr=([2]=x [5]=y); echo ${#arr[@]}", wantOut: "2\n"},

	// parameter expansion
	{in: "unset x; echo ${x:-default}", wantOut: "default\n"},
	{in: "x=; echo ${x:-default}", wantOut: "default\n"},
	{in: "x=; echo ${x-default}", wantOut: "\n"},
	{in: "x=hello; echo ${x#h}", wantOut: "ello\n"},
	{in: "x=hello; echo ${x%lo}", wantOut: "hel\n"},
	{in: "x=hello; echo ${x/l/L}", wantOut: "heLlo\n"},
	{in: "x=hello; echo ${x//l/L}", wantOut: "heLLo\n"},
	{in: "x=hello; echo ${#x}", wantOut: "5\n"},

	// conditionals
	{in: "[[ abc123 =~ ([a-z]+)([0-9]+) ]]; echo \"${BASH_REMATCH[1]}-${BASH_REMATCH[2]}\"", wantOut: "abc-123\n"},
	{in: "[[ foo == f* ]] && echo yes", wantOut: "yes\n"},
	{in: "[ -z '' ] && echo empty", wantOut: "empty\n"},

	// functions
	{in: "f() { echo called; }; f", wantOut: "called\n"},
	{in: "f() { local x=1; }; x=5; f; echo $x", wantOut: "5\n"},
	{in: "f() { return 7; }; f; echo $?", wantOut: "7\n"},

	// pipelines and IFS splitting
	{in: "echo 'a:b:c' | IFS=: read x y z; echo \"$x|$y|$z\"", wantOut: "a|b|c\n"},
	{in: "printf 'a\\nb\\n' | wc -l", wantOut: "2\n", wantExit: 0},

	// subshell isolation
	{in: "(x=hidden); [ -z \"$x\" ] && echo clean", wantOut: "clean\n"},

	// errexit suppression
	{in: "set -e; false || true; echo ok", wantOut: "ok\n", wantExit: 0},
	{in: "set -e; false; echo ok", wantOut: "", wantExit: 1},
	{in: "set -e; ! false; echo ok", wantOut: "ok\n", wantExit: 0},
	{in: "set -e; if false; then echo no; fi; echo ok", wantOut: "ok\n", wantExit: 0},

	// readonly
	{in: "readonly V=x; V=y; echo $V", wantOut: "x\n", wantExit: 1},
	{in: "readonly V=x; unset V; echo $V", wantOut: "x\n", wantExit: 1},

	// loops
	{in: "for i in 1 2 3; do echo $i; done", wantOut: "1\n2\n3\n"},
	{in: "i=0; while [ $i -lt 3 ]; do echo $i; i=$((i+1)); done", wantOut: "0\n1\n2\n"},
	{in: "for ((i=0; i<3; i++)); do echo $i; done", wantOut: "0\n1\n2\n"},
	{in: "for i in 1 2 3; do if [ $i = 2 ]; then continue; fi; echo $i; done", wantOut: "1\n3\n"},
	{in: "for i in 1 2 3; do if [ $i = 2 ]; then break; fi; echo $i; done", wantOut: "1\n"},

	// case
	{in: "case foo in f*) echo match;; *) echo no;; esac", wantOut: "match\n"},
}

func TestRunnerRun(t *testing.T) {
	ctx := context.Background()
	for i, c := range runTests {
		t.Run(fmt.Sprintf("%03d", i), func(t *testing.T) {
			it, err := New(ctx, Config{})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			res, err := it.Run(ctx, c.in)
			if err != nil {
				t.Fatalf("Run(%q): unexpected parse/run error: %v", c.in, err)
			}
			if res.Stdout != c.wantOut {
				t.Errorf("Run(%q) stdout = %q, want %q", c.in, res.Stdout, c.wantOut)
			}
			if res.ExitCode != c.wantExit {
				t.Errorf("Run(%q) exit = %d, want %d", c.in, res.ExitCode, c.wantExit)
			}
		})
	}
}

func TestPipestatus(t *testing.T) {
	ctx := context.Background()
	it, err := New(ctx, Config{Options: Options{Pipefail: true}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := it.Run(ctx, "false | true | false"); err != nil {
		t.Fatal(err)
	}
	got := it.Store.Get("PIPESTATUS")
	want := []string{"1", "0", "1"}
	if diff := cmp.Diff(want, got.List); diff != "" {
		t.Errorf("PIPESTATUS mismatch (-want +got):\n%s", diff)
	}
}

func TestPipefail(t *testing.T) {
	ctx := context.Background()
	it, err := New(ctx, Config{Options: Options{Pipefail: true}})
	if err != nil {
		t.Fatal(err)
	}
	res, err := it.Run(ctx, "true | false | true")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1 (pipefail should surface false's code)", res.ExitCode)
	}
}

func TestSubshellIsolation(t *testing.T) {
	ctx := context.Background()
	it, err := New(ctx, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := it.Run(ctx, "x=outer; (x=inner); echo $x"); err != nil {
		t.Fatal(err)
	}
	if got := it.Store.Get("x").String(); got != "outer" {
		t.Errorf("subshell leaked a write: x = %q, want %q", got, "outer")
	}
}

func TestCommandSubstitutionExitCode(t *testing.T) {
	ctx := context.Background()
	it, err := New(ctx, Config{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := it.Run(ctx, `x=$(false); echo "$?"`)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "1\n" {
		t.Errorf("command substitution did not propagate exit code: stdout = %q", res.Stdout)
	}
}

func TestSeededFilesystem(t *testing.T) {
	ctx := context.Background()
	m := &vfs.Manifest{
		Dirs:  []string{"/home"},
		Files: map[string]string{"/home/greeting.txt": "hello there\n"},
	}
	it, err := New(ctx, Config{InitialFiles: m, Cwd: "/home"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := it.Run(ctx, "cat greeting.txt")
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "hello there\n" {
		t.Errorf("cat of seeded file = %q, want %q", res.Stdout, "hello there\n")
	}
}

func TestCdUpdatesPwd(t *testing.T) {
	ctx := context.Background()
	m := &vfs.Manifest{Dirs: []string{"/a/b"}}
	it, err := New(ctx, Config{InitialFiles: m, Cwd: "/"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := it.Run(ctx, "cd a/b"); err != nil {
		t.Fatal(err)
	}
	if it.Cwd != "/a/b" {
		t.Errorf("Cwd after cd = %q, want %q", it.Cwd, "/a/b")
	}
	if got := it.Store.Get("PWD").String(); got != "/a/b" {
		t.Errorf("PWD after cd = %q, want %q", got, "/a/b")
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	it, err := New(ctx, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := it.Run(ctx, "x=5"); err != nil {
		t.Fatal(err)
	}
	if err := it.Reset(ctx, Config{}); err != nil {
		t.Fatal(err)
	}
	if got := it.Store.Get("x"); got.Set {
		t.Errorf("variable x survived Reset: %+v", got)
	}
}

func TestCommandNotFound(t *testing.T) {
	ctx := context.Background()
	it, err := New(ctx, Config{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := it.Run(ctx, "this-does-not-exist-anywhere")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 127 {
		t.Errorf("exit code = %d, want 127", res.ExitCode)
	}
}
