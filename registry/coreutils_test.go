package registry

import (
	"context"
	"testing"

	"github.com/vshlang/vsh/vfs"
)

func newTestContext(t *testing.T) (*Context, context.Context) {
	t.Helper()
	ctx := context.Background()
	fs := vfs.NewMemFS()
	if err := fs.Mkdir(ctx, "/home/user", true); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile(ctx, "/home/user/a.txt", []byte("one\ntwo\nthree\n"), false); err != nil {
		t.Fatal(err)
	}
	return &Context{FS: fs, Cwd: "/home/user", Env: map[string]string{}}, ctx
}

func TestCat(t *testing.T) {
	rc, ctx := newTestContext(t)
	res, err := cmdCat(ctx, []string{"a.txt"}, rc)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "one\ntwo\nthree\n" {
		t.Fatalf("got %q", res.Stdout)
	}
}

func TestGrep(t *testing.T) {
	rc, ctx := newTestContext(t)
	res, err := cmdGrep(ctx, []string{"tw", "a.txt"}, rc)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "two\n" {
		t.Fatalf("got %q", res.Stdout)
	}
}

func TestHeadTail(t *testing.T) {
	rc, ctx := newTestContext(t)
	res, _ := cmdHead(ctx, []string{"-n", "2", "a.txt"}, rc)
	if res.Stdout != "one\ntwo\n" {
		t.Fatalf("head got %q", res.Stdout)
	}
	res, _ = cmdTail(ctx, []string{"-n", "1", "a.txt"}, rc)
	if res.Stdout != "three\n" {
		t.Fatalf("tail got %q", res.Stdout)
	}
}

func TestMkdirRm(t *testing.T) {
	rc, ctx := newTestContext(t)
	if _, err := cmdMkdir(ctx, []string{"-p", "sub/dir"}, rc); err != nil {
		t.Fatal(err)
	}
	if isDir, _ := rc.FS.IsDir(ctx, "/home/user/sub/dir"); !isDir {
		t.Fatalf("mkdir -p did not create nested dir")
	}
	if _, err := cmdRm(ctx, []string{"-rf", "sub"}, rc); err != nil {
		t.Fatal(err)
	}
	if exists, _ := rc.FS.Exists(ctx, "/home/user/sub"); exists {
		t.Fatalf("rm -rf did not remove dir")
	}
}

func TestSort(t *testing.T) {
	rc, ctx := newTestContext(t)
	res, _ := cmdSort(ctx, []string{"-r", "a.txt"}, rc)
	if res.Stdout != "two\nthree\none\n" {
		t.Fatalf("got %q", res.Stdout)
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewDefault()
	if _, ok := r.Lookup("cat"); !ok {
		t.Fatalf("expected cat to be registered")
	}
	if _, ok := r.Lookup("nonexistent-cmd"); ok {
		t.Fatalf("did not expect nonexistent-cmd to be registered")
	}
	names := r.Names()
	if len(names) == 0 {
		t.Fatalf("expected registered names")
	}
}
