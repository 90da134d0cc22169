package vfs

import (
	"context"
	"testing"
)

func TestMemFSBasics(t *testing.T) {
	ctx := context.Background()
	fs := NewMemFS()

	if err := fs.Mkdir(ctx, "/home/user", true); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := fs.WriteFile(ctx, "/home/user/hello.txt", []byte("hi"), false); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := fs.ReadFile(ctx, "/home/user/hello.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "hi" {
		t.Fatalf("ReadFile = %q, want %q", got, "hi")
	}

	if err := fs.WriteFile(ctx, "/home/user/hello.txt", []byte(" there"), true); err != nil {
		t.Fatalf("WriteFile append: %v", err)
	}
	got, _ = fs.ReadFile(ctx, "/home/user/hello.txt")
	if got != "hi there" {
		t.Fatalf("after append = %q, want %q", got, "hi there")
	}

	names, err := fs.Readdir(ctx, "/home/user")
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if len(names) != 1 || names[0] != "hello.txt" {
		t.Fatalf("Readdir = %v", names)
	}

	isDir, _ := fs.IsDir(ctx, "/home/user")
	if !isDir {
		t.Fatalf("IsDir(/home/user) = false")
	}

	if _, err := fs.Stat(ctx, "/nope"); err == nil {
		t.Fatalf("Stat(/nope) should have failed")
	}
}

func TestMemFSSymlink(t *testing.T) {
	ctx := context.Background()
	fs := NewMemFS()
	if err := fs.WriteFile(ctx, "/target.txt", []byte("content"), false); err != nil {
		t.Fatal(err)
	}
	if err := fs.Symlink(ctx, "/target.txt", "/link.txt"); err != nil {
		t.Fatal(err)
	}
	got, err := fs.ReadFile(ctx, "/link.txt")
	if err != nil {
		t.Fatalf("ReadFile through symlink: %v", err)
	}
	if got != "content" {
		t.Fatalf("got %q", got)
	}
	target, err := fs.Readlink(ctx, "/link.txt")
	if err != nil || target != "/target.txt" {
		t.Fatalf("Readlink = %q, %v", target, err)
	}
	info, err := fs.Lstat(ctx, "/link.txt")
	if err != nil || !info.IsSymlink {
		t.Fatalf("Lstat should report a symlink: %+v, %v", info, err)
	}
}

func TestManifestApply(t *testing.T) {
	ctx := context.Background()
	fs := NewMemFS()
	m := &Manifest{
		Dirs:  []string{"/etc"},
		Files: map[string]string{"/etc/motd": "hello\n", "/root/.bashrc": "alias ll='ls -l'\n"},
	}
	if err := m.Apply(ctx, fs); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, err := fs.ReadFile(ctx, "/root/.bashrc")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "alias ll='ls -l'\n" {
		t.Fatalf("got %q", got)
	}
}
