package registry

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/vshlang/vsh/vfs"
)

// NewDefault returns a registry populated with a small, VFS-backed
// stand-in for the usual coreutils set: cat, ls, mkdir, rm, touch, cp,
// mv, wc, head, tail, grep, sort, tee, basename, dirname. Each one is a
// pure function of args + Context; none spawn anything.
func NewDefault() *Registry {
	r := New()
	r.Register("cat", cmdCat)
	r.Register("ls", cmdLs)
	r.Register("mkdir", cmdMkdir)
	r.Register("rm", cmdRm)
	r.Register("touch", cmdTouch)
	r.Register("cp", cmdCp)
	r.Register("mv", cmdMv)
	r.Register("wc", cmdWc)
	r.Register("head", cmdHead)
	r.Register("tail", cmdTail)
	r.Register("grep", cmdGrep)
	r.Register("sort", cmdSort)
	r.Register("tee", cmdTee)
	r.Register("basename", cmdBasename)
	r.Register("dirname", cmdDirname)
	return r
}

func resolve(rc *Context, p string) string {
	return vfs.ResolvePath(rc.Cwd, p)
}

func ok(stdout string) (Result, error) {
	return Result{Stdout: stdout, ExitCode: 0}, nil
}

func fail(format string, a ...any) (Result, error) {
	return Result{Stderr: fmt.Sprintf(format, a...) + "\n", ExitCode: 1}, nil
}

func cmdCat(ctx context.Context, args []string, rc *Context) (Result, error) {
	if len(args) == 0 {
		return ok(rc.Stdin)
	}
	var sb strings.Builder
	for _, a := range args {
		if a == "-" {
			sb.WriteString(rc.Stdin)
			continue
		}
		content, err := rc.FS.ReadFile(ctx, resolve(rc, a))
		if err != nil {
			return fail("cat: %s: %v", a, err)
		}
		sb.WriteString(content)
	}
	return ok(sb.String())
}

func cmdLs(ctx context.Context, args []string, rc *Context) (Result, error) {
	long := false
	all := false
	var targets []string
	for _, a := range args {
		switch {
		case a == "-l":
			long = true
		case a == "-a":
			all = true
		case a == "-la" || a == "-al":
			long, all = true, true
		case strings.HasPrefix(a, "-"):
			// unrecognized flag: ignore rather than fail, matching a
			// permissive stand-in rather than a strict coreutils clone.
		default:
			targets = append(targets, a)
		}
	}
	if len(targets) == 0 {
		targets = []string{"."}
	}
	var sb strings.Builder
	for i, t := range targets {
		p := resolve(rc, t)
		names, err := rc.FS.Readdir(ctx, p)
		if err != nil {
			return fail("ls: %s: %v", t, err)
		}
		if len(targets) > 1 {
			if i > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "%s:\n", t)
		}
		for _, name := range names {
			if !all && strings.HasPrefix(name, ".") {
				continue
			}
			if long {
				info, err := rc.FS.Stat(ctx, path.Join(p, name))
				if err != nil {
					continue
				}
				kind := "-"
				if info.IsDir {
					kind = "d"
				} else if info.IsSymlink {
					kind = "l"
				}
				fmt.Fprintf(&sb, "%s%s %8d %s\n", kind, permString(info.Mode), info.Size, name)
			} else {
				sb.WriteString(name)
				sb.WriteString("\n")
			}
		}
	}
	return ok(sb.String())
}

func permString(mode uint32) string {
	const rwx = "rwxrwxrwx"
	var sb strings.Builder
	for i := 0; i < 9; i++ {
		if mode&(1<<(8-i)) != 0 {
			sb.WriteByte(rwx[i])
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

func cmdMkdir(ctx context.Context, args []string, rc *Context) (Result, error) {
	recursive := false
	var targets []string
	for _, a := range args {
		if a == "-p" {
			recursive = true
			continue
		}
		targets = append(targets, a)
	}
	for _, t := range targets {
		if err := rc.FS.Mkdir(ctx, resolve(rc, t), recursive); err != nil {
			return fail("mkdir: %s: %v", t, err)
		}
	}
	return ok("")
}

func cmdRm(ctx context.Context, args []string, rc *Context) (Result, error) {
	recursive := false
	force := false
	var targets []string
	for _, a := range args {
		switch a {
		case "-r", "-rf", "-fr", "-R":
			recursive = true
			if a != "-r" && a != "-R" {
				force = true
			}
		case "-f":
			force = true
		default:
			targets = append(targets, a)
		}
	}
	for _, t := range targets {
		if err := rc.FS.Remove(ctx, resolve(rc, t), recursive); err != nil {
			if force {
				continue
			}
			return fail("rm: %s: %v", t, err)
		}
	}
	return ok("")
}

func cmdTouch(ctx context.Context, args []string, rc *Context) (Result, error) {
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		p := resolve(rc, a)
		if existing, err := rc.FS.ReadFileBytes(ctx, p); err == nil {
			if err := rc.FS.WriteFile(ctx, p, existing, false); err != nil {
				return fail("touch: %s: %v", a, err)
			}
			continue
		}
		if err := rc.FS.WriteFile(ctx, p, nil, false); err != nil {
			return fail("touch: %s: %v", a, err)
		}
	}
	return ok("")
}

func cmdCp(ctx context.Context, args []string, rc *Context) (Result, error) {
	if len(args) < 2 {
		return fail("cp: missing destination file operand")
	}
	src, dst := args[len(args)-2], args[len(args)-1]
	content, err := rc.FS.ReadFileBytes(ctx, resolve(rc, src))
	if err != nil {
		return fail("cp: %s: %v", src, err)
	}
	if err := rc.FS.WriteFile(ctx, resolve(rc, dst), content, false); err != nil {
		return fail("cp: %s: %v", dst, err)
	}
	return ok("")
}

func cmdMv(ctx context.Context, args []string, rc *Context) (Result, error) {
	if len(args) < 2 {
		return fail("mv: missing destination file operand")
	}
	src, dst := args[len(args)-2], args[len(args)-1]
	content, err := rc.FS.ReadFileBytes(ctx, resolve(rc, src))
	if err != nil {
		return fail("mv: %s: %v", src, err)
	}
	if err := rc.FS.WriteFile(ctx, resolve(rc, dst), content, false); err != nil {
		return fail("mv: %s: %v", dst, err)
	}
	if err := rc.FS.Remove(ctx, resolve(rc, src), false); err != nil {
		return fail("mv: %s: %v", src, err)
	}
	return ok("")
}

func cmdWc(ctx context.Context, args []string, rc *Context) (Result, error) {
	lines, words, byteCount := false, false, false
	var targets []string
	for _, a := range args {
		switch a {
		case "-l":
			lines = true
		case "-w":
			words = true
		case "-c":
			byteCount = true
		default:
			targets = append(targets, a)
		}
	}
	if !lines && !words && !byteCount {
		lines, words, byteCount = true, true, true
	}
	count := func(s string) string {
		var parts []string
		if lines {
			parts = append(parts, strconv.Itoa(strings.Count(s, "\n")))
		}
		if words {
			parts = append(parts, strconv.Itoa(len(strings.Fields(s))))
		}
		if byteCount {
			parts = append(parts, strconv.Itoa(len(s)))
		}
		return strings.Join(parts, " ")
	}
	if len(targets) == 0 {
		return ok(count(rc.Stdin) + "\n")
	}
	var sb strings.Builder
	for _, t := range targets {
		content, err := rc.FS.ReadFile(ctx, resolve(rc, t))
		if err != nil {
			return fail("wc: %s: %v", t, err)
		}
		fmt.Fprintf(&sb, "%s %s\n", count(content), t)
	}
	return ok(sb.String())
}

func cmdHead(ctx context.Context, args []string, rc *Context) (Result, error) {
	return headTail(ctx, args, rc, true)
}

func cmdTail(ctx context.Context, args []string, rc *Context) (Result, error) {
	return headTail(ctx, args, rc, false)
}

func headTail(ctx context.Context, args []string, rc *Context, head bool) (Result, error) {
	n := 10
	var targets []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "-n" && i+1 < len(args) {
			n, _ = strconv.Atoi(args[i+1])
			i++
			continue
		}
		if strings.HasPrefix(a, "-n") && len(a) > 2 {
			n, _ = strconv.Atoi(a[2:])
			continue
		}
		targets = append(targets, a)
	}
	apply := func(content string) string {
		lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
		if content == "" {
			lines = nil
		}
		if head {
			if n < len(lines) {
				lines = lines[:n]
			}
		} else {
			if n < len(lines) {
				lines = lines[len(lines)-n:]
			}
		}
		if len(lines) == 0 {
			return ""
		}
		return strings.Join(lines, "\n") + "\n"
	}
	if len(targets) == 0 {
		return ok(apply(rc.Stdin))
	}
	var sb strings.Builder
	for _, t := range targets {
		content, err := rc.FS.ReadFile(ctx, resolve(rc, t))
		if err != nil {
			return fail("%s: %v", t, err)
		}
		sb.WriteString(apply(content))
	}
	return ok(sb.String())
}

func cmdGrep(ctx context.Context, args []string, rc *Context) (Result, error) {
	invert := false
	ignoreCase := false
	fixed := false
	var pat string
	var targets []string
	for _, a := range args {
		switch {
		case a == "-v":
			invert = true
		case a == "-i":
			ignoreCase = true
		case a == "-F":
			fixed = true
		case pat == "":
			pat = a
		default:
			targets = append(targets, a)
		}
	}
	if pat == "" {
		return fail("grep: missing pattern")
	}
	expr := pat
	if fixed {
		expr = regexp.QuoteMeta(pat)
	}
	if ignoreCase {
		expr = "(?i)" + expr
	}
	rx, err := regexp.Compile(expr)
	if err != nil {
		return fail("grep: %v", err)
	}
	filter := func(content string) string {
		var sb strings.Builder
		for _, line := range strings.Split(strings.TrimSuffix(content, "\n"), "\n") {
			if rx.MatchString(line) != invert {
				sb.WriteString(line)
				sb.WriteString("\n")
			}
		}
		return sb.String()
	}
	if len(targets) == 0 {
		return ok(filter(rc.Stdin))
	}
	var sb strings.Builder
	for _, t := range targets {
		content, err := rc.FS.ReadFile(ctx, resolve(rc, t))
		if err != nil {
			return fail("grep: %s: %v", t, err)
		}
		sb.WriteString(filter(content))
	}
	return ok(sb.String())
}

func cmdSort(ctx context.Context, args []string, rc *Context) (Result, error) {
	reverse := false
	numeric := false
	unique := false
	var targets []string
	for _, a := range args {
		switch a {
		case "-r":
			reverse = true
		case "-n":
			numeric = true
		case "-u":
			unique = true
		default:
			targets = append(targets, a)
		}
	}
	var content string
	if len(targets) == 0 {
		content = rc.Stdin
	} else {
		for _, t := range targets {
			c, err := rc.FS.ReadFile(ctx, resolve(rc, t))
			if err != nil {
				return fail("sort: %s: %v", t, err)
			}
			content += c
		}
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}
	if numeric {
		sort.SliceStable(lines, func(i, j int) bool {
			a, _ := strconv.ParseFloat(strings.TrimSpace(lines[i]), 64)
			b, _ := strconv.ParseFloat(strings.TrimSpace(lines[j]), 64)
			return a < b
		})
	} else {
		sort.Strings(lines)
	}
	if reverse {
		for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
			lines[i], lines[j] = lines[j], lines[i]
		}
	}
	if unique {
		lines = dedupe(lines)
	}
	if len(lines) == 0 {
		return ok("")
	}
	return ok(strings.Join(lines, "\n") + "\n")
}

func dedupe(lines []string) []string {
	seen := map[string]bool{}
	out := lines[:0]
	for _, l := range lines {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

func cmdTee(ctx context.Context, args []string, rc *Context) (Result, error) {
	appendMode := false
	var targets []string
	for _, a := range args {
		if a == "-a" {
			appendMode = true
			continue
		}
		targets = append(targets, a)
	}
	for _, t := range targets {
		if err := rc.FS.WriteFile(ctx, resolve(rc, t), []byte(rc.Stdin), appendMode); err != nil {
			return fail("tee: %s: %v", t, err)
		}
	}
	return ok(rc.Stdin)
}

func cmdBasename(_ context.Context, args []string, _ *Context) (Result, error) {
	if len(args) == 0 {
		return fail("basename: missing operand")
	}
	name := path.Base(args[0])
	if len(args) > 1 {
		name = strings.TrimSuffix(name, args[1])
	}
	return ok(name + "\n")
}

func cmdDirname(_ context.Context, args []string, _ *Context) (Result, error) {
	if len(args) == 0 {
		return fail("dirname: missing operand")
	}
	return ok(path.Dir(args[0]) + "\n")
}
