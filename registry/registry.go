// Package registry implements the command-registry contract the
// interpreter consults after function and builtin lookup fails: a map
// from a command name to a coroutine that takes arguments and a narrow
// execution context and returns captured output plus an exit code. None
// of these commands spawn a real process; each one operates purely
// against the host's vfs.FS.
package registry

import (
	"context"
	"sort"

	"github.com/vshlang/vsh/vfs"
)

// Result is the outcome of running a registry command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Context is the narrow view a registry command receives: a filesystem
// handle, a cwd snapshot, a live environment map (mutations write back
// into the interpreter), owned stdin content, resource limits, extra
// fd contents for commands that read from a custom descriptor, and a
// callback to run a nested script (used by commands like `xargs` or
// `find -exec` that need to invoke the interpreter recursively).
type Context struct {
	FS         vfs.FS
	Cwd        string
	Env        map[string]string
	Stdin      string
	FDContents map[int]string
	Exec       func(ctx context.Context, script string, env map[string]string, cwd string) (Result, error)
	Registered func() []string
}

// Command is a single registry entry: args[0] is conventionally not
// included (the registry is already keyed by name), matching the
// interpreter's call convention of passing only the trailing arguments.
type Command func(ctx context.Context, args []string, rc *Context) (Result, error)

// Registry is a mutable table of named commands. The zero value is an
// empty registry; use NewDefault for the bundled utility set.
type Registry struct {
	cmds    map[string]Command
	unknown Command
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{cmds: map[string]Command{}}
}

// Register adds or replaces the command bound to name.
func (r *Registry) Register(name string, cmd Command) {
	if r.cmds == nil {
		r.cmds = map[string]Command{}
	}
	r.cmds[name] = cmd
}

// Lookup returns the command bound to name, if any.
func (r *Registry) Lookup(name string) (Command, bool) {
	cmd, ok := r.cmds[name]
	return cmd, ok
}

// Names returns the sorted list of registered command names, the shape
// `get_registered_commands()` exposes to commands like `type` and `command -v`.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.cmds))
	for name := range r.cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Middleware wraps a Command with extra behavior, chaining to next for
// anything it doesn't handle itself — the shape a host uses to layer
// sandboxing policy (e.g. a read-only filesystem view) over the bundled set.
type Middleware func(next Command) Command

// Wrap replaces every registered command with mw applied over it, and
// returns a fallback command invoked for any name with no prior
// registration, so middleware can intercept names the registry doesn't
// otherwise know.
func (r *Registry) Wrap(mw Middleware, fallback Command) {
	for name, cmd := range r.cmds {
		r.cmds[name] = mw(cmd)
	}
	if fallback != nil {
		r.unknown = mw(fallback)
	}
}

// LookupOrUnknown is like Lookup but falls back to the Wrap-installed
// unknown handler, when set, instead of reporting a miss.
func (r *Registry) LookupOrUnknown(name string) (Command, bool) {
	if cmd, ok := r.cmds[name]; ok {
		return cmd, true
	}
	if r.unknown != nil {
		return r.unknown, true
	}
	return nil, false
}
