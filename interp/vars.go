package interp

import (
	"fmt"
	mathrand "math/rand/v2"
	"sort"
	"strconv"

	"github.com/vshlang/vsh/expand"
	"github.com/vshlang/vsh/syntax"
)

// savedVar remembers a local scope's view of a name before it was
// shadowed, so PopScope can restore it exactly: either the prior
// variable, or nothing at all if the name did not previously exist.
type savedVar struct {
	existed bool
	vr      expand.Variable
}

type scope struct {
	saved map[string]*savedVar
}

// Store is the interpreter's variable table: a flat name-to-Variable
// map plus a stack of function-call scopes used to restore shadowed
// locals on return, matching the local-scope invariant in full
// (value and attributes both restored, element keys removed for
// names that did not exist before the call).
type Store struct {
	vars   map[string]expand.Variable
	funcs  map[string]*syntax.FuncDecl
	scopes []*scope
	rng    *mathrand.Rand
}

// NewStore returns an empty variable store seeded with nothing but a
// fresh, unseeded $RANDOM generator; the caller is expected to
// populate $0, IFS, PWD, and the rest of the ambient environment right
// after construction. A subshell gets its own NewStore rather than
// inheriting the parent's generator, so a `RANDOM=n` seed set before
// `(...)` does not carry into the child.
func NewStore() *Store {
	return &Store{
		vars:  map[string]expand.Variable{},
		funcs: map[string]*syntax.FuncDecl{},
		rng:   mathrand.New(mathrand.NewPCG(mathrand.Uint64(), mathrand.Uint64())),
	}
}

// Get reads name, special-casing RANDOM so every read draws a fresh
// 0-32767 value from the store's generator rather than a fixed
// string, matching `$RANDOM`'s expand-time regeneration.
func (s *Store) Get(name string) expand.Variable {
	if name == "RANDOM" {
		return expand.Variable{Set: true, Kind: expand.String, Str: strconv.Itoa(int(s.rng.Int32N(32768)))}
	}
	return s.vars[name]
}

func (s *Store) Each(fn func(string, expand.Variable) bool) {
	names := make([]string, 0, len(s.vars))
	for n := range s.vars {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if !fn(n, s.vars[n]) {
			return
		}
	}
}

// Set writes a variable, refusing the write if the name is already
// marked readonly. Used for ordinary assignment.
func (s *Store) Set(name string, vr expand.Variable) error {
	if old, ok := s.vars[name]; ok && old.ReadOnly {
		return fmt.Errorf("%s: readonly variable", name)
	}
	if name == "RANDOM" {
		s.reseedRandom(vr.String())
		return nil
	}
	s.vars[name] = vr
	return nil
}

// SetForce writes a variable even over an existing readonly one; used
// by the declare/readonly builtins themselves to install the
// attribute in the same step that sets the value.
func (s *Store) SetForce(name string, vr expand.Variable) {
	if name == "RANDOM" {
		s.reseedRandom(vr.String())
		return
	}
	s.vars[name] = vr
}

// reseedRandom implements `RANDOM=n`: the assigned value reseeds the
// generator for subsequent reads rather than being stored itself, so
// a later plain `$RANDOM` read never echoes the seed back.
func (s *Store) reseedRandom(seed string) {
	n, err := strconv.ParseInt(seed, 10, 64)
	if err != nil {
		return
	}
	s.rng = mathrand.New(mathrand.NewPCG(uint64(n), uint64(n)))
}

// Unset removes a variable entirely, refusing to do so if it is
// readonly.
func (s *Store) Unset(name string) error {
	if old, ok := s.vars[name]; ok && old.ReadOnly {
		return fmt.Errorf("%s: readonly variable", name)
	}
	delete(s.vars, name)
	return nil
}

func (s *Store) noteScopeWrite(name string) {
	if len(s.scopes) == 0 {
		return
	}
	top := s.scopes[len(s.scopes)-1]
	if _, ok := top.saved[name]; ok {
		return
	}
	if old, ok := s.vars[name]; ok {
		top.saved[name] = &savedVar{existed: true, vr: old}
	} else {
		top.saved[name] = &savedVar{existed: false}
	}
}

// SetLocal installs name as a variable scoped to the current
// function frame; its prior value (or absence) is captured for
// restoration when the frame pops.
func (s *Store) SetLocal(name string, vr expand.Variable) error {
	if old, ok := s.vars[name]; ok && old.ReadOnly {
		return fmt.Errorf("%s: readonly variable", name)
	}
	s.noteScopeWrite(name)
	vr.Local = true
	s.vars[name] = vr
	return nil
}

// PushScope opens a new function-call frame. Every name installed with
// SetLocal after this call is restored to its pre-call state on PopScope.
func (s *Store) PushScope() {
	s.scopes = append(s.scopes, &scope{saved: map[string]*savedVar{}})
}

// PopScope restores every name shadowed since the matching PushScope:
// names that existed before the call get their old variable back;
// names that did not exist are deleted, including any array-element
// entries the call created under that name.
func (s *Store) PopScope() {
	if len(s.scopes) == 0 {
		return
	}
	top := s.scopes[len(s.scopes)-1]
	s.scopes = s.scopes[:len(s.scopes)-1]
	for name, sv := range top.saved {
		if sv.existed {
			s.vars[name] = sv.vr
		} else {
			delete(s.vars, name)
		}
	}
}

func (s *Store) SetFunc(name string, fd *syntax.FuncDecl) { s.funcs[name] = fd }
func (s *Store) GetFunc(name string) (*syntax.FuncDecl, bool) {
	fd, ok := s.funcs[name]
	return fd, ok
}
func (s *Store) UnsetFunc(name string) { delete(s.funcs, name) }

// setString is a convenience for installing a plain scalar, used
// throughout the interpreter for bookkeeping variables like $?, PWD,
// and OLDPWD.
func (s *Store) setString(name, value string) {
	s.SetForce(name, expand.Variable{Set: true, Kind: expand.String, Str: value})
}

func (s *Store) setExported(name, value string) {
	s.SetForce(name, expand.Variable{Set: true, Exported: true, Kind: expand.String, Str: value})
}

func (s *Store) setIndexed(name string, values []string) {
	s.SetForce(name, expand.Variable{Set: true, Kind: expand.Indexed, List: values})
}

func (s *Store) getString(name string) string { return s.vars[name].String() }

func (s *Store) getInt(name string) int {
	n, _ := strconv.Atoi(s.getString(name))
	return n
}
