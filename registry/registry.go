// Package registry holds the mapping from exposed operation name to an
// invocable descriptor, and implements parameter binding for dispatch.
//
// Operations are registered explicitly on a Builder — there is no runtime
// reflection over an application object. The resulting Registry is immutable
// and safe for concurrent reads by any number of dispatch goroutines.
//
// Method names whose first byte is the NUL sentinel route to a fixed set of
// control commands that introspect the registry itself rather than invoke an
// application operation.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ControlPrefix marks a method name as a control command. The bytes after
// the sentinel select the command, e.g. "\x00reflection".
const ControlPrefix = "\x00"

// Dispatch error kinds, carried as the kind half of the wire error pair.
const (
	KindUnknownMethod = "UnknownMethod"
	KindBindingError  = "BindingError"
	KindHandlerError  = "HandlerError"
)

// DispatchError reports a failure to resolve a method or bind its
// parameters. It is returned in a Response; the connection survives.
type DispatchError struct {
	Kind   string // KindUnknownMethod or KindBindingError
	Method string
	Detail string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Method, e.Detail)
}

// Meta is the context accessor handed to meta-aware handlers. It resolves a
// key against the caller-supplied context subset first, then the
// connection's ambient metadata (e.g. "peer_addr"). Missing keys yield nil.
type Meta interface {
	Get(key string) any
}

// MetaFunc adapts a lookup function to the Meta interface.
type MetaFunc func(key string) any

func (f MetaFunc) Get(key string) any { return f(key) }

// Handler is an ordinary registered operation. It receives its arguments
// already bound to the declared parameter order.
type Handler func(ctx context.Context, args []any) (any, error)

// MetaHandler additionally receives the per-call context accessor.
type MetaHandler func(ctx context.Context, meta Meta, args []any) (any, error)

// Param describes one declared parameter of an operation, used both for
// binding and for the reflection control command.
type Param struct {
	Name       string
	Default    any
	HasDefault bool
}

// FuncDef is the invocable descriptor for one registered operation.
type FuncDef struct {
	name     string
	fn       Handler
	metaFn   MetaHandler
	params   []Param
	variadic bool
}

// Option configures a registration.
type Option func(*FuncDef)

// Args declares required parameters, in order.
func Args(names ...string) Option {
	return func(fd *FuncDef) {
		for _, n := range names {
			fd.params = append(fd.params, Param{Name: n})
		}
	}
}

// ArgDefault declares one optional parameter with its default value.
// Optional parameters must follow all required ones.
func ArgDefault(name string, def any) Option {
	return func(fd *FuncDef) {
		fd.params = append(fd.params, Param{Name: name, Default: def, HasDefault: true})
	}
}

// Variadic allows extra positional arguments beyond the declared parameters.
// The extras are appended after the bound ones.
func Variadic() Option {
	return func(fd *FuncDef) { fd.variadic = true }
}

// Builder accumulates registrations and produces an immutable Registry.
type Builder struct {
	funcs map[string]*FuncDef
	err   error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{funcs: make(map[string]*FuncDef)}
}

// Register exposes fn under name. Registration errors (duplicate name,
// reserved name, required parameter after an optional one) are deferred to
// Build so registrations can be chained.
func (b *Builder) Register(name string, fn Handler, opts ...Option) *Builder {
	fd := &FuncDef{name: name, fn: fn}
	return b.add(name, fd, opts)
}

// RegisterMeta exposes a meta-aware handler under name. The dispatcher
// constructs the Meta accessor from bracketed "__key__" entries of keyed
// params layered over the connection metadata.
func (b *Builder) RegisterMeta(name string, fn MetaHandler, opts ...Option) *Builder {
	fd := &FuncDef{name: name, metaFn: fn}
	return b.add(name, fd, opts)
}

func (b *Builder) add(name string, fd *FuncDef, opts []Option) *Builder {
	if b.err != nil {
		return b
	}
	for _, opt := range opts {
		opt(fd)
	}
	switch {
	case name == "":
		b.err = fmt.Errorf("registry: empty method name")
	case strings.HasPrefix(name, ControlPrefix):
		b.err = fmt.Errorf("registry: method name %q uses the reserved control prefix", name)
	case b.funcs[name] != nil:
		b.err = fmt.Errorf("registry: duplicate method %q", name)
	default:
		seenDefault := false
		for _, p := range fd.params {
			if p.HasDefault {
				seenDefault = true
			} else if seenDefault {
				b.err = fmt.Errorf("registry: method %q declares required parameter %q after an optional one", name, p.Name)
				return b
			}
		}
		b.funcs[name] = fd
	}
	return b
}

// Build returns the finished Registry. The Registry never loses or renames
// an entry afterwards.
func (b *Builder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	funcs := make(map[string]*FuncDef, len(b.funcs))
	for name, fd := range b.funcs {
		funcs[name] = fd
	}
	return &Registry{funcs: funcs}, nil
}

// Registry maps operation names to descriptors. Read-only after Build.
type Registry struct {
	funcs map[string]*FuncDef
}

// Resolve returns the descriptor for name. Names starting with
// ControlPrefix resolve against the built-in control commands.
func (r *Registry) Resolve(name string) (*FuncDef, error) {
	if cmd, ok := strings.CutPrefix(name, ControlPrefix); ok {
		return r.resolveControl(cmd)
	}
	fd, ok := r.funcs[name]
	if !ok {
		return nil, &DispatchError{Kind: KindUnknownMethod, Method: name, Detail: "no such method"}
	}
	return fd, nil
}

func (r *Registry) resolveControl(cmd string) (*FuncDef, error) {
	switch cmd {
	case "reflection":
		return &FuncDef{
			name: ControlPrefix + cmd,
			fn: func(ctx context.Context, args []any) (any, error) {
				return map[string]any{"methods": r.Describe()}, nil
			},
		}, nil
	default:
		return nil, &DispatchError{Kind: KindUnknownMethod, Method: ControlPrefix + cmd, Detail: "no such control command"}
	}
}

// Names returns the registered method names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns name → ordered parameter descriptors, each either a bare
// name or {"name": ..., "default": ...}. The value is built from plain Go
// types so it can go straight onto the wire.
func (r *Registry) Describe() map[string]any {
	methods := make(map[string]any, len(r.funcs))
	for name, fd := range r.funcs {
		descs := make([]any, 0, len(fd.params))
		for _, p := range fd.params {
			if p.HasDefault {
				descs = append(descs, map[string]any{"name": p.Name, "default": p.Default})
			} else {
				descs = append(descs, p.Name)
			}
		}
		methods[name] = descs
	}
	return methods
}
