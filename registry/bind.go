package registry

import (
	"context"
	"fmt"
	"strings"

	"peerrpc/message"
)

// Call binds params against the declared parameter shape and invokes the
// handler. connMeta is the connection's ambient metadata accessor; it backs
// any context key the caller did not supply explicitly. Binding failures
// surface as *DispatchError and are reported exactly like handler errors.
func (fd *FuncDef) Call(ctx context.Context, params message.Params, connMeta Meta) (any, error) {
	args, overlay, err := fd.bind(params)
	if err != nil {
		return nil, err
	}
	if fd.metaFn != nil {
		meta := connMeta
		if meta == nil {
			meta = MetaFunc(func(string) any { return nil })
		}
		if len(overlay) > 0 {
			meta = &overlayMeta{values: overlay, base: meta}
		}
		return fd.metaFn(ctx, meta, args)
	}
	return fd.fn(ctx, args)
}

// overlayMeta resolves keys from the caller-supplied context subset first,
// falling back to the connection metadata.
type overlayMeta struct {
	values map[string]any
	base   Meta
}

func (m *overlayMeta) Get(key string) any {
	if v, ok := m.values[key]; ok {
		return v
	}
	return m.base.Get(key)
}

func (fd *FuncDef) bind(params message.Params) (args []any, overlay map[string]any, err error) {
	switch params.Kind {
	case message.ParamsNone:
		args, err = fd.bindPositional(nil)
	case message.ParamsPositional:
		args, err = fd.bindPositional(params.List)
	case message.ParamsNamed:
		args, overlay, err = fd.bindNamed(params.Map)
	case message.ParamsScalar:
		args, err = fd.bindPositional([]any{params.Value})
	default:
		err = fd.bindingError("unrecognized params shape %d", params.Kind)
	}
	return args, overlay, err
}

func (fd *FuncDef) bindPositional(supplied []any) ([]any, error) {
	if len(supplied) > len(fd.params) && !fd.variadic {
		return nil, fd.bindingError("takes at most %d arguments, got %d", len(fd.params), len(supplied))
	}
	args := make([]any, 0, max(len(supplied), len(fd.params)))
	args = append(args, supplied...)
	// Fill the tail from declared defaults.
	for i := len(supplied); i < len(fd.params); i++ {
		p := fd.params[i]
		if !p.HasDefault {
			return nil, fd.bindingError("missing required argument %q", p.Name)
		}
		args = append(args, p.Default)
	}
	return args, nil
}

func (fd *FuncDef) bindNamed(supplied map[string]any) ([]any, map[string]any, error) {
	var overlay map[string]any
	byName := make(map[string]any, len(supplied))
	for key, v := range supplied {
		// Bracketed keys are metadata only for meta-aware handlers. For a
		// plain handler they bind like any other keyword, so a stray
		// "__key__" surfaces as an unknown-keyword error instead of
		// vanishing.
		if ctxKey, ok := metaKey(key); ok && fd.metaFn != nil {
			if overlay == nil {
				overlay = make(map[string]any)
			}
			overlay[ctxKey] = v
			continue
		}
		byName[key] = v
	}
	args := make([]any, 0, len(fd.params))
	for _, p := range fd.params {
		v, ok := byName[p.Name]
		if !ok {
			if !p.HasDefault {
				return nil, nil, fd.bindingError("missing required argument %q", p.Name)
			}
			v = p.Default
		}
		delete(byName, p.Name)
		args = append(args, v)
	}
	for key := range byName {
		return nil, nil, fd.bindingError("unknown keyword argument %q", key)
	}
	return args, overlay, nil
}

// metaKey reports whether a keyed-params key follows the "__key__" bracket
// convention, returning the key with the brackets stripped.
func metaKey(key string) (string, bool) {
	if len(key) > 4 && strings.HasPrefix(key, "__") && strings.HasSuffix(key, "__") {
		return key[2 : len(key)-2], true
	}
	return "", false
}

func (fd *FuncDef) bindingError(format string, args ...any) *DispatchError {
	return &DispatchError{Kind: KindBindingError, Method: fd.name, Detail: fmt.Sprintf(format, args...)}
}
