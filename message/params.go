package message

// ParamsKind discriminates the shape of a message's params field.
type ParamsKind int

const (
	ParamsNone       ParamsKind = iota // params absent (nil on the wire)
	ParamsPositional                   // ordered list
	ParamsNamed                        // keyed mapping
	ParamsScalar                       // any other shape, passed as a single argument
)

// Params is the explicit tagged variant of an RPC parameter list.
// Exactly one of List, Map or Value is meaningful, selected by Kind.
type Params struct {
	Kind  ParamsKind
	List  []any
	Map   map[string]any
	Value any
}

// None returns the absent-params variant.
func None() Params {
	return Params{Kind: ParamsNone}
}

// Positional returns an ordered positional parameter list.
func Positional(args ...any) Params {
	return Params{Kind: ParamsPositional, List: args}
}

// Named returns a keyed parameter mapping.
func Named(kv map[string]any) Params {
	return Params{Kind: ParamsNamed, Map: kv}
}

// Scalar wraps a bare value that is neither a list nor a mapping;
// it binds as the handler's single argument.
func Scalar(v any) Params {
	return Params{Kind: ParamsScalar, Value: v}
}
