package runtime

import (
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Args carries the evaluated arguments of a call, filter or test.
type Args struct {
	Positional []any
	Named      map[string]any
}

// Get returns the argument at position i or with the given keyword name,
// falling back to def.
func (a Args) Get(i int, name string, def any) any {
	if i >= 0 && i < len(a.Positional) {
		return a.Positional[i]
	}
	if name != "" {
		if v, ok := a.Named[name]; ok {
			return v
		}
	}
	return def
}

// Has reports whether the argument was provided.
func (a Args) Has(i int, name string) bool {
	if i >= 0 && i < len(a.Positional) {
		return true
	}
	_, ok := a.Named[name]
	return ok
}

// String coerces an argument to a string.
func (a Args) String(i int, name string, def string) string {
	v := a.Get(i, name, nil)
	if v == nil {
		return def
	}
	return str(v)
}

// Int coerces an argument to an integer.
func (a Args) Int(i int, name string, def int64) int64 {
	v := a.Get(i, name, nil)
	if v == nil {
		return def
	}
	if n, ok := asInt(v); ok {
		return n
	}
	if f, ok := asFloat(v); ok {
		return int64(f)
	}
	return def
}

// Bool coerces an argument to a boolean using template truthiness.
func (a Args) Bool(i int, name string, def bool) bool {
	v := a.Get(i, name, nil)
	if v == nil {
		return def
	}
	t, err := truth(v)
	if err != nil {
		return def
	}
	return t
}

// getAttr resolves dotted access on a value: mappings by key, runtime
// objects by their own protocol, host structs by field or method.
func getAttr(obj any, name string) (any, bool) {
	switch t := obj.(type) {
	case map[string]any:
		v, ok := t[name]
		return v, ok
	case *Namespace:
		return t.Get(name)
	case *Module:
		v, ok := t.vars[name]
		return v, ok
	case *Macro:
		return t.attr(name)
	case *loopState:
		return t.attr(name)
	case *Cycler:
		return t.attr(name)
	case *superRef:
		return t.attr(name)
	case *Joiner:
		return nil, false
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Map {
		kv := reflect.ValueOf(name)
		if kv.Type().AssignableTo(rv.Type().Key()) {
			if item := rv.MapIndex(kv); item.IsValid() {
				return item.Interface(), true
			}
		}
	}

	// Methods bind on the value as given, fields require a struct.
	if m := methodByName(rv, name); m.IsValid() {
		return m.Interface(), true
	}
	sv := rv
	for sv.Kind() == reflect.Ptr {
		if sv.IsNil() {
			return nil, false
		}
		sv = sv.Elem()
	}
	if sv.Kind() == reflect.Struct {
		if f := fieldByName(sv, name); f.IsValid() {
			return f.Interface(), true
		}
	}
	return nil, false
}

// fieldByName matches an exported field by exact name or by exporting the
// first rune, so templates can say user.name for the Go field Name.
func fieldByName(sv reflect.Value, name string) reflect.Value {
	if f := sv.FieldByName(name); f.IsValid() && isExportedName(name) {
		return f
	}
	title := exportName(name)
	if title != name {
		if f := sv.FieldByName(title); f.IsValid() {
			return f
		}
	}
	return reflect.Value{}
}

func methodByName(rv reflect.Value, name string) reflect.Value {
	if !rv.IsValid() {
		return reflect.Value{}
	}
	if isExportedName(name) {
		if m := rv.MethodByName(name); m.IsValid() {
			return m
		}
	}
	title := exportName(name)
	if title != name {
		if m := rv.MethodByName(title); m.IsValid() {
			return m
		}
	}
	return reflect.Value{}
}

func isExportedName(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

func exportName(name string) string {
	if name == "" {
		return name
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}

var (
	contextType = reflect.TypeOf((*Context)(nil))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// callAny invokes a template-visible callable: macros, runtime helpers,
// registered globals or arbitrary host functions via reflection.
func callAny(ctx *Context, ev *evaluator, fn any, args Args) (any, error) {
	switch f := fn.(type) {
	case nil:
		return nil, NewRuntimeError("value is not callable")
	case *Undefined:
		return nil, f.fail("is not callable")
	case *Macro:
		return f.invoke(ev, args)
	case *loopState:
		return f.recurse(args)
	case *Cycler:
		return f.Next(), nil
	case *Joiner:
		return f.Call(), nil
	case *superRef:
		return f.render(ev)
	case GlobalFunc:
		return f(ctx, args)
	case func(*Context, Args) (any, error):
		return f(ctx, args)
	}

	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return nil, NewRuntimeError("%s object is not callable", typeName(fn))
	}
	return reflectCall(ctx, rv, args)
}

// reflectCall adapts template arguments to a host function. The first
// parameter receives the context when typed *Context; keyword arguments are
// rejected because Go functions have no keyword protocol.
func reflectCall(ctx *Context, fn reflect.Value, args Args) (any, error) {
	if len(args.Named) > 0 {
		return nil, NewRuntimeError("host function does not accept keyword arguments")
	}
	ft := fn.Type()

	in := make([]reflect.Value, 0, ft.NumIn())
	pos := args.Positional
	paramIdx := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		in = append(in, reflect.ValueOf(ctx))
		paramIdx = 1
	}

	fixed := ft.NumIn()
	if ft.IsVariadic() {
		fixed--
	}
	for i := paramIdx; i < fixed; i++ {
		if len(pos) == 0 {
			return nil, NewRuntimeError("missing argument %d in call", i-paramIdx+1)
		}
		av, err := adaptArg(pos[0], ft.In(i))
		if err != nil {
			return nil, err
		}
		in = append(in, av)
		pos = pos[1:]
	}
	if ft.IsVariadic() {
		elem := ft.In(ft.NumIn() - 1).Elem()
		for _, p := range pos {
			av, err := adaptArg(p, elem)
			if err != nil {
				return nil, err
			}
			in = append(in, av)
		}
	} else if len(pos) > 0 {
		return nil, NewRuntimeError("too many arguments in call")
	}

	out := fn.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if ft.Out(0) == errorType {
			if !out[0].IsNil() {
				return nil, out[0].Interface().(error)
			}
			return nil, nil
		}
		return out[0].Interface(), nil
	default:
		if ft.Out(len(out)-1) == errorType && !out[len(out)-1].IsNil() {
			return nil, out[len(out)-1].Interface().(error)
		}
		return out[0].Interface(), nil
	}
}

func adaptArg(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(t) {
		k := t.Kind()
		// Only convert within families; string(int) style conversions would
		// silently corrupt values.
		switch {
		case isIntKind(k) && isNumberKind(rv.Kind()),
			isFloatKind(k) && isNumberKind(rv.Kind()),
			k == reflect.String && rv.Kind() == reflect.String:
			return rv.Convert(t), nil
		}
	}
	if t.Kind() == reflect.Interface && rv.Type().Implements(t) {
		return rv, nil
	}
	return reflect.Value{}, NewRuntimeError(
		"cannot use %s as %s in call", typeName(v), t.String())
}

func isIntKind(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Uint64
}

func isFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isNumberKind(k reflect.Kind) bool {
	return isIntKind(k) || isFloatKind(k)
}

// formatSignature renders a short callable description for error messages.
func formatSignature(name string, args []string) string {
	return name + "(" + strings.Join(args, ", ") + ")"
}
