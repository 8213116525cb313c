package runtime

import (
	"reflect"
	"strings"
)

func registerBuiltinTests(env *Environment) {
	env.AddTest("defined", func(_ *Context, value any, _ Args) (bool, error) {
		_, undef := isUndefined(value)
		return !undef, nil
	})
	env.AddTest("undefined", func(_ *Context, value any, _ Args) (bool, error) {
		_, undef := isUndefined(value)
		return undef, nil
	})
	env.AddTest("none", func(_ *Context, value any, _ Args) (bool, error) {
		return value == nil, nil
	})
	env.AddTest("boolean", func(_ *Context, value any, _ Args) (bool, error) {
		_, ok := value.(bool)
		return ok, nil
	})
	env.AddTest("true", func(_ *Context, value any, _ Args) (bool, error) {
		b, ok := value.(bool)
		return ok && b, nil
	})
	env.AddTest("false", func(_ *Context, value any, _ Args) (bool, error) {
		b, ok := value.(bool)
		return ok && !b, nil
	})
	env.AddTest("string", func(_ *Context, value any, _ Args) (bool, error) {
		_, ok := stringValue(value)
		return ok, nil
	})
	env.AddTest("number", func(_ *Context, value any, _ Args) (bool, error) {
		return isNumber(value), nil
	})
	env.AddTest("integer", func(_ *Context, value any, _ Args) (bool, error) {
		return isInteger(value), nil
	})
	env.AddTest("float", func(_ *Context, value any, _ Args) (bool, error) {
		return isFloat(value), nil
	})
	env.AddTest("sequence", func(_ *Context, value any, _ Args) (bool, error) {
		if _, ok := stringValue(value); ok {
			return true, nil
		}
		switch reflect.ValueOf(value).Kind() {
		case reflect.Slice, reflect.Array:
			return true, nil
		}
		return false, nil
	})
	env.AddTest("mapping", func(_ *Context, value any, _ Args) (bool, error) {
		if value == nil {
			return false, nil
		}
		if _, ok := value.(*Namespace); ok {
			return true, nil
		}
		return reflect.ValueOf(value).Kind() == reflect.Map, nil
	})
	env.AddTest("iterable", func(_ *Context, value any, _ Args) (bool, error) {
		_, err := iterate(value)
		return err == nil, nil
	})
	env.AddTest("callable", func(_ *Context, value any, _ Args) (bool, error) {
		switch value.(type) {
		case *Macro, *Cycler, *Joiner, GlobalFunc, boundCallable:
			return true, nil
		}
		if value == nil {
			return false, nil
		}
		return reflect.ValueOf(value).Kind() == reflect.Func, nil
	})
	env.AddTest("sameas", func(_ *Context, value any, args Args) (bool, error) {
		other := args.Get(0, "other", nil)
		if value == nil || other == nil {
			return value == nil && other == nil, nil
		}
		va := reflect.ValueOf(value)
		vb := reflect.ValueOf(other)
		switch va.Kind() {
		case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func:
			return vb.Kind() == va.Kind() && va.Pointer() == vb.Pointer(), nil
		}
		return equal(value, other) && va.Type() == vb.Type(), nil
	})
	env.AddTest("divisibleby", func(_ *Context, value any, args Args) (bool, error) {
		n, ok := asInt(value)
		if !ok {
			return false, NewRuntimeError("divisibleby requires an integer, got %s", typeName(value))
		}
		d := args.Int(0, "num", 0)
		if d == 0 {
			return false, NewRuntimeError("divisibleby requires a non-zero divisor")
		}
		return n%d == 0, nil
	})
	env.AddTest("odd", func(_ *Context, value any, _ Args) (bool, error) {
		n, ok := asInt(value)
		if !ok {
			return false, NewRuntimeError("odd requires an integer, got %s", typeName(value))
		}
		return n%2 != 0, nil
	})
	env.AddTest("even", func(_ *Context, value any, _ Args) (bool, error) {
		n, ok := asInt(value)
		if !ok {
			return false, NewRuntimeError("even requires an integer, got %s", typeName(value))
		}
		return n%2 == 0, nil
	})
	env.AddTest("lower", func(_ *Context, value any, _ Args) (bool, error) {
		s, ok := stringValue(value)
		return ok && s == strings.ToLower(s), nil
	})
	env.AddTest("upper", func(_ *Context, value any, _ Args) (bool, error) {
		s, ok := stringValue(value)
		return ok && s == strings.ToUpper(s), nil
	})
	env.AddTest("in", func(_ *Context, value any, args Args) (bool, error) {
		return contains(args.Get(0, "seq", nil), value)
	})
	env.AddTest("escaped", func(_ *Context, value any, _ Args) (bool, error) {
		return isSafe(value), nil
	})

	// Comparison tests and their operator aliases.
	compareTest := func(ops ...func(int) bool) TestFunc {
		return func(_ *Context, value any, args Args) (bool, error) {
			other := args.Get(0, "other", nil)
			cmp, err := compareValues(value, other)
			if err != nil {
				return false, err
			}
			return ops[0](cmp), nil
		}
	}
	eq := func(_ *Context, value any, args Args) (bool, error) {
		return equal(value, args.Get(0, "other", nil)), nil
	}
	ne := func(_ *Context, value any, args Args) (bool, error) {
		return !equal(value, args.Get(0, "other", nil)), nil
	}
	lt := compareTest(func(c int) bool { return c < 0 })
	le := compareTest(func(c int) bool { return c <= 0 })
	gt := compareTest(func(c int) bool { return c > 0 })
	ge := compareTest(func(c int) bool { return c >= 0 })

	for name, fn := range map[string]TestFunc{
		"eq": eq, "equalto": eq, "==": eq,
		"ne": ne, "!=": ne,
		"lt": lt, "lessthan": lt, "<": lt,
		"le": le, "<=": le,
		"gt": gt, "greaterthan": gt, ">": gt,
		"ge": ge, ">=": ge,
	} {
		env.AddTest(name, fn)
	}
}
