package runtime

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
)

func registerNumericFilters(env *Environment) {
	env.AddFilter("abs", func(_ *Context, value any, _ Args) (any, error) {
		if isInteger(value) {
			n, _ := asInt(value)
			if n < 0 {
				return -n, nil
			}
			return n, nil
		}
		if f, ok := asFloat(value); ok {
			return math.Abs(f), nil
		}
		return nil, NewRuntimeError("abs requires a number, got %s", typeName(value))
	})

	env.AddFilter("round", func(_ *Context, value any, args Args) (any, error) {
		f, ok := asFloat(value)
		if !ok {
			return nil, NewRuntimeError("round requires a number, got %s", typeName(value))
		}
		precision := args.Int(0, "precision", 0)
		method := args.String(1, "method", "common")
		factor := math.Pow(10, float64(precision))

		var rounded float64
		switch method {
		case "common":
			rounded = math.Round(f*factor) / factor
		case "ceil":
			rounded = math.Ceil(f*factor) / factor
		case "floor":
			rounded = math.Floor(f*factor) / factor
		default:
			return nil, NewRuntimeError("round method must be common, ceil or floor")
		}
		return rounded, nil
	})

	env.AddFilter("int", func(_ *Context, value any, args Args) (any, error) {
		def := args.Int(0, "default", 0)
		base := int(args.Int(1, "base", 10))
		switch t := value.(type) {
		case string:
			return parseIntLiteral(t, base, def), nil
		case Markup:
			return parseIntLiteral(string(t), base, def), nil
		}
		if isInteger(value) {
			n, _ := asInt(value)
			return n, nil
		}
		if f, ok := asFloat(value); ok {
			return int64(f), nil
		}
		if b, ok := value.(bool); ok {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return def, nil
	})

	env.AddFilter("float", func(_ *Context, value any, args Args) (any, error) {
		def := args.Get(0, "default", float64(0))
		if f, ok := asFloat(value); ok {
			return f, nil
		}
		if s, ok := stringValue(value); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, nil
			}
		}
		if f, ok := asFloat(def); ok {
			return f, nil
		}
		return float64(0), nil
	})

	env.AddFilter("filesizeformat", func(_ *Context, value any, args Args) (any, error) {
		f, ok := asFloat(value)
		if !ok {
			if s, sok := stringValue(value); sok {
				parsed, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return nil, NewRuntimeError("filesizeformat requires a number")
				}
				f = parsed
			} else {
				return nil, NewRuntimeError("filesizeformat requires a number, got %s", typeName(value))
			}
		}
		binary := args.Bool(0, "binary", false)

		base := float64(1000)
		units := []string{"kB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}
		if binary {
			base = 1024
			units = []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB", "ZiB", "YiB"}
		}
		size := math.Abs(f)
		if size < base {
			unit := "Bytes"
			if size == 1 {
				unit = "Byte"
			}
			return fmt.Sprintf("%d %s", int64(f), unit), nil
		}
		for i, unit := range units {
			limit := math.Pow(base, float64(i+2))
			if size < limit || i == len(units)-1 {
				return fmt.Sprintf("%.1f %s", base*f/limit, unit), nil
			}
		}
		return str(value), nil
	})
}

func parseIntLiteral(s string, base int, def int64) int64 {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "0x"):
		base, s = 16, s[2:]
	case strings.HasPrefix(lower, "0o"):
		base, s = 8, s[2:]
	case strings.HasPrefix(lower, "0b"):
		base, s = 2, s[2:]
	}
	if n, err := strconv.ParseInt(s, base, 64); err == nil {
		return n
	}
	// Degrade like int("42.0") would through a float.
	if f, err := strconv.ParseFloat(s, 64); err == nil && base == 10 {
		return int64(f)
	}
	return def
}

// JSONDumpsFunc matches the json.dumps_function policy: it replaces the
// built-in serializer for the tojson filter.
type JSONDumpsFunc func(value any, kwargs map[string]any) (string, error)

func registerMiscFilters(env *Environment) {
	env.AddFilter("tojson", func(ctx *Context, value any, args Args) (any, error) {
		envr := ctx.Environment()
		kwargs := map[string]any{}
		if m, ok := envr.Policy(PolicyJSONDumpsKwargs).(map[string]any); ok {
			for k, v := range m {
				kwargs[k] = v
			}
		}
		for k, v := range args.Named {
			kwargs[k] = v
		}

		if fn, ok := envr.Policy(PolicyJSONDumpsFunc).(JSONDumpsFunc); ok && fn != nil {
			out, err := fn(value, kwargs)
			if err != nil {
				return nil, err
			}
			return Markup(out), nil
		}

		var data []byte
		var err error
		if indent, ok := asInt(args.Get(0, "indent", kwargs["indent"])); ok && indent > 0 {
			data, err = json.MarshalIndent(jsonReady(value), "", strings.Repeat(" ", int(indent)))
		} else {
			data, err = json.Marshal(jsonReady(value))
		}
		if err != nil {
			return nil, err
		}
		// json.Marshal already escapes <, > and & for HTML safety.
		return Markup(data), nil
	})

	env.AddFilter("pprint", func(_ *Context, value any, _ Args) (any, error) {
		return repr(value), nil
	})

	env.AddFilter("xmlattr", func(ctx *Context, value any, args Args) (any, error) {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, NewRuntimeError("xmlattr requires a mapping, got %s", typeName(value))
		}
		autospace := args.Bool(0, "autospace", true)

		var parts []string
		for _, k := range sortedKeys(m) {
			v := m[k]
			if v == nil {
				continue
			}
			if u, ok := isUndefined(v); ok && u.Kind != UndefinedStrict {
				continue
			}
			if strings.ContainsAny(k, " \t\n/>=\"'") {
				return nil, NewRuntimeError("invalid character in attribute name %q", k)
			}
			parts = append(parts, fmt.Sprintf("%s=\"%s\"", k, EscapeString(str(v))))
		}
		out := strings.Join(parts, " ")
		if autospace && out != "" {
			out = " " + out
		}
		return Markup(out), nil
	})

	env.AddFilter("attr", func(ctx *Context, value any, args Args) (any, error) {
		if len(args.Positional) == 0 {
			return nil, NewRuntimeError("attr requires an attribute name")
		}
		name := str(args.Positional[0])
		envr := ctx.Environment()
		if envr.sandboxed {
			if !envr.IsSafeAttribute(value, name, nil) {
				return nil, &SecurityError{Operation: "access to attribute", Target: name}
			}
		}
		if v, ok := getAttr(value, name); ok {
			return v, nil
		}
		return envr.undefined(name, "", value), nil
	})

	defaultFilter := func(_ *Context, value any, args Args) (any, error) {
		def := args.Get(0, "default_value", "")
		boolean := args.Bool(1, "boolean", false)
		if _, ok := isUndefined(value); ok {
			return def, nil
		}
		if boolean {
			t, err := truth(value)
			if err != nil {
				return nil, err
			}
			if !t {
				return def, nil
			}
		}
		return value, nil
	}
	env.AddFilter("default", defaultFilter)
	env.AddFilter("d", defaultFilter)

	env.AddFilter("random", func(_ *Context, value any, _ Args) (any, error) {
		items, err := toList(value)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, NewRuntimeError("cannot choose from an empty sequence")
		}
		return items[rand.Intn(len(items))], nil
	})
}

// jsonReady converts runtime-only values into encodable forms.
func jsonReady(v any) any {
	switch t := v.(type) {
	case Markup:
		return string(t)
	case *Undefined:
		return nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = jsonReady(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = jsonReady(item)
		}
		return out
	}
	return v
}
