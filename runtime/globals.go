package runtime

import (
	"math/rand"
	"strings"
)

// Cycler cycles through a fixed set of values, advancing on each call.
type Cycler struct {
	items []any
	pos   int
}

// Next returns the current value and advances.
func (c *Cycler) Next() any {
	v := c.items[c.pos]
	c.pos = (c.pos + 1) % len(c.items)
	return v
}

// Reset rewinds to the first value.
func (c *Cycler) Reset() {
	c.pos = 0
}

func (c *Cycler) attr(name string) (any, bool) {
	switch name {
	case "next":
		return boundCallable(func(_ *evaluator, _ Args) (any, error) {
			return c.Next(), nil
		}), true
	case "reset":
		return boundCallable(func(_ *evaluator, _ Args) (any, error) {
			c.Reset()
			return nil, nil
		}), true
	case "current":
		return c.items[c.pos], true
	}
	return nil, false
}

// Joiner emits its separator on every call but the first; the usual comma
// helper for loops.
type Joiner struct {
	sep  string
	used bool
}

// Call returns "" the first time and the separator afterwards.
func (j *Joiner) Call() string {
	if !j.used {
		j.used = true
		return ""
	}
	return j.sep
}

var lipsumWords = strings.Fields(`lorem ipsum dolor sit amet consectetur
adipiscing elit sed do eiusmod tempor incididunt ut labore et dolore magna
aliqua enim ad minim veniam quis nostrud exercitation ullamco laboris nisi
aliquip ex ea commodo consequat duis aute irure in reprehenderit voluptate
velit esse cillum eu fugiat nulla pariatur excepteur sint occaecat cupidatat
non proident sunt culpa qui officia deserunt mollit anim id est laborum`)

func registerBuiltinGlobals(env *Environment) {
	env.AddGlobal("range", GlobalFunc(func(_ *Context, args Args) (any, error) {
		switch len(args.Positional) {
		case 1:
			stop, ok := asInt(args.Positional[0])
			if !ok {
				return nil, NewRuntimeError("range requires integer arguments")
			}
			return &rangeObject{start: 0, stop: stop, step: 1}, nil
		case 2, 3:
			start, ok1 := asInt(args.Positional[0])
			stop, ok2 := asInt(args.Positional[1])
			step := int64(1)
			ok3 := true
			if len(args.Positional) == 3 {
				step, ok3 = asInt(args.Positional[2])
			}
			if !ok1 || !ok2 || !ok3 {
				return nil, NewRuntimeError("range requires integer arguments")
			}
			if step == 0 {
				return nil, NewRuntimeError("range step must not be zero")
			}
			return &rangeObject{start: start, stop: stop, step: step}, nil
		default:
			return nil, NewRuntimeError("range expects 1 to 3 arguments")
		}
	}))

	env.AddGlobal("dict", GlobalFunc(func(_ *Context, args Args) (any, error) {
		out := make(map[string]any, len(args.Named))
		for k, v := range args.Named {
			out[k] = v
		}
		return out, nil
	}))

	env.AddGlobal("namespace", GlobalFunc(func(_ *Context, args Args) (any, error) {
		ns := NewNamespace()
		for _, pos := range args.Positional {
			m, ok := pos.(map[string]any)
			if !ok {
				return nil, NewRuntimeError("namespace positional arguments must be mappings")
			}
			for k, v := range m {
				ns.Set(k, v)
			}
		}
		for k, v := range args.Named {
			ns.Set(k, v)
		}
		return ns, nil
	}))

	env.AddGlobal("cycler", GlobalFunc(func(_ *Context, args Args) (any, error) {
		if len(args.Positional) == 0 {
			return nil, NewRuntimeError("cycler requires at least one value")
		}
		return &Cycler{items: append([]any(nil), args.Positional...)}, nil
	}))

	env.AddGlobal("joiner", GlobalFunc(func(_ *Context, args Args) (any, error) {
		return &Joiner{sep: args.String(0, "sep", ", ")}, nil
	}))

	env.AddGlobal("lipsum", GlobalFunc(func(ctx *Context, args Args) (any, error) {
		paragraphs := int(args.Int(0, "n", 5))
		html := args.Bool(1, "html", true)
		minWords := int(args.Int(2, "min", 20))
		maxWords := int(args.Int(3, "max", 100))
		if minWords <= 0 {
			minWords = 1
		}
		if maxWords < minWords {
			maxWords = minWords
		}

		out := make([]string, 0, paragraphs)
		for i := 0; i < paragraphs; i++ {
			count := minWords + rand.Intn(maxWords-minWords+1)
			words := make([]string, count)
			for j := range words {
				words[j] = lipsumWords[rand.Intn(len(lipsumWords))]
			}
			words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
			out = append(out, strings.Join(words, " ")+".")
		}
		if html {
			return Markup("<p>" + strings.Join(out, "</p>\n\n<p>") + "</p>"), nil
		}
		return strings.Join(out, "\n\n"), nil
	}))

	gettext := GlobalFunc(func(ctx *Context, args Args) (any, error) {
		if len(args.Positional) == 0 {
			return nil, NewRuntimeError("gettext requires a message")
		}
		message := str(args.Positional[0])
		if fn := ctx.Environment().gettext; fn != nil {
			message = fn(message)
		}
		return interpolateMessage(message, args.Named, ctx.Autoescape())
	})
	env.AddGlobal("_", gettext)
	env.AddGlobal("gettext", gettext)

	env.AddGlobal("ngettext", GlobalFunc(func(ctx *Context, args Args) (any, error) {
		if len(args.Positional) < 3 {
			return nil, NewRuntimeError("ngettext requires singular, plural and count")
		}
		singular := str(args.Positional[0])
		plural := str(args.Positional[1])
		n, _ := asInt(args.Positional[2])

		var message string
		if fn := ctx.Environment().ngettext; fn != nil {
			message = fn(singular, plural, n)
		} else if n == 1 {
			message = singular
		} else {
			message = plural
		}
		params := map[string]any{"num": n}
		for k, v := range args.Named {
			params[k] = v
		}
		return interpolateMessage(message, params, ctx.Autoescape())
	}))
}
