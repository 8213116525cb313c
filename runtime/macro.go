package runtime

import (
	"fmt"

	"github.com/ketju/ginja/nodes"
)

// Macro is a parameterized template fragment callable from expressions. It
// is bound to its defining scope; defaults are evaluated at definition
// time.
type Macro struct {
	name     string
	args     []string
	defaults []any // right-aligned against args
	body     []nodes.Stmt
	defFrame *frame
	defName  string // template the macro was defined in
}

// makeMacro builds a macro value closed over the current frame, evaluating
// the default expressions now.
func (ev *evaluator) makeMacro(name string, args []string, defaultExprs []nodes.Expr, body []nodes.Stmt) (*Macro, error) {
	defaults := make([]any, 0, len(defaultExprs))
	for _, expr := range defaultExprs {
		v, err := ev.evalExpr(expr)
		if err != nil {
			return nil, err
		}
		defaults = append(defaults, v)
	}
	return &Macro{
		name:     name,
		args:     args,
		defaults: defaults,
		body:     body,
		defFrame: ev.ctx.current,
		defName:  ev.ctx.name,
	}, nil
}

func (m *Macro) String() string {
	return fmt.Sprintf("<macro %s>", formatSignature(m.name, m.args))
}

// attr exposes the macro's introspection surface.
func (m *Macro) attr(name string) (any, bool) {
	switch name {
	case "name":
		return m.name, true
	case "arguments":
		args := make([]any, len(m.args))
		for i, a := range m.args {
			args[i] = a
		}
		return args, true
	case "defaults":
		return append([]any(nil), m.defaults...), true
	case "catch_varargs":
		return true, true
	case "catch_kwargs":
		return true, true
	case "caller":
		for _, a := range m.args {
			if a == "caller" {
				return true, true
			}
		}
		return false, true
	}
	return nil, false
}

func (m *Macro) declares(name string) bool {
	for _, a := range m.args {
		if a == name {
			return true
		}
	}
	return false
}

// invoke calls the macro without a call block. An explicit caller keyword
// is only accepted when the macro declares caller as a formal argument with
// a default value.
func (m *Macro) invoke(ev *evaluator, args Args) (any, error) {
	if _, ok := args.Named["caller"]; ok {
		hasDefault := false
		for i, a := range m.args {
			if a == "caller" && i >= len(m.args)-len(m.defaults) {
				hasDefault = true
			}
		}
		if !hasDefault {
			return nil, &Error{
				Kind:    KindMacro,
				Message: fmt.Sprintf("macro %q takes no keyword argument \"caller\"", m.name),
			}
		}
	}
	return m.call(ev, args, nil)
}

// invokeWithCaller calls the macro from a {% call %} block.
func (m *Macro) invokeWithCaller(ev *evaluator, args Args, caller *Macro) (any, error) {
	return m.call(ev, args, caller)
}

func (m *Macro) call(ev *evaluator, args Args, caller *Macro) (any, error) {
	savedFrame := ev.ctx.current
	savedName := ev.ctx.name
	ev.ctx.current = newFrame(m.defFrame)
	ev.ctx.name = m.defName
	defer func() {
		ev.ctx.current = savedFrame
		ev.ctx.name = savedName
	}()

	named := make(map[string]any, len(args.Named))
	for k, v := range args.Named {
		named[k] = v
	}
	if caller != nil {
		named["caller"] = caller
	}

	positional := args.Positional
	firstDefault := len(m.args) - len(m.defaults)
	for i, name := range m.args {
		switch {
		case i < len(positional):
			if _, dup := named[name]; dup && name != "caller" {
				return nil, &Error{
					Kind:    KindMacro,
					Message: fmt.Sprintf("macro %q got multiple values for argument %q", m.name, name),
				}
			}
			ev.ctx.current.vars[name] = positional[i]
		default:
			if v, ok := named[name]; ok {
				ev.ctx.current.vars[name] = v
				delete(named, name)
				continue
			}
			if i >= firstDefault {
				ev.ctx.current.vars[name] = m.defaults[i-firstDefault]
				continue
			}
			return nil, &Error{
				Kind:    KindMacro,
				Message: fmt.Sprintf("macro %q missing required argument %q", m.name, name),
			}
		}
	}

	var varargs []any
	if len(positional) > len(m.args) {
		varargs = append(varargs, positional[len(m.args):]...)
	}
	ev.ctx.current.vars["varargs"] = varargs

	kwargs := make(map[string]any)
	for k, v := range named {
		if k == "caller" {
			ev.ctx.current.vars["caller"] = v
			continue
		}
		kwargs[k] = v
	}
	ev.ctx.current.vars["kwargs"] = kwargs

	out, err := ev.renderToString(func() error { return ev.execStmts(m.body) })
	if err != nil {
		return nil, err
	}
	if ev.ctx.autoescape {
		return Markup(out), nil
	}
	return out, nil
}
