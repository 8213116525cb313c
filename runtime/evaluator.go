package runtime

import (
	"math"
	"strings"

	"github.com/ketju/ginja/nodes"
)

// evaluator walks the AST against a context, writing output to a sink.
// Dispatch is a tagged match over the closed node sum.
type evaluator struct {
	env    *Environment
	ctx    *Context
	out    valueSink
	native bool
}

func newEvaluator(env *Environment, ctx *Context, out valueSink) *evaluator {
	return &evaluator{env: env, ctx: ctx, out: out}
}

// boundCallable is an internal callable closed over evaluator state, used
// for super() and similar render-scoped functions.
type boundCallable func(ev *evaluator, args Args) (any, error)

// withSink temporarily redirects output, used to capture block and macro
// bodies.
func (ev *evaluator) withSink(sink valueSink, fn func() error) error {
	saved := ev.out
	ev.out = sink
	err := fn()
	ev.out = saved
	return err
}

// renderToString captures the output of fn as a string.
func (ev *evaluator) renderToString(fn func() error) (string, error) {
	sink := &stringSink{}
	if err := ev.withSink(sink, fn); err != nil {
		return "", err
	}
	return sink.b.String(), nil
}

func (ev *evaluator) undef(name, hint string, owner any) *Undefined {
	return ev.env.undefined(name, hint, owner)
}

// evalExpr evaluates one expression node.
func (ev *evaluator) evalExpr(e nodes.Expr) (any, error) {
	switch t := e.(type) {
	case *nodes.Const:
		return t.Value, nil

	case *nodes.Name:
		if v, ok := ev.ctx.Resolve(t.Name); ok {
			return v, nil
		}
		return ev.undef(t.Name, "", nil), nil

	case *nodes.Tuple:
		return ev.evalList(t.Items)
	case *nodes.List:
		return ev.evalList(t.Items)

	case *nodes.Dict:
		out := make(map[string]any, len(t.Pairs))
		for _, pair := range t.Pairs {
			k, err := ev.evalExpr(pair.Key)
			if err != nil {
				return nil, err
			}
			v, err := ev.evalExpr(pair.Value)
			if err != nil {
				return nil, err
			}
			out[str(k)] = v
		}
		return out, nil

	case *nodes.Unary:
		return ev.evalUnary(t)
	case *nodes.Binary:
		return ev.evalBinary(t)
	case *nodes.Compare:
		return ev.evalCompare(t)
	case *nodes.Concat:
		return ev.evalConcat(t)
	case *nodes.CondExpr:
		return ev.evalCondExpr(t)
	case *nodes.Call:
		return ev.evalCall(t)
	case *nodes.Filter:
		return ev.evalFilter(t, nil)
	case *nodes.Test:
		return ev.evalTest(t)
	case *nodes.Getattr:
		return ev.evalGetattr(t)
	case *nodes.Getitem:
		return ev.evalGetitem(t)

	case *nodes.MarkSafe:
		v, err := ev.evalExpr(t.Node)
		if err != nil {
			return nil, err
		}
		return Markup(str(v)), nil

	case *nodes.Slice:
		return nil, withPosition(NewRuntimeError("slice outside subscript"), ev.ctx.name, t.Position())
	}
	return nil, NewRuntimeError("cannot evaluate node %T", e)
}

func (ev *evaluator) evalList(items []nodes.Expr) ([]any, error) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		v, err := ev.evalExpr(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (ev *evaluator) evalUnary(t *nodes.Unary) (any, error) {
	v, err := ev.evalExpr(t.Node)
	if err != nil {
		return nil, err
	}
	if ev.env.interceptedOps[t.Op] && ev.env.unopHook != nil {
		return ev.env.unopHook(t.Op, v)
	}
	switch t.Op {
	case "not":
		tv, err := truth(v)
		if err != nil {
			return nil, withPosition(err, ev.ctx.name, t.Position())
		}
		return !tv, nil
	case "-":
		if u, ok := isUndefined(v); ok {
			return nil, withPosition(u.fail("cannot be negated"), ev.ctx.name, t.Position())
		}
		if i, ok := asInt(v); ok && isInteger(v) {
			return -i, nil
		}
		if f, ok := asFloat(v); ok {
			return -f, nil
		}
		return nil, withPosition(NewRuntimeError("bad operand type for unary -: %s", typeName(v)), ev.ctx.name, t.Position())
	case "+":
		if isNumber(v) {
			return v, nil
		}
		return nil, withPosition(NewRuntimeError("bad operand type for unary +: %s", typeName(v)), ev.ctx.name, t.Position())
	}
	return nil, NewRuntimeError("unknown unary operator %q", t.Op)
}

func (ev *evaluator) evalBinary(t *nodes.Binary) (any, error) {
	switch t.Op {
	case "and":
		left, err := ev.evalExpr(t.Left)
		if err != nil {
			return nil, err
		}
		lt, err := truth(left)
		if err != nil {
			return nil, withPosition(err, ev.ctx.name, t.Position())
		}
		if !lt {
			return left, nil
		}
		return ev.evalExpr(t.Right)
	case "or":
		left, err := ev.evalExpr(t.Left)
		if err != nil {
			return nil, err
		}
		lt, err := truth(left)
		if err != nil {
			return nil, withPosition(err, ev.ctx.name, t.Position())
		}
		if lt {
			return left, nil
		}
		return ev.evalExpr(t.Right)
	}

	left, err := ev.evalExpr(t.Left)
	if err != nil {
		return nil, err
	}
	right, err := ev.evalExpr(t.Right)
	if err != nil {
		return nil, err
	}
	if ev.env.interceptedOps[t.Op] && ev.env.binopHook != nil {
		return ev.env.binopHook(t.Op, left, right)
	}
	v, err := binaryOp(t.Op, left, right)
	if err != nil {
		return nil, withPosition(err, ev.ctx.name, t.Position())
	}
	return v, nil
}

// binaryOp applies an arithmetic operator, honouring undefined propagation:
// lenient undefineds are neutral for +/- and absorbing for the other
// operators; strict undefineds fail.
func binaryOp(op string, left, right any) (any, error) {
	if u, ok := isUndefined(left); ok {
		return undefinedArith(op, u, right)
	}
	if u, ok := isUndefined(right); ok {
		return undefinedArith(op, u, left)
	}

	if op == "+" {
		// Sequence and string addition before the numeric tower.
		if ls, ok := stringValue(left); ok {
			rs, ok := stringValue(right)
			if !ok {
				return nil, NewRuntimeError("cannot add str and %s", typeName(right))
			}
			if isSafe(left) && isSafe(right) {
				return Markup(ls + rs), nil
			}
			if isSafe(left) {
				return Markup(ls + EscapeString(rs)), nil
			}
			if isSafe(right) {
				return Markup(EscapeString(ls) + rs), nil
			}
			return ls + rs, nil
		}
		if ll, ok := left.([]any); ok {
			rl, err := toList(right)
			if err != nil {
				return nil, NewRuntimeError("cannot add list and %s", typeName(right))
			}
			out := make([]any, 0, len(ll)+len(rl))
			out = append(out, ll...)
			out = append(out, rl...)
			return out, nil
		}
	}
	if op == "*" {
		// String and sequence repetition.
		if s, ok := stringValue(left); ok {
			if n, ok := asInt(right); ok {
				return strings.Repeat(s, clampRepeat(n)), nil
			}
		}
		if n, ok := asInt(left); ok {
			if s, ok := stringValue(right); ok {
				return strings.Repeat(s, clampRepeat(n)), nil
			}
		}
		if ll, ok := left.([]any); ok {
			if n, ok := asInt(right); ok {
				out := make([]any, 0, len(ll)*clampRepeat(n))
				for i := 0; i < clampRepeat(n); i++ {
					out = append(out, ll...)
				}
				return out, nil
			}
		}
	}

	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if !lok || !rok {
		return nil, NewRuntimeError("unsupported operand types for %s: %s and %s",
			op, typeName(left), typeName(right))
	}
	bothInts := isInteger(left) && isInteger(right)

	switch op {
	case "+":
		if bothInts {
			li, _ := asInt(left)
			ri, _ := asInt(right)
			return li + ri, nil
		}
		return lf + rf, nil
	case "-":
		if bothInts {
			li, _ := asInt(left)
			ri, _ := asInt(right)
			return li - ri, nil
		}
		return lf - rf, nil
	case "*":
		if bothInts {
			li, _ := asInt(left)
			ri, _ := asInt(right)
			return li * ri, nil
		}
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, NewRuntimeError("division by zero")
		}
		return lf / rf, nil
	case "//":
		if rf == 0 {
			return nil, NewRuntimeError("division by zero")
		}
		fl := math.Floor(lf / rf)
		if bothInts {
			return int64(fl), nil
		}
		return fl, nil
	case "%":
		if rf == 0 {
			return nil, NewRuntimeError("modulo by zero")
		}
		m := math.Mod(lf, rf)
		if m != 0 && (m < 0) != (rf < 0) {
			m += rf
		}
		if bothInts {
			return int64(m), nil
		}
		return m, nil
	case "**":
		r := math.Pow(lf, rf)
		if bothInts && rf >= 0 && r == math.Trunc(r) && math.Abs(r) < 1<<62 {
			return int64(r), nil
		}
		return r, nil
	}
	return nil, NewRuntimeError("unknown operator %q", op)
}

func clampRepeat(n int64) int {
	if n < 0 {
		return 0
	}
	return int(n)
}

func undefinedArith(op string, u *Undefined, other any) (any, error) {
	if u.Kind == UndefinedStrict {
		return nil, u.fail("cannot be used in arithmetic")
	}
	switch op {
	case "+", "-":
		return other, nil
	default:
		return u, nil
	}
}

func (ev *evaluator) evalCompare(t *nodes.Compare) (any, error) {
	left, err := ev.evalExpr(t.Expr)
	if err != nil {
		return nil, err
	}
	for _, op := range t.Ops {
		right, err := ev.evalExpr(op.Expr)
		if err != nil {
			return nil, err
		}
		ok, err := ev.compareOnce(op.Op, left, right)
		if err != nil {
			return nil, withPosition(err, ev.ctx.name, t.Position())
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

func (ev *evaluator) compareOnce(op string, left, right any) (bool, error) {
	if u, ok := isUndefined(left); ok {
		if u.Kind == UndefinedStrict {
			return false, u.fail("cannot be compared")
		}
		if op == "==" || op == "!=" {
			eq := equal(left, right)
			return (op == "==") == eq, nil
		}
		return false, nil
	}
	if u, ok := isUndefined(right); ok {
		if u.Kind == UndefinedStrict {
			return false, u.fail("cannot be compared")
		}
		if op == "==" || op == "!=" {
			eq := equal(left, right)
			return (op == "==") == eq, nil
		}
		return false, nil
	}

	switch op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "in":
		return contains(right, left)
	case "notin":
		ok, err := contains(right, left)
		return !ok, err
	default:
		cmp, err := compareValues(left, right)
		if err != nil {
			return false, err
		}
		switch op {
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		case ">=":
			return cmp >= 0, nil
		}
	}
	return false, NewRuntimeError("unknown comparison operator %q", op)
}

// evalConcat implements "~": every operand stringifies; if any operand is
// safe markup, plain operands are escaped and the result stays safe.
func (ev *evaluator) evalConcat(t *nodes.Concat) (any, error) {
	values := make([]any, 0, len(t.Nodes))
	anySafe := false
	for _, node := range t.Nodes {
		v, err := ev.evalExpr(node)
		if err != nil {
			return nil, err
		}
		if isSafe(v) {
			anySafe = true
		}
		values = append(values, v)
	}

	var b strings.Builder
	for _, v := range values {
		if u, ok := isUndefined(v); ok {
			s, err := u.Str()
			if err != nil {
				return nil, withPosition(err, ev.ctx.name, t.Position())
			}
			b.WriteString(s)
			continue
		}
		if anySafe && !isSafe(v) {
			b.WriteString(EscapeString(str(v)))
		} else {
			b.WriteString(str(v))
		}
	}
	if anySafe {
		return Markup(b.String()), nil
	}
	return b.String(), nil
}

func (ev *evaluator) evalCondExpr(t *nodes.CondExpr) (any, error) {
	cond, err := ev.evalExpr(t.Test)
	if err != nil {
		return nil, err
	}
	tv, err := truth(cond)
	if err != nil {
		return nil, withPosition(err, ev.ctx.name, t.Position())
	}
	if tv {
		return ev.evalExpr(t.Then)
	}
	if t.Else != nil {
		return ev.evalExpr(t.Else)
	}
	// A missing else branch is lenient regardless of the environment's
	// undefined policy.
	return LenientUndefined("", "the inline if-expression evaluated to false and no else section was defined", nil), nil
}

// evalArgs evaluates a call node's arguments into an Args value.
func (ev *evaluator) evalArgs(args []nodes.Expr, kwargs []nodes.Keyword, dynArgs, dynKwargs nodes.Expr) (Args, error) {
	out := Args{}
	for _, a := range args {
		v, err := ev.evalExpr(a)
		if err != nil {
			return out, err
		}
		out.Positional = append(out.Positional, v)
	}
	if dynArgs != nil {
		v, err := ev.evalExpr(dynArgs)
		if err != nil {
			return out, err
		}
		items, err := toList(v)
		if err != nil {
			return out, err
		}
		out.Positional = append(out.Positional, items...)
	}
	if len(kwargs) > 0 || dynKwargs != nil {
		out.Named = make(map[string]any, len(kwargs))
	}
	for _, kw := range kwargs {
		v, err := ev.evalExpr(kw.Value)
		if err != nil {
			return out, err
		}
		out.Named[kw.Key] = v
	}
	if dynKwargs != nil {
		v, err := ev.evalExpr(dynKwargs)
		if err != nil {
			return out, err
		}
		m, ok := v.(map[string]any)
		if !ok {
			return out, NewRuntimeError("** argument must be a mapping, got %s", typeName(v))
		}
		for k, val := range m {
			out.Named[k] = val
		}
	}
	return out, nil
}

func (ev *evaluator) evalCall(t *nodes.Call) (any, error) {
	fn, err := ev.evalExpr(t.Node)
	if err != nil {
		return nil, err
	}
	args, err := ev.evalArgs(t.Args, t.Kwargs, t.DynArgs, t.DynKwargs)
	if err != nil {
		return nil, err
	}
	if ev.env.sandboxed {
		if err := ev.checkSafeCallable(fn); err != nil {
			return nil, withPosition(err, ev.ctx.name, t.Position())
		}
	}
	if bc, ok := fn.(boundCallable); ok {
		v, err := bc(ev, args)
		return v, withPosition(err, ev.ctx.name, t.Position())
	}
	v, err := callAny(ev.ctx, ev, fn, args)
	if err != nil {
		return nil, withPosition(err, ev.ctx.name, t.Position())
	}
	return v, nil
}

// evalFilter applies a filter node. When piped is non-nil it supplies the
// value for a nil Node (filter and set blocks).
func (ev *evaluator) evalFilter(t *nodes.Filter, piped any) (any, error) {
	var value any
	var err error
	switch {
	case t.Node != nil:
		if inner, ok := t.Node.(*nodes.Filter); ok {
			value, err = ev.evalFilter(inner, piped)
		} else {
			value, err = ev.evalExpr(t.Node)
		}
	default:
		value = piped
	}
	if err != nil {
		return nil, err
	}

	fn, ok := ev.env.Filter(t.Name)
	if !ok {
		return nil, withPosition(NewRuntimeError("no filter named %q", t.Name), ev.ctx.name, t.Position())
	}
	args, err := ev.evalArgs(t.Args, t.Kwargs, nil, nil)
	if err != nil {
		return nil, err
	}
	out, err := fn(ev.ctx, value, args)
	if err != nil {
		if _, ok := err.(*Error); !ok {
			err = &Error{Kind: KindFilter, Message: t.Name + ": " + err.Error(), Cause: err}
		}
		return nil, withPosition(err, ev.ctx.name, t.Position())
	}
	return out, nil
}

func (ev *evaluator) evalTest(t *nodes.Test) (any, error) {
	fn, ok := ev.env.Test(t.Name)
	if !ok {
		return nil, withPosition(NewRuntimeError("no test named %q", t.Name), ev.ctx.name, t.Position())
	}
	value, err := ev.evalExpr(t.Node)
	if err != nil {
		return nil, err
	}
	args, err := ev.evalArgs(t.Args, t.Kwargs, nil, nil)
	if err != nil {
		return nil, err
	}
	out, err := fn(ev.ctx, value, args)
	if err != nil {
		if _, ok := err.(*Error); !ok {
			err = &Error{Kind: KindTest, Message: t.Name + ": " + err.Error(), Cause: err}
		}
		return nil, withPosition(err, ev.ctx.name, t.Position())
	}
	if t.Negated {
		return !out, nil
	}
	return out, nil
}

// evalGetattr implements dotted access: attribute first, then item lookup.
func (ev *evaluator) evalGetattr(t *nodes.Getattr) (any, error) {
	obj, err := ev.evalExpr(t.Node)
	if err != nil {
		return nil, err
	}
	if u, ok := isUndefined(obj); ok {
		if u.Kind == UndefinedChainable {
			return &Undefined{Kind: UndefinedChainable, Name: t.Attr, Owner: obj}, nil
		}
		return nil, withPosition(u.fail("has no attribute "+t.Attr), ev.ctx.name, t.Position())
	}
	if ev.env.sandboxed {
		if err := ev.checkSafeAttribute(obj, t.Attr); err != nil {
			return nil, withPosition(err, ev.ctx.name, t.Position())
		}
	}

	if v, ok := getAttr(obj, t.Attr); ok {
		return v, nil
	}
	if v, ok, err := getItem(obj, t.Attr); err == nil && ok {
		return v, nil
	}
	return ev.undef(t.Attr, "", obj), nil
}

// evalGetitem implements subscript access: item first, then attribute.
func (ev *evaluator) evalGetitem(t *nodes.Getitem) (any, error) {
	obj, err := ev.evalExpr(t.Node)
	if err != nil {
		return nil, err
	}

	if sl, ok := t.Index.(*nodes.Slice); ok {
		return ev.evalSliceOn(obj, sl)
	}
	index, err := ev.evalExpr(t.Index)
	if err != nil {
		return nil, err
	}
	if u, ok := isUndefined(obj); ok {
		if u.Kind == UndefinedChainable {
			return &Undefined{Kind: UndefinedChainable, Name: str(index), Owner: obj}, nil
		}
		return nil, withPosition(u.fail("is not subscriptable"), ev.ctx.name, t.Position())
	}
	if ev.env.sandboxed {
		if s, ok := stringValue(index); ok {
			if err := ev.checkSafeAttribute(obj, s); err != nil {
				return nil, withPosition(err, ev.ctx.name, t.Position())
			}
		}
	}

	if v, ok, err := getItem(obj, index); err != nil {
		return nil, withPosition(err, ev.ctx.name, t.Position())
	} else if ok {
		return v, nil
	}
	if s, ok := stringValue(index); ok {
		if v, ok := getAttr(obj, s); ok {
			return v, nil
		}
	}
	return ev.undef(str(index), "", obj), nil
}

func (ev *evaluator) evalSliceOn(obj any, sl *nodes.Slice) (any, error) {
	evalPart := func(e nodes.Expr) (any, error) {
		if e == nil {
			return nil, nil
		}
		return ev.evalExpr(e)
	}
	start, err := evalPart(sl.Start)
	if err != nil {
		return nil, err
	}
	stop, err := evalPart(sl.Stop)
	if err != nil {
		return nil, err
	}
	step, err := evalPart(sl.Step)
	if err != nil {
		return nil, err
	}
	v, err := sliceValue(obj, start, stop, step)
	if err != nil {
		return nil, withPosition(err, ev.ctx.name, sl.Position())
	}
	return v, nil
}

// writeOutput emits the value of an output expression, applying finalize
// and the active autoescape mode.
func (ev *evaluator) writeOutput(v any, pos nodes.Position) error {
	if ev.env.finalize != nil {
		out, err := ev.env.finalize(v)
		if err != nil {
			return withPosition(err, ev.ctx.name, pos)
		}
		v = out
	}
	if ev.native {
		return ev.out.WriteValue(v)
	}
	if u, ok := isUndefined(v); ok {
		s, err := u.Str()
		if err != nil {
			return withPosition(err, ev.ctx.name, pos)
		}
		return ev.out.WriteString(s)
	}
	if ev.ctx.autoescape {
		return ev.out.WriteString(string(Escape(v)))
	}
	return ev.out.WriteString(str(v))
}
