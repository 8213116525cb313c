// Package optimizer performs compile-time constant folding over the AST.
// Folding is conservative: a node is replaced only when evaluating it now is
// known to produce the same value, and the same absence of errors, as
// evaluating it at render time.
package optimizer

import (
	"fmt"
	"math"
	"strings"

	"github.com/ketju/ginja/nodes"
)

// Optimize folds constant subexpressions in place and returns the template.
func Optimize(tpl *nodes.Template) *nodes.Template {
	tpl.Body = optimizeStmts(tpl.Body)
	return tpl
}

func optimizeStmts(body []nodes.Stmt) []nodes.Stmt {
	for i, s := range body {
		body[i] = optimizeStmt(s)
	}
	return body
}

func optimizeStmt(s nodes.Stmt) nodes.Stmt {
	switch t := s.(type) {
	case *nodes.Output:
		t.Node = fold(t.Node)
	case *nodes.If:
		t.Test = fold(t.Test)
		t.Body = optimizeStmts(t.Body)
		t.Else = optimizeStmts(t.Else)
	case *nodes.For:
		t.Iter = fold(t.Iter)
		if t.Filter != nil {
			t.Filter = fold(t.Filter)
		}
		t.Body = optimizeStmts(t.Body)
		t.Else = optimizeStmts(t.Else)
	case *nodes.Macro:
		foldAll(t.Defaults)
		t.Body = optimizeStmts(t.Body)
	case *nodes.CallBlock:
		foldAll(t.Defaults)
		foldCall(t.Call)
		t.Body = optimizeStmts(t.Body)
	case *nodes.FilterBlock:
		foldFilterArgs(t.Filter)
		t.Body = optimizeStmts(t.Body)
	case *nodes.Assign:
		t.Node = fold(t.Node)
	case *nodes.AssignBlock:
		if t.Filter != nil {
			foldFilterArgs(t.Filter)
		}
		t.Body = optimizeStmts(t.Body)
	case *nodes.Block:
		t.Body = optimizeStmts(t.Body)
	case *nodes.Extends:
		t.Template = fold(t.Template)
	case *nodes.Include:
		t.Template = fold(t.Template)
	case *nodes.Import:
		t.Template = fold(t.Template)
	case *nodes.FromImport:
		t.Template = fold(t.Template)
	case *nodes.With:
		foldAll(t.Values)
		t.Body = optimizeStmts(t.Body)
	case *nodes.Autoescape:
		t.Value = fold(t.Value)
		t.Body = optimizeStmts(t.Body)
	case *nodes.Do:
		t.Node = fold(t.Node)
	case *nodes.Trans:
		for i := range t.Assignments {
			t.Assignments[i].Value = fold(t.Assignments[i].Value)
		}
	}
	return s
}

func foldAll(exprs []nodes.Expr) {
	for i, e := range exprs {
		exprs[i] = fold(e)
	}
}

func foldCall(call *nodes.Call) {
	if call == nil {
		return
	}
	foldAll(call.Args)
	for i := range call.Kwargs {
		call.Kwargs[i].Value = fold(call.Kwargs[i].Value)
	}
	if call.DynArgs != nil {
		call.DynArgs = fold(call.DynArgs)
	}
	if call.DynKwargs != nil {
		call.DynKwargs = fold(call.DynKwargs)
	}
}

func foldFilterArgs(f *nodes.Filter) {
	if f == nil {
		return
	}
	if inner, ok := f.Node.(*nodes.Filter); ok {
		foldFilterArgs(inner)
	}
	foldAll(f.Args)
	for i := range f.Kwargs {
		f.Kwargs[i].Value = fold(f.Kwargs[i].Value)
	}
}

// fold rewrites an expression tree bottom-up, replacing constant regions
// with Const nodes.
func fold(e nodes.Expr) nodes.Expr {
	if e == nil {
		return nil
	}
	switch t := e.(type) {
	case *nodes.Const, *nodes.Name:
		return e

	case *nodes.Tuple:
		foldAll(t.Items)
		return foldSequence(e, t.Items)
	case *nodes.List:
		foldAll(t.Items)
		return foldSequence(e, t.Items)
	case *nodes.Dict:
		allConst := true
		for i := range t.Pairs {
			t.Pairs[i].Key = fold(t.Pairs[i].Key)
			t.Pairs[i].Value = fold(t.Pairs[i].Value)
			if !isConst(t.Pairs[i].Key) || !isConst(t.Pairs[i].Value) {
				allConst = false
			}
		}
		if !allConst {
			return e
		}
		m := make(map[string]any, len(t.Pairs))
		for _, pair := range t.Pairs {
			key, ok := constValue(pair.Key)
			if !ok {
				return e
			}
			ks, ok := key.(string)
			if !ok {
				ks = fmt.Sprint(key)
			}
			m[ks] = mustConst(pair.Value)
		}
		return replace(e, m)

	case *nodes.Unary:
		t.Node = fold(t.Node)
		if v, ok := constValue(t.Node); ok {
			if folded, ok := constUnary(t.Op, v); ok {
				return replace(e, folded)
			}
		}
		return e

	case *nodes.Binary:
		t.Left = fold(t.Left)
		t.Right = fold(t.Right)
		switch t.Op {
		case "and", "or":
			return foldLogic(t)
		}
		lv, lok := constValue(t.Left)
		rv, rok := constValue(t.Right)
		if lok && rok {
			if folded, ok := constBinary(t.Op, lv, rv); ok {
				return replace(e, folded)
			}
		}
		return e

	case *nodes.Compare:
		t.Expr = fold(t.Expr)
		for i := range t.Ops {
			t.Ops[i].Expr = fold(t.Ops[i].Expr)
		}
		left, ok := constValue(t.Expr)
		if !ok {
			return e
		}
		result := true
		for _, op := range t.Ops {
			right, rok := constValue(op.Expr)
			if !rok {
				return e
			}
			verdict, cok := constCompare(op.Op, left, right)
			if !cok {
				return e
			}
			if !verdict {
				result = false
				break
			}
			left = right
		}
		return replace(e, result)

	case *nodes.Concat:
		foldAll(t.Nodes)
		var b strings.Builder
		for _, part := range t.Nodes {
			v, ok := constValue(part)
			if !ok {
				return e
			}
			s, ok := constStr(v)
			if !ok {
				return e
			}
			b.WriteString(s)
		}
		return replace(e, b.String())

	case *nodes.CondExpr:
		t.Test = fold(t.Test)
		t.Then = fold(t.Then)
		if t.Else != nil {
			t.Else = fold(t.Else)
		}
		if v, ok := constValue(t.Test); ok {
			if constTruth(v) {
				return t.Then
			}
			if t.Else != nil {
				return t.Else
			}
		}
		return e

	case *nodes.Filter:
		if t.Node != nil {
			t.Node = fold(t.Node)
		}
		foldAll(t.Args)
		for i := range t.Kwargs {
			t.Kwargs[i].Value = fold(t.Kwargs[i].Value)
		}
		return foldFilter(t)

	case *nodes.Test:
		if t.Node != nil {
			t.Node = fold(t.Node)
		}
		foldAll(t.Args)
		return e

	case *nodes.Call:
		foldCall(t)
		return e

	case *nodes.Getattr:
		t.Node = fold(t.Node)
		return e
	case *nodes.Getitem:
		t.Node = fold(t.Node)
		t.Index = fold(t.Index)
		return e
	case *nodes.Slice:
		if t.Start != nil {
			t.Start = fold(t.Start)
		}
		if t.Stop != nil {
			t.Stop = fold(t.Stop)
		}
		if t.Step != nil {
			t.Step = fold(t.Step)
		}
		return e
	case *nodes.MarkSafe:
		t.Node = fold(t.Node)
		return e
	}
	return e
}

func foldSequence(orig nodes.Expr, items []nodes.Expr) nodes.Expr {
	values := make([]any, 0, len(items))
	for _, item := range items {
		v, ok := constValue(item)
		if !ok {
			return orig
		}
		values = append(values, v)
	}
	return replace(orig, values)
}

// foldLogic applies short-circuit resolution to and/or with a constant left
// side, and folds fully constant forms.
func foldLogic(b *nodes.Binary) nodes.Expr {
	lv, lok := constValue(b.Left)
	if !lok {
		return b
	}
	truth := constTruth(lv)
	if b.Op == "and" {
		if !truth {
			return replace(b, lv)
		}
		return b.Right
	}
	if truth {
		return replace(b, lv)
	}
	return b.Right
}

func isConst(e nodes.Expr) bool {
	_, ok := constValue(e)
	return ok
}

func constValue(e nodes.Expr) (any, bool) {
	if c, ok := e.(*nodes.Const); ok {
		return c.Value, true
	}
	return nil, false
}

func mustConst(e nodes.Expr) any {
	v, _ := constValue(e)
	return v
}

func replace(at nodes.Expr, value any) nodes.Expr {
	c := &nodes.Const{Value: value}
	c.Pos = at.Position()
	return c
}

// ---- constant arithmetic ----
//
// These mirror the runtime's numeric semantics for the clean cases only:
// int64/float64 math, string concatenation, orderable comparisons. Anything
// else is left for the evaluator so errors surface at render time.

func constTruth(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

func constStr(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case int64:
		return fmt.Sprintf("%d", t), true
	case float64:
		return formatFloat(t), true
	case bool:
		if t {
			return "True", true
		}
		return "False", true
	case nil:
		return "None", true
	}
	return "", false
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return fmt.Sprintf("%.1f", f)
	}
	return fmt.Sprintf("%g", f)
}

func constUnary(op string, v any) (any, bool) {
	switch op {
	case "not":
		return !constTruth(v), true
	case "-":
		switch n := v.(type) {
		case int64:
			return -n, true
		case float64:
			return -n, true
		}
	case "+":
		switch v.(type) {
		case int64, float64:
			return v, true
		}
	}
	return nil, false
}

func asFloats(a, b any) (float64, float64, bool, bool) {
	// returns lhs, rhs, bothInts, ok
	switch l := a.(type) {
	case int64:
		switch r := b.(type) {
		case int64:
			return float64(l), float64(r), true, true
		case float64:
			return float64(l), r, false, true
		}
	case float64:
		switch r := b.(type) {
		case int64:
			return l, float64(r), false, true
		case float64:
			return l, r, false, true
		}
	}
	return 0, 0, false, false
}

func constBinary(op string, a, b any) (any, bool) {
	if op == "+" {
		if ls, ok := a.(string); ok {
			if rs, ok := b.(string); ok {
				return ls + rs, true
			}
			return nil, false
		}
	}
	la, lb, bothInts, ok := asFloats(a, b)
	if !ok {
		return nil, false
	}
	switch op {
	case "+":
		if bothInts {
			return a.(int64) + b.(int64), true
		}
		return la + lb, true
	case "-":
		if bothInts {
			return a.(int64) - b.(int64), true
		}
		return la - lb, true
	case "*":
		if bothInts {
			return a.(int64) * b.(int64), true
		}
		return la * lb, true
	case "/":
		if lb == 0 {
			return nil, false
		}
		return la / lb, true
	case "//":
		if lb == 0 {
			return nil, false
		}
		if bothInts {
			return int64(math.Floor(la / lb)), true
		}
		return math.Floor(la / lb), true
	case "%":
		if lb == 0 {
			return nil, false
		}
		m := math.Mod(la, lb)
		if m != 0 && (m < 0) != (lb < 0) {
			m += lb
		}
		if bothInts {
			return int64(m), true
		}
		return m, true
	case "**":
		r := math.Pow(la, lb)
		if bothInts && lb >= 0 && r == math.Trunc(r) && math.Abs(r) < 1<<62 {
			return int64(r), true
		}
		return r, true
	}
	return nil, false
}

func constCompare(op string, a, b any) (bool, bool) {
	switch op {
	case "==", "!=":
		eq, ok := constEqual(a, b)
		if !ok {
			return false, false
		}
		if op == "!=" {
			return !eq, true
		}
		return eq, true
	case "<", "<=", ">", ">=":
		if ls, ok := a.(string); ok {
			if rs, ok := b.(string); ok {
				return orderVerdict(op, strings.Compare(ls, rs)), true
			}
			return false, false
		}
		la, lb, _, ok := asFloats(a, b)
		if !ok {
			return false, false
		}
		switch {
		case la < lb:
			return orderVerdict(op, -1), true
		case la > lb:
			return orderVerdict(op, 1), true
		default:
			return orderVerdict(op, 0), true
		}
	}
	return false, false
}

func orderVerdict(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func constEqual(a, b any) (bool, bool) {
	if la, lb, _, ok := asFloats(a, b); ok {
		return la == lb, true
	}
	switch l := a.(type) {
	case string:
		r, ok := b.(string)
		return ok && l == r, true
	case bool:
		r, ok := b.(bool)
		return ok && l == r, true
	case nil:
		return b == nil, true
	}
	return false, false
}

// constSafeFilters are pure filters the optimizer may run at compile time.
var constSafeFilters = map[string]func(v any, args []any) (any, bool){
	"upper": func(v any, _ []any) (any, bool) {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		return strings.ToUpper(s), true
	},
	"lower": func(v any, _ []any) (any, bool) {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		return strings.ToLower(s), true
	},
	"trim": func(v any, args []any) (any, bool) {
		s, ok := v.(string)
		if !ok || len(args) > 0 {
			return nil, false
		}
		return strings.TrimSpace(s), true
	},
	"capitalize": func(v any, _ []any) (any, bool) {
		s, ok := v.(string)
		if !ok || s == "" {
			return v, ok
		}
		runes := []rune(s)
		return strings.ToUpper(string(runes[0])) + strings.ToLower(string(runes[1:])), true
	},
	"length": func(v any, _ []any) (any, bool) {
		switch t := v.(type) {
		case string:
			return int64(len([]rune(t))), true
		case []any:
			return int64(len(t)), true
		}
		return nil, false
	},
}

func foldFilter(f *nodes.Filter) nodes.Expr {
	fn, ok := constSafeFilters[f.Name]
	if !ok || f.Node == nil || len(f.Kwargs) > 0 {
		return f
	}
	v, ok := constValue(f.Node)
	if !ok {
		return f
	}
	args := make([]any, 0, len(f.Args))
	for _, a := range f.Args {
		av, ok := constValue(a)
		if !ok {
			return f
		}
		args = append(args, av)
	}
	if folded, ok := fn(v, args); ok {
		return replace(f, folded)
	}
	return f
}
