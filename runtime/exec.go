package runtime

import (
	"github.com/ketju/ginja/nodes"
)

func (ev *evaluator) execStmts(body []nodes.Stmt) error {
	for _, s := range body {
		if err := ev.execStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (ev *evaluator) execStmt(s nodes.Stmt) error {
	switch t := s.(type) {
	case *nodes.Text:
		return ev.out.WriteString(t.Data)

	case *nodes.Output:
		v, err := ev.evalExpr(t.Node)
		if err != nil {
			return withPosition(err, ev.ctx.name, t.Position())
		}
		return ev.writeOutput(v, t.Position())

	case *nodes.If:
		return ev.execIf(t)
	case *nodes.For:
		return ev.execFor(t)
	case *nodes.Assign:
		return ev.execAssign(t)
	case *nodes.AssignBlock:
		return ev.execAssignBlock(t)
	case *nodes.With:
		return ev.execWith(t)
	case *nodes.Autoescape:
		return ev.execAutoescape(t)
	case *nodes.Block:
		return ev.execBlockStmt(t)
	case *nodes.Macro:
		macro, err := ev.makeMacro(t.Name, t.Args, t.Defaults, t.Body)
		if err != nil {
			return withPosition(err, ev.ctx.name, t.Position())
		}
		ev.ctx.Set(t.Name, macro)
		return nil
	case *nodes.CallBlock:
		return ev.execCallBlock(t)
	case *nodes.FilterBlock:
		return ev.execFilterBlock(t)
	case *nodes.Include:
		return ev.execInclude(t)
	case *nodes.Import:
		return ev.execImport(t)
	case *nodes.FromImport:
		return ev.execFromImport(t)
	case *nodes.Do:
		_, err := ev.evalExpr(t.Node)
		return withPosition(err, ev.ctx.name, t.Position())
	case *nodes.Trans:
		return ev.execTrans(t)
	case *nodes.Break:
		return &breakErr{}
	case *nodes.Continue:
		return &continueErr{}

	case *nodes.Extends:
		return withPosition(
			NewRuntimeError("extends is only allowed at the template top level"),
			ev.ctx.name, t.Position())
	}
	return NewRuntimeError("cannot execute node %T", s)
}

// runPreamble executes an extending template's top level for its side
// effects with discarded output, stopping at the extends tag. It returns
// the evaluated parent reference.
func (ev *evaluator) runPreamble(tpl *Template) (any, error) {
	var parentRef any
	err := ev.withSink(discardSink{}, func() error {
		for _, s := range tpl.ast.Body {
			if ext, ok := s.(*nodes.Extends); ok {
				ref, err := ev.evalExpr(ext.Template)
				if err != nil {
					return withPosition(err, ev.ctx.name, ext.Position())
				}
				parentRef = ref
				return nil
			}
			if err := ev.execStmt(s); err != nil {
				return err
			}
		}
		return nil
	})
	return parentRef, err
}

// resolveTemplate turns a template reference value (name, compiled
// template, or list of names) into a compiled template.
func (ev *evaluator) resolveTemplate(ref any, parent string) (*Template, error) {
	switch t := ref.(type) {
	case *Template:
		return t, nil
	case string:
		return ev.env.GetTemplate(joinTemplatePath(t, parent))
	case Markup:
		return ev.env.GetTemplate(joinTemplatePath(string(t), parent))
	case []any:
		names := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := stringValue(item); ok {
				names = append(names, joinTemplatePath(s, parent))
			}
		}
		return ev.env.SelectTemplate(names)
	case *Undefined:
		return nil, t.fail("is not a template reference")
	}
	return nil, NewRuntimeError("cannot load template from %s value", typeName(ref))
}

func (ev *evaluator) execIf(t *nodes.If) error {
	cond, err := ev.evalExpr(t.Test)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	tv, err := truth(cond)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	if tv {
		return ev.execStmts(t.Body)
	}
	return ev.execStmts(t.Else)
}

// assign binds a target expression: a plain name, an unpacked tuple or a
// namespace attribute.
func (ev *evaluator) assign(target nodes.Expr, value any) error {
	switch t := target.(type) {
	case *nodes.Name:
		ev.ctx.Set(t.Name, value)
		return nil
	case *nodes.Tuple:
		items, err := toList(value)
		if err != nil {
			return withPosition(err, ev.ctx.name, t.Position())
		}
		if len(items) != len(t.Items) {
			return withPosition(
				NewRuntimeError("cannot unpack %d values into %d targets", len(items), len(t.Items)),
				ev.ctx.name, t.Position())
		}
		for i, sub := range t.Items {
			if err := ev.assign(sub, items[i]); err != nil {
				return err
			}
		}
		return nil
	case *nodes.Getattr:
		obj, err := ev.evalExpr(t.Node)
		if err != nil {
			return err
		}
		ns, ok := obj.(*Namespace)
		if !ok {
			return withPosition(
				NewRuntimeError("cannot assign attribute %q on non-namespace object", t.Attr),
				ev.ctx.name, t.Position())
		}
		ns.Set(t.Attr, value)
		return nil
	}
	return withPosition(NewRuntimeError("invalid assignment target"), ev.ctx.name, target.Position())
}

func (ev *evaluator) execAssign(t *nodes.Assign) error {
	value, err := ev.evalExpr(t.Node)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	return ev.assign(t.Target, value)
}

func (ev *evaluator) execAssignBlock(t *nodes.AssignBlock) error {
	body, err := ev.renderToString(func() error { return ev.execStmts(t.Body) })
	if err != nil {
		return err
	}
	var value any = body
	if ev.ctx.autoescape {
		value = Markup(body)
	}
	if t.Filter != nil {
		value, err = ev.evalFilter(t.Filter, value)
		if err != nil {
			return err
		}
	}
	return ev.assign(t.Target, value)
}

func (ev *evaluator) execWith(t *nodes.With) error {
	values := make([]any, len(t.Values))
	for i, expr := range t.Values {
		v, err := ev.evalExpr(expr)
		if err != nil {
			return withPosition(err, ev.ctx.name, t.Position())
		}
		values[i] = v
	}
	prev := ev.ctx.push()
	defer ev.ctx.pop(prev)
	for i, target := range t.Targets {
		if err := ev.assign(target, values[i]); err != nil {
			return err
		}
	}
	return ev.execStmts(t.Body)
}

func (ev *evaluator) execAutoescape(t *nodes.Autoescape) error {
	v, err := ev.evalExpr(t.Value)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	on, err := truth(v)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	saved := ev.ctx.autoescape
	ev.ctx.autoescape = on
	err = ev.execStmts(t.Body)
	ev.ctx.autoescape = saved
	return err
}

// execBlockStmt renders the effective definition of a block: the deepest
// child override wins, super() walks outward.
func (ev *evaluator) execBlockStmt(t *nodes.Block) error {
	chain := ev.ctx.blocks[t.Name]
	if len(chain) == 0 {
		chain = []*blockRef{{node: t}}
	}
	if chain[0].node.Required {
		return withPosition(
			NewRuntimeError("required block %q not overridden", t.Name),
			ev.ctx.name, t.Position())
	}
	return ev.renderBlock(chain, 0, t.Scoped)
}

func (ev *evaluator) renderBlock(chain []*blockRef, idx int, scoped bool) error {
	ref := chain[idx]

	parent := ev.ctx.root
	if scoped {
		parent = ev.ctx.current
	}
	savedFrame := ev.ctx.current
	savedName := ev.ctx.name
	ev.ctx.current = newFrame(parent)
	if ref.tpl != nil {
		ev.ctx.name = ref.tpl.name
	}
	defer func() {
		ev.ctx.current = savedFrame
		ev.ctx.name = savedName
	}()

	ev.ctx.current.vars["super"] = &superRef{chain: chain, idx: idx, scoped: scoped}
	return ev.execStmts(ref.node.Body)
}

// superRef renders the next-outer definition of a block. Chained access
// (super.super()) walks further up the inheritance chain.
type superRef struct {
	chain  []*blockRef
	idx    int
	scoped bool
}

func (s *superRef) attr(name string) (any, bool) {
	if name == "super" {
		return &superRef{chain: s.chain, idx: s.idx + 1, scoped: s.scoped}, true
	}
	return nil, false
}

func (s *superRef) render(ev *evaluator) (any, error) {
	if s.idx+1 >= len(s.chain) {
		return nil, NewRuntimeError("there is no parent block for %q", s.chain[0].node.Name)
	}
	out, err := ev.renderToString(func() error {
		return ev.renderBlock(s.chain, s.idx+1, s.scoped)
	})
	if err != nil {
		return nil, err
	}
	return Markup(out), nil
}

func (ev *evaluator) execCallBlock(t *nodes.CallBlock) error {
	caller, err := ev.makeMacro("caller", t.Args, t.Defaults, t.Body)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}

	fn, err := ev.evalExpr(t.Call.Node)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	macro, ok := fn.(*Macro)
	if !ok {
		return withPosition(
			NewRuntimeError("call block target must be a macro, got %s", typeName(fn)),
			ev.ctx.name, t.Position())
	}
	args, err := ev.evalArgs(t.Call.Args, t.Call.Kwargs, t.Call.DynArgs, t.Call.DynKwargs)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	out, err := macro.invokeWithCaller(ev, args, caller)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	return ev.writeOutput(out, t.Position())
}

func (ev *evaluator) execFilterBlock(t *nodes.FilterBlock) error {
	body, err := ev.renderToString(func() error { return ev.execStmts(t.Body) })
	if err != nil {
		return err
	}
	var value any = body
	if ev.ctx.autoescape {
		value = Markup(body)
	}
	out, err := ev.evalFilter(t.Filter, value)
	if err != nil {
		return err
	}
	return ev.writeOutput(out, t.Position())
}

func (ev *evaluator) execInclude(t *nodes.Include) error {
	ref, err := ev.evalExpr(t.Template)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	tpl, err := ev.resolveTemplate(ref, ev.ctx.name)
	if err != nil {
		if t.IgnoreMissing && isNotFound(err) {
			return nil
		}
		return withPosition(err, ev.ctx.name, t.Position())
	}

	sub := newContext(ev.env, tpl, nil)
	if t.WithContext {
		sub.root.parent = ev.ctx.current
	}
	subEv := newEvaluator(ev.env, sub, ev.out)
	subEv.native = ev.native
	return tpl.execute(subEv)
}

func (ev *evaluator) execImport(t *nodes.Import) error {
	ref, err := ev.evalExpr(t.Template)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	tpl, err := ev.resolveTemplate(ref, ev.ctx.name)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	mod, err := tpl.module(ev, t.WithContext)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	ev.ctx.Set(t.Target, mod)
	return nil
}

func (ev *evaluator) execFromImport(t *nodes.FromImport) error {
	ref, err := ev.evalExpr(t.Template)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	tpl, err := ev.resolveTemplate(ref, ev.ctx.name)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	mod, err := tpl.module(ev, t.WithContext)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	for _, pair := range t.Names {
		v, ok := mod.vars[pair[0]]
		if !ok {
			return withPosition(
				&Error{Kind: KindImport, Message: "template " + tpl.name + " does not export " + pair[0]},
				ev.ctx.name, t.Position())
		}
		ev.ctx.Set(pair[1], v)
	}
	return nil
}
