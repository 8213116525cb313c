package runtime

import (
	"io"
	"strings"

	"github.com/ketju/ginja/nodes"
)

// Template is an immutable compiled template. It is safe for concurrent
// renders; each render owns its own context.
type Template struct {
	env      *Environment
	name     string
	filename string
	ast      *nodes.Template

	blocks  map[string]*nodes.Block
	extends *nodes.Extends

	globals    map[string]any
	autoescape bool
	uptodate   func() bool
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Filename returns the source filename, if known.
func (t *Template) Filename() string { return t.filename }

// Render executes the template against the given variables and returns the
// output as a string.
func (t *Template) Render(vars map[string]any) (string, error) {
	var b strings.Builder
	if err := t.RenderTo(&b, vars); err != nil {
		return "", err
	}
	return b.String(), nil
}

// RenderTo executes the template, writing output chunks to w as they are
// produced.
func (t *Template) RenderTo(w io.Writer, vars map[string]any) error {
	ctx := newContext(t.env, t, vars)
	ev := newEvaluator(t.env, ctx, &writerSink{w: w})
	return t.execute(ev)
}

// Stream returns a lazily started stream of output chunks.
func (t *Template) Stream(vars map[string]any) *Stream {
	s := newStream()
	s.start = func(sink *streamSink) {
		ctx := newContext(t.env, t, vars)
		ev := newEvaluator(t.env, ctx, sink)
		err := t.execute(ev)
		sink.flush()
		s.close(err)
	}
	return s
}

// execute renders the inheritance chain rooted at t into ev's sink.
//
// A template with an extends tag contributes its blocks and its top-level
// side effects (sets, macros) but none of its other output; rendering then
// continues with the parent. The deepest template's blocks win.
func (t *Template) execute(ev *evaluator) error {
	const maxDepth = 64
	tpl := t
	for depth := 0; ; depth++ {
		if depth >= maxDepth {
			return NewRuntimeError("template inheritance chain too deep in %q", t.name)
		}
		ev.ctx.name = tpl.name
		appendBlocks(ev.ctx, tpl)

		if tpl.extends == nil {
			return ev.execStmts(tpl.ast.Body)
		}

		parentRef, err := ev.runPreamble(tpl)
		if err != nil {
			return err
		}
		parent, err := ev.resolveTemplate(parentRef, tpl.name)
		if err != nil {
			return withPosition(err, tpl.name, tpl.extends.Position())
		}
		if parent.name == tpl.name {
			return withPosition(
				NewRuntimeError("template %q extends itself", tpl.name),
				tpl.name, tpl.extends.Position())
		}
		tpl = parent
	}
}

func appendBlocks(ctx *Context, tpl *Template) {
	for name, blk := range tpl.blocks {
		ctx.blocks[name] = append(ctx.blocks[name], &blockRef{node: blk, tpl: tpl})
	}
}

// module renders the template for {% import %}: top-level statements run,
// output is discarded, and the exported names become the module's contents.
func (t *Template) module(ev *evaluator, withContext bool) (*Module, error) {
	var ctx *Context
	if withContext {
		ctx = newContext(t.env, t, nil)
		ctx.root.parent = ev.ctx.current
	} else {
		ctx = newContext(t.env, t, nil)
	}
	sub := newEvaluator(t.env, ctx, discardSink{})
	if err := t.execute(sub); err != nil {
		return nil, err
	}
	return &Module{name: t.name, vars: ctx.exportedVars()}, nil
}
