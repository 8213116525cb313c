package runtime

import (
	"sort"

	"github.com/ketju/ginja/nodes"
)

// frame is one namespace layer. Lookups walk the parent chain; writes stay
// in the frame they were made in.
type frame struct {
	vars   map[string]any
	parent *frame
}

func newFrame(parent *frame) *frame {
	return &frame{vars: make(map[string]any), parent: parent}
}

func (f *frame) lookup(name string) (any, bool) {
	for cur := f; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Context is the per-render variable stack. One render owns one context;
// it is never shared between goroutines.
type Context struct {
	env  *Environment
	name string // current template name, for error messages

	root    *frame // render arguments; top-level writes land here
	current *frame

	globals    map[string]any // template globals snapshot
	autoescape bool

	blocks map[string][]*blockRef

	// exported collects top-level bound names for {% import %}.
	exported map[string]bool
}

type blockRef struct {
	node *nodes.Block
	tpl  *Template
}

func newContext(env *Environment, tpl *Template, vars map[string]any) *Context {
	root := newFrame(nil)
	for k, v := range vars {
		root.vars[k] = v
	}
	ctx := &Context{
		env:      env,
		root:     root,
		current:  root,
		globals:  tpl.globals,
		blocks:   make(map[string][]*blockRef),
		exported: make(map[string]bool),
	}
	if tpl != nil {
		ctx.name = tpl.name
		ctx.autoescape = tpl.autoescape
	}
	return ctx
}

// Environment returns the environment the render runs against.
func (c *Context) Environment() *Environment { return c.env }

// Name returns the name of the template currently rendering.
func (c *Context) Name() string { return c.name }

// Autoescape reports whether autoescaping is active at the current point of
// the render.
func (c *Context) Autoescape() bool { return c.autoescape }

// Resolve looks a name up through the frame stack, template globals and
// environment globals, in that order.
func (c *Context) Resolve(name string) (any, bool) {
	if v, ok := c.current.lookup(name); ok {
		return v, true
	}
	if v, ok := c.globals[name]; ok {
		return v, true
	}
	c.env.mu.RLock()
	v, ok := c.env.globals[name]
	c.env.mu.RUnlock()
	return v, ok
}

// Set binds a name in the innermost frame. Top-level bindings are recorded
// as exported for module imports.
func (c *Context) Set(name string, value any) {
	c.current.vars[name] = value
	if c.current == c.root {
		c.exported[name] = true
	}
}

// push enters a new frame; the returned frame must be handed back to pop.
func (c *Context) push() *frame {
	prev := c.current
	c.current = newFrame(prev)
	return prev
}

func (c *Context) pop(prev *frame) {
	c.current = prev
}

// exportedVars snapshots the top-level bindings for import modules.
func (c *Context) exportedVars() map[string]any {
	names := make([]string, 0, len(c.exported))
	for name := range c.exported {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(map[string]any, len(names))
	for _, name := range names {
		if v, ok := c.root.vars[name]; ok {
			out[name] = v
		}
	}
	return out
}
