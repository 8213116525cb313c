// Package ginja is a Jinja-style template engine: templates are compiled to
// an AST and evaluated against a context of named values.
//
// The root package offers one-shot helpers; full control (loaders, caching,
// sandboxing, custom filters) lives in the runtime package:
//
//	env := runtime.NewEnvironment(
//		runtime.WithLoader(runtime.NewFSLoader("templates")),
//		runtime.WithAutoescape(true),
//	)
//	tpl, err := env.GetTemplate("page.html")
//	out, err := tpl.Render(map[string]any{"title": "hello"})
package ginja

import "github.com/ketju/ginja/runtime"

// RenderString compiles and renders a template source in one step using a
// default environment.
func RenderString(source string, vars map[string]any) (string, error) {
	tpl, err := runtime.NewEnvironment().FromString(source)
	if err != nil {
		return "", err
	}
	return tpl.Render(vars)
}

// NewEnvironment re-exports runtime.NewEnvironment for the common path.
func NewEnvironment(opts ...runtime.Option) *runtime.Environment {
	return runtime.NewEnvironment(opts...)
}
