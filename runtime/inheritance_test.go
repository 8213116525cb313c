package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loaderEnv(templates map[string]string, opts ...Option) *Environment {
	opts = append([]Option{WithLoader(NewMapLoader(templates))}, opts...)
	return NewEnvironment(opts...)
}

func renderName(t *testing.T, env *Environment, name string, vars map[string]any) string {
	t.Helper()
	tpl, err := env.GetTemplate(name)
	require.NoError(t, err)
	out, err := tpl.Render(vars)
	require.NoError(t, err)
	return out
}

func TestInheritanceWithSuper(t *testing.T) {
	// Spec scenario: child body embeds the parent's via super().
	env := loaderEnv(map[string]string{
		"base.html":  `[{% block x %}B{% endblock %}]`,
		"child.html": `{% extends "base.html" %}{% block x %}{{ super() }}C{% endblock %}`,
	})
	assert.Equal(t, "[BC]", renderName(t, env, "child.html", nil))
}

func TestThreeLevelSuperChain(t *testing.T) {
	env := loaderEnv(map[string]string{
		"parent.html":     `{% block b %}P{% endblock %}`,
		"child.html":      `{% extends "parent.html" %}{% block b %}{{ super() }}C{% endblock %}`,
		"grandchild.html": `{% extends "child.html" %}{% block b %}{{ super() }}G{% endblock %}`,
	})
	assert.Equal(t, "PCG", renderName(t, env, "grandchild.html", nil))
}

func TestSuperSuper(t *testing.T) {
	env := loaderEnv(map[string]string{
		"parent.html":     `{% block b %}P{% endblock %}`,
		"child.html":      `{% extends "parent.html" %}{% block b %}C{% endblock %}`,
		"grandchild.html": `{% extends "child.html" %}{% block b %}{{ super.super() }}G{% endblock %}`,
	})
	assert.Equal(t, "PG", renderName(t, env, "grandchild.html", nil))
}

func TestChildOverridesWin(t *testing.T) {
	env := loaderEnv(map[string]string{
		"base.html":  `a{% block x %}base{% endblock %}b`,
		"child.html": `{% extends "base.html" %}{% block x %}child{% endblock %}`,
	})
	assert.Equal(t, "achildb", renderName(t, env, "child.html", nil))
}

func TestContentBeforeExtendsIsDiscarded(t *testing.T) {
	env := loaderEnv(map[string]string{
		"base.html":  `base`,
		"child.html": `IGNORED{% extends "base.html" %}ALSO IGNORED`,
	})
	assert.Equal(t, "base", renderName(t, env, "child.html", nil))
}

func TestSetBeforeExtendsIsVisibleInBlocks(t *testing.T) {
	env := loaderEnv(map[string]string{
		"base.html":  `{% block x %}{% endblock %}`,
		"child.html": `{% set who = "jd" %}{% extends "base.html" %}{% block x %}{{ who }}{% endblock %}`,
	})
	assert.Equal(t, "jd", renderName(t, env, "child.html", nil))
}

func TestSelfExtendingTemplateFails(t *testing.T) {
	env := loaderEnv(map[string]string{
		"a.html": `{% extends "a.html" %}`,
	})
	tpl, err := env.GetTemplate("a.html")
	require.NoError(t, err)
	_, err = tpl.Render(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extends itself")
}

func TestDynamicExtends(t *testing.T) {
	env := loaderEnv(map[string]string{
		"a.html":     `A{% block x %}{% endblock %}`,
		"b.html":     `B{% block x %}{% endblock %}`,
		"child.html": `{% extends parent %}{% block x %}!{% endblock %}`,
	})
	assert.Equal(t, "A!", renderName(t, env, "child.html", map[string]any{"parent": "a.html"}))
	assert.Equal(t, "B!", renderName(t, env, "child.html", map[string]any{"parent": "b.html"}))
}

func TestRequiredBlockMustBeOverridden(t *testing.T) {
	env := loaderEnv(map[string]string{
		"base.html":  `{% block x required %}{% endblock %}`,
		"good.html":  `{% extends "base.html" %}{% block x %}ok{% endblock %}`,
		"bad.html":   `{% extends "base.html" %}`,
		"other.html": `x`,
	})
	assert.Equal(t, "ok", renderName(t, env, "good.html", nil))

	tpl, err := env.GetTemplate("bad.html")
	require.NoError(t, err)
	_, err = tpl.Render(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required block")
}

func TestScopedBlockSeesLoopVariable(t *testing.T) {
	env := loaderEnv(map[string]string{
		"base.html": `{% for item in items %}{% block row scoped %}{% endblock %}{% endfor %}`,
		"child.html": `{% extends "base.html" %}{% block row %}{{ item }},{% endblock %}`,
	})
	out := renderName(t, env, "child.html", map[string]any{"items": []any{1, 2}})
	assert.Equal(t, "1,2,", out)
}

func TestInclude(t *testing.T) {
	env := loaderEnv(map[string]string{
		"header.html": `hi {{ name }}`,
		"page.html":   `[{% include "header.html" %}]`,
	})
	assert.Equal(t, "[hi jd]", renderName(t, env, "page.html", map[string]any{"name": "jd"}))
}

func TestIncludeWithoutContext(t *testing.T) {
	env := loaderEnv(map[string]string{
		"header.html": `hi {{ name is defined }}`,
		"page.html":   `{% include "header.html" without context %}`,
	})
	assert.Equal(t, "hi False", renderName(t, env, "page.html", map[string]any{"name": "jd"}))
}

func TestIncludeIgnoreMissing(t *testing.T) {
	env := loaderEnv(map[string]string{
		"page.html": `a{% include "gone.html" ignore missing %}b`,
	})
	assert.Equal(t, "ab", renderName(t, env, "page.html", nil))
}

func TestIncludeMissingFails(t *testing.T) {
	env := loaderEnv(map[string]string{
		"page.html": `{% include "gone.html" %}`,
	})
	tpl, err := env.GetTemplate("page.html")
	require.NoError(t, err)
	_, err = tpl.Render(nil)
	require.Error(t, err)
	_, ok := err.(*TemplateNotFoundError)
	assert.True(t, ok, "expected TemplateNotFoundError, got %T", err)
}

func TestIncludeList(t *testing.T) {
	env := loaderEnv(map[string]string{
		"b.html":    `B`,
		"page.html": `{% include ["a.html", "b.html"] %}`,
	})
	assert.Equal(t, "B", renderName(t, env, "page.html", nil))
}

func TestImportMacros(t *testing.T) {
	env := loaderEnv(map[string]string{
		"forms.html": `{% macro input(name) %}<input name="{{ name }}">{% endmacro %}`,
		"page.html":  `{% import "forms.html" as forms %}{{ forms.input('q') }}`,
	})
	assert.Equal(t, `<input name="q">`, renderName(t, env, "page.html", nil))
}

func TestFromImport(t *testing.T) {
	env := loaderEnv(map[string]string{
		"forms.html": `{% macro input(name) %}[{{ name }}]{% endmacro %}{% set version = 2 %}`,
		"page.html":  `{% from "forms.html" import input as field, version %}{{ field('q') }}{{ version }}`,
	})
	assert.Equal(t, "[q]2", renderName(t, env, "page.html", nil))
}

func TestImportDoesNotSeeContextByDefault(t *testing.T) {
	env := loaderEnv(map[string]string{
		"mod.html":  `{% set seen = name is defined %}`,
		"page.html": `{% import "mod.html" as m %}{{ m.seen }}`,
	})
	assert.Equal(t, "False", renderName(t, env, "page.html", map[string]any{"name": "jd"}))
}

func TestImportWithContext(t *testing.T) {
	env := loaderEnv(map[string]string{
		"mod.html":  `{% set seen = name is defined %}`,
		"page.html": `{% import "mod.html" as m with context %}{{ m.seen }}`,
	})
	assert.Equal(t, "True", renderName(t, env, "page.html", map[string]any{"name": "jd"}))
}

func TestFromImportMissingNameFails(t *testing.T) {
	env := loaderEnv(map[string]string{
		"mod.html":  ``,
		"page.html": `{% from "mod.html" import nothing %}`,
	})
	tpl, err := env.GetTemplate("page.html")
	require.NoError(t, err)
	_, err = tpl.Render(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not export")
}

func TestRelativeTemplatePath(t *testing.T) {
	env := loaderEnv(map[string]string{
		"sub/header.html": `H`,
		"sub/page.html":   `{% include "./header.html" %}`,
	})
	assert.Equal(t, "H", renderName(t, env, "sub/page.html", nil))
}
