package ginja

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ketju/ginja/runtime"
)

func TestRenderString(t *testing.T) {
	out, err := RenderString("Hello {{ name }}!", map[string]any{"name": "John Doe"})
	require.NoError(t, err)
	assert.Equal(t, "Hello John Doe!", out)
}

func TestRenderStringSyntaxError(t *testing.T) {
	_, err := RenderString("{% if %}", nil)
	assert.Error(t, err)
}

func TestNewEnvironmentRoundTrip(t *testing.T) {
	env := NewEnvironment(
		runtime.WithLoader(runtime.NewMapLoader(map[string]string{
			"base.html":  `<title>{% block title %}{% endblock %}</title>`,
			"page.html":  `{% extends "base.html" %}{% block title %}{{ site }}{% endblock %}`,
		})),
		runtime.WithAutoescape(true),
	)
	tpl, err := env.GetTemplate("page.html")
	require.NoError(t, err)
	out, err := tpl.Render(map[string]any{"site": "a & b"})
	require.NoError(t, err)
	assert.Equal(t, "<title>a &amp; b</title>", out)
}
