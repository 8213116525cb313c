package runtime

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamYieldsChunksInOrder(t *testing.T) {
	tpl, err := NewEnvironment().FromString("a{{ x }}b{{ y }}c")
	require.NoError(t, err)

	stream := tpl.Stream(map[string]any{"x": 1, "y": 2})
	var chunks []string
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
	assert.Equal(t, "a1b2c", strings.Join(chunks, ""))
	// Source order, chunk by chunk.
	assert.Equal(t, []string{"a", "1", "b", "2", "c"}, chunks)
}

func TestStreamCollect(t *testing.T) {
	tpl, err := NewEnvironment().FromString("{% for i in range(3) %}{{ i }}{% endfor %}")
	require.NoError(t, err)
	out, err := tpl.Stream(nil).Collect()
	require.NoError(t, err)
	assert.Equal(t, "012", out)
}

func TestStreamBuffering(t *testing.T) {
	tpl, err := NewEnvironment().FromString("{% for i in range(10) %}x{% endfor %}")
	require.NoError(t, err)

	stream := tpl.Stream(nil)
	stream.EnableBuffering(4)
	var chunks []string
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
	assert.Equal(t, "xxxxxxxxxx", strings.Join(chunks, ""))
	// Coalesced: far fewer chunks than writes.
	assert.Less(t, len(chunks), 10)
}

func TestStreamWriteTo(t *testing.T) {
	tpl, err := NewEnvironment().FromString("hello {{ name }}")
	require.NoError(t, err)
	var b strings.Builder
	n, err := tpl.Stream(map[string]any{"name": "jd"}).WriteTo(&b)
	require.NoError(t, err)
	assert.Equal(t, int64(len("hello jd")), n)
	assert.Equal(t, "hello jd", b.String())
}

func TestStreamSurfacesRenderError(t *testing.T) {
	env := NewEnvironment(WithUndefined(StrictUndefined))
	tpl, err := env.FromString("a{{ missing }}")
	require.NoError(t, err)
	_, err = tpl.Stream(nil).Collect()
	require.Error(t, err)
}

func TestRenderToWriter(t *testing.T) {
	tpl, err := NewEnvironment().FromString("{{ 40 + 2 }}")
	require.NoError(t, err)
	var b strings.Builder
	require.NoError(t, tpl.RenderTo(&b, nil))
	assert.Equal(t, "42", b.String())
}
