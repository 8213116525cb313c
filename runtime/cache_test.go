package runtime

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ketju/ginja/nodes"
)

// countingLoader counts GetSource calls to observe cache behaviour.
type countingLoader struct {
	mu        sync.Mutex
	templates map[string]string
	stale     map[string]bool
	calls     int
}

func (l *countingLoader) GetSource(_ *Environment, name string) (Source, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	code, ok := l.templates[name]
	if !ok {
		return Source{}, &TemplateNotFoundError{Name: name}
	}
	return Source{
		Code:     code,
		Filename: name,
		Uptodate: func() bool {
			l.mu.Lock()
			defer l.mu.Unlock()
			return !l.stale[name]
		},
	}, nil
}

func (l *countingLoader) loadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestTemplateCacheHit(t *testing.T) {
	loader := &countingLoader{
		templates: map[string]string{"a": "A{{ x }}"},
		stale:     map[string]bool{},
	}
	env := NewEnvironment(WithLoader(loader))

	for i := 0; i < 3; i++ {
		_, err := env.GetTemplate("a")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, loader.loadCount())
}

func TestTemplateCacheInvalidatedByUptodate(t *testing.T) {
	loader := &countingLoader{
		templates: map[string]string{"a": "v1"},
		stale:     map[string]bool{},
	}
	env := NewEnvironment(WithLoader(loader))

	tpl, err := env.GetTemplate("a")
	require.NoError(t, err)
	out, _ := tpl.Render(nil)
	assert.Equal(t, "v1", out)

	loader.mu.Lock()
	loader.templates["a"] = "v2"
	loader.stale["a"] = true
	loader.mu.Unlock()

	tpl, err = env.GetTemplate("a")
	require.NoError(t, err)
	out, _ = tpl.Render(nil)
	assert.Equal(t, "v2", out)
	assert.Equal(t, 2, loader.loadCount())
}

func TestTemplateCacheEviction(t *testing.T) {
	loader := &countingLoader{
		templates: map[string]string{"a": "A", "b": "B", "c": "C"},
		stale:     map[string]bool{},
	}
	env := NewEnvironment(WithLoader(loader), WithCacheSize(2))

	for _, name := range []string{"a", "b", "c", "a"} {
		_, err := env.GetTemplate(name)
		require.NoError(t, err)
	}
	// "a" was evicted by "c" and had to be reloaded.
	assert.Equal(t, 4, loader.loadCount())
}

func TestCacheDisabled(t *testing.T) {
	loader := &countingLoader{
		templates: map[string]string{"a": "A"},
		stale:     map[string]bool{},
	}
	env := NewEnvironment(WithLoader(loader), WithCacheSize(0))
	for i := 0; i < 3; i++ {
		_, err := env.GetTemplate("a")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, loader.loadCount())
}

func TestConcurrentRendersShareEnvironment(t *testing.T) {
	env := NewEnvironment(WithLoader(NewMapLoader(map[string]string{
		"t": "{{ n * 2 }}",
	})))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tpl, err := env.GetTemplate("t")
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := tpl.Render(map[string]any{"n": n}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
}

func TestClearCaches(t *testing.T) {
	loader := &countingLoader{
		templates: map[string]string{"a": "A"},
		stale:     map[string]bool{},
	}
	env := NewEnvironment(WithLoader(loader))
	_, err := env.GetTemplate("a")
	require.NoError(t, err)
	env.ClearCaches()
	_, err = env.GetTemplate("a")
	require.NoError(t, err)
	assert.Equal(t, 2, loader.loadCount())
}

func TestMemoryBytecodeCache(t *testing.T) {
	bcc := NewMemoryBytecodeCache()
	loader := &countingLoader{
		templates: map[string]string{"a": "hello {{ name }}"},
		stale:     map[string]bool{},
	}
	env := NewEnvironment(WithLoader(loader), WithBytecodeCache(bcc), WithCacheSize(0))

	tpl, err := env.GetTemplate("a")
	require.NoError(t, err)
	out, err := tpl.Render(map[string]any{"name": "jd"})
	require.NoError(t, err)
	assert.Equal(t, "hello jd", out)

	// A second environment with the same signature reuses the payload.
	env2 := NewEnvironment(WithLoader(loader), WithBytecodeCache(bcc), WithCacheSize(0))
	tpl2, err := env2.GetTemplate("a")
	require.NoError(t, err)
	out, err = tpl2.Render(map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "hello x", out)
}

func TestBytecodeCacheChecksumMismatch(t *testing.T) {
	bucket := NewBucket("sig", "name", "checksum-a")
	ok := bucket.encode(mustParse(t, "x"))
	require.True(t, ok)

	// A changed source means a changed checksum; the stale payload must
	// read as a miss.
	stale := &Bucket{Key: bucket.Key, Checksum: "checksum-b", Code: bucket.Code}
	_, ok = stale.decode()
	assert.False(t, ok)

	fresh := &Bucket{Key: bucket.Key, Checksum: "checksum-a", Code: bucket.Code}
	ast, ok := fresh.decode()
	require.True(t, ok)
	assert.NotNil(t, ast)
}

func TestBytecodeCacheGarbageTolerated(t *testing.T) {
	b := &Bucket{Key: "k", Checksum: "c", Code: []byte("not a payload")}
	_, ok := b.decode()
	assert.False(t, ok)
}

func TestFileSystemBytecodeCache(t *testing.T) {
	dir := t.TempDir()
	bcc, err := NewFileSystemBytecodeCache(dir)
	require.NoError(t, err)

	bucket := NewBucket("sig", "tpl", "sum")
	require.True(t, bucket.encode(mustParse(t, "hi")))
	require.NoError(t, bcc.Dump(bucket))

	loaded := NewBucket("sig", "tpl", "sum")
	require.NoError(t, bcc.Load(loaded))
	ast, ok := loaded.decode()
	require.True(t, ok)
	assert.NotNil(t, ast)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".cache", filepath.Ext(entries[0].Name()))
}

func TestFSLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "t.html"), []byte("hi {{ n }}"), 0o644))

	env := NewEnvironment(WithLoader(NewFSLoader(dir)))
	tpl, err := env.GetTemplate("t.html")
	require.NoError(t, err)
	out, err := tpl.Render(map[string]any{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, "hi 1", out)

	_, err = env.GetTemplate("missing.html")
	require.Error(t, err)
	_, ok := err.(*TemplateNotFoundError)
	assert.True(t, ok)
}

func TestFSLoaderEscapePrevention(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "tpl")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("s"), 0o644))

	env := NewEnvironment(WithLoader(NewFSLoader(sub)))
	_, err := env.GetTemplate("../secret.txt")
	require.Error(t, err)
}

func TestChainLoader(t *testing.T) {
	env := NewEnvironment(WithLoader(NewChainLoader(
		NewMapLoader(map[string]string{"a": "A1"}),
		NewMapLoader(map[string]string{"a": "A2", "b": "B2"}),
	)))
	tpl, err := env.GetTemplate("a")
	require.NoError(t, err)
	out, _ := tpl.Render(nil)
	assert.Equal(t, "A1", out)

	tpl, err = env.GetTemplate("b")
	require.NoError(t, err)
	out, _ = tpl.Render(nil)
	assert.Equal(t, "B2", out)
}

func TestListTemplates(t *testing.T) {
	env := NewEnvironment(WithLoader(NewMapLoader(map[string]string{
		"b": "B", "a": "A",
	})))
	names, err := env.ListTemplates()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func mustParse(t *testing.T, source string) *nodes.Template {
	t.Helper()
	tpl, err := NewEnvironment().FromString(source)
	require.NoError(t, err)
	return tpl.ast
}
