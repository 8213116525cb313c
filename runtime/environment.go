package runtime

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/ketju/ginja/lexer"
	"github.com/ketju/ginja/nodes"
	"github.com/ketju/ginja/optimizer"
	"github.com/ketju/ginja/parser"
)

// FilterFunc transforms a piped value. The context gives access to the
// environment, the autoescape state and variable resolution.
type FilterFunc func(ctx *Context, value any, args Args) (any, error)

// TestFunc is a predicate applied with the "is" operator.
type TestFunc func(ctx *Context, value any, args Args) (bool, error)

// GlobalFunc is a function exposed as a template global.
type GlobalFunc func(ctx *Context, args Args) (any, error)

// FinalizeFunc post-processes every output expression (not literal text).
type FinalizeFunc func(value any) (any, error)

// AutoescapeFunc decides autoescaping per template name.
type AutoescapeFunc func(name string) bool

// GettextFunc translates a message.
type GettextFunc func(message string) string

// NgettextFunc selects a translation by count.
type NgettextFunc func(singular, plural string, n int64) string

// Environment owns configuration, the filter/test/global registries and the
// template caches. Registries may be mutated only before the first template
// is compiled; afterwards the environment must be treated as immutable
// except for its caches.
type Environment struct {
	lexCfg     lexer.Config
	parserOpts parser.Options

	autoescape     bool
	autoescapeFunc AutoescapeFunc
	undefined      UndefinedFactory
	finalize       FinalizeFunc
	newlineSeq     string

	loader        Loader
	cacheSize     int
	cache         *templateCache
	bytecodeCache BytecodeCache

	filters  map[string]FilterFunc
	tests    map[string]TestFunc
	globals  map[string]any
	policies map[string]any

	gettext  GettextFunc
	ngettext NgettextFunc

	sandboxed        bool
	immutableSandbox bool
	safeAttribute    func(obj any, attr string, value any) bool
	safeCallable     func(fn any) bool
	interceptedOps   map[string]bool
	binopHook        func(op string, left, right any) (any, error)
	unopHook         func(op string, operand any) (any, error)

	mu sync.RWMutex
}

// Option configures an environment at construction time.
type Option func(*Environment)

// WithLoader sets the template loader.
func WithLoader(l Loader) Option {
	return func(env *Environment) { env.loader = l }
}

// WithAutoescape enables or disables autoescaping for all templates.
func WithAutoescape(on bool) Option {
	return func(env *Environment) { env.autoescape = on }
}

// WithAutoescapeFunc decides autoescaping per template name.
func WithAutoescapeFunc(fn AutoescapeFunc) Option {
	return func(env *Environment) { env.autoescapeFunc = fn }
}

// WithDelimiters overrides the tag delimiters.
func WithDelimiters(d lexer.Delimiters) Option {
	return func(env *Environment) { env.lexCfg.Delimiters = d }
}

// WithTrimBlocks strips the first newline after a statement tag.
func WithTrimBlocks(on bool) Option {
	return func(env *Environment) { env.lexCfg.TrimBlocks = on }
}

// WithLstripBlocks strips whitespace from the start of a line to a
// statement tag.
func WithLstripBlocks(on bool) Option {
	return func(env *Environment) { env.lexCfg.LstripBlocks = on }
}

// WithKeepTrailingNewline preserves the final newline of the source.
func WithKeepTrailingNewline(on bool) Option {
	return func(env *Environment) { env.lexCfg.KeepTrailingNewline = on }
}

// WithLineStatementPrefix enables line statements, e.g. "#".
func WithLineStatementPrefix(prefix string) Option {
	return func(env *Environment) { env.lexCfg.Delimiters.LineStatement = prefix }
}

// WithLineCommentPrefix enables line comments, e.g. "##".
func WithLineCommentPrefix(prefix string) Option {
	return func(env *Environment) { env.lexCfg.Delimiters.LineComment = prefix }
}

// WithNewlineSequence sets the newline sequence used by wordwrap and
// friends.
func WithNewlineSequence(seq string) Option {
	return func(env *Environment) { env.newlineSeq = seq }
}

// WithUndefined selects the undefined variant, e.g. StrictUndefined.
func WithUndefined(factory UndefinedFactory) Option {
	return func(env *Environment) { env.undefined = factory }
}

// WithFinalize installs the output finalizer.
func WithFinalize(fn FinalizeFunc) Option {
	return func(env *Environment) { env.finalize = fn }
}

// WithCacheSize bounds the compiled template cache; 0 disables caching and
// a negative value selects the default capacity of 400.
func WithCacheSize(n int) Option {
	return func(env *Environment) { env.cacheSize = n }
}

// WithBytecodeCache installs a compiled-template persistence hook.
func WithBytecodeCache(c BytecodeCache) Option {
	return func(env *Environment) { env.bytecodeCache = c }
}

// WithLoopControls enables {% break %} and {% continue %}.
func WithLoopControls() Option {
	return func(env *Environment) { env.parserOpts.LoopControls = true }
}

// WithPolicy overrides a policy value, e.g. WithPolicy("truncate.leeway", 0).
func WithPolicy(name string, value any) Option {
	return func(env *Environment) { env.policies[name] = value }
}

// WithGettext installs the translation hooks used by trans blocks and the
// gettext globals.
func WithGettext(gettext GettextFunc, ngettext NgettextFunc) Option {
	return func(env *Environment) {
		env.gettext = gettext
		env.ngettext = ngettext
	}
}

// NewEnvironment creates an environment with the default configuration and
// the built-in filter, test and global registries.
func NewEnvironment(opts ...Option) *Environment {
	env := &Environment{
		lexCfg:     lexer.DefaultConfig(),
		undefined:  LenientUndefined,
		newlineSeq: "\n",
		cacheSize:  400,
		filters:    make(map[string]FilterFunc),
		tests:      make(map[string]TestFunc),
		globals:    make(map[string]any),
		policies:   defaultPolicies(),
	}
	registerBuiltinFilters(env)
	registerBuiltinTests(env)
	registerBuiltinGlobals(env)
	for _, opt := range opts {
		opt(env)
	}
	env.cache = newTemplateCache(env.cacheSize)
	return env
}

// Overlay returns a copy of the environment with the given options applied
// and fresh caches. The registries are copied shallowly.
func (env *Environment) Overlay(opts ...Option) *Environment {
	env.mu.RLock()
	clone := &Environment{
		lexCfg:           env.lexCfg,
		parserOpts:       env.parserOpts,
		autoescape:       env.autoescape,
		autoescapeFunc:   env.autoescapeFunc,
		undefined:        env.undefined,
		finalize:         env.finalize,
		newlineSeq:       env.newlineSeq,
		loader:           env.loader,
		cacheSize:        env.cacheSize,
		bytecodeCache:    env.bytecodeCache,
		filters:          make(map[string]FilterFunc, len(env.filters)),
		tests:            make(map[string]TestFunc, len(env.tests)),
		globals:          make(map[string]any, len(env.globals)),
		policies:         make(map[string]any, len(env.policies)),
		gettext:          env.gettext,
		ngettext:         env.ngettext,
		sandboxed:        env.sandboxed,
		immutableSandbox: env.immutableSandbox,
		safeAttribute:    env.safeAttribute,
		safeCallable:     env.safeCallable,
		interceptedOps:   env.interceptedOps,
		binopHook:        env.binopHook,
		unopHook:         env.unopHook,
	}
	for k, v := range env.filters {
		clone.filters[k] = v
	}
	for k, v := range env.tests {
		clone.tests[k] = v
	}
	for k, v := range env.globals {
		clone.globals[k] = v
	}
	for k, v := range env.policies {
		clone.policies[k] = v
	}
	env.mu.RUnlock()

	for _, opt := range opts {
		opt(clone)
	}
	clone.cache = newTemplateCache(clone.cacheSize)
	return clone
}

// AddFilter registers a filter. Registration after the first compile is
// undefined behaviour.
func (env *Environment) AddFilter(name string, fn FilterFunc) {
	env.mu.Lock()
	env.filters[name] = fn
	env.mu.Unlock()
}

// AddTest registers a test.
func (env *Environment) AddTest(name string, fn TestFunc) {
	env.mu.Lock()
	env.tests[name] = fn
	env.mu.Unlock()
}

// AddGlobal registers a global value or function.
func (env *Environment) AddGlobal(name string, value any) {
	env.mu.Lock()
	env.globals[name] = value
	env.mu.Unlock()
}

// Filter looks up a registered filter.
func (env *Environment) Filter(name string) (FilterFunc, bool) {
	env.mu.RLock()
	fn, ok := env.filters[name]
	env.mu.RUnlock()
	return fn, ok
}

// Test looks up a registered test.
func (env *Environment) Test(name string) (TestFunc, bool) {
	env.mu.RLock()
	fn, ok := env.tests[name]
	env.mu.RUnlock()
	return fn, ok
}

// Policy returns a policy value.
func (env *Environment) Policy(name string) any {
	env.mu.RLock()
	v := env.policies[name]
	env.mu.RUnlock()
	return v
}

func (env *Environment) policyString(name string) string {
	v := env.Policy(name)
	if v == nil {
		return ""
	}
	return str(v)
}

func (env *Environment) policyInt(name string, def int64) int64 {
	if n, ok := asInt(env.Policy(name)); ok {
		return n
	}
	return def
}

func (env *Environment) policyBool(name string) bool {
	t, _ := truth(env.Policy(name))
	return t
}

// autoescapeFor resolves the compile-time autoescape flag for a template.
func (env *Environment) autoescapeFor(name string) bool {
	if env.autoescapeFunc != nil {
		return env.autoescapeFunc(name)
	}
	return env.autoescape
}

// signature identifies the environment configuration for bytecode cache
// keys: two environments with equal signatures compile identical sources to
// identical templates.
func (env *Environment) signature() string {
	d := env.lexCfg.Delimiters
	return strings.Join([]string{
		d.BlockStart, d.BlockEnd, d.VariableStart, d.VariableEnd,
		d.CommentStart, d.CommentEnd, d.LineStatement, d.LineComment,
		fmt.Sprintf("trim=%t,lstrip=%t,keepnl=%t,loopctl=%t,sandbox=%t",
			env.lexCfg.TrimBlocks, env.lexCfg.LstripBlocks,
			env.lexCfg.KeepTrailingNewline, env.parserOpts.LoopControls,
			env.sandboxed),
	}, "\x00")
}

// FromString compiles an anonymous template from source.
func (env *Environment) FromString(source string) (*Template, error) {
	return env.compile(source, "<template>", "", nil)
}

// GetTemplate loads, compiles and caches the named template.
func (env *Environment) GetTemplate(name string) (*Template, error) {
	if env.loader == nil {
		return nil, NewRuntimeError("no loader configured for this environment")
	}
	if env.cache == nil || env.cacheSize == 0 {
		return env.loadTemplate(name)
	}
	return env.cache.getOrCompile(name, env.loadTemplate)
}

// SelectTemplate returns the first loadable template of the given names.
func (env *Environment) SelectTemplate(names []string) (*Template, error) {
	if len(names) == 0 {
		return nil, &TemplatesNotFoundError{}
	}
	for _, name := range names {
		tpl, err := env.GetTemplate(name)
		if err == nil {
			return tpl, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	return nil, &TemplatesNotFoundError{Names: names}
}

// ListTemplates enumerates the loader's template names, if it supports
// enumeration.
func (env *Environment) ListTemplates() ([]string, error) {
	lister, ok := env.loader.(TemplateLister)
	if !ok {
		return nil, NewRuntimeError("loader does not support listing templates")
	}
	return lister.ListTemplates()
}

// ClearCaches drops all cached compiled templates.
func (env *Environment) ClearCaches() {
	if env.cache != nil {
		env.cache.purge()
	}
}

func (env *Environment) loadTemplate(name string) (*Template, error) {
	src, err := env.loader.GetSource(env, name)
	if err != nil {
		return nil, err
	}

	if env.bytecodeCache != nil {
		bucket := NewBucket(env.signature(), name, checksum(src.Code))
		if err := env.bytecodeCache.Load(bucket); err == nil {
			if ast, ok := bucket.decode(); ok {
				return env.build(ast, name, src.Filename, src.Uptodate), nil
			}
		}
		tpl, err := env.compile(src.Code, name, src.Filename, src.Uptodate)
		if err != nil {
			return nil, err
		}
		if bucket.encode(tpl.ast) {
			_ = env.bytecodeCache.Dump(bucket)
		}
		return tpl, nil
	}
	return env.compile(src.Code, name, src.Filename, src.Uptodate)
}

func (env *Environment) compile(source, name, filename string, uptodate func() bool) (*Template, error) {
	lx := lexer.New(env.lexCfg)
	ast, err := parser.Parse(lx, source, name, filename, env.parserOpts)
	if err != nil {
		return nil, err
	}
	// Folding would hide operators from the interception hooks.
	if len(env.interceptedOps) == 0 {
		ast = optimizer.Optimize(ast)
	}
	return env.build(ast, name, filename, uptodate), nil
}

func (env *Environment) build(ast *nodes.Template, name, filename string, uptodate func() bool) *Template {
	tpl := &Template{
		env:        env,
		name:       name,
		filename:   filename,
		ast:        ast,
		blocks:     collectBlocks(ast.Body),
		globals:    map[string]any{},
		autoescape: env.autoescapeFor(name),
		uptodate:   uptodate,
	}
	tpl.extends = topLevelExtends(ast.Body)
	return tpl
}

func checksum(source string) string {
	sum := sha1.Sum([]byte(source))
	return hex.EncodeToString(sum[:])
}

// collectBlocks gathers every block definition in the template, including
// nested ones.
func collectBlocks(body []nodes.Stmt) map[string]*nodes.Block {
	blocks := make(map[string]*nodes.Block)
	var walk func([]nodes.Stmt)
	walk = func(stmts []nodes.Stmt) {
		for _, s := range stmts {
			switch t := s.(type) {
			case *nodes.Block:
				blocks[t.Name] = t
				walk(t.Body)
			case *nodes.If:
				walk(t.Body)
				walk(t.Else)
			case *nodes.For:
				walk(t.Body)
				walk(t.Else)
			case *nodes.With:
				walk(t.Body)
			case *nodes.Autoescape:
				walk(t.Body)
			case *nodes.FilterBlock:
				walk(t.Body)
			}
		}
	}
	walk(body)
	return blocks
}

func topLevelExtends(body []nodes.Stmt) *nodes.Extends {
	for _, s := range body {
		if e, ok := s.(*nodes.Extends); ok {
			return e
		}
	}
	return nil
}
