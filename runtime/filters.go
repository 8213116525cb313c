package runtime

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

func registerBuiltinFilters(env *Environment) {
	registerStringFilters(env)
	registerCollectionFilters(env)
	registerNumericFilters(env)
	registerMiscFilters(env)
}

// applyString runs a plain string transformation, keeping the safe tag when
// the input carried one and the transformation is escape-safe.
func applyString(value any, escapeSafe bool, fn func(string) string) (any, error) {
	if u, ok := isUndefined(value); ok {
		if u.Kind == UndefinedStrict {
			return nil, u.fail("cannot be filtered")
		}
		return fn(""), nil
	}
	out := fn(str(value))
	if escapeSafe && isSafe(value) {
		return Markup(out), nil
	}
	return out, nil
}

func registerStringFilters(env *Environment) {
	env.AddFilter("upper", func(_ *Context, value any, _ Args) (any, error) {
		return applyString(value, true, strings.ToUpper)
	})
	env.AddFilter("lower", func(_ *Context, value any, _ Args) (any, error) {
		return applyString(value, true, strings.ToLower)
	})
	env.AddFilter("title", func(_ *Context, value any, _ Args) (any, error) {
		return applyString(value, true, titleCase)
	})
	env.AddFilter("capitalize", func(_ *Context, value any, _ Args) (any, error) {
		return applyString(value, true, func(s string) string {
			if s == "" {
				return s
			}
			runes := []rune(s)
			return string(unicode.ToUpper(runes[0])) + strings.ToLower(string(runes[1:]))
		})
	})
	env.AddFilter("trim", func(_ *Context, value any, args Args) (any, error) {
		chars := args.String(0, "chars", "")
		return applyString(value, true, func(s string) string {
			if chars == "" {
				return strings.TrimSpace(s)
			}
			return strings.Trim(s, chars)
		})
	})
	env.AddFilter("striptags", func(_ *Context, value any, _ Args) (any, error) {
		return applyString(value, false, func(s string) string {
			s = tagPattern.ReplaceAllString(s, "")
			return strings.Join(strings.Fields(s), " ")
		})
	})
	env.AddFilter("truncate", filterTruncate)
	env.AddFilter("wordcount", func(_ *Context, value any, _ Args) (any, error) {
		return int64(len(strings.Fields(str(softStr(value))))), nil
	})
	env.AddFilter("wordwrap", filterWordwrap)
	env.AddFilter("replace", filterReplace)
	env.AddFilter("center", func(_ *Context, value any, args Args) (any, error) {
		width := int(args.Int(0, "width", 80))
		return applyString(value, true, func(s string) string {
			gap := width - len([]rune(s))
			if gap <= 0 {
				return s
			}
			left := gap / 2
			return strings.Repeat(" ", left) + s + strings.Repeat(" ", gap-left)
		})
	})
	env.AddFilter("indent", filterIndent)
	env.AddFilter("urlize", filterURLize)
	env.AddFilter("urlencode", filterURLEncode)
	env.AddFilter("format", filterFormat)
	env.AddFilter("escape", filterEscape)
	env.AddFilter("e", filterEscape)
	env.AddFilter("safe", func(_ *Context, value any, _ Args) (any, error) {
		return Markup(str(value)), nil
	})
	env.AddFilter("forceescape", func(_ *Context, value any, _ Args) (any, error) {
		return ForceEscape(value), nil
	})
	env.AddFilter("string", func(_ *Context, value any, _ Args) (any, error) {
		return softStr(value), nil
	})
}

var tagPattern = regexp.MustCompile(`<[^>]*?>`)

func filterEscape(_ *Context, value any, _ Args) (any, error) {
	if u, ok := isUndefined(value); ok {
		s, err := u.Str()
		if err != nil {
			return nil, err
		}
		return Markup(EscapeString(s)), nil
	}
	return Escape(value), nil
}

func filterTruncate(ctx *Context, value any, args Args) (any, error) {
	s := str(softStr(value))
	maxLen := int(args.Int(0, "length", 255))
	killwords := args.Bool(1, "killwords", false)
	end := args.String(2, "end", "...")
	leeway := int(args.Int(3, "leeway", ctx.Environment().policyInt(PolicyTruncateLeeway, 5)))

	runes := []rune(s)
	if len(runes) <= maxLen+leeway {
		return s, nil
	}
	keep := maxLen - len([]rune(end))
	if keep < 0 {
		keep = 0
	}
	if killwords {
		return string(runes[:keep]) + end, nil
	}
	cut := string(runes[:keep])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + end, nil
}

func filterWordwrap(ctx *Context, value any, args Args) (any, error) {
	s := str(softStr(value))
	width := int(args.Int(0, "width", 79))
	breakLong := args.Bool(1, "break_long_words", true)
	wrapString := args.String(2, "wrapstring", ctx.Environment().newlineSeq)
	if width <= 0 {
		return s, nil
	}

	var lines []string
	for _, paragraph := range strings.Split(s, "\n") {
		var line strings.Builder
		for _, word := range strings.Fields(paragraph) {
			switch {
			case line.Len() == 0:
				line.WriteString(word)
			case line.Len()+1+len(word) <= width:
				line.WriteByte(' ')
				line.WriteString(word)
			default:
				lines = append(lines, line.String())
				line.Reset()
				line.WriteString(word)
			}
			for breakLong && line.Len() > width {
				text := line.String()
				lines = append(lines, text[:width])
				line.Reset()
				line.WriteString(text[width:])
			}
		}
		lines = append(lines, line.String())
	}
	return strings.Join(lines, wrapString), nil
}

func filterReplace(_ *Context, value any, args Args) (any, error) {
	if !args.Has(0, "old") || !args.Has(1, "new") {
		return nil, NewRuntimeError("replace requires old and new arguments")
	}
	old := args.String(0, "old", "")
	replacement := args.String(1, "new", "")
	count := int(args.Int(2, "count", -1))

	if isSafe(value) {
		// Arguments are escaped so the result stays trustworthy markup.
		return Markup(strings.Replace(str(value), EscapeString(old), EscapeString(replacement), count)), nil
	}
	return strings.Replace(str(softStr(value)), old, replacement, count), nil
}

func filterIndent(_ *Context, value any, args Args) (any, error) {
	width := int(args.Int(0, "width", 4))
	first := args.Bool(1, "first", false)
	blank := args.Bool(2, "blank", false)
	prefix := strings.Repeat(" ", width)

	return applyString(value, true, func(s string) string {
		lines := strings.Split(s, "\n")
		for i, line := range lines {
			if i == 0 && !first {
				continue
			}
			if line == "" && !blank {
				continue
			}
			lines[i] = prefix + line
		}
		return strings.Join(lines, "\n")
	})
}

// Email recognition requires a word character at the start of the domain
// and a word-character-only TLD, which keeps the pattern linear.
var (
	urlPattern   = regexp.MustCompile(`^(https?://|www\.)[^\s<>"']+`)
	emailPattern = regexp.MustCompile(`^[\w.+-]+@\w[\w.-]*\.\w+$`)
)

func filterURLize(ctx *Context, value any, args Args) (any, error) {
	env := ctx.Environment()
	trimLimit := int(args.Int(0, "trim_url_limit", 0))
	nofollow := args.Bool(1, "nofollow", false)
	target := args.String(2, "target", env.policyString(PolicyURLizeTarget))

	rel := env.policyString(PolicyURLizeRel)
	if nofollow {
		rel = strings.TrimSpace(rel + " nofollow")
	}
	var extraSchemes []string
	if v := env.Policy(PolicyURLizeExtraSchemes); v != nil {
		if list, err := toList(v); err == nil {
			for _, item := range list {
				extraSchemes = append(extraSchemes, str(item))
			}
		}
	}
	if v := args.Get(3, "extra_schemes", nil); v != nil {
		if list, err := toList(v); err == nil {
			for _, item := range list {
				extraSchemes = append(extraSchemes, str(item))
			}
		}
	}

	trimURL := func(s string) string {
		if trimLimit > 0 && len(s) > trimLimit {
			return s[:trimLimit] + "..."
		}
		return s
	}

	attrs := func() string {
		var b strings.Builder
		if rel != "" {
			fmt.Fprintf(&b, " rel=\"%s\"", EscapeString(rel))
		}
		if target != "" {
			fmt.Fprintf(&b, " target=\"%s\"", EscapeString(target))
		}
		return b.String()
	}()

	words := strings.Split(str(softStr(value)), " ")
	for i, word := range words {
		head, core, tail := splitPunct(word)
		switch {
		case core == "":
		case urlPattern.MatchString(core):
			href := core
			if strings.HasPrefix(core, "www.") {
				href = "https://" + core
			}
			words[i] = head + fmt.Sprintf("<a href=\"%s\"%s>%s</a>",
				EscapeString(href), attrs, EscapeString(trimURL(core))) + tail
		case emailPattern.MatchString(core):
			words[i] = head + fmt.Sprintf("<a href=\"mailto:%s\">%s</a>",
				EscapeString(core), EscapeString(core)) + tail
		case hasScheme(core, extraSchemes):
			words[i] = head + fmt.Sprintf("<a href=\"%s\"%s>%s</a>",
				EscapeString(core), attrs, EscapeString(trimURL(core))) + tail
		default:
			words[i] = EscapeString(word)
			continue
		}
		words[i] = EscapeString(head) + words[i][len(head):]
	}
	return Markup(strings.Join(words, " ")), nil
}

func splitPunct(word string) (head, core, tail string) {
	start := 0
	for start < len(word) && strings.ContainsRune("(<&lt;", rune(word[start])) {
		start++
	}
	end := len(word)
	for end > start && strings.ContainsRune(".,)>\n&gt;", rune(word[end-1])) {
		end--
	}
	return word[:start], word[start:end], word[end:]
}

func hasScheme(word string, schemes []string) bool {
	for _, scheme := range schemes {
		if scheme != "" && strings.HasPrefix(word, scheme) {
			return true
		}
	}
	return false
}

func filterURLEncode(_ *Context, value any, _ Args) (any, error) {
	switch t := value.(type) {
	case map[string]any:
		pairs := make([]string, 0, len(t))
		for _, k := range sortedKeys(t) {
			pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(str(t[k])))
		}
		return strings.Join(pairs, "&"), nil
	}
	if s, ok := stringValue(value); ok {
		return strings.ReplaceAll(url.QueryEscape(s), "+", "%20"), nil
	}
	if items, err := toList(value); err == nil {
		pairs := make([]string, 0, len(items))
		for _, item := range items {
			pair, err := toList(item)
			if err != nil || len(pair) != 2 {
				return nil, NewRuntimeError("urlencode expects a mapping or sequence of pairs")
			}
			pairs = append(pairs, url.QueryEscape(str(pair[0]))+"="+url.QueryEscape(str(pair[1])))
		}
		return strings.Join(pairs, "&"), nil
	}
	return strings.ReplaceAll(url.QueryEscape(str(value)), "+", "%20"), nil
}

// filterFormat applies %-style formatting: %s, %d, %f (with precision), %x
// and %%.
func filterFormat(_ *Context, value any, args Args) (any, error) {
	return pyFormat(str(softStr(value)), args.Positional)
}

func pyFormat(format string, args []any) (string, error) {
	var b strings.Builder
	argIdx := 0
	nextArg := func() (any, error) {
		if argIdx >= len(args) {
			return nil, NewRuntimeError("not enough arguments for format string")
		}
		v := args[argIdx]
		argIdx++
		return v, nil
	}

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(format) {
			return "", NewRuntimeError("incomplete format specifier")
		}
		j := i + 1
		for j < len(format) && strings.ContainsRune("0123456789.+- ", rune(format[j])) {
			j++
		}
		if j >= len(format) {
			return "", NewRuntimeError("incomplete format specifier")
		}
		spec := format[i : j+1]
		verb := format[j]
		i = j
		switch verb {
		case '%':
			b.WriteByte('%')
		case 's', 'r':
			v, err := nextArg()
			if err != nil {
				return "", err
			}
			if verb == 'r' {
				b.WriteString(repr(v))
			} else {
				b.WriteString(str(v))
			}
		case 'd', 'i':
			v, err := nextArg()
			if err != nil {
				return "", err
			}
			n, ok := asInt(v)
			if !ok {
				if f, fok := asFloat(v); fok {
					n = int64(f)
				} else {
					return "", NewRuntimeError("%%d format requires a number, got %s", typeName(v))
				}
			}
			b.WriteString(fmt.Sprintf(strings.Replace(spec, string(verb), "d", 1), n))
		case 'f', 'e', 'g':
			v, err := nextArg()
			if err != nil {
				return "", err
			}
			f, ok := asFloat(v)
			if !ok {
				return "", NewRuntimeError("%%%c format requires a number, got %s", verb, typeName(v))
			}
			b.WriteString(fmt.Sprintf(spec, f))
		case 'x', 'X', 'o':
			v, err := nextArg()
			if err != nil {
				return "", err
			}
			n, ok := asInt(v)
			if !ok {
				return "", NewRuntimeError("%%%c format requires an integer, got %s", verb, typeName(v))
			}
			b.WriteString(fmt.Sprintf(spec, n))
		default:
			return "", NewRuntimeError("unsupported format character %q", verb)
		}
	}
	return b.String(), nil
}

func titleCase(s string) string {
	var b strings.Builder
	startOfWord := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			if startOfWord {
				b.WriteRune(unicode.ToUpper(r))
			} else {
				b.WriteRune(unicode.ToLower(r))
			}
			startOfWord = false
		default:
			b.WriteRune(r)
			startOfWord = true
		}
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	return keys
}
