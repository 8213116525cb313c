package runtime

import (
	"sort"
	"strings"
)

func sortStrings(s []string) { sort.Strings(s) }

// pairLike lets two-element runtime objects participate in tuple
// unpacking.
type pairLike interface {
	pairItems() []any
}

// groupPair is one result of the groupby filter: accessible both as
// (grouper, list) and as .grouper / .list.
type groupPair struct {
	Grouper any
	List    []any
}

func (g *groupPair) pairItems() []any { return []any{g.Grouper, g.List} }

// attrGetter builds an item accessor for dotted attribute paths and
// integer indexes, as used by sort/map/groupby and friends.
func attrGetter(attribute string, defaultValue any) func(item any) (any, error) {
	parts := strings.Split(attribute, ".")
	return func(item any) (any, error) {
		cur := item
		for _, part := range parts {
			if idx, ok := asIntString(part); ok {
				v, found, err := getItem(cur, idx)
				if err != nil {
					return nil, err
				}
				if !found {
					if defaultValue != nil {
						return defaultValue, nil
					}
					return LenientUndefined(part, "", cur), nil
				}
				cur = v
				continue
			}
			v, ok := getAttr(cur, part)
			if !ok {
				if v2, found, err := getItem(cur, part); err == nil && found {
					cur = v2
					continue
				}
				if defaultValue != nil {
					return defaultValue, nil
				}
				return LenientUndefined(part, "", cur), nil
			}
			cur = v
		}
		return cur, nil
	}
}

// sortKeyFunc derives the comparison key for sorting filters.
func sortKeyFunc(caseSensitive bool, attribute string) func(item any) (any, error) {
	var get func(any) (any, error)
	if attribute != "" {
		get = attrGetter(attribute, nil)
	}
	return func(item any) (any, error) {
		if get != nil {
			v, err := get(item)
			if err != nil {
				return nil, err
			}
			item = v
		}
		if !caseSensitive {
			if s, ok := stringValue(item); ok {
				return strings.ToLower(s), nil
			}
		}
		return item, nil
	}
}

func sortSlice(items []any, key func(any) (any, error), reverse bool) error {
	type keyed struct {
		item any
		key  any
	}
	pairs := make([]keyed, len(items))
	for i, item := range items {
		k, err := key(item)
		if err != nil {
			return err
		}
		pairs[i] = keyed{item: item, key: k}
	}
	var sortErr error
	sort.SliceStable(pairs, func(i, j int) bool {
		cmp, err := compareValues(pairs[i].key, pairs[j].key)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		if reverse {
			return cmp > 0
		}
		return cmp < 0
	})
	if sortErr != nil {
		return sortErr
	}
	for i, p := range pairs {
		items[i] = p.item
	}
	return nil
}

func registerCollectionFilters(env *Environment) {
	lengthFilter := func(_ *Context, value any, _ Args) (any, error) {
		n, err := length(value)
		if err != nil {
			return nil, err
		}
		return int64(n), nil
	}
	env.AddFilter("length", lengthFilter)
	env.AddFilter("count", lengthFilter)

	env.AddFilter("first", func(ctx *Context, value any, _ Args) (any, error) {
		it, err := iterate(value)
		if err != nil {
			return nil, err
		}
		if v, ok := it(); ok {
			return v, nil
		}
		return ctx.Environment().undefined("", "no first item, sequence was empty", nil), nil
	})
	env.AddFilter("last", func(ctx *Context, value any, _ Args) (any, error) {
		items, err := toList(value)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return ctx.Environment().undefined("", "no last item, sequence was empty", nil), nil
		}
		return items[len(items)-1], nil
	})

	env.AddFilter("min", filterMinMax(false))
	env.AddFilter("max", filterMinMax(true))

	env.AddFilter("sum", func(_ *Context, value any, args Args) (any, error) {
		items, err := toList(value)
		if err != nil {
			return nil, err
		}
		attribute := args.String(0, "attribute", "")
		start := args.Get(1, "start", int64(0))
		var get func(any) (any, error)
		if attribute != "" {
			get = attrGetter(attribute, nil)
		}
		acc := start
		for _, item := range items {
			if get != nil {
				item, err = get(item)
				if err != nil {
					return nil, err
				}
			}
			acc, err = binaryOp("+", acc, item)
			if err != nil {
				return nil, err
			}
		}
		return acc, nil
	})

	env.AddFilter("sort", func(_ *Context, value any, args Args) (any, error) {
		items, err := toList(value)
		if err != nil {
			return nil, err
		}
		out := append([]any(nil), items...)
		reverse := args.Bool(0, "reverse", false)
		caseSensitive := args.Bool(1, "case_sensitive", false)
		attribute := args.String(2, "attribute", "")
		if err := sortSlice(out, sortKeyFunc(caseSensitive, attribute), reverse); err != nil {
			return nil, err
		}
		return out, nil
	})

	env.AddFilter("reverse", func(_ *Context, value any, _ Args) (any, error) {
		if s, ok := stringValue(value); ok {
			runes := []rune(s)
			for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
				runes[i], runes[j] = runes[j], runes[i]
			}
			return string(runes), nil
		}
		items, err := toList(value)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[len(items)-1-i] = item
		}
		return out, nil
	})

	env.AddFilter("unique", func(_ *Context, value any, args Args) (any, error) {
		items, err := toList(value)
		if err != nil {
			return nil, err
		}
		caseSensitive := args.Bool(0, "case_sensitive", false)
		attribute := args.String(1, "attribute", "")
		key := sortKeyFunc(caseSensitive, attribute)

		var out []any
		var seen []any
		for _, item := range items {
			k, err := key(item)
			if err != nil {
				return nil, err
			}
			dup := false
			for _, s := range seen {
				if equal(s, k) {
					dup = true
					break
				}
			}
			if !dup {
				seen = append(seen, k)
				out = append(out, item)
			}
		}
		return out, nil
	})

	env.AddFilter("groupby", func(_ *Context, value any, args Args) (any, error) {
		items, err := toList(value)
		if err != nil {
			return nil, err
		}
		attribute := args.String(0, "attribute", "")
		if attribute == "" {
			return nil, NewRuntimeError("groupby requires an attribute name")
		}
		caseSensitive := args.Bool(1, "case_sensitive", false)
		defaultValue := args.Get(2, "default", nil)

		get := attrGetter(attribute, defaultValue)
		sorted := append([]any(nil), items...)
		if err := sortSlice(sorted, sortKeyFunc(caseSensitive, attribute), false); err != nil {
			return nil, err
		}

		var groups []any
		var current *groupPair
		for _, item := range sorted {
			k, err := get(item)
			if err != nil {
				return nil, err
			}
			if current == nil || !equal(current.Grouper, k) {
				current = &groupPair{Grouper: k}
				groups = append(groups, current)
			}
			current.List = append(current.List, item)
		}
		return groups, nil
	})

	env.AddFilter("batch", func(_ *Context, value any, args Args) (any, error) {
		items, err := toList(value)
		if err != nil {
			return nil, err
		}
		size := int(args.Int(0, "linecount", 0))
		if size <= 0 {
			return nil, NewRuntimeError("batch size must be positive")
		}
		fill := args.Get(1, "fill_with", nil)
		fillProvided := args.Has(1, "fill_with")

		var out []any
		for start := 0; start < len(items); start += size {
			end := start + size
			if end > len(items) {
				end = len(items)
			}
			batch := append([]any(nil), items[start:end]...)
			if fillProvided {
				for len(batch) < size {
					batch = append(batch, fill)
				}
			}
			out = append(out, batch)
		}
		return out, nil
	})

	env.AddFilter("slice", func(_ *Context, value any, args Args) (any, error) {
		items, err := toList(value)
		if err != nil {
			return nil, err
		}
		count := int(args.Int(0, "slices", 0))
		if count <= 0 {
			return nil, NewRuntimeError("slice count must be positive")
		}
		fill := args.Get(1, "fill_with", nil)
		fillProvided := args.Has(1, "fill_with")

		perSlice := len(items) / count
		withExtra := len(items) % count
		out := make([]any, 0, count)
		offset := 0
		for i := 0; i < count; i++ {
			size := perSlice
			if i < withExtra {
				size++
			}
			part := append([]any(nil), items[offset:offset+size]...)
			offset += size
			if fillProvided && i >= withExtra {
				part = append(part, fill)
			}
			out = append(out, part)
		}
		return out, nil
	})

	env.AddFilter("join", func(_ *Context, value any, args Args) (any, error) {
		sep := args.Get(0, "d", "")
		attribute := args.String(1, "attribute", "")
		items, err := toList(value)
		if err != nil {
			return nil, err
		}
		if attribute != "" {
			get := attrGetter(attribute, nil)
			mapped := make([]any, len(items))
			for i, item := range items {
				if mapped[i], err = get(item); err != nil {
					return nil, err
				}
			}
			items = mapped
		}

		anySafe := isSafe(sep)
		for _, item := range items {
			if isSafe(item) {
				anySafe = true
			}
		}
		parts := make([]string, len(items))
		for i, item := range items {
			if anySafe && !isSafe(item) {
				parts[i] = EscapeString(str(item))
			} else {
				parts[i] = str(item)
			}
		}
		sepStr := str(sep)
		if anySafe && !isSafe(sep) {
			sepStr = EscapeString(sepStr)
		}
		joined := strings.Join(parts, sepStr)
		if anySafe {
			return Markup(joined), nil
		}
		return joined, nil
	})

	env.AddFilter("list", func(_ *Context, value any, _ Args) (any, error) {
		return toList(value)
	})

	env.AddFilter("map", filterMap)
	env.AddFilter("select", filterSelect(false))
	env.AddFilter("reject", filterSelect(true))
	env.AddFilter("selectattr", filterSelectAttr(false))
	env.AddFilter("rejectattr", filterSelectAttr(true))

	env.AddFilter("dictsort", func(_ *Context, value any, args Args) (any, error) {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, NewRuntimeError("dictsort requires a mapping, got %s", typeName(value))
		}
		caseSensitive := args.Bool(0, "case_sensitive", false)
		by := args.String(1, "by", "key")
		reverse := args.Bool(2, "reverse", false)
		if by != "key" && by != "value" {
			return nil, NewRuntimeError("dictsort by must be \"key\" or \"value\"")
		}

		pairs := make([]any, 0, len(m))
		for k, v := range m {
			pairs = append(pairs, []any{k, v})
		}
		idx := 0
		if by == "value" {
			idx = 1
		}
		key := func(item any) (any, error) {
			pair := item.([]any)
			k := pair[idx]
			if s, ok := stringValue(k); ok && !caseSensitive {
				return strings.ToLower(s), nil
			}
			return k, nil
		}
		if err := sortSlice(pairs, key, reverse); err != nil {
			return nil, err
		}
		return pairs, nil
	})

	env.AddFilter("items", func(_ *Context, value any, _ Args) (any, error) {
		if u, ok := isUndefined(value); ok && u.Kind != UndefinedStrict {
			return []any{}, nil
		}
		m, ok := value.(map[string]any)
		if !ok {
			return nil, NewRuntimeError("items requires a mapping, got %s", typeName(value))
		}
		out := make([]any, 0, len(m))
		for _, k := range sortedKeys(m) {
			out = append(out, []any{k, m[k]})
		}
		return out, nil
	})
}

func filterMinMax(isMax bool) FilterFunc {
	return func(ctx *Context, value any, args Args) (any, error) {
		items, err := toList(value)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return ctx.Environment().undefined("", "no items, sequence was empty", nil), nil
		}
		caseSensitive := args.Bool(0, "case_sensitive", false)
		attribute := args.String(1, "attribute", "")
		key := sortKeyFunc(caseSensitive, attribute)

		best := items[0]
		bestKey, err := key(best)
		if err != nil {
			return nil, err
		}
		for _, item := range items[1:] {
			k, err := key(item)
			if err != nil {
				return nil, err
			}
			cmp, err := compareValues(k, bestKey)
			if err != nil {
				return nil, err
			}
			if (isMax && cmp > 0) || (!isMax && cmp < 0) {
				best, bestKey = item, k
			}
		}
		return best, nil
	}
}

func filterMap(ctx *Context, value any, args Args) (any, error) {
	items, err := toList(value)
	if err != nil {
		return nil, err
	}

	if attribute, ok := args.Named["attribute"]; ok {
		defaultValue := args.Named["default"]
		get := attrGetter(str(attribute), defaultValue)
		out := make([]any, len(items))
		for i, item := range items {
			if out[i], err = get(item); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	if len(args.Positional) == 0 {
		return nil, NewRuntimeError("map requires a filter name or an attribute keyword")
	}
	name := str(args.Positional[0])
	fn, ok := ctx.Environment().Filter(name)
	if !ok {
		return nil, NewRuntimeError("no filter named %q", name)
	}
	rest := Args{Positional: args.Positional[1:], Named: nil}
	out := make([]any, len(items))
	for i, item := range items {
		if out[i], err = fn(ctx, item, rest); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func filterSelect(reject bool) FilterFunc {
	return func(ctx *Context, value any, args Args) (any, error) {
		items, err := toList(value)
		if err != nil {
			return nil, err
		}
		check, err := makeTestPredicate(ctx, args, 0)
		if err != nil {
			return nil, err
		}
		var out []any
		for _, item := range items {
			ok, err := check(item)
			if err != nil {
				return nil, err
			}
			if ok != reject {
				out = append(out, item)
			}
		}
		return out, nil
	}
}

func filterSelectAttr(reject bool) FilterFunc {
	return func(ctx *Context, value any, args Args) (any, error) {
		items, err := toList(value)
		if err != nil {
			return nil, err
		}
		if len(args.Positional) == 0 {
			return nil, NewRuntimeError("selectattr requires an attribute name")
		}
		get := attrGetter(str(args.Positional[0]), nil)
		check, err := makeTestPredicate(ctx, args, 1)
		if err != nil {
			return nil, err
		}
		var out []any
		for _, item := range items {
			attr, err := get(item)
			if err != nil {
				return nil, err
			}
			ok, err := check(attr)
			if err != nil {
				return nil, err
			}
			if ok != reject {
				out = append(out, item)
			}
		}
		return out, nil
	}
}

// makeTestPredicate builds the per-item predicate for select/reject:
// either a named test with arguments or plain truthiness.
func makeTestPredicate(ctx *Context, args Args, from int) (func(any) (bool, error), error) {
	if len(args.Positional) <= from {
		return func(item any) (bool, error) { return truth(item) }, nil
	}
	name := str(args.Positional[from])
	test, ok := ctx.Environment().Test(name)
	if !ok {
		return nil, NewRuntimeError("no test named %q", name)
	}
	rest := Args{Positional: args.Positional[from+1:]}
	return func(item any) (bool, error) {
		return test(ctx, item, rest)
	}, nil
}
