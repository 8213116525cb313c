package runtime

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// typeName reports a python-flavoured type name for error messages.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "none"
	case bool:
		return "bool"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	case string, Markup:
		return "str"
	case *Undefined:
		return "undefined"
	case map[string]any:
		return "dict"
	case []any:
		return "list"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return "list"
	case reflect.Map:
		return "dict"
	case reflect.Func:
		return "function"
	}
	return rv.Type().String()
}

// asInt normalizes any integer flavour to int64.
func asInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		return int64(t), true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// asFloat widens any numeric flavour to float64.
func asFloat(v any) (float64, bool) {
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	switch t := v.(type) {
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func isFloat(v any) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return false
}

func isNumber(v any) bool {
	return isInteger(v) || isFloat(v)
}

// truth applies boolean coercion: empty collections, zero numbers, empty
// strings, nil and lenient undefineds are false.
func truth(v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		return t != "", nil
	case Markup:
		return t != "", nil
	case *Undefined:
		return t.Truth()
	}
	if f, ok := asFloat(v); ok {
		return f != 0, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len() > 0, nil
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil(), nil
	}
	return true, nil
}

// str renders a value the way template output does, without escaping.
func str(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return t
	case Markup:
		return string(t)
	case HTMLer:
		return t.HTML()
	case float64:
		return formatFloat(t)
	case float32:
		return formatFloat(float64(t))
	case *Undefined:
		s, _ := t.Str()
		return s
	case error:
		return t.Error()
	}
	if i, ok := asInt(v); ok {
		return strconv.FormatInt(i, 10)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return repr(v)
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v)
}

func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if math.IsNaN(f) {
		return "nan"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e16 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// repr renders a value the way collection members print: strings quoted,
// collections recursively.
func repr(v any) string {
	switch t := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(t, "'", "\\'") + "'"
	case Markup:
		return "'" + strings.ReplaceAll(string(t), "'", "\\'") + "'"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		var b strings.Builder
		b.WriteByte('[')
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(repr(rv.Index(i).Interface()))
		}
		b.WriteByte(']')
		return b.String()
	case reflect.Map:
		keys := sortedMapKeys(rv)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(repr(k.Interface()))
			b.WriteString(": ")
			b.WriteString(repr(rv.MapIndex(k).Interface()))
		}
		b.WriteByte('}')
		return b.String()
	}
	return str(v)
}

func sortedMapKeys(rv reflect.Value) []reflect.Value {
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return str(keys[i].Interface()) < str(keys[j].Interface())
	})
	return keys
}

// length returns the item count of strings, sequences and mappings.
func length(v any) (int, error) {
	switch t := v.(type) {
	case string:
		return len([]rune(t)), nil
	case Markup:
		return len([]rune(string(t))), nil
	case *Undefined:
		if t.Kind == UndefinedStrict {
			return 0, t.fail("has no length")
		}
		return 0, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), nil
	}
	return 0, NewRuntimeError("object of type %s has no length", typeName(v))
}

// iterator yields successive values; ok is false when exhausted.
type iterator func() (any, bool)

// iterate returns an iterator over sequences, mappings (keys, sorted for
// determinism), strings (runes) and range objects. Undefined values iterate
// empty unless strict.
func iterate(v any) (iterator, error) {
	switch t := v.(type) {
	case nil:
		return nil, NewRuntimeError("none is not iterable")
	case string:
		return runeIterator(t), nil
	case Markup:
		return runeIterator(string(t)), nil
	case *rangeObject:
		return t.iter(), nil
	case pairLike:
		items := t.pairItems()
		i := 0
		return func() (any, bool) {
			if i >= len(items) {
				return nil, false
			}
			v := items[i]
			i++
			return v, true
		}, nil
	case *Undefined:
		if t.Kind == UndefinedStrict {
			return nil, t.fail("is not iterable")
		}
		return func() (any, bool) { return nil, false }, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		i := 0
		return func() (any, bool) {
			if i >= len(keys) {
				return nil, false
			}
			k := keys[i]
			i++
			return k, true
		}, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		i := 0
		return func() (any, bool) {
			if i >= rv.Len() {
				return nil, false
			}
			item := rv.Index(i).Interface()
			i++
			return item, true
		}, nil
	case reflect.Map:
		keys := sortedMapKeys(rv)
		i := 0
		return func() (any, bool) {
			if i >= len(keys) {
				return nil, false
			}
			k := keys[i].Interface()
			i++
			return k, true
		}, nil
	}
	return nil, NewRuntimeError("%s object is not iterable", typeName(v))
}

func runeIterator(s string) iterator {
	runes := []rune(s)
	i := 0
	return func() (any, bool) {
		if i >= len(runes) {
			return nil, false
		}
		r := string(runes[i])
		i++
		return r, true
	}
}

// collect drains an iterator into a slice.
func collect(it iterator) []any {
	var out []any
	for {
		v, ok := it()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// toList materializes any iterable as a []any.
func toList(v any) ([]any, error) {
	if l, ok := v.([]any); ok {
		return l, nil
	}
	it, err := iterate(v)
	if err != nil {
		return nil, err
	}
	return collect(it), nil
}

// equal is python-style equality: numbers compare across flavours, strings
// compare to Markup, everything else falls back to deep equality.
func equal(a, b any) bool {
	if ua, ok := a.(*Undefined); ok {
		if ub, ok := b.(*Undefined); ok {
			return ua.Name == ub.Name
		}
		return false
	}
	if _, ok := b.(*Undefined); ok {
		return false
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	// bool is not a number here: True != 1 surprises template authors less.
	ab, aIsBool := a.(bool)
	bb, bIsBool := b.(bool)
	if aIsBool || bIsBool {
		return aIsBool && bIsBool && ab == bb
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
		return false
	}
	sa, aIsStr := stringValue(a)
	sb, bIsStr := stringValue(b)
	if aIsStr || bIsStr {
		return aIsStr && bIsStr && sa == sb
	}
	return reflect.DeepEqual(a, b)
}

func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case Markup:
		return string(t), true
	}
	return "", false
}

// compareValues orders numbers and strings; anything else is an error.
func compareValues(a, b any) (int, error) {
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			switch {
			case fa < fb:
				return -1, nil
			case fa > fb:
				return 1, nil
			}
			return 0, nil
		}
	}
	if sa, ok := stringValue(a); ok {
		if sb, ok := stringValue(b); ok {
			return strings.Compare(sa, sb), nil
		}
	}
	return 0, NewRuntimeError("%s and %s are not orderable", typeName(a), typeName(b))
}

// contains implements the "in" operator: substring, sequence membership or
// mapping key.
func contains(container, item any) (bool, error) {
	switch t := container.(type) {
	case string:
		s, ok := stringValue(item)
		if !ok {
			return false, NewRuntimeError("'in <string>' requires string operand, got %s", typeName(item))
		}
		return strings.Contains(t, s), nil
	case Markup:
		s, ok := stringValue(item)
		if !ok {
			return false, NewRuntimeError("'in <string>' requires string operand, got %s", typeName(item))
		}
		return strings.Contains(string(t), s), nil
	case map[string]any:
		s, ok := stringValue(item)
		if !ok {
			return false, nil
		}
		_, found := t[s]
		return found, nil
	case *Undefined:
		if t.Kind == UndefinedStrict {
			return false, t.fail("is not a container")
		}
		return false, nil
	}
	rv := reflect.ValueOf(container)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if equal(rv.Index(i).Interface(), item) {
				return true, nil
			}
		}
		return false, nil
	case reflect.Map:
		for _, k := range rv.MapKeys() {
			if equal(k.Interface(), item) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, NewRuntimeError("%s object is not a container", typeName(container))
}

// getItem performs subscript lookup. ok reports whether the key was present;
// err reports lookups that can never succeed.
func getItem(v, key any) (out any, ok bool, err error) {
	switch t := v.(type) {
	case map[string]any:
		if s, isStr := stringValue(key); isStr {
			out, ok = t[s]
			return out, ok, nil
		}
		return nil, false, nil
	case string:
		return stringIndex(t, key)
	case Markup:
		out, ok, err = stringIndex(string(t), key)
		if s, isStr := out.(string); ok && isStr {
			return Markup(EscapeString(s)), ok, err
		}
		return out, ok, err
	case *Namespace:
		if s, isStr := stringValue(key); isStr {
			out, ok = t.Get(s)
			return out, ok, nil
		}
		return nil, false, nil
	case *Module:
		if s, isStr := stringValue(key); isStr {
			out, ok = t.vars[s]
			return out, ok, nil
		}
		return nil, false, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		idx, isInt := asInt(key)
		if !isInt {
			return nil, false, nil
		}
		n := int64(rv.Len())
		if idx < 0 {
			idx += n
		}
		if idx < 0 || idx >= n {
			return nil, false, nil
		}
		return rv.Index(int(idx)).Interface(), true, nil
	case reflect.Map:
		kv := reflect.ValueOf(key)
		if !kv.IsValid() || !kv.Type().AssignableTo(rv.Type().Key()) {
			if kv.IsValid() && kv.Type().ConvertibleTo(rv.Type().Key()) {
				kv = kv.Convert(rv.Type().Key())
			} else {
				return nil, false, nil
			}
		}
		item := rv.MapIndex(kv)
		if !item.IsValid() {
			return nil, false, nil
		}
		return item.Interface(), true, nil
	}
	return nil, false, nil
}

func stringIndex(s string, key any) (any, bool, error) {
	idx, isInt := asInt(key)
	if !isInt {
		return nil, false, nil
	}
	runes := []rune(s)
	n := int64(len(runes))
	if idx < 0 {
		idx += n
	}
	if idx < 0 || idx >= n {
		return nil, false, NewRuntimeError("string index out of range")
	}
	return string(runes[idx]), true, nil
}

// sliceValue implements [start:stop:step] over sequences and strings.
func sliceValue(v any, start, stop, step any) (any, error) {
	stepN := int64(1)
	if step != nil {
		n, ok := asInt(step)
		if !ok || n == 0 {
			return nil, NewRuntimeError("slice step must be a non-zero integer")
		}
		stepN = n
	}

	if s, ok := stringValue(v); ok {
		runes := []rune(s)
		picked := sliceIndices(int64(len(runes)), start, stop, stepN)
		var b strings.Builder
		for _, i := range picked {
			b.WriteRune(runes[i])
		}
		// Slicing may split an entity, so the safe tag is dropped.
		return b.String(), nil
	}

	items, err := toList(v)
	if err != nil {
		return nil, err
	}
	picked := sliceIndices(int64(len(items)), start, stop, stepN)
	out := make([]any, 0, len(picked))
	for _, i := range picked {
		out = append(out, items[i])
	}
	return out, nil
}

func sliceIndices(n int64, start, stop any, step int64) []int64 {
	clamp := func(i int64) int64 {
		if i < 0 {
			i += n
		}
		if i < 0 {
			if step < 0 {
				return -1
			}
			return 0
		}
		if i >= n {
			if step < 0 {
				return n - 1
			}
			return n
		}
		return i
	}

	var from, to int64
	if step > 0 {
		from, to = int64(0), n
	} else {
		from, to = n-1, -1
	}
	if start != nil {
		if i, ok := asInt(start); ok {
			from = clamp(i)
		}
	}
	if stop != nil {
		if i, ok := asInt(stop); ok {
			to = clamp(i)
		}
	}

	var out []int64
	if step > 0 {
		for i := from; i < to; i += step {
			out = append(out, i)
		}
	} else {
		for i := from; i > to; i += step {
			out = append(out, i)
		}
	}
	return out
}

// rangeObject is the lazily-iterated result of the range() global.
type rangeObject struct {
	start, stop, step int64
}

func (r *rangeObject) len() int64 {
	if r.step > 0 {
		if r.stop <= r.start {
			return 0
		}
		return (r.stop - r.start + r.step - 1) / r.step
	}
	if r.start <= r.stop {
		return 0
	}
	return (r.start - r.stop - r.step - 1) / -r.step
}

func (r *rangeObject) iter() iterator {
	cur := r.start
	return func() (any, bool) {
		if r.step > 0 && cur >= r.stop {
			return nil, false
		}
		if r.step < 0 && cur <= r.stop {
			return nil, false
		}
		v := cur
		cur += r.step
		return v, true
	}
}

func (r *rangeObject) String() string {
	if r.step == 1 {
		return fmt.Sprintf("range(%d, %d)", r.start, r.stop)
	}
	return fmt.Sprintf("range(%d, %d, %d)", r.start, r.stop, r.step)
}
