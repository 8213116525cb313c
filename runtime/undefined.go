package runtime

import "fmt"

// UndefinedKind selects how tolerant an undefined value is.
type UndefinedKind int

const (
	// UndefinedLenient tolerates iteration, string and boolean coercion,
	// comparisons, arithmetic, length and membership; attribute and item
	// access fail.
	UndefinedLenient UndefinedKind = iota
	// UndefinedChainable additionally tolerates attribute and item access,
	// which produce further undefined values.
	UndefinedChainable
	// UndefinedDebug behaves like lenient but stringifies to a diagnostic.
	UndefinedDebug
	// UndefinedStrict fails on every operation including boolean coercion.
	UndefinedStrict
)

// Undefined is the sentinel produced when a lookup fails. Owner and Name
// identify the missed lookup; Hint overrides the generated message.
type Undefined struct {
	Kind  UndefinedKind
	Name  string
	Hint  string
	Owner any
}

// UndefinedFactory builds the undefined value for a failed lookup.
type UndefinedFactory func(name, hint string, owner any) *Undefined

// LenientUndefined is the default factory.
func LenientUndefined(name, hint string, owner any) *Undefined {
	return &Undefined{Kind: UndefinedLenient, Name: name, Hint: hint, Owner: owner}
}

// ChainableUndefined tolerates attribute chains on missing values.
func ChainableUndefined(name, hint string, owner any) *Undefined {
	return &Undefined{Kind: UndefinedChainable, Name: name, Hint: hint, Owner: owner}
}

// DebugUndefined renders a diagnostic placeholder instead of an empty string.
func DebugUndefined(name, hint string, owner any) *Undefined {
	return &Undefined{Kind: UndefinedDebug, Name: name, Hint: hint, Owner: owner}
}

// StrictUndefined fails on any use.
func StrictUndefined(name, hint string, owner any) *Undefined {
	return &Undefined{Kind: UndefinedStrict, Name: name, Hint: hint, Owner: owner}
}

func (u *Undefined) message() string {
	if u.Hint != "" {
		return u.Hint
	}
	if u.Owner != nil && u.Name != "" {
		return fmt.Sprintf("%s has no attribute %q", typeName(u.Owner), u.Name)
	}
	if u.Name != "" {
		return fmt.Sprintf("%q is undefined", u.Name)
	}
	return "value is undefined"
}

func (u *Undefined) fail(op string) error {
	hint := u.message()
	if op != "" {
		hint = fmt.Sprintf("%s (%s)", hint, op)
	}
	return &UndefinedError{Name: u.Name, Hint: hint}
}

// Str returns the rendered representation, or an error for strict variants.
func (u *Undefined) Str() (string, error) {
	switch u.Kind {
	case UndefinedStrict:
		return "", u.fail("cannot be rendered")
	case UndefinedDebug:
		if u.Name != "" {
			return fmt.Sprintf("{{ %s }}", u.Name), nil
		}
		return "{{ undefined }}", nil
	default:
		return "", nil
	}
}

// Truth returns the boolean coercion, or an error for strict variants.
func (u *Undefined) Truth() (bool, error) {
	if u.Kind == UndefinedStrict {
		return false, u.fail("cannot be tested for truth")
	}
	return false, nil
}

func isUndefined(v any) (*Undefined, bool) {
	u, ok := v.(*Undefined)
	return u, ok
}
