package runtime

import (
	"fmt"
	"sort"
	"strings"
)

// Namespace is a mutable attribute container. Attribute writes on it are the
// only way template code propagates values across scope boundaries.
type Namespace struct {
	values map[string]any
}

// NewNamespace creates a namespace, optionally seeded from mappings.
func NewNamespace(initial ...map[string]any) *Namespace {
	ns := &Namespace{values: make(map[string]any)}
	for _, m := range initial {
		for k, v := range m {
			ns.values[k] = v
		}
	}
	return ns
}

// Get returns the stored value and whether it exists.
func (ns *Namespace) Get(name string) (any, bool) {
	v, ok := ns.values[name]
	return v, ok
}

// Set stores a value under the given name.
func (ns *Namespace) Set(name string, value any) {
	ns.values[name] = value
}

func (ns *Namespace) String() string {
	keys := make([]string, 0, len(ns.values))
	for k := range ns.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, repr(ns.values[k])))
	}
	return "namespace(" + strings.Join(parts, ", ") + ")"
}

// Module is the object bound by {% import ... as name %}: the exported
// top-level names of another template.
type Module struct {
	name string
	vars map[string]any
}

func (m *Module) String() string {
	return fmt.Sprintf("<module %q>", m.name)
}
