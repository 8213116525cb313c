package runtime

// Policy keys with enumerated semantics. Unknown keys are allowed and
// readable through Environment.Policy for extensions.
const (
	// PolicyTruncateLeeway is the tolerance before truncate cuts a string.
	PolicyTruncateLeeway = "truncate.leeway"
	// PolicyURLizeRel is the rel attribute urlize puts on generated links.
	PolicyURLizeRel = "urlize.rel"
	// PolicyURLizeTarget is the optional target attribute for urlize links.
	PolicyURLizeTarget = "urlize.target"
	// PolicyURLizeExtraSchemes lists schemes recognized in addition to
	// http://, https:// and mailto:.
	PolicyURLizeExtraSchemes = "urlize.extra_schemes"
	// PolicyJSONDumpsFunc overrides the tojson serializer.
	PolicyJSONDumpsFunc = "json.dumps_function"
	// PolicyJSONDumpsKwargs configures the default tojson serializer.
	PolicyJSONDumpsKwargs = "json.dumps_kwargs"
	// PolicyI18nTrimmed unifies whitespace in every trans block.
	PolicyI18nTrimmed = "ext.i18n.trimmed"
	// PolicyCompilerASCIIStr is accepted for compatibility and ignored:
	// there is a single string type here.
	PolicyCompilerASCIIStr = "compiler.ascii_str"
)

func defaultPolicies() map[string]any {
	return map[string]any{
		PolicyTruncateLeeway:     int64(5),
		PolicyURLizeRel:          "noopener",
		PolicyURLizeTarget:       nil,
		PolicyURLizeExtraSchemes: nil,
		PolicyJSONDumpsFunc:      nil,
		PolicyJSONDumpsKwargs:    map[string]any{"sort_keys": true},
		PolicyI18nTrimmed:        false,
		PolicyCompilerASCIIStr:   false,
	}
}
