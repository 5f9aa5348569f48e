package router

// modelAliases maps marketing model ids to the dated ids providers are
// usually configured with. Applied as a retry after the literal id misses.
var modelAliases = map[string]string{
	"claude-3-opus-latest":     "claude-3-opus-20240229",
	"claude-3-5-sonnet-latest": "claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-latest":  "claude-3-5-haiku-20241022",
	"claude-3-7-sonnet-latest": "claude-3-7-sonnet-20250219",
	"claude-opus-4-0":          "claude-opus-4-20250514",
	"claude-sonnet-4-0":        "claude-sonnet-4-20250514",
	"claude-opus-4-1":          "claude-opus-4-1-20250805",
	"claude-sonnet-4-5":        "claude-sonnet-4-5-20250929",
	"claude-haiku-4-5":         "claude-haiku-4-5-20251001",
}

// Alias returns the dated id for a marketing id, or "" when none exists.
func Alias(model string) string {
	return modelAliases[model]
}
