package units

import "strings"

const CategoryGeneral = "general"

// categoryAliases maps classifier labels seen in the field to canonical categories.
var categoryAliases = map[string]string{
	"ventas":    "sales",
	"venta":     "sales",
	"sale":      "sales",
	"soporte":   "support",
	"reclamo":   "complaints",
	"reclamos":  "complaints",
	"complaint": "complaints",
	"consulta":  "inquiry",
	"consultas": "inquiry",
	"question":  "inquiry",
	"otro":      CategoryGeneral,
	"other":     CategoryGeneral,
}

// NormalizeCategory lower-cases a category and resolves known aliases.
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if canonical, ok := categoryAliases[c]; ok {
		return canonical
	}
	return c
}

var knownCategories = map[string]bool{
	"sales":         true,
	"support":       true,
	"complaints":    true,
	"inquiry":       true,
	CategoryGeneral: true,
}

// IsKnownCategory reports whether a normalized category has a dedicated label.
func IsKnownCategory(category string) bool {
	return knownCategories[NormalizeCategory(category)]
}
