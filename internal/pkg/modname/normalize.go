// Package modname converts free-form module titles into Odoo technical names.
package modname

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns the technical name for a module title, e.g.
// "Gestión de Café" -> "gestion_de_cafe". Accents are folded, every run of
// characters outside [a-z0-9] becomes a single underscore and names that
// would start with a digit get an "x_" prefix.
func Normalize(title string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		title,
	)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	name := b.String()
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "x_" + name
	}
	return name
}

// IsTechnicalName reports whether name is already a valid technical name
func IsTechnicalName(name string) bool {
	return name != "" && Normalize(name) == name
}
