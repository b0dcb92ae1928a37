package cmd

import (
	"strings"
)

// KeyTemplate generates S3 key prefixes from a template string. Supported
// placeholders: {db}, {collection}, {unit}, {YYYY}, {MM}. The date
// placeholders come from the unit key, so uploaded archives can be laid out
// by year and month without re-parsing filenames.
type KeyTemplate struct {
	template string
}

// NewKeyTemplate creates a new KeyTemplate instance
func NewKeyTemplate(template string) *KeyTemplate {
	return &KeyTemplate{template: template}
}

// Expand replaces placeholders in the template with actual values. Unit keys
// are validated upstream, so {YYYY} and {MM} can slice the key directly.
func (t *KeyTemplate) Expand(source, collection, unitKey string) string {
	result := t.template

	result = strings.ReplaceAll(result, "{db}", source)
	result = strings.ReplaceAll(result, "{collection}", collection)
	result = strings.ReplaceAll(result, "{unit}", unitKey)

	if len(unitKey) >= 7 {
		result = strings.ReplaceAll(result, "{YYYY}", unitKey[:4])
		result = strings.ReplaceAll(result, "{MM}", unitKey[5:7])
	}

	return result
}
