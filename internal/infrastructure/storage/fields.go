package storage

import (
	"strings"

	"github.com/google/uuid"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/config"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
)

var fieldNamespace = uuid.MustParse("5b0f7d0e-8c1f-4c39-9a4e-6a1d2f1e9b10")

// FieldID derives a stable identifier from a slug so seeded catalogs keep
// their ids across restarts.
func FieldID(slug string) uuid.UUID {
	return uuid.NewSHA1(fieldNamespace, []byte(strings.ToLower(strings.TrimSpace(slug))))
}

// FieldsFromConfig converts the configured catalog, dropping entries without
// a slug or query and duplicate slugs.
func FieldsFromConfig(entries []config.FieldConfig) []domain.Field {
	fields := make([]domain.Field, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		slug := strings.TrimSpace(e.Slug)
		query := strings.TrimSpace(e.ArxivQuery)
		key := strings.ToLower(slug)
		if slug == "" || query == "" || seen[key] {
			continue
		}
		seen[key] = true

		name := strings.TrimSpace(e.Name)
		if name == "" {
			name = slug
		}
		fields = append(fields, domain.Field{
			ID:         FieldID(slug),
			Slug:       slug,
			Name:       name,
			ArxivQuery: query,
		})
	}
	return fields
}
