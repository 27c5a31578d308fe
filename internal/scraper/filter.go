package scraper

import (
	"strings"

	"github.com/Rorqualx/vidresolver-go/internal/types"
)

// Filter selects the rows returned to clients.
type Filter struct {
	// BackupMarker drops rows whose resolution contains it, case-insensitively.
	// Empty disables the check.
	BackupMarker string

	// Format keeps only rows of this format, case-insensitively.
	// Empty or types.FormatAny keeps every format.
	Format string
}

// Apply returns the rows that pass the filter, preserving order.
// rows is not modified.
func (f Filter) Apply(rows []types.ResultRow) []types.ResultRow {
	marker := strings.ToLower(f.BackupMarker)
	anyFormat := f.Format == "" || strings.EqualFold(f.Format, types.FormatAny)

	out := make([]types.ResultRow, 0, len(rows))
	for _, row := range rows {
		if marker != "" && strings.Contains(strings.ToLower(row.Resolution), marker) {
			continue
		}
		if !anyFormat && !strings.EqualFold(row.Format, f.Format) {
			continue
		}
		out = append(out, row)
	}
	return out
}
