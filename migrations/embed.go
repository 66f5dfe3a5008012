// Package migrations provides embedded SQL migrations for Goose, one directory per dialect.
package migrations

import "embed"

// FS embeds the migration directories.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS

// Dir returns the FS directory holding migrations for a database driver.
func Dir(driver string) string {
	if driver == "sqlite" {
		return "sqlite"
	}
	return "postgres"
}
