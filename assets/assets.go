// Package assets provides access to files embedded into the binary, currently the SQL migrations.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var embedFS embed.FS

// Migrations returns the migration scripts rooted at the migrations directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedFS, "migrations")
	if err != nil {
		panic(err)
	}

	return sub
}
