// Package migrations holds the schema, SQL files are embedded and Go
// migrations register themselves with goose on import.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
