// Package migrations embeds the SQL migrations of the explorer database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
