// Package migrations embeds the hub schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
