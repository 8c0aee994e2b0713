// Package migrations embeds the SQL schema applied by cmd/migrate and the API's auto-migrate step.
package migrations

import "embed"

// FS holds the golang-migrate source files.
//
//go:embed *.sql
var FS embed.FS
