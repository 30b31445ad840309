// Package migrations embeds the goose SQL migrations for the BugRadar schema.
package migrations

import "embed"

// FS holds every *.sql migration shipped with the binary.
//
//go:embed *.sql
var FS embed.FS
