// Package migrations embeds the SQL migration files, one directory per
// dialect, so that the binary carries its own schema management.
package migrations

import "embed"

//go:embed mysql/*.sql postgres/*.sql sqlite/*.sql
var FS embed.FS
