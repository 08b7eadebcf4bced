// Package migrations embeds the SQL schema applied at startup.
package migrations

import "embed"

// FS holds the *.up.sql files in apply order. Down files stay on disk for
// manual rollbacks.
//
//go:embed *.up.sql
var FS embed.FS
