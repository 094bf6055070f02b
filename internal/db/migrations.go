package db

import "embed"

// MigrationFS embeds the SQL schema applied by internal/db/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
