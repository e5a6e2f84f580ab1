package database

import "embed"

// EmbeddedMigrations contains all SQL migration files embedded into the
// binary, so deployments never depend on external migration files.
//
//go:embed migrations/*.sql
var EmbeddedMigrations embed.FS
