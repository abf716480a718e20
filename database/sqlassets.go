package sqlassets

import "embed"

// Migrations holds the versioned schema applied by golang-migrate (see platform/go/persistence/migrate.go).
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that holds the SQL files.
const MigrationsDir = "migrations"
