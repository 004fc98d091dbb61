// Package migrations embeds the Postgres schema and seed files.
package migrations

import "embed"

// Files holds sql/*.sql migrations and seeds/*.sql seeds.
//
//go:embed sql/*.sql seeds/*.sql
var Files embed.FS

const (
	SQLDir   = "sql"
	SeedsDir = "seeds"
)
