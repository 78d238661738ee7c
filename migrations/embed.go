// Package migrations содержит SQL-миграции схемы чата в формате golang-migrate.
package migrations

import "embed"

// Files: все .sql файлы (NNNNNN_name.up.sql / .down.sql).
//
//go:embed *.sql
var Files embed.FS
