// Package migrations: встроенные SQL-миграции API (users, presence).
package migrations

import "embed"

// Files содержит все .sql файлы из этой директории (применяются по имени: 001, 002, ...).
//
//go:embed *.sql
var Files embed.FS
