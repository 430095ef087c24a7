package migrations

import "embed"

// Migrations holds the versioned schema, applied by golang-migrate through
// its iofs source.
//
//go:embed *.sql
var Migrations embed.FS
