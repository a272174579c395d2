// Package migrations holds the Postgres schema for the relational patient
// store. Files are named NNN_description.sql and applied in order.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
