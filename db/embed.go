// Package db provides the embedded schema and the demo seed catalog.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedCatalog is the JSON document loaded by seed-db when no file is given:
// {"customers":[...], "products":[...]}.
//
//go:embed seed/catalog.json
var SeedCatalog []byte
