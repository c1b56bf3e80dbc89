// Package db provides the embedded schema of the snapshot store.
package db

import _ "embed"

// Schema contains the DDL for the snapshots table. It is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string

// Catalog is the demo product catalog used to seed carts and wishlists.
//
//go:embed seed/catalog.json
var Catalog []byte
