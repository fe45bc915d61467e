//go:build cgo

package sqlite

import _ "github.com/mattn/go-sqlite3"

// driverName selects mattn/go-sqlite3 when cgo is available.
const driverName = "sqlite3"
