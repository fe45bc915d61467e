//go:build !cgo

package sqlite

import _ "modernc.org/sqlite"

// driverName selects the pure Go driver when cgo is disabled.
const driverName = "sqlite"
