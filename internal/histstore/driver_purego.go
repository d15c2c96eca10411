//go:build !cgo

package histstore

// modernc.org/sqlite is a pure-Go, cgo-free SQLite driver; it is the default
// build so the historical store works in cross-compiled, cgo-disabled
// environments without a C toolchain.
import _ "modernc.org/sqlite"

const driverName = "sqlite"
