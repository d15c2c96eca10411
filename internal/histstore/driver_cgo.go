//go:build cgo

package histstore

// mattn/go-sqlite3 is the cgo driver, offered as an alternative build for
// environments that already carry a C toolchain and prefer the more mature
// cgo binding over the pure-Go one.
import _ "github.com/mattn/go-sqlite3"

const driverName = "sqlite3"
