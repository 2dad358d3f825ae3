package migrate

import (
	// Blank import registers the sqlite3 driver used by the sqlite dialector.
	_ "github.com/mattn/go-sqlite3"
)
