// Package all registers every storage backend via side effects.
//
// Import it for side effects only:
//
//	import _ "salesdw/internal/storage/all"
package all

import (
	_ "salesdw/internal/storage/mssql"
	_ "salesdw/internal/storage/postgres"
	_ "salesdw/internal/storage/sqlite"
)
