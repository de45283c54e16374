// Package all registers every storage backend with the storage factory.
// Configuration picks one at run time, but the binary carries support for all.
package all

import (
	_ "salesdw/internal/storage/mssql"
	_ "salesdw/internal/storage/postgres"
	_ "salesdw/internal/storage/sqlite"
)
