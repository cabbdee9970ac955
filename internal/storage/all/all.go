// Package all registers every storage backend with the storage factory.
package all

import (
	_ "meshetl/internal/storage/mssql"
	_ "meshetl/internal/storage/postgres"
	_ "meshetl/internal/storage/sqlite"
)
