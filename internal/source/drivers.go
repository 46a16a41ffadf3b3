package source

import (
	_ "github.com/go-sql-driver/mysql" // registers "mysql"
	_ "github.com/lib/pq"              // registers "postgres"
	_ "modernc.org/sqlite"             // registers "sqlite"
)

// Drivers lists the database/sql driver names Open accepts.
var Drivers = []string{"sqlite", "postgres", "mysql"}
