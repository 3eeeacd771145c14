// Package migrations embeds SQL migration files into the binary.
//
// Importing this package registers the migrations with the database package,
// so the watcher can migrate without the SQL files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/instance-watch/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}
