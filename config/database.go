package config

import "sync"

var (
	databaseOnce   sync.Once
	databaseConfig *DatabaseConfig
)

// DatabaseConfig selects the repository backend: postgres, sqlite3 or memory.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

func GetDatabaseConfig() *DatabaseConfig {
	databaseOnce.Do(func() {
		loadEnv()

		databaseConfig = &DatabaseConfig{
			Driver: envString("DB_DRIVER", "postgres"),
			DSN:    envString("DATABASE_DSN", "postgres://localhost:5432/study?sslmode=disable"),
		}
	})
	return databaseConfig
}
