package config

import "sync"

var (
	authOnce   sync.Once
	authConfig *AuthConfig
)

type AuthConfig struct {
	JWTSecret string
	// DailyIngestQuota is the number of ingestions a non-admin user may start
	// per UTC day. Zero disables the check.
	DailyIngestQuota int
}

func GetAuthConfig() *AuthConfig {
	authOnce.Do(func() {
		loadEnv()

		authConfig = &AuthConfig{
			JWTSecret:        envString("JWT_SECRET", ""),
			DailyIngestQuota: envInt("DAILY_INGEST_QUOTA", 20),
		}
	})
	return authConfig
}
