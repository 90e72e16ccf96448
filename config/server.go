package config

import "sync"

var (
	serverOnce   sync.Once
	serverConfig *ServerConfig
)

type ServerConfig struct {
	Addr        string
	LogLevel    string
	LogEncoding string
	LogOutputs  []string
	CORSOrigins []string
}

func GetServerConfig() *ServerConfig {
	serverOnce.Do(func() {
		loadEnv()

		serverConfig = &ServerConfig{
			Addr:        envString("SERVER_ADDR", ":8080"),
			LogLevel:    envString("LOG_LEVEL", "info"),
			LogEncoding: envString("LOG_ENCODING", "json"),
			LogOutputs:  envList("LOG_OUTPUTS"),
			CORSOrigins: envList("CORS_ALLOWED_ORIGINS"),
		}
		if len(serverConfig.LogOutputs) == 0 {
			serverConfig.LogOutputs = []string{"stdout"}
		}
		if len(serverConfig.CORSOrigins) == 0 {
			serverConfig.CORSOrigins = []string{"http://localhost:3000"}
		}
	})
	return serverConfig
}
