package config

import "sync"

var (
	redisOnce   sync.Once
	redisConfig *RedisConfig
)

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolStateKey string
}

func GetRedisConfig() *RedisConfig {
	redisOnce.Do(func() {
		loadEnv()

		redisConfig = &RedisConfig{
			Addr:         envString("REDIS_ADDR", "localhost:6379"),
			Password:     envString("REDIS_PASSWORD", ""),
			DB:           envInt("REDIS_DB", 0),
			PoolStateKey: envString("KEYPOOL_STATE_KEY", "keypool:state"),
		}
	})
	return redisConfig
}
