package config

import (
	"log"
	"os"
	"sync"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

var (
	sourceOnce sync.Once
	source     *viper.Viper
)

// env returns the shared settings source. Environment variables always win;
// CONFIG_FILE may point at a YAML/TOML/JSON/.env file providing the same keys.
func env() *viper.Viper {
	sourceOnce.Do(func() {
		v := viper.New()
		v.AutomaticEnv()
		if path := os.Getenv("CONFIG_FILE"); path != "" {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				log.Printf("read config file %s: %v", path, err)
			}
		}
		source = v
	})
	return source
}

// GetString retrieves a setting or returns a fallback when unset.
func GetString(key, fallback string) string {
	v := env()
	if !v.IsSet(key) {
		return fallback
	}
	return v.GetString(key)
}

// GetInt retrieves a setting as integer or returns fallback.
func GetInt(key string, fallback int) int {
	v := env()
	if !v.IsSet(key) {
		return fallback
	}
	parsed, err := cast.ToIntE(v.Get(key))
	if err != nil {
		log.Printf("invalid value for %s: %v", key, err)
		return fallback
	}
	return parsed
}

// GetBool retrieves a setting as bool or returns fallback.
func GetBool(key string, fallback bool) bool {
	v := env()
	if !v.IsSet(key) {
		return fallback
	}
	parsed, err := cast.ToBoolE(v.Get(key))
	if err != nil {
		log.Printf("invalid value for %s: %v", key, err)
		return fallback
	}
	return parsed
}
