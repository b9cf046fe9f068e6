package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// envSource resolves variables from the process environment first and a
// dotenv file second, so exported values always win.
type envSource struct {
	dotenv map[string]string
}

func newEnv(dotenvPath string) *envSource {
	src := &envSource{dotenv: map[string]string{}}
	if dotenvPath == "" {
		return src
	}
	if _, err := os.Stat(dotenvPath); err != nil {
		return src
	}

	v := viper.New()
	v.SetConfigFile(dotenvPath)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return src
	}
	for _, key := range v.AllKeys() {
		src.dotenv[strings.ToUpper(key)] = v.GetString(key)
	}
	return src
}

func (e *envSource) get(name string) string {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		return val
	}
	return strings.TrimSpace(e.dotenv[name])
}
