package logger

import (
	"io"
	"os"
	"strconv"
)

// Config holds logger settings. Zero values fall back to info level, JSON
// format and stdout.
type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json, text
	ServiceName string

	// Output overrides every other destination when set.
	Output io.Writer

	// Environment is local, dev or prod. Outside local, File receives a
	// rotated copy of the log.
	Environment string
	File        string
	FileOnly    bool
	Rotation    Rotation
}

// Rotation is passed to lumberjack.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ConfigFromEnv reads LOG_*, SERVICE_NAME and APP_ENV.
func ConfigFromEnv() *Config {
	return &Config{
		Level:       envString("LOG_LEVEL", "info"),
		Format:      envString("LOG_FORMAT", "json"),
		ServiceName: envString("SERVICE_NAME", "catalogsync"),
		Environment: envString("APP_ENV", "local"),
		File:        envString("LOG_FILE", "/var/log/catalogsync/app.log"),
		FileOnly:    envParsed("LOG_FILE_ONLY", false, strconv.ParseBool),
		Rotation: Rotation{
			MaxSizeMB:  envParsed("LOG_MAX_SIZE", 100, strconv.Atoi),
			MaxBackups: envParsed("LOG_MAX_BACKUPS", 7, strconv.Atoi),
			MaxAgeDays: envParsed("LOG_MAX_AGE", 30, strconv.Atoi),
			Compress:   envParsed("LOG_COMPRESS", true, strconv.ParseBool),
		},
	}
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// envParsed returns def when key is unset or does not parse.
func envParsed[T any](key string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}
