package config // package config loads application configuration from environment variables

import (
	"log"     // log reports configuration errors before the zap logger exists
	"os"      // os provides access to environment variables
)

// Config holds the values every deployable needs: where to listen, how to
// reach MySQL and how to verify bearer tokens.  Each field corresponds to an
// environment variable.
type Config struct {
	Env         string // application environment (e.g. "dev", "prod")
	Service     string // service name stamped on logs and dedup keys
	Port        string // HTTP port to listen on
	LogLevel    string // zap level: debug, info, warn, error
	DBUser      string // database username
	DBPass      string // database password (optional)
	DBHost      string // database host address
	DBPort      string // database port number
	DBName      string // database name
	JWTSecret   string // HS256 secret shared with the identity service
	AutoMigrate bool   // apply embedded migrations at startup
}

// Load reads configuration values from environment variables.  service is
// the default service name when SERVICE_NAME is unset.  Required variables
// are enforced by must() and missing values cause the program to exit with
// a fatal log message.
func Load(service string) Config {
	return Config{
		Env:         must("APP_ENV"),
		Service:     envStr("SERVICE_NAME", service),
		Port:        must("APP_PORT"),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		DBUser:      must("DB_USER"),
		DBPass:      os.Getenv("DB_PASS"), // empty allowed
		DBHost:      must("DB_HOST"),
		DBPort:      must("DB_PORT"),
		DBName:      must("DB_NAME"),
		JWTSecret:   must("JWT_SECRET"),
		AutoMigrate: envBool("DB_AUTO_MIGRATE", true),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
