package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr      string
	JWTSecret string
	JWTTTLMin int

	// DBDriver picks the store backend: "sqlite" or "postgres".
	DBDriver    string
	SQLiteDSN   string
	PostgresDSN string

	// TypingQuiet is the trailing window before typing auto-clears.
	TypingQuiet time.Duration
	// SendTimeout bounds how long an unacknowledged send stays pending.
	SendTimeout time.Duration
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func MustLoad() Config {
	jwtttl, _ := strconv.Atoi(getenv("JWT_TTL_MIN", "1440"))
	typingms, _ := strconv.Atoi(getenv("TYPING_QUIET_MS", "2000"))
	sendsec, _ := strconv.Atoi(getenv("SEND_TIMEOUT_SEC", "30"))

	cfg := Config{
		Addr:        getenv("HTTP_ADDR", ":8080"),
		JWTSecret:   getenv("JWT_SECRET", ""),
		JWTTTLMin:   jwtttl,
		DBDriver:    getenv("DB_DRIVER", "sqlite"),
		SQLiteDSN:   getenv("SQLITE_DSN", "file:fitchat.db?_pragma=foreign_keys(ON)"),
		PostgresDSN: getenv("PG_DSN", ""),
		TypingQuiet: time.Duration(typingms) * time.Millisecond,
		SendTimeout: time.Duration(sendsec) * time.Second,
	}
	return cfg
}
