package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	// ListenAddr is the chat protocol's TCP listener.
	ListenAddr string
	// AdminAddr serves /healthz, /readyz, /metrics, and /ws.
	AdminAddr string

	LogLevel  string
	LogFormat string

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, PARLEY_PASSWORD_MODE must be argon2id; plaintext storage is
	// rejected at startup.
	RequireHashedPasswords bool
	PasswordMode           string

	MaxLineBytes        int
	MaxPendingSendBytes int
	HistoryDefaultLimit int
	HistoryMaxLimit     int
	CacheTTL            time.Duration
	AvatarDir           string

	WorldConvID int64
	WorldName   string

	WSOriginRequired bool
	WSOrigins        []string

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		ListenAddr: EnvString("PARLEY_LISTEN_ADDR", "0.0.0.0:9400"),
		AdminAddr:  EnvString("PARLEY_ADMIN_ADDR", "0.0.0.0:8080"),

		LogLevel:  EnvString("PARLEY_LOG_LEVEL", "info"),
		LogFormat: EnvString("PARLEY_LOG_FORMAT", "json"),

		DatabaseURL: EnvString("PARLEY_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PARLEY_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PARLEY_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("PARLEY_DB_SCHEMA", "parley"),

		RedisAddr:     EnvString("PARLEY_REDIS_ADDR", ""),
		RedisPassword: EnvString("PARLEY_REDIS_PASSWORD", ""),
		RedisDB:       int(EnvInt32("PARLEY_REDIS_DB", 0)),
		RedisPoolSize: EnvInt("PARLEY_REDIS_POOL_SIZE", 10),

		ReadinessRequireDB: EnvBool("PARLEY_READINESS_REQUIRE_DB", false),

		RequireHashedPasswords: EnvBool("PARLEY_REQUIRE_HASHED_PASSWORDS", false),
		PasswordMode:           EnvString("PARLEY_PASSWORD_MODE", "plain"),

		MaxLineBytes:        EnvInt("PARLEY_MAX_LINE_BYTES", 1<<20),
		MaxPendingSendBytes: EnvInt("PARLEY_MAX_PENDING_SEND_BYTES", 10<<20),
		HistoryDefaultLimit: EnvInt("PARLEY_HISTORY_DEFAULT_LIMIT", 50),
		HistoryMaxLimit:     EnvInt("PARLEY_HISTORY_MAX_LIMIT", 200),
		CacheTTL:            EnvDuration("PARLEY_CACHE_TTL", 5*time.Minute),
		AvatarDir:           EnvString("PARLEY_AVATAR_DIR", "avatars"),

		WorldConvID: int64(EnvInt("PARLEY_WORLD_CONV_ID", 1)),
		WorldName:   EnvString("PARLEY_WORLD_NAME", "World"),

		WSOriginRequired: EnvBool("PARLEY_WS_ORIGIN_REQUIRED", true),
		WSOrigins:        EnvCSV("PARLEY_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),

		ReadHeaderTimeout: EnvDuration("PARLEY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ShutdownTimeout:   EnvDuration("PARLEY_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}
