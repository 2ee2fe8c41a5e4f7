package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	StoreDriver string // memory | postgres | pgx | sqlite | mongo

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	PgBouncer        bool

	SQLitePath string

	MongoURI        string
	MongoDB         string
	MongoCollection string

	BatchSize     int
	Concurrency   int
	RetryBudget   int
	BackoffBaseMs int
	BatchTimeout  time.Duration
	FetchTimeout  time.Duration
	RateLimit     time.Duration

	SourceKind         string // api | browser | html
	SourceURL          string
	DetailLinkSelector string
	ReadySelector      string
	MaxPages           int
	UserAgent          string
	ChromeBin          string

	JobCategory string
	FirstPage   int
	LastPage    int

	SeedKnownIDs   bool
	FieldSpecsPath string
	CSVOutputPath  string
	LogLevel       string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "memory")),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "harvester"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "harvester"),
		PostgresDB:       getEnv("POSTGRES_DB", "listings"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PgBouncer:        getEnvBool("PGBOUNCER", false),

		SQLitePath: getEnv("SQLITE_PATH", "./output/listings.db"),

		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:         getEnv("MONGO_DB", "harvester"),
		MongoCollection: getEnv("MONGO_COLLECTION", "listings"),

		BatchSize:     getEnvInt("BATCH_SIZE", 200),
		Concurrency:   getEnvInt("CONCURRENCY", 3),
		RetryBudget:   getEnvInt("RETRY_BUDGET", 3),
		BackoffBaseMs: getEnvInt("BACKOFF_BASE_MS", 1000),
		BatchTimeout:  getEnvMs("BATCH_TIMEOUT_MS", 30_000),
		FetchTimeout:  getEnvMs("FETCH_TIMEOUT_MS", 60_000),
		RateLimit:     getEnvMs("RATE_LIMIT_MS", 1500),

		SourceKind:         strings.ToLower(getEnv("SOURCE_KIND", "api")),
		SourceURL:          getEnv("SOURCE_URL", ""),
		DetailLinkSelector: getEnv("DETAIL_LINK_SELECTOR", `a[href*="/listing"]`),
		ReadySelector:      getEnv("READY_SELECTOR", "body"),
		MaxPages:           getEnvInt("MAX_PAGES", 50),
		UserAgent: getEnv("USER_AGENT", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		ChromeBin: getEnv("CHROME_BIN", ""),

		JobCategory: getEnv("JOB_CATEGORY", ""),
		FirstPage:   getEnvInt("FIRST_PAGE", 1),
		LastPage:    getEnvInt("LAST_PAGE", 0),

		SeedKnownIDs:   getEnvBool("SEED_KNOWN_IDS", true),
		FieldSpecsPath: getEnv("FIELD_SPECS_PATH", ""),
		CSVOutputPath:  getEnv("CSV_OUTPUT_PATH", "./output/listings.csv"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// BackoffBase returns the healer's base delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvMs(key string, fallbackMs int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMs)) * time.Millisecond
}
