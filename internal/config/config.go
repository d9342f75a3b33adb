// Package config loads application configuration from environment variables.
package config

import (
    "log"
    "os"
    "strconv"
    "strings"
    "time"
    _ "time/tzdata" // APP_TIMEZONE must resolve in minimal images
)

// Store drivers accepted by STORE_DRIVER.
const (
    DriverMySQL  = "mysql"
    DriverMemory = "memory"
)

// DBConfig holds the MySQL connection settings.
type DBConfig struct {
    User string
    Pass string // optional
    Host string
    Port string
    Name string
}

// Config holds all runtime configuration values. Optional integrations
// (Redis, RabbitMQ, MongoDB) are disabled when their address is empty or
// unreachable.
type Config struct {
    Env      string
    Port     string
    Timezone string

    StoreDriver string
    DB          DBConfig

    JWTSecret        string
    AccessTTLMin     int
    RefreshTTLDays   int
    BcryptCost       int
    AllowStaffSignup bool

    RabbitURL   string
    EventLogDir string

    MongoURI  string
    MongoDB   string
    DeviceKey string // shared secret for camera gates; empty disables the IoT routes

    ExpirySchedule string
    PruneSchedule  string

    CORSOrigins []string
}

// Load reads configuration values from environment variables. Required
// variables are enforced by must() and a missing value stops the process.
// The DB_* variables are only required for the mysql store driver.
func Load() Config {
    cfg := Config{
        Env:      must("APP_ENV"),
        Port:     must("APP_PORT"),
        Timezone: envStr("APP_TIMEZONE", "UTC"),

        StoreDriver: strings.ToLower(envStr("STORE_DRIVER", DriverMySQL)),

        JWTSecret:        must("JWT_SECRET"),
        AccessTTLMin:     mustInt("ACCESS_TOKEN_TTL_MIN"),
        RefreshTTLDays:   mustInt("REFRESH_TOKEN_TTL_DAYS"),
        BcryptCost:       mustInt("BCRYPT_COST"),
        AllowStaffSignup: envBool("ALLOW_STAFF_SIGNUP", false),

        RabbitURL:   os.Getenv("RABBITMQ_URL"),
        EventLogDir: envStr("EVENT_LOG_DIR", "logs"),

        MongoURI:  os.Getenv("MONGO_URI"),
        MongoDB:   envStr("MONGO_DB", "parking_iot"),
        DeviceKey: os.Getenv("IOT_DEVICE_KEY"),

        ExpirySchedule: envStr("EXPIRY_SCHEDULE", "*/5 * * * *"),
        PruneSchedule:  envStr("PRUNE_SCHEDULE", "@daily"),

        CORSOrigins: splitList(envStr("CORS_ORIGINS", "*")),
    }
    switch cfg.StoreDriver {
    case DriverMySQL:
        cfg.DB = LoadDB()
    case DriverMemory:
    default:
        log.Fatalf("invalid STORE_DRIVER: %q", cfg.StoreDriver)
    }
    return cfg
}

// LoadDB reads the DB_* variables. All but DB_PASS are required.
func LoadDB() DBConfig {
    return DBConfig{
        User: must("DB_USER"),
        Pass: os.Getenv("DB_PASS"),
        Host: must("DB_HOST"),
        Port: must("DB_PORT"),
        Name: must("DB_NAME"),
    }
}

// Location resolves Timezone. An unknown zone is fatal so that "today"
// on the dashboard never silently means UTC.
func (c Config) Location() *time.Location {
    loc, err := time.LoadLocation(c.Timezone)
    if err != nil {
        log.Fatalf("invalid APP_TIMEZONE %q: %v", c.Timezone, err)
    }
    return loc
}

func (c Config) AccessTTL() time.Duration  { return time.Duration(c.AccessTTLMin) * time.Minute }
func (c Config) RefreshTTL() time.Duration { return time.Duration(c.RefreshTTLDays) * 24 * time.Hour }

// must retrieves the value of a required environment variable.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func mustInt(key string) int {
    s := must(key)
    n, err := strconv.Atoi(s)
    if err != nil {
        log.Fatalf("invalid int for %s: %q", key, s)
    }
    return n
}

func splitList(s string) []string {
    var out []string
    for _, p := range strings.Split(s, ",") {
        if p = strings.TrimSpace(p); p != "" {
            out = append(out, p)
        }
    }
    return out
}
