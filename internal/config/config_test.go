package config

import (
    "testing"
    "time"
)

func TestLoadMemoryDriverSkipsDB(t *testing.T) {
    t.Setenv("APP_ENV", "test")
    t.Setenv("APP_PORT", "8080")
    t.Setenv("JWT_SECRET", "secret")
    t.Setenv("ACCESS_TOKEN_TTL_MIN", "15")
    t.Setenv("REFRESH_TOKEN_TTL_DAYS", "7")
    t.Setenv("BCRYPT_COST", "4")
    t.Setenv("STORE_DRIVER", "Memory")
    t.Setenv("APP_TIMEZONE", "Asia/Tehran")
    t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")

    cfg := Load()
    if cfg.StoreDriver != DriverMemory || cfg.DB != (DBConfig{}) {
        t.Fatalf("driver = %q db = %+v", cfg.StoreDriver, cfg.DB)
    }
    if cfg.AccessTTL() != 15*time.Minute || cfg.RefreshTTL() != 7*24*time.Hour {
        t.Fatalf("ttls = %v %v", cfg.AccessTTL(), cfg.RefreshTTL())
    }
    if cfg.Location().String() != "Asia/Tehran" {
        t.Fatalf("location = %v", cfg.Location())
    }
    if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
        t.Fatalf("origins = %q", cfg.CORSOrigins)
    }
    if cfg.ExpirySchedule != "*/5 * * * *" || cfg.PruneSchedule != "@daily" {
        t.Fatalf("schedules = %q %q", cfg.ExpirySchedule, cfg.PruneSchedule)
    }
}

func TestRateLimitShorthands(t *testing.T) {
    t.Setenv("RATE_LIMIT_BURST", "10")
    t.Setenv("RATE_LIMIT_REFILL_EVERY", "500ms")
    t.Setenv("RATE_LIMIT_TTL", "1ms")

    cfg := LoadRateLimitConfig()
    if cfg.Capacity != 10 || cfg.RefillTokens != 1 || cfg.RefillInterval != 500*time.Millisecond {
        t.Fatalf("cfg = %+v", cfg)
    }
    if cfg.TTL != 5*cfg.RefillInterval {
        t.Fatalf("ttl = %v, want floor of five intervals", cfg.TTL)
    }
    if cfg.PerSecond() != 2 {
        t.Fatalf("per second = %v", cfg.PerSecond())
    }
}

func TestCacheMethods(t *testing.T) {
    t.Setenv("CACHE_METHODS", "get, head")
    cfg := LoadCacheConfig()
    if !cfg.Methods["GET"] || !cfg.Methods["HEAD"] || cfg.Methods["POST"] {
        t.Fatalf("methods = %v", cfg.Methods)
    }
}
