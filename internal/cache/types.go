package cache

import (
	"time"
)

// Entry is a cached anonymization result. It holds the anonymized output
// only; mappings and source exports are never cached.
type Entry struct {
	Output       []byte            `json:"output"`
	Format       string            `json:"format"`
	Linkage      map[string]string `json:"linkage"`
	Skipped      []int             `json:"skipped,omitempty"`
	Replacements int               `json:"replacements"`
	StoredAt     time.Time         `json:"stored_at"`
}

// Stats represents cache performance statistics
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// Config contains cache configuration
type Config struct {
	RedisURL  string        `yaml:"redis_url" mapstructure:"redis_url"`
	Password  string        `yaml:"password" mapstructure:"password"`
	DB        int           `yaml:"db" mapstructure:"db"`
	PoolSize  int           `yaml:"pool_size" mapstructure:"pool_size"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
	KeyPrefix string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}
