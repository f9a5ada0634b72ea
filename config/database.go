package config

import "strings"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"proofwork"`
	Password string `env:"PASSWORD"                envDefault:"proofwork"`
	Name     string `env:"NAME"                    envDefault:"proofwork"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// MaxOpenConns bounds the pool shared by every worker in the process.
	MaxOpenConns int `env:"MAX_OPEN_CONNS" envDefault:"20"`
	// ApplicationName is reported to Postgres as application_name.
	ApplicationName string `env:"APPLICATION_NAME" envDefault:"proofwork"`
	// RunMigrationsOnStart applies pending migrations during startup. Safe with many
	// replicas starting at once.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration. Redis only carries outbox wakeup hints,
// so it is optional. One address (or a redis:// URL) selects a single node, several
// addresses select cluster mode, and a master name selects sentinel failover.
type RedisConfig struct {
	Enabled          bool     `env:"ENABLED"           envDefault:"false"`
	Addrs            []string `env:"ADDRS"             envDefault:"localhost:6379"`
	URL              string   `env:"URL"`
	Username         string   `env:"USERNAME"`
	Password         string   `env:"PASSWORD"`
	MasterName       string   `env:"MASTER_NAME"`
	SentinelPassword string   `env:"SENTINEL_PASSWORD"`
	// WakeupChannel is the pub/sub channel for outbox wakeups.
	WakeupChannel string `env:"WAKEUP_CHANNEL" envDefault:"proofwork:outbox:wakeup"`
}

// Sanitize applies guardrails to Redis configuration values.
func (r *RedisConfig) Sanitize() {
	r.URL = strings.TrimSpace(r.URL)
	r.MasterName = strings.TrimSpace(r.MasterName)
	addrs := r.Addrs[:0]
	for _, a := range r.Addrs {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	r.Addrs = addrs
	if r.WakeupChannel = strings.TrimSpace(r.WakeupChannel); r.WakeupChannel == "" {
		r.WakeupChannel = "proofwork:outbox:wakeup"
	}
	if r.URL == "" && len(r.Addrs) == 0 {
		r.Enabled = false
	}
}
