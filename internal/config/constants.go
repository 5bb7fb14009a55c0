package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 30 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 30 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job run timeout
const JobRunTimeout = 2 * time.Minute

// Pairing code generation
const (
	PairingCodeLength        = 6
	PairingCodeAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	PairingCodeMaxAttempts   = 10
	MaxActiveCodesPerAccount = 5
)

// Expired codes are kept this long after expiry before cleanup deletes them.
const ExpiredCodeRetention = 24 * time.Hour

// Default rate limiting
const DefaultRateLimitPerMin = 120

// Heartbeat history page size
const (
	DefaultHeartbeatLimit = 50
	MaxHeartbeatLimit     = 500
)
