package config

import "time"

const (
	DefaultMongoURI          = "mongodb://localhost:27017"
	DefaultMongoDatabaseName = "claimgate"
	DefaultMongoConnTimeout  = 10 * time.Second

	DefaultRedisAddr        = "localhost:6379"
	DefaultRedisDB          = 0
	DefaultRedisConnTimeout = 5 * time.Second

	DefaultPort     = "8080"
	DefaultLogLevel = "info"

	// The lease must outlive the worst-case critical section (two store
	// round trips plus one ledger transaction); 3s leaves generous room.
	DefaultLockWaitTimeout  = 500 * time.Millisecond
	DefaultLockLeaseTimeout = 3 * time.Second
	DefaultLockPollInterval = 20 * time.Millisecond

	DefaultRateLimitRequests = 30
	DefaultRateLimitWindow   = 1 * time.Minute

	DefaultRequestTimeout = 10 * time.Second
	DefaultMaxRequestSize = 1 * 1024 * 1024 // 1MB

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultReconcileInterval = 30 * time.Second

	DefaultPaginationLimit = 100
)
