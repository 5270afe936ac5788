package config

import "time"

const (
	DefaultNodeAddress    = ":8080"
	DefaultDataDir        = "./data"
	DefaultSyncInterval   = 30 * time.Second
	DefaultPollTimeout    = 5 * time.Second
	DefaultPollFanout     = 5
	DefaultCacheSize      = 256
	DefaultAllowedOrigins = "http://localhost:3000"
	DefaultPayload        = "{}"
)
