package common

import "time"

// CacheInterface is the key/value store behind the telemetry read cache.
// Entries expire after the duration given to Set.
type CacheInterface interface {
	Set(key string, value interface{}, duration time.Duration)
	// Get returns the value and true while the entry is live.
	Get(key string) (interface{}, bool)
	Delete(key string)
	Len() int
}
