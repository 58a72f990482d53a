package constants

type CachePrefix string

const (
	CachePrefixDataPoint CachePrefix = "DP_"
)

// Redis keys and channels shared with the telemetry collector.
const (
	RedisDataPointLatestKey    = "point:%d:latest"
	RedisVirtualPointKey       = "virtualpoint:%d"
	RedisVirtualPointChannel   = "vp:updates"
	RedisDataPointChangedTopic = "datapoint:changed"
)

// HTTP headers
const (
	HeaderTenantID  = "X-Tenant-Id"
	HeaderRequestID = "X-Request-ID"
)

type APIStatus string

const (
	APIStatusOk    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)
