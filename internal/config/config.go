package config

import "time"

// ServerConfig contains server configurations from the [server] section.
type ServerConfig struct {
	// Addr is the bind address; default "0.0.0.0".
	Addr string
	// CacheSize is the maximum number of parsed central directories kept in memory; 0 disables the cache.
	CacheSize int
	// CacheTTL is how long a cached central directory stays usable.
	CacheTTL time.Duration
	// MaxRequestsPerSecond, when positive, rate-limits outbound range requests across all jobs.
	MaxRequestsPerSecond float64
	// Concurrency is the number of members fetched in parallel within one download job.
	Concurrency int
}

// ForServer returns configuration for the server.
func (l *Loader) ForServer() (c ServerConfig) {
	c = ServerConfig{
		Addr:      "0.0.0.0",
		CacheSize: 64,
		CacheTTL:  time.Minute,
	}

	sec, err := l.cfg.GetSection("server")
	if err != nil {
		return c
	}

	c.Addr = sec.Key("addr").MustString(c.Addr)
	c.CacheSize = sec.Key("cache-size").MustInt(c.CacheSize)
	c.CacheTTL = sec.Key("cache-ttl").MustDuration(c.CacheTTL)
	c.MaxRequestsPerSecond = sec.Key("max-rps").MustFloat64(0)
	c.Concurrency = sec.Key("concurrency").MustInt(0)

	return c
}

// ForServer calls Loader.ForServer on the DefaultLoader instance.
func ForServer() (c ServerConfig) {
	return DefaultLoader.ForServer()
}
