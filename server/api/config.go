package api

import "time"

// Config defines runtime parameters for the HTTP API server.
type Config struct {
	ListenAddr        string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes" yaml:"max_header_bytes"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// SignatureSkew bounds the age of X-Relay-Timestamp on signed requests.
	SignatureSkew time.Duration `mapstructure:"signature_skew" yaml:"signature_skew"`

	// Per-client-IP request budget. Zero disables the throttle.
	RateLimitPerSecond float64  `mapstructure:"rate_limit_per_second" yaml:"rate_limit_per_second"`
	RateLimitBurst     int      `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	CORSOrigins        []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	EnableCORS         bool     `mapstructure:"enable_cors" yaml:"enable_cors"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":8081",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
		MaxBodyBytes:      1 << 20,
		ShutdownTimeout:   10 * time.Second,
		SignatureSkew:     5 * time.Minute,

		RateLimitPerSecond: 20,
		RateLimitBurst:     40,
	}
}
