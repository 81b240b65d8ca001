package server

import "time"

type Config struct {
	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr string

	// AllowedOrigins feeds the CORS middleware. Empty means "*".
	AllowedOrigins []string

	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8080",
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     15 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}
