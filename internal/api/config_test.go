package api

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func validTestConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		Host:            "127.0.0.1",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
		MaxRequestSize:  1024,
		MaxUploadSize:   2048,
	}
}

func TestLoadServerConfigDefaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := LoadServerConfig()

	if cfg.Port != defaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, defaultPort)
	}

	if cfg.Host != defaultHost {
		t.Errorf("Host = %q, want %q", cfg.Host, defaultHost)
	}

	if cfg.ReadTimeout != defaultTimeout || cfg.WriteTimeout != defaultTimeout {
		t.Errorf("Timeouts = %v/%v, want %v", cfg.ReadTimeout, cfg.WriteTimeout, defaultTimeout)
	}

	if cfg.MaxRequestSize != defaultMaxRequestSize {
		t.Errorf("MaxRequestSize = %d, want %d", cfg.MaxRequestSize, defaultMaxRequestSize)
	}

	if cfg.MaxUploadSize != defaultMaxUploadSize {
		t.Errorf("MaxUploadSize = %d, want %d", cfg.MaxUploadSize, defaultMaxUploadSize)
	}

	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Errorf("CORSAllowedOrigins = %v, want [*]", cfg.CORSAllowedOrigins)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config failed validation: %v", err)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("CANONIZER_SERVER_PORT", "9090")
	t.Setenv("CANONIZER_SERVER_HOST", "10.0.0.1")
	t.Setenv("CANONIZER_SERVER_READ_TIMEOUT", "15s")
	t.Setenv("CANONIZER_SERVER_LOG_LEVEL", "debug")
	t.Setenv("CANONIZER_MAX_REQUEST_SIZE", "2097152")
	t.Setenv("CANONIZER_MAX_UPLOAD_SIZE", "1048576")
	t.Setenv("CANONIZER_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg := LoadServerConfig()

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}

	if cfg.Host != "10.0.0.1" {
		t.Errorf("Host = %q, want %q", cfg.Host, "10.0.0.1")
	}

	if cfg.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout = %v, want 15s", cfg.ReadTimeout)
	}

	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}

	if cfg.MaxRequestSize != 2097152 {
		t.Errorf("MaxRequestSize = %d, want 2097152", cfg.MaxRequestSize)
	}

	if cfg.MaxUploadSize != 1048576 {
		t.Errorf("MaxUploadSize = %d, want 1048576", cfg.MaxUploadSize)
	}

	wantOrigins := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.CORSAllowedOrigins) != 2 ||
		cfg.CORSAllowedOrigins[0] != wantOrigins[0] ||
		cfg.CORSAllowedOrigins[1] != wantOrigins[1] {
		t.Errorf("CORSAllowedOrigins = %v, want %v", cfg.CORSAllowedOrigins, wantOrigins)
	}

	if cfg.Address() != "10.0.0.1:9090" {
		t.Errorf("Address = %q, want %q", cfg.Address(), "10.0.0.1:9090")
	}
}

func TestServerConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr error
	}{
		{
			name:    "valid config",
			mutate:  func(*ServerConfig) {},
			wantErr: nil,
		},
		{
			name:    "port too low",
			mutate:  func(c *ServerConfig) { c.Port = 0 },
			wantErr: ErrInvalidPort,
		},
		{
			name:    "port too high",
			mutate:  func(c *ServerConfig) { c.Port = 70000 },
			wantErr: ErrInvalidPort,
		},
		{
			name:    "empty host",
			mutate:  func(c *ServerConfig) { c.Host = "" },
			wantErr: ErrEmptyHost,
		},
		{
			name:    "zero read timeout",
			mutate:  func(c *ServerConfig) { c.ReadTimeout = 0 },
			wantErr: ErrInvalidReadTimeout,
		},
		{
			name:    "negative write timeout",
			mutate:  func(c *ServerConfig) { c.WriteTimeout = -time.Second },
			wantErr: ErrInvalidWriteTimeout,
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *ServerConfig) { c.ShutdownTimeout = 0 },
			wantErr: ErrInvalidShutdownTimeout,
		},
		{
			name:    "zero max request size",
			mutate:  func(c *ServerConfig) { c.MaxRequestSize = 0 },
			wantErr: ErrInvalidMaxRequestSize,
		},
		{
			name:    "negative max upload size",
			mutate:  func(c *ServerConfig) { c.MaxUploadSize = -1 },
			wantErr: ErrInvalidMaxUploadSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}

				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestToCORSConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := validTestConfig()
	cfg.CORSAllowedOrigins = []string{"https://app.example.com"}
	cfg.CORSAllowedMethods = []string{"GET", "POST"}
	cfg.CORSAllowedHeaders = []string{"Content-Type"}
	cfg.CORSMaxAge = 600

	cors := cfg.ToCORSConfig()

	if got := cors.GetAllowedOrigins(); len(got) != 1 || got[0] != "https://app.example.com" {
		t.Errorf("GetAllowedOrigins() = %v, want [https://app.example.com]", got)
	}

	if got := cors.GetAllowedMethods(); len(got) != 2 || got[0] != "GET" {
		t.Errorf("GetAllowedMethods() = %v, want [GET POST]", got)
	}

	if got := cors.GetAllowedHeaders(); len(got) != 1 || got[0] != "Content-Type" {
		t.Errorf("GetAllowedHeaders() = %v, want [Content-Type]", got)
	}

	if got := cors.GetMaxAge(); got != 600 {
		t.Errorf("GetMaxAge() = %d, want 600", got)
	}
}
