package config

import (
	"reflect"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("AUTH_ISSUER", "test-issuer")

	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")

	// App
	t.Setenv("DB_PATH", "db.sqlite")
	t.Setenv("PAGE_SIZE", "50")

	// Websocket
	t.Setenv("WS_WRITE_WAIT", "5s")
	t.Setenv("WS_PONG_WAIT", "30s")
	t.Setenv("WS_MAX_MESSAGE_BYTES", "1024")
	t.Setenv("WS_SEND_BUFFER", "8")
	t.Setenv("WS_EVENT_TIMEOUT", "7s")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10

	// CORS
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "8088" || cfg.ReadTimeout != 2*time.Second || cfg.WriteTimeout != 3*time.Second {
		t.Fatalf("server settings wrong: %+v", cfg)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("GIN_MODE not normalized: %q", cfg.GinMode)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty {
		t.Fatalf("logging settings wrong: level=%q pretty=%v", cfg.LogLevel, cfg.LogPretty)
	}
	if cfg.DBPath != "db.sqlite" || cfg.PageSize != 50 {
		t.Fatalf("app settings wrong: %+v", cfg)
	}
	if cfg.WS.WriteWait != 5*time.Second || cfg.WS.PongWait != 30*time.Second ||
		cfg.WS.MaxMessageSize != 1024 || cfg.WS.SendBuffer != 8 || cfg.WS.EventTimeout != 7*time.Second {
		t.Fatalf("websocket settings wrong: %+v", cfg.WS)
	}
	if cfg.Auth.JWTSecret != "s3cret" || cfg.Auth.Issuer != "test-issuer" {
		t.Fatalf("auth settings wrong: %+v", cfg.Auth)
	}
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limits did not fall back: rps=%v burst=%d", cfg.RateRPS, cfg.RateBurst)
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, want) {
		t.Fatalf("CORS origins wrong: %v", cfg.CORS.AllowedOrigins)
	}
}

// --- Load validation failures ---

func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"zero page size", "PAGE_SIZE", "0"},
		{"negative timeout", "READ_TIMEOUT", "-1s"},
		{"zero send buffer", "WS_SEND_BUFFER", "0"},
		{"negative rate", "RATE_RPS", "-1"},
		{"zero burst", "RATE_BURST", "0"},
		{"sample ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("AUTH_JWT_SECRET", "s3cret")
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing AUTH_JWT_SECRET")
	}
}
