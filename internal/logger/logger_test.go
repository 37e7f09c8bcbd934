package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/featuregate/internal/config"
)

func TestNewWithWriter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        config.AppConfig
		wantJSON   bool
		wantSource bool
		wantDebug  bool
	}{
		{
			name:       "Should emit JSON without source in production",
			cfg:        config.AppConfig{Name: "featuregate-data", Version: "1.2.3", Environment: "production", LogLevel: "info", LogFormat: "json"},
			wantJSON:   true,
			wantSource: false,
		},
		{
			name:       "Should emit text with source and debug in development",
			cfg:        config.AppConfig{Name: "featuregate-control", Version: "dev", Environment: "development", LogLevel: "DEBUG", LogFormat: "text"},
			wantJSON:   false,
			wantSource: true,
			wantDebug:  true,
		},
		{
			name:     "Should fall back to JSON and info on unknown values",
			cfg:      config.AppConfig{Name: "svc", Version: "dev", Environment: "staging", LogLevel: "verbose", LogFormat: "xml"},
			wantJSON: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			var buf bytes.Buffer
			log := NewWithWriter(&tt.cfg, &buf)

			// Act
			log.Debug("debug line")
			log.Info("info line", slog.String("flag", "PHONE_DIALER"))

			// Assert
			out := buf.String()
			assert.Equal(t, tt.wantDebug, strings.Contains(out, "debug line"))
			require.Contains(t, out, "info line")

			lines := strings.Split(strings.TrimSpace(out), "\n")
			last := lines[len(lines)-1]

			if tt.wantJSON {
				var record map[string]any
				require.NoError(t, json.Unmarshal([]byte(last), &record))
				assert.Equal(t, tt.cfg.Name, record["service"])
				assert.Equal(t, tt.cfg.Version, record["version"])
				assert.Equal(t, tt.cfg.Environment, record["env"])
				assert.Equal(t, "PHONE_DIALER", record["flag"])
				_, hasSource := record["source"]
				assert.Equal(t, tt.wantSource, hasSource)
			} else {
				assert.Contains(t, last, "service="+tt.cfg.Name)
				assert.Contains(t, last, "flag=PHONE_DIALER")
				assert.Equal(t, tt.wantSource, strings.Contains(last, "source="))
			}
		})
	}
}

func TestNewWithWriter_NilConfigPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		NewWithWriter(nil, &bytes.Buffer{})
	})
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	log := Discard()
	require.NotNil(t, log)
	assert.False(t, log.Enabled(t.Context(), slog.LevelError))
}
