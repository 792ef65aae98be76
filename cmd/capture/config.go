package main

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the capture daemon's environment-derived configuration.
type Config struct {
	Port int `envconfig:"PORT" default:"8088"`

	// ChromeHTTPEndpoint is the CDP HTTP endpoint (/json/version,
	// /json/list) used to resolve the page websocket URL to capture.
	ChromeHTTPEndpoint string `envconfig:"CHROME_HTTP_ENDPOINT" default:"http://127.0.0.1:9222"`

	OutputDir string `envconfig:"OUTPUT_DIR" default:"./captures"`

	// ChromeLogFile, if set, is a supervisord-style Chromium log tailed for
	// the "DevTools listening on ws://..." line. When configured, Start
	// waits for that confirmation before querying ChromeHTTPEndpoint,
	// instead of racing the HTTP probe against browser startup.
	ChromeLogFile        string `envconfig:"CHROME_LOG_FILE" default:""`
	ChromeReadyTimeoutMS int    `envconfig:"CHROME_READY_TIMEOUT_MS" default:"15000"`

	CaptureResourceTypes     []string `envconfig:"CAPTURE_RESOURCE_TYPES" default:"xhr,fetch,document"`
	WindowPropertyIntervalMS int      `envconfig:"WINDOW_PROPERTY_INTERVAL_MS" default:"10000"`
	WindowPropertyMaxDepth   int      `envconfig:"WINDOW_PROPERTY_MAX_DEPTH" default:"10"`
	CookiePollMS             int      `envconfig:"COOKIE_POLL_MS" default:"1000"`
	CommandDefaultTimeoutMS  int      `envconfig:"COMMAND_DEFAULT_TIMEOUT_MS" default:"10000"`
	FinalizeGraceMS          int      `envconfig:"FINALIZE_GRACE_MS" default:"5000"`
	BodyCompression          string   `envconfig:"BODY_COMPRESSION_LEVEL" default:"default"`

	// WatchDir, if set, arms an fsnotify quickstart watcher over a directory
	// of window-property JSON snapshots (extracted from a previous run's
	// eventlog), diffing each newly written file against the last one seen.
	WatchDir string `envconfig:"WATCH_DIR" default:""`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ChromeHTTPEndpoint == "" {
		return fmt.Errorf("CHROME_HTTP_ENDPOINT is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	if len(c.CaptureResourceTypes) == 0 {
		return fmt.Errorf("CAPTURE_RESOURCE_TYPES must name at least one resource type")
	}
	if c.WindowPropertyMaxDepth <= 0 {
		return fmt.Errorf("WINDOW_PROPERTY_MAX_DEPTH must be greater than 0")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if c.ChromeLogFile != "" && c.ChromeReadyTimeoutMS <= 0 {
		return fmt.Errorf("CHROME_READY_TIMEOUT_MS must be greater than 0 when CHROME_LOG_FILE is set")
	}
	return nil
}
