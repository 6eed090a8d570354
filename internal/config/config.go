package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Home            string        // root of all devhost state (ex: ~/.devhost)
	ConfigFile      string        // persisted JSON document (default: {Home}/config.json)
	ControlAddr     string        // ex: "127.0.0.1:7890"
	ProxyAddr       string        // overrides the proxy_port setting when set (ex: ":8080")
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)
	LogFile   string // optional rotated daemon log
	LogMaxMB  int    // rotation size for LogFile (default: 10)

	ReconcileInterval time.Duration // how often PID files and health are re-checked (default: 30s)
	GCInterval        time.Duration // how often orphaned instance logs are swept (default: 1h)
	StopTimeout       time.Duration // grace period between SIGTERM and SIGKILL (default: 5s)
	ProbeDelay        time.Duration // liveness probe delay after spawn (default: 500ms)
	HealthTimeout     time.Duration // connect timeout for health checks (default: 2s)

	CaddyBin    string // external proxy daemon binary (empty = look up "caddy" in PATH)
	CaddyDir    string // generated Caddyfile directory (default: {Home}/caddy)
	CatalogFile string // optional YAML overriding download sources per service
	ReleasesAPI string // base URL of the release index API
	PM2Bin      string
	BrewBin     string
}

func Load() *Config {
	home := getenv("DEVHOST_HOME", defaultHome())

	cfg := &Config{
		Home:            home,
		ConfigFile:      getenv("DEVHOST_CONFIG_FILE", filepath.Join(home, "config.json")),
		ControlAddr:     getenv("DEVHOST_CONTROL_ADDR", "127.0.0.1:7890"),
		ProxyAddr:       getenv("DEVHOST_PROXY_ADDR", ""),
		ShutdownTimeout: mustDuration("DEVHOST_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("DEVHOST_LOG_LEVEL", "info"),
		PrettyLog: mustBool("DEVHOST_PRETTY_LOG", true),
		LogFile:   getenv("DEVHOST_LOG_FILE", ""),
		LogMaxMB:  getenvInt("DEVHOST_LOG_MAX_MB", 10),

		// Supervision
		ReconcileInterval: mustDuration("DEVHOST_RECONCILE_INTERVAL", 30*time.Second),
		GCInterval:        mustDuration("DEVHOST_GC_INTERVAL", time.Hour),
		StopTimeout:       mustDuration("DEVHOST_STOP_TIMEOUT", 5*time.Second),
		ProbeDelay:        mustDuration("DEVHOST_PROBE_DELAY", 500*time.Millisecond),
		HealthTimeout:     mustDuration("DEVHOST_HEALTH_TIMEOUT", 2*time.Second),

		// External tools
		CaddyBin:    getenv("DEVHOST_CADDY_BIN", ""),
		CaddyDir:    getenv("DEVHOST_CADDY_DIR", filepath.Join(home, "caddy")),
		CatalogFile: getenv("DEVHOST_CATALOG_FILE", filepath.Join(home, "catalog.yaml")),
		ReleasesAPI: strings.TrimRight(getenv("DEVHOST_RELEASES_API", "https://api.github.com"), "/"),
		PM2Bin:      getenv("DEVHOST_PM2_BIN", "pm2"),
		BrewBin:     getenv("DEVHOST_BREW_BIN", "brew"),
	}

	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", *cfg)
	}

	return cfg
}

// Paths derived from Home.
func (c *Config) BinDir() string  { return filepath.Join(c.Home, "bin") }
func (c *Config) DataDir() string { return filepath.Join(c.Home, "data") }
func (c *Config) PidsDir() string { return filepath.Join(c.Home, "pids") }
func (c *Config) LogsDir() string { return filepath.Join(c.Home, "logs") }

// EnsureDirs creates the state directories if they do not exist yet.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.Home, c.BinDir(), c.DataDir(), c.PidsDir(), c.LogsDir(), c.CaddyDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func defaultHome() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".devhost")
	}
	return filepath.Join(os.TempDir(), "devhost")
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
