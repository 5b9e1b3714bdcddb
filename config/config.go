// Package config provides environment-driven configuration for the xray-daemon,
// including log settings, storage location, xray API target and reconciliation tuning.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

//go:embed version
var version string

//go:embed name
var name string

type LogLevel string

const (
	Debug   LogLevel = "debug"
	Info    LogLevel = "info"
	Notice  LogLevel = "notice"
	Warning LogLevel = "warning"
	Error   LogLevel = "error"
)

const (
	defaultXrayAPI            = "127.0.0.1:10085"
	defaultXrayTimeout        = 10 * time.Second
	defaultPort               = 8080
	defaultResetTrafficPeriod = 30 * 24 * time.Hour
	defaultReconcileCron      = "@every 1m"
	defaultReconcileWorkers   = 8
	defaultStatsCacheTTL      = 5 * time.Second
)

// LoadEnv reads the given dotenv files (".env" when none are given) into the
// process environment. Variables that are already set are left untouched and
// missing files are ignored.
func LoadEnv(files ...string) error {
	existing := existingEnvFiles(files)
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ReloadEnv is LoadEnv for a running process: values from the files replace
// the ones already in the environment.
func ReloadEnv(files ...string) error {
	existing := existingEnvFiles(files)
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Overload(existing...)
}

func existingEnvFiles(files []string) []string {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	return existing
}

func GetVersion() string {
	return strings.TrimSpace(version)
}

func GetName() string {
	return strings.TrimSpace(name)
}

func GetLogLevel() LogLevel {
	if IsDebug() {
		return Debug
	}
	logLevel := os.Getenv("XD_LOG_LEVEL")
	if logLevel == "" {
		return Info
	}
	if logLevel == "warn" {
		return Warning
	}
	return LogLevel(logLevel)
}

func IsDebug() bool {
	return os.Getenv("XD_DEBUG") == "true"
}

func GetLogFolder() string {
	logFolderPath := os.Getenv("XD_LOG_FOLDER")
	if logFolderPath == "" {
		logFolderPath = "/var/log"
	}
	return logFolderPath
}

func GetDBFolderPath() string {
	dbFolderPath := os.Getenv("XD_DB_FOLDER")
	if dbFolderPath == "" {
		dbFolderPath = "/etc/xray-daemon"
	}
	return dbFolderPath
}

// GetDBPath returns XD_DB_PATH, or <db folder>/<name>.db when unset.
func GetDBPath() string {
	if dbPath := os.Getenv("XD_DB_PATH"); dbPath != "" {
		return dbPath
	}
	return fmt.Sprintf("%s/%s.db", GetDBFolderPath(), GetName())
}

// GetXrayAPIAddress returns the host:port of the xray gRPC API.
func GetXrayAPIAddress() string {
	addr := os.Getenv("XD_XRAY_API")
	if addr == "" {
		return defaultXrayAPI
	}
	return addr
}

// GetXrayTimeout returns the per-call deadline applied to xray API requests.
func GetXrayTimeout() time.Duration {
	return getDuration("XD_XRAY_TIMEOUT", defaultXrayTimeout)
}

func GetListen() string {
	return os.Getenv("XD_LISTEN")
}

func GetPort() int {
	return getInt("XD_PORT", defaultPort)
}

func GetAPIKey() string {
	return os.Getenv("XD_API_KEY")
}

// GetResetTrafficPeriod returns the traffic epoch length. The variable holds
// seconds; 0 disables resets.
func GetResetTrafficPeriod() time.Duration {
	raw := os.Getenv("XD_RESET_TRAFFIC_PERIOD")
	if raw == "" {
		return defaultResetTrafficPeriod
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return defaultResetTrafficPeriod
	}
	return time.Duration(seconds * float64(time.Second))
}

func GetReconcileCron() string {
	schedule := os.Getenv("XD_RECONCILE_CRON")
	if schedule == "" {
		return defaultReconcileCron
	}
	return schedule
}

func GetReconcileWorkers() int {
	workers := getInt("XD_RECONCILE_WORKERS", defaultReconcileWorkers)
	if workers < 1 {
		return 1
	}
	return workers
}

func GetStatsCacheTTL() time.Duration {
	return getDuration("XD_STATS_CACHE_TTL", defaultStatsCacheTTL)
}

func getInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// getDuration accepts Go duration strings ("30s") or plain seconds ("30").
func getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return def
}
