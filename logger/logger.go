// Package logger provides logging for the xray-daemon with dual backends
// (console/syslog and file) and a bounded in-memory buffer served over the API.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/mhsanaei/xray-daemon/config"
	"github.com/op/go-logging"
)

const (
	module           = "xray-daemon"
	maxLogBufferSize = 10240                 // Maximum log entries kept in memory
	logFileName      = "xray-daemon.log"     // Log file name
	timeFormat       = "2006/01/02 15:04:05" // Log timestamp format
)

type entry struct {
	time  string
	level logging.Level
	log   string
}

var (
	logger  *logging.Logger
	logFile *os.File

	// bufferMu guards logBuffer; reconciliation workers log concurrently.
	bufferMu  sync.Mutex
	logBuffer []entry
)

// init installs a stderr-only logger so packages can log before InitLogger runs.
func init() {
	l := logging.MustGetLogger(module)
	backend := logging.NewBackendFormatter(logging.NewLogBackend(os.Stderr, "", 0), newFormatter(true))
	leveled := logging.AddModuleLevel(backend)
	leveled.SetLevel(logging.INFO, module)
	l.SetBackend(leveled)
	logger = l
}

// InitLogger initializes dual logging backends: console/syslog and file.
// Console logging uses the specified level, file logging always uses DEBUG level.
func InitLogger(level logging.Level) {
	newLogger := logging.MustGetLogger(module)
	backends := make([]logging.Backend, 0, 2)

	if consoleBackend := initDefaultBackend(); consoleBackend != nil {
		leveledBackend := logging.AddModuleLevel(consoleBackend)
		leveledBackend.SetLevel(level, module)
		backends = append(backends, leveledBackend)
	}

	if fileBackend := initFileBackend(); fileBackend != nil {
		leveledBackend := logging.AddModuleLevel(fileBackend)
		leveledBackend.SetLevel(logging.DEBUG, module)
		backends = append(backends, leveledBackend)
	}

	multiBackend := logging.MultiLogger(backends...)
	newLogger.SetBackend(multiBackend)
	logger = newLogger
}

// ParseLevel maps a configured level to a go-logging level.
func ParseLevel(level config.LogLevel) (logging.Level, error) {
	switch level {
	case config.Debug:
		return logging.DEBUG, nil
	case config.Info:
		return logging.INFO, nil
	case config.Notice:
		return logging.NOTICE, nil
	case config.Warning:
		return logging.WARNING, nil
	case config.Error:
		return logging.ERROR, nil
	}
	return logging.INFO, fmt.Errorf("unknown log level: %s", level)
}

// initDefaultBackend creates the console/syslog logging backend.
// Windows: Uses stderr directly (no syslog support)
// Unix-like: Attempts syslog, falls back to stderr
func initDefaultBackend() logging.Backend {
	var backend logging.Backend
	includeTime := false

	if runtime.GOOS == "windows" {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
		includeTime = true
	} else {
		if syslogBackend, err := logging.NewSyslogBackend(""); err != nil {
			fmt.Fprintf(os.Stderr, "syslog backend disabled: %v\n", err)
			backend = logging.NewLogBackend(os.Stderr, "", 0)
			includeTime = os.Getppid() > 0
		} else {
			backend = syslogBackend
		}
	}

	return logging.NewBackendFormatter(backend, newFormatter(includeTime))
}

// initFileBackend creates the file logging backend.
// Creates log directory and truncates log file on startup for fresh logs.
func initFileBackend() logging.Backend {
	logDir := config.GetLogFolder()
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log folder %s: %v\n", logDir, err)
		return nil
	}

	logPath := filepath.Join(logDir, logFileName)
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o660)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", logPath, err)
		return nil
	}

	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = file

	backend := logging.NewLogBackend(file, "", 0)
	return logging.NewBackendFormatter(backend, newFormatter(true))
}

func newFormatter(withTime bool) logging.Formatter {
	format := `%{level} - %{message}`
	if withTime {
		format = `%{time:` + timeFormat + `} %{level} - %{message}`
	}
	return logging.MustStringFormatter(format)
}

// CloseLogger closes the log file. Should be called during application shutdown.
func CloseLogger() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func Debug(args ...any) { emit(logging.DEBUG, sprint(args)) }
func Debugf(format string, args ...any) { emit(logging.DEBUG, fmt.Sprintf(format, args...)) }

func Info(args ...any) { emit(logging.INFO, sprint(args)) }
func Infof(format string, args ...any) { emit(logging.INFO, fmt.Sprintf(format, args...)) }

func Notice(args ...any) { emit(logging.NOTICE, sprint(args)) }
func Noticef(format string, args ...any) { emit(logging.NOTICE, fmt.Sprintf(format, args...)) }

func Warning(args ...any) { emit(logging.WARNING, sprint(args)) }
func Warningf(format string, args ...any) { emit(logging.WARNING, fmt.Sprintf(format, args...)) }

func Error(args ...any) { emit(logging.ERROR, sprint(args)) }
func Errorf(format string, args ...any) { emit(logging.ERROR, fmt.Sprintf(format, args...)) }

// sprint joins args with spaces, the way go-logging renders unformatted records.
func sprint(args []any) string {
	return strings.TrimSuffix(fmt.Sprintln(args...), "\n")
}

func emit(level logging.Level, msg string) {
	switch level {
	case logging.DEBUG:
		logger.Debug(msg)
	case logging.INFO:
		logger.Info(msg)
	case logging.NOTICE:
		logger.Notice(msg)
	case logging.WARNING:
		logger.Warning(msg)
	default:
		logger.Error(msg)
	}
	addToBuffer(level, msg)
}

func addToBuffer(level logging.Level, newLog string) {
	t := time.Now()

	bufferMu.Lock()
	defer bufferMu.Unlock()

	if len(logBuffer) >= maxLogBufferSize {
		logBuffer = logBuffer[1:]
	}
	logBuffer = append(logBuffer, entry{
		time:  t.Format(timeFormat),
		level: level,
		log:   newLog,
	})
}

// GetLogs retrieves up to c log entries, newest first, whose severity is at
// least the given level. An unknown level yields DEBUG, i.e. everything.
func GetLogs(c int, level string) []string {
	logLevel, err := logging.LogLevel(level)
	if err != nil {
		logLevel = logging.DEBUG
	}

	bufferMu.Lock()
	defer bufferMu.Unlock()

	output := make([]string, 0, min(c, len(logBuffer)))
	for i := len(logBuffer) - 1; i >= 0 && len(output) < c; i-- {
		if logBuffer[i].level <= logLevel {
			output = append(output, fmt.Sprintf("%s %s - %s", logBuffer[i].time, logBuffer[i].level, logBuffer[i].log))
		}
	}
	return output
}
