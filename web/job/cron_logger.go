package job

import (
	"fmt"
	"strings"

	"github.com/mhsanaei/xray-daemon/logger"
)

// CronLogger routes robfig/cron diagnostics to the daemon log.
type CronLogger struct{}

func (CronLogger) Info(msg string, keysAndValues ...any) {
	logger.Debug("cron: " + msg + formatKeysAndValues(keysAndValues))
}

func (CronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Error("cron: "+msg+formatKeysAndValues(keysAndValues)+":", err)
}

func formatKeysAndValues(keysAndValues []any) string {
	var b strings.Builder
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return b.String()
}
