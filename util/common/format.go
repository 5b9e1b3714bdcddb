package common

import (
	"fmt"
)

var trafficUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// FormatTraffic renders a byte count with a binary unit, e.g. "1.50GB".
func FormatTraffic(trafficBytes int64) string {
	unitIndex := 0
	size := float64(trafficBytes)

	for size >= 1024 && unitIndex < len(trafficUnits)-1 {
		size /= 1024
		unitIndex++
	}
	return fmt.Sprintf("%.2f%s", size, trafficUnits[unitIndex])
}

// FormatQuota is FormatTraffic with 0 shown as unlimited.
func FormatQuota(quota int64) string {
	if quota == 0 {
		return "unlimited"
	}
	return FormatTraffic(quota)
}
