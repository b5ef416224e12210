package output

import "strings"

// StatusIcon 任务、Agent与平台状态对应的图标
func StatusIcon(status string) string {
	switch strings.ToUpper(status) {
	case "COMPLETED", "HEALTHY", "ACTIVE", "CONNECTED":
		return "✅"
	case "FAILED", "UNHEALTHY", "ERROR":
		return "❌"
	case "RUNNING":
		return "🔄"
	case "PENDING":
		return "⏳"
	case "CANCELLED", "INACTIVE", "DISCONNECTED":
		return "🛑"
	case "DEGRADED", "MAINTENANCE":
		return "⚠️"
	default:
		return "❓"
	}
}

// FormatStatus 状态前加图标
func FormatStatus(status string) string {
	return StatusIcon(status) + " " + status
}

// Percent 计算百分比
func Percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return part * 100 / total
}
