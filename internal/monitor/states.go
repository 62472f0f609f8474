package monitor

import (
	"fmt"
	"strings"
)

// StateDetails maps a monitoring state (numeric or symbolic, as both occur
// on the wire) to its emoji and short text.
func StateDetails(val any) (emoji string, text string) {
	switch normalizeState(val) {
	case "0", "OK", "UP":
		return "✅", "OK"
	case "1", "WARN":
		return "⚠️", "WARN"
	case "2", "CRIT", "DOWN":
		return "🛑", "CRIT"
	case "3", "UNKN":
		return "🟠", "UNKNOWN"
	default:
		return "", "???"
	}
}

func normalizeState(val any) string {
	switch v := val.(type) {
	case string:
		return strings.ToUpper(strings.TrimSpace(v))
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%d", int(v))
	default:
		return ""
	}
}
