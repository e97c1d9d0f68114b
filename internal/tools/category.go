package tools

import (
	"strings"

	"github.com/xiaot623/opsagent/internal/domain"
)

var (
	logKeywords    = []string{"log", "vlogs", "loki"}
	metricKeywords = []string{"metric", "vm", "prom", "vtraces", "trace"}
)

// Categorize derives a category from a tool name. Log keywords win over
// metric keywords; everything else is k8s. It runs once, at registration.
func Categorize(name string) domain.ToolCategory {
	lower := strings.ToLower(name)
	for _, kw := range logKeywords {
		if strings.Contains(lower, kw) {
			return domain.CategoryLog
		}
	}
	for _, kw := range metricKeywords {
		if strings.Contains(lower, kw) {
			return domain.CategoryMetric
		}
	}
	return domain.CategoryK8s
}
