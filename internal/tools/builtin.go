package tools

import (
	"context"
	"time"

	"github.com/xiaot623/opsagent/internal/domain"
)

// RegisterBuiltins adds the tools served in-process.
func RegisterBuiltins(r *Registry, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	return r.Register(domain.ToolDescriptor{
		Name:        "system_current_time",
		Description: "Returns the current UTC time in RFC3339 format.",
		Category:    domain.CategoryK8s,
		Source:      "builtin",
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return now().UTC().Format(time.RFC3339), nil
	})
}
