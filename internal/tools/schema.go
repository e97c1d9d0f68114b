package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/xiaot623/opsagent/internal/domain"
)

// ArgumentError reports a tool call whose arguments do not match the specs.
type ArgumentError struct {
	Arg    string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %q: %s", e.Arg, e.Reason)
}

// ArgsFromSchema converts JSON-schema object properties into typed specs.
// Types without a dedicated kind become opaque.
func ArgsFromSchema(properties map[string]any, required []string) []domain.ArgSpec {
	req := make(map[string]bool, len(required))
	for _, name := range required {
		req[name] = true
	}

	specs := make([]domain.ArgSpec, 0, len(properties))
	for name, raw := range properties {
		spec := domain.ArgSpec{Name: name, Kind: domain.ArgOpaque, Required: req[name]}
		prop, _ := raw.(map[string]any)
		if desc, ok := prop["description"].(string); ok {
			spec.Description = desc
		}
		if enum := stringEnum(prop["enum"]); len(enum) > 0 {
			spec.Kind = domain.ArgEnum
			spec.Enum = enum
		} else {
			switch schemaType(prop["type"]) {
			case "string":
				spec.Kind = domain.ArgString
			case "integer":
				spec.Kind = domain.ArgInteger
			case "boolean":
				spec.Kind = domain.ArgBoolean
			}
		}
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// schemaType reads "type", which may be a string or a list such as ["string","null"].
func schemaType(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		var found string
		for _, item := range t {
			s, _ := item.(string)
			if s == "" || s == "null" {
				continue
			}
			if found != "" {
				return ""
			}
			found = s
		}
		return found
	}
	return ""
}

func stringEnum(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil
		}
		out = append(out, s)
	}
	return out
}

func validateSpecs(specs []domain.ArgSpec) error {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return fmt.Errorf("argument name is required")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate argument %q", s.Name)
		}
		seen[s.Name] = true
		switch s.Kind {
		case domain.ArgString, domain.ArgInteger, domain.ArgBoolean, domain.ArgOpaque:
		case domain.ArgEnum:
			if len(s.Enum) == 0 {
				return fmt.Errorf("enum argument %q has no values", s.Name)
			}
		default:
			return fmt.Errorf("argument %q: unknown kind %q", s.Name, s.Kind)
		}
	}
	return nil
}

// ValidateArgs checks args against specs and returns a cleaned copy: nil
// values are dropped and scalar values are coerced to the declared kind.
// Arguments without a spec pass through unchanged.
func ValidateArgs(specs []domain.ArgSpec, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if v != nil {
			out[k] = v
		}
	}
	for _, s := range specs {
		v, ok := out[s.Name]
		if !ok {
			if s.Required {
				return nil, &ArgumentError{Arg: s.Name, Reason: "required"}
			}
			continue
		}
		coerced, err := coerce(s, v)
		if err != nil {
			return nil, err
		}
		out[s.Name] = coerced
	}
	return out, nil
}

func coerce(s domain.ArgSpec, v any) (any, error) {
	switch s.Kind {
	case domain.ArgString:
		switch t := v.(type) {
		case string:
			return t, nil
		case float64, bool, json.Number:
			return fmt.Sprint(t), nil
		}
		return nil, &ArgumentError{Arg: s.Name, Reason: "expected string"}
	case domain.ArgInteger:
		switch t := v.(type) {
		case float64:
			if t != math.Trunc(t) {
				return nil, &ArgumentError{Arg: s.Name, Reason: "expected integer"}
			}
			return int64(t), nil
		case int:
			return int64(t), nil
		case int64:
			return t, nil
		case json.Number:
			n, err := t.Int64()
			if err != nil {
				return nil, &ArgumentError{Arg: s.Name, Reason: "expected integer"}
			}
			return n, nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return nil, &ArgumentError{Arg: s.Name, Reason: "expected integer"}
			}
			return n, nil
		}
		return nil, &ArgumentError{Arg: s.Name, Reason: "expected integer"}
	case domain.ArgBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(t))
			if err != nil {
				return nil, &ArgumentError{Arg: s.Name, Reason: "expected boolean"}
			}
			return b, nil
		}
		return nil, &ArgumentError{Arg: s.Name, Reason: "expected boolean"}
	case domain.ArgEnum:
		str, ok := v.(string)
		if !ok {
			return nil, &ArgumentError{Arg: s.Name, Reason: "expected one of " + strings.Join(s.Enum, ", ")}
		}
		for _, allowed := range s.Enum {
			if str == allowed {
				return str, nil
			}
		}
		return nil, &ArgumentError{Arg: s.Name, Reason: "expected one of " + strings.Join(s.Enum, ", ")}
	}
	return v, nil
}
