package registry

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"fourcat/internal/services"
)

// ValidateOptions checks raw parameters against the option schema of typeID.
// Values are coerced to their declared kind, numbers are clamped to min/max,
// missing options take their defaults, and unknown keys are rejected.
func (r *Registry) ValidateOptions(typeID string, raw map[string]any) (map[string]any, error) {
	desc, ok := r.Descriptor(typeID)
	if !ok {
		return nil, configError(fmt.Sprintf("unknown processor type %q", typeID))
	}

	unknown := make([]string, 0)
	for key := range raw {
		if _, declared := desc.Options[key]; !declared {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, services.Wrap(services.ErrConfiguration, "registry", typeID,
			fmt.Sprintf("unknown option(s): %s", strings.Join(unknown, ", ")), nil)
	}

	out := make(map[string]any, len(desc.Options))
	for name, spec := range desc.Options {
		value, present := raw[name]
		if !present || value == nil {
			if spec.Default == nil {
				continue
			}
			value = spec.Default
		}
		coerced, err := coerceOption(spec, value)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "registry", typeID, fmt.Sprintf("option %q", name), err)
		}
		out[name] = clampOption(spec, coerced)
	}
	return out, nil
}

func coerceOption(spec OptionSpec, value any) (any, error) {
	switch spec.Kind {
	case KindString:
		return cast.ToStringE(value)
	case KindInt:
		if f, ok := value.(float64); ok && f != math.Trunc(f) {
			return nil, fmt.Errorf("%v is not an integer", value)
		}
		return cast.ToInt64E(value)
	case KindFloat:
		return cast.ToFloat64E(value)
	case KindBool:
		return cast.ToBoolE(value)
	case KindChoice:
		choice, err := cast.ToStringE(value)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(spec.Choices, choice) {
			return nil, fmt.Errorf("%q is not one of %s", choice, strings.Join(spec.Choices, ", "))
		}
		return choice, nil
	case KindList:
		return coerceList(value)
	default:
		return nil, fmt.Errorf("unsupported option kind %q", spec.Kind)
	}
}

// coerceList accepts a slice or a comma separated string.
func coerceList(value any) ([]string, error) {
	if text, ok := value.(string); ok {
		var items []string
		for _, part := range strings.Split(text, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		return items, nil
	}
	return cast.ToStringSliceE(value)
}

func clampOption(spec OptionSpec, value any) any {
	switch v := value.(type) {
	case int64:
		if spec.Min != nil && float64(v) < *spec.Min {
			return int64(math.Ceil(*spec.Min))
		}
		if spec.Max != nil && float64(v) > *spec.Max {
			return int64(math.Floor(*spec.Max))
		}
	case float64:
		if spec.Min != nil && v < *spec.Min {
			return *spec.Min
		}
		if spec.Max != nil && v > *spec.Max {
			return *spec.Max
		}
	}
	return value
}

// Bound is a helper for declaring OptionSpec.Min and OptionSpec.Max.
func Bound(v float64) *float64 {
	return &v
}
