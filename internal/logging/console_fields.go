package logging

import (
	"log/slog"
	"strings"
)

type infoField struct {
	label string
	value string
}

// infoHighlightKeys are printed first, in this order.
var infoHighlightKeys = []string{
	FieldAlert,
	FieldEventType,
	"status",
	FieldProgressPercent,
	FieldProgressMessage,
	"error",
	FieldErrorKind,
	FieldErrorHint,
	"attempt",
	"backoff",
	"rows",
	"duration",
}

const maxInfoValueLen = 120

// selectFields returns the formatted body fields of a console line and how many
// were withheld. Debug lines show every field.
func selectFields(attrs []kv, debug bool) ([]infoField, int) {
	if len(attrs) == 0 {
		return nil, 0
	}
	used := make([]bool, len(attrs))
	result := make([]infoField, 0, len(attrs))
	hidden := 0

	take := func(idx int) {
		used[idx] = true
		attr := attrs[idx]
		if isSubjectKey(attr.key) {
			return
		}
		value := formatValueForKey(attr.key, attr.value)
		if !debug && (isDebugOnlyKey(attr.key) || hideLongValue(attr.key, value)) {
			hidden++
			return
		}
		result = append(result, infoField{label: displayLabel(attr.key), value: value})
	}

	for _, key := range infoHighlightKeys {
		for idx, attr := range attrs {
			if !used[idx] && attr.key == key {
				take(idx)
				break
			}
		}
	}
	for idx := range attrs {
		if !used[idx] {
			take(idx)
		}
	}
	return result, hidden
}

func formatValueForKey(key string, v slog.Value) string {
	v = v.Resolve()
	if v.Kind() == slog.KindBool {
		if v.Bool() {
			return "yes"
		}
		return "no"
	}
	if key == FieldProgressPercent && v.Kind() == slog.KindFloat64 {
		return formatValue(slog.Float64Value(float64(int(v.Float64()*10))/10)) + "%"
	}
	value := formatValue(v)
	if key == "error" && len(value) > 200 {
		value = value[:200] + "…"
	}
	return value
}

func isSubjectKey(key string) bool {
	switch key {
	case "", FieldComponent, FieldJobID, FieldJobType, FieldDatasetKey:
		return true
	}
	return false
}

func isDebugOnlyKey(key string) bool {
	if key == FieldCorrelationID || strings.Contains(key, "correlation") {
		return true
	}
	return strings.HasSuffix(key, "_path") || strings.HasSuffix(key, "_dir")
}

func hideLongValue(key, value string) bool {
	if key == "error" || key == FieldErrorHint {
		return false
	}
	return len(value) > maxInfoValueLen
}

func displayLabel(key string) string {
	switch key {
	case FieldAlert:
		return "Alert"
	case FieldEventType:
		return "Event"
	case FieldErrorHint:
		return "Hint"
	case FieldErrorKind:
		return "Kind"
	case FieldProgressPercent:
		return "Progress"
	case FieldProgressMessage:
		return "Status"
	default:
		return titleizeKey(key)
	}
}

func titleizeKey(key string) string {
	parts := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	for i, part := range parts {
		lower := strings.ToLower(part)
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}
