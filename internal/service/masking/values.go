package masking

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"maskflow/internal/domain"
)

// columnPlan is everything needed to send one masked column and write its
// masked values back.
type columnPlan struct {
	Name          string
	Algorithm     string
	TargetType    string
	DateFormat    string // as sent in Field-Date-Format
	layout        string // DateFormat as a Go layout
	TreatAsString bool
	Width         int64 // sink character width, 0 when unbounded
}

// fallbackLayouts are tried when a date column has no configured format.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// outbound prepares a source value for the masking request.
func (p columnPlan) outbound(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		if p.layout != "" {
			return x.Format(p.layout)
		}
		if p.TreatAsString {
			return x.Format(time.RFC3339Nano)
		}
		return x
	case []byte:
		if p.TreatAsString {
			return string(x)
		}
		return x
	}
	if p.TreatAsString {
		return textOf(v)
	}
	return v
}

// inbound coerces one masked value to the column's target type and trims
// strings to the sink width.
func (p columnPlan) inbound(v any) (any, error) {
	out, err := coerce(v, p.TargetType, p.layout)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", p.Name, err)
	}
	if s, ok := out.(string); ok && p.Width > 0 {
		out = trimRunes(s, int(p.Width))
	}
	return out, nil
}

// coerce converts a value as decoded from the masking response (string,
// float64, bool, nil) into the Go value written for the target type.
func coerce(v any, target, layout string) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch target {
	case domain.TargetString, domain.TargetDecimal:
		return textOf(v), nil
	case domain.TargetInteger, domain.TargetLong:
		return toInt(v)
	case domain.TargetDouble:
		return toFloat(v)
	case domain.TargetBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to boolean", x)
			}
			return b, nil
		case float64:
			return x != 0, nil
		}
	case domain.TargetDate, domain.TargetTimestamp:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return parseTime(x, layout)
		}
	case domain.TargetBinary:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	default:
		return nil, fmt.Errorf("unknown target type %q", target)
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, target)
}

func toInt(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("cannot convert %v to integer", x)
		}
		return int64(x), nil
	case json.Number:
		return x.Int64()
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to integer", x)
		}
		return n, nil
	}
	return nil, fmt.Errorf("cannot convert %T to integer", v)
}

func toFloat(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to double", x)
		}
		return f, nil
	}
	return nil, fmt.Errorf("cannot convert %T to double", v)
}

func parseTime(s, layout string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if layout != "" {
		t, err := time.Parse(layout, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("cannot parse %q as date: %w", s, err)
		}
		return t, nil
	}
	for _, l := range fallbackLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as date", s)
}

// textOf renders a value as text without exponent notation for numbers.
func textOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// trimRunes cuts s to at most n characters.
func trimRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
