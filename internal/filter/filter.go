// Package filter resolves the conditional masking rules stored in a table's
// assigned_algorithm values into per-alias row filters and field-algorithm
// headers.
//
// An assigned_algorithm value takes one of three shapes:
//
//	[{"alias":"us","condition":"startsWith","value":"US-"}]   key-column conditions
//	{"us":"UsSsn","default":"GenericSsn"}                       per-alias algorithms
//	SsnMask                                                     unconditional algorithm
//
// At most one column of a table may carry conditions; it is the key column.
// Rows matching no condition fall through to the "default" alias when any
// rule exists for it and are otherwise left unmapped.
package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"maskflow/internal/ddl"
)

// DefaultAlias is the implicit fallback alias.
const DefaultAlias = "default"

// Shape is the sniffed form of an assigned_algorithm value.
type Shape int

// Assignment shapes.
const (
	ShapeEmpty Shape = iota
	ShapeScalar
	ShapeObject
	ShapeArray
)

func (s Shape) String() string {
	switch s {
	case ShapeScalar:
		return "scalar"
	case ShapeObject:
		return "object"
	case ShapeArray:
		return "array"
	default:
		return "empty"
	}
}

// Sniff classifies an assigned_algorithm value by its first non-space byte.
func Sniff(assigned string) Shape {
	s := strings.TrimSpace(assigned)
	switch {
	case s == "":
		return ShapeEmpty
	case s[0] == '[':
		return ShapeArray
	case s[0] == '{':
		return ShapeObject
	default:
		return ShapeScalar
	}
}

// Operator is a key-column comparison.
type Operator string

// Supported operators.
const (
	OpEquals     Operator = "equals"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
)

// ParseOperator accepts operator names case-insensitively, in camel, snake or
// kebab case.
func ParseOperator(s string) (Operator, error) {
	norm := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch norm {
	case "equals", "eq", "=", "==":
		return OpEquals, nil
	case "startswith":
		return OpStartsWith, nil
	case "endswith":
		return OpEndsWith, nil
	default:
		return "", fmt.Errorf("unknown condition %q", s)
	}
}

// Condition is one key-column predicate selecting an alias.
type Condition struct {
	Alias    string   `json:"alias"`
	Operator Operator `json:"condition"`
	Value    string   `json:"value"`
}

// Match reports whether a key-column value satisfies the condition. Nil never
// matches.
func (c Condition) Match(v any) bool {
	if v == nil {
		return false
	}
	s := stringify(v)
	switch c.Operator {
	case OpEquals:
		return s == c.Value
	case OpStartsWith:
		return strings.HasPrefix(s, c.Value)
	case OpEndsWith:
		return strings.HasSuffix(s, c.Value)
	}
	return false
}

// Expression renders the condition as SQL-like filter text.
func (c Condition) Expression(column string) string {
	col := ddl.QuoteIdentifier(column)
	switch c.Operator {
	case OpStartsWith:
		return fmt.Sprintf("%s LIKE %s", col, ddl.QuoteLiteral(escapeLike(c.Value)+"%"))
	case OpEndsWith:
		return fmt.Sprintf("%s LIKE %s", col, ddl.QuoteLiteral("%"+escapeLike(c.Value)))
	default:
		return fmt.Sprintf("%s = %s", col, ddl.QuoteLiteral(c.Value))
	}
}

type rawCondition struct {
	Alias     string          `json:"alias"`
	Condition string          `json:"condition"`
	Value     json.RawMessage `json:"value"`
}

// ParseConditions decodes an array-shaped assignment.
func ParseConditions(assigned string) ([]Condition, error) {
	var raw []rawCondition
	if err := json.Unmarshal([]byte(assigned), &raw); err != nil {
		return nil, fmt.Errorf("malformed condition list: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("condition list is empty")
	}

	out := make([]Condition, 0, len(raw))
	for i, r := range raw {
		alias := strings.TrimSpace(r.Alias)
		if alias == "" {
			return nil, fmt.Errorf("condition %d: alias is required", i)
		}
		if strings.EqualFold(alias, DefaultAlias) {
			return nil, fmt.Errorf("condition %d: alias %q is reserved", i, DefaultAlias)
		}
		op, err := ParseOperator(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		value, err := literal(r.Value)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		out = append(out, Condition{Alias: alias, Operator: op, Value: value})
	}
	return out, nil
}

// ParseAliasAlgorithms decodes an object-shaped assignment.
func ParseAliasAlgorithms(assigned string) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(assigned), &m); err != nil {
		return nil, fmt.Errorf("malformed alias map: %w", err)
	}
	out := make(map[string]string, len(m))
	for alias, algo := range m {
		alias = strings.TrimSpace(alias)
		if strings.EqualFold(alias, DefaultAlias) {
			alias = DefaultAlias
		}
		if alias == "" || strings.TrimSpace(algo) == "" {
			return nil, fmt.Errorf("alias map entries need a non-empty alias and algorithm")
		}
		out[alias] = strings.TrimSpace(algo)
	}
	return out, nil
}

func literal(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("value is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return fmt.Sprint(b), nil
	}
	return "", fmt.Errorf("value must be a string, number or boolean")
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}
