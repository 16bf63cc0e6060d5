package filter

import (
	"fmt"
	"slices"
	"strings"

	"maskflow/internal/domain"
)

// Resolution is the conditional masking plan of one table.
type Resolution struct {
	KeyColumn  string
	Conditions []Condition                  // declared precedence
	Aliases    []string                     // iteration order: explicit aliases, then default
	Headers    map[string]map[string]string // alias -> column -> algorithm
}

// Conditional reports whether the table uses key-column conditions.
func (r *Resolution) Conditional() bool { return r.KeyColumn != "" }

// Resolve builds the resolution for a table from its ruleset entries. Entries
// without an assignment are ignored. Errors are configuration errors scoped
// to the table.
func Resolve(table string, entries []domain.RulesetEntry) (*Resolution, error) {
	res := &Resolution{Headers: map[string]map[string]string{}}
	scalars := map[string]string{}
	objects := map[string]map[string]string{}
	var objectCols []string

	for _, e := range entries {
		switch Sniff(e.AssignedAlgorithm) {
		case ShapeEmpty:
			continue
		case ShapeScalar:
			scalars[e.Column] = strings.TrimSpace(e.AssignedAlgorithm)
		case ShapeObject:
			m, err := ParseAliasAlgorithms(e.AssignedAlgorithm)
			if err != nil {
				return nil, domain.ErrConfiguration(table, "column %s: %v", e.Column, err)
			}
			objects[e.Column] = m
			objectCols = append(objectCols, e.Column)
		case ShapeArray:
			if res.KeyColumn != "" {
				return nil, domain.ErrConfiguration(table, "columns %s and %s both define key-column conditions", res.KeyColumn, e.Column)
			}
			conds, err := ParseConditions(e.AssignedAlgorithm)
			if err != nil {
				return nil, domain.ErrConfiguration(table, "column %s: %v", e.Column, err)
			}
			res.KeyColumn = e.Column
			res.Conditions = conds
		}
	}

	explicit := map[string]bool{}
	for _, c := range res.Conditions {
		if !explicit[c.Alias] {
			explicit[c.Alias] = true
			res.Aliases = append(res.Aliases, c.Alias)
		}
	}

	for _, col := range objectCols {
		for alias := range objects[col] {
			if alias != DefaultAlias && !explicit[alias] {
				return nil, domain.ErrConfiguration(table, "column %s references alias %q with no condition", col, alias)
			}
		}
	}

	header := func(alias string) map[string]string {
		h := map[string]string{}
		for col, algo := range scalars {
			h[col] = algo
		}
		for _, col := range objectCols {
			if algo, ok := objects[col][alias]; ok {
				h[col] = algo
			}
		}
		return h
	}

	// An alias whose header is empty has no masking rule at all: it is
	// dropped together with its conditions so its rows fall through to the
	// default alias or stay unmapped.
	aliases := res.Aliases[:0]
	for _, alias := range res.Aliases {
		if h := header(alias); len(h) > 0 {
			res.Headers[alias] = h
			aliases = append(aliases, alias)
		}
	}
	res.Aliases = aliases
	res.Conditions = slices.DeleteFunc(res.Conditions, func(c Condition) bool {
		_, ok := res.Headers[c.Alias]
		return !ok
	})
	if def := header(DefaultAlias); len(def) > 0 {
		res.Aliases = append(res.Aliases, DefaultAlias)
		res.Headers[DefaultAlias] = def
	}
	return res, nil
}

// Route returns the alias of a row given its key-column value: the first
// matching alias by precedence, else the default alias when it has rules,
// else "" (unmapped). Unconditional tables route every row to the default
// alias.
func (r *Resolution) Route(keyValue any) string {
	for _, c := range r.Conditions {
		if c.Match(keyValue) {
			return c.Alias
		}
	}
	if _, ok := r.Headers[DefaultAlias]; ok {
		return DefaultAlias
	}
	return ""
}

// Assign routes every row of set. It returns the row positions per alias and
// the positions of unmapped rows.
func (r *Resolution) Assign(set *domain.RowSet) (map[string][]int, []int, error) {
	keyIdx := -1
	if r.KeyColumn != "" {
		keyIdx = set.ColumnIndex(r.KeyColumn)
		if keyIdx < 0 {
			return nil, nil, fmt.Errorf("key column %q not in row set", r.KeyColumn)
		}
	}

	byAlias := make(map[string][]int, len(r.Aliases))
	var unmapped []int
	for pos, row := range set.Rows {
		var key any
		if keyIdx >= 0 {
			key = row[keyIdx]
		}
		alias := r.Route(key)
		if alias == "" {
			unmapped = append(unmapped, pos)
			continue
		}
		byAlias[alias] = append(byAlias[alias], pos)
	}
	return byAlias, unmapped, nil
}

// Expression renders the filter selecting an alias's rows. The default
// alias selects rows matching none of the explicit conditions.
func (r *Resolution) Expression(alias string) string {
	if r.KeyColumn == "" {
		return "TRUE"
	}
	var parts []string
	if alias == DefaultAlias {
		for _, c := range r.Conditions {
			parts = append(parts, c.Expression(r.KeyColumn))
		}
		if len(parts) == 0 {
			return "TRUE"
		}
		return "NOT (" + strings.Join(parts, " OR ") + ")"
	}

	// A condition only selects rows not claimed by an earlier condition of
	// another alias.
	for i, c := range r.Conditions {
		if c.Alias != alias {
			continue
		}
		term := c.Expression(r.KeyColumn)
		var earlier []string
		for _, prev := range r.Conditions[:i] {
			if prev.Alias != alias {
				earlier = append(earlier, prev.Expression(r.KeyColumn))
			}
		}
		if len(earlier) > 0 {
			term = "(" + term + " AND NOT (" + strings.Join(earlier, " OR ") + "))"
		}
		parts = append(parts, term)
	}
	if len(parts) == 0 {
		return "FALSE"
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}
