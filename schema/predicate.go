package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ClaimPrefix marks a string value as a reference into the claim set.
const ClaimPrefix = "$jwt."

// Predicate is the where tree of an authorization rule. Node conditions are
// evaluated against the entity row, JWT conditions against the claim set.
type Predicate struct {
	Node *Filter
	JWT  *Filter
	And  []Predicate
	Or   []Predicate
	Not  *Predicate
}

// IsZero reports whether the predicate has no conditions at all.
func (p Predicate) IsZero() bool {
	return p.Node == nil && p.JWT == nil && len(p.And) == 0 && len(p.Or) == 0 && p.Not == nil
}

// Filter is a where tree over one object: an entity row, an edge, or the
// claim set.
type Filter struct {
	Conditions []Condition
	And        []Filter
	Or         []Filter
	Not        *Filter
}

// Operator compares a field with a value.
type Operator string

// Supported operators.
const (
	OpEquals     Operator = "equals"
	OpIn         Operator = "in"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	OpIncludes   Operator = "includes"
)

var operators = map[string]Operator{
	"equals": OpEquals, "in": OpIn, "lt": OpLt, "lte": OpLte, "gt": OpGt, "gte": OpGte,
	"contains": OpContains, "startsWith": OpStartsWith, "endsWith": OpEndsWith,
	"includes": OpIncludes,
}

// suffix operators of the flat filter syntax (title_IN, age_GT, ...). Longer
// suffixes first so _GTE is not read as _GT.
var suffixOperators = []struct {
	suffix string
	op     Operator
	negate bool
}{
	{"_NOT_IN", OpIn, true},
	{"_NOT_CONTAINS", OpContains, true},
	{"_NOT_STARTS_WITH", OpStartsWith, true},
	{"_NOT_ENDS_WITH", OpEndsWith, true},
	{"_NOT_INCLUDES", OpIncludes, true},
	{"_STARTS_WITH", OpStartsWith, false},
	{"_ENDS_WITH", OpEndsWith, false},
	{"_CONTAINS", OpContains, false},
	{"_INCLUDES", OpIncludes, false},
	{"_NOT", OpEquals, true},
	{"_GTE", OpGte, false},
	{"_LTE", OpLte, false},
	{"_GT", OpGt, false},
	{"_LT", OpLt, false},
	{"_IN", OpIn, false},
}

// Quantifier selects how a list relationship filter is applied.
type Quantifier string

const (
	// QuantifierDirect filters a to-one relationship's target.
	QuantifierDirect Quantifier = "direct"
	QuantifierSome   Quantifier = "some"
	QuantifierAll    Quantifier = "all"
	QuantifierNone   Quantifier = "none"
	QuantifierSingle Quantifier = "single"
)

var quantifiers = map[string]Quantifier{
	"some": QuantifierSome, "all": QuantifierAll, "none": QuantifierNone, "single": QuantifierSingle,
}

// Condition is one test in a Filter. Attribute conditions set Operator and
// Value; relationship conditions set Quantifier and Nested.
type Condition struct {
	Field    string
	Operator Operator
	Value    Value
	Negate   bool

	Quantifier Quantifier
	Nested     *Filter
}

// IsRelationship reports whether the condition descends into a relationship.
func (c Condition) IsRelationship() bool {
	return c.Quantifier != ""
}

// Value is either a literal or a claim path.
type Value struct {
	Literal any
	Claim   string
}

// IsClaim reports whether the value refers to the claim set.
func (v Value) IsClaim() bool {
	return v.Claim != ""
}

func parseValue(raw any) Value {
	if s, ok := raw.(string); ok && strings.HasPrefix(s, ClaimPrefix) {
		return Value{Claim: strings.TrimPrefix(s, ClaimPrefix)}
	}
	return Value{Literal: raw}
}

// ParsePredicate converts a decoded where argument ({node, jwt, AND, OR, NOT})
// into a Predicate.
func ParsePredicate(raw map[string]any) (Predicate, error) {
	var p Predicate
	for _, key := range sortedKeys(raw) {
		val := raw[key]
		switch key {
		case "node", "jwt":
			m, ok := val.(map[string]any)
			if !ok {
				return Predicate{}, fmt.Errorf("%w: where.%s must be an object", ErrInvalidSchema, key)
			}
			f, err := ParseFilter(m)
			if err != nil {
				return Predicate{}, err
			}
			if key == "node" {
				p.Node = &f
			} else {
				p.JWT = &f
			}
		case "AND", "OR":
			list, err := objectList(val, "where."+key)
			if err != nil {
				return Predicate{}, err
			}
			preds := make([]Predicate, len(list))
			for i, item := range list {
				if preds[i], err = ParsePredicate(item); err != nil {
					return Predicate{}, err
				}
			}
			if key == "AND" {
				p.And = preds
			} else {
				p.Or = preds
			}
		case "NOT":
			m, ok := val.(map[string]any)
			if !ok {
				return Predicate{}, fmt.Errorf("%w: where.NOT must be an object", ErrInvalidSchema)
			}
			inner, err := ParsePredicate(m)
			if err != nil {
				return Predicate{}, err
			}
			p.Not = &inner
		default:
			return Predicate{}, fmt.Errorf("%w: unknown where key %q", ErrInvalidSchema, key)
		}
	}
	return p, nil
}

// ParseFilter converts a decoded filter object into a Filter. Both the
// operator-object form ({id: {equals: x}}) and the flat suffix form
// ({id: x, age_GT: 3}) are accepted.
func ParseFilter(raw map[string]any) (Filter, error) {
	var f Filter
	for _, key := range sortedKeys(raw) {
		val := raw[key]
		switch key {
		case "AND", "OR":
			list, err := objectList(val, key)
			if err != nil {
				return Filter{}, err
			}
			filters := make([]Filter, len(list))
			for i, item := range list {
				if filters[i], err = ParseFilter(item); err != nil {
					return Filter{}, err
				}
			}
			if key == "AND" {
				f.And = filters
			} else {
				f.Or = filters
			}
			continue
		case "NOT":
			m, ok := val.(map[string]any)
			if !ok {
				return Filter{}, fmt.Errorf("%w: NOT must be an object", ErrInvalidSchema)
			}
			inner, err := ParseFilter(m)
			if err != nil {
				return Filter{}, err
			}
			f.Not = &inner
			continue
		}

		conds, err := parseField(key, val)
		if err != nil {
			return Filter{}, err
		}
		f.Conditions = append(f.Conditions, conds...)
	}
	return f, nil
}

func parseField(key string, val any) ([]Condition, error) {
	if m, ok := val.(map[string]any); ok {
		for _, q := range []string{"_SOME", "_ALL", "_NONE", "_SINGLE"} {
			if strings.HasSuffix(key, q) {
				nested, err := ParseFilter(m)
				if err != nil {
					return nil, err
				}
				return []Condition{{
					Field:      strings.TrimSuffix(key, q),
					Quantifier: quantifiers[strings.ToLower(strings.TrimPrefix(q, "_"))],
					Nested:     &nested,
				}}, nil
			}
		}
		return parseFieldObject(key, m)
	}

	for _, s := range suffixOperators {
		if strings.HasSuffix(key, s.suffix) && len(key) > len(s.suffix) {
			return []Condition{{
				Field:    strings.TrimSuffix(key, s.suffix),
				Operator: s.op,
				Negate:   s.negate,
				Value:    parseValue(val),
			}}, nil
		}
	}
	return []Condition{{Field: key, Operator: OpEquals, Value: parseValue(val)}}, nil
}

// parseFieldObject handles {op: value}, {some: {...}} and the to-one nested
// form {field: {...}}.
func parseFieldObject(field string, m map[string]any) ([]Condition, error) {
	keys := sortedKeys(m)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: empty filter for field %q", ErrInvalidSchema, field)
	}

	if allIn(keys, func(k string) bool { _, ok := operators[k]; return ok }) {
		conds := make([]Condition, len(keys))
		for i, k := range keys {
			conds[i] = Condition{Field: field, Operator: operators[k], Value: parseValue(m[k])}
		}
		return conds, nil
	}

	if allIn(keys, func(k string) bool { _, ok := quantifiers[k]; return ok }) {
		conds := make([]Condition, len(keys))
		for i, k := range keys {
			inner, ok := m[k].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s must be an object", ErrInvalidSchema, field, k)
			}
			nested, err := ParseFilter(inner)
			if err != nil {
				return nil, err
			}
			conds[i] = Condition{Field: field, Quantifier: quantifiers[k], Nested: &nested}
		}
		return conds, nil
	}

	nested, err := ParseFilter(m)
	if err != nil {
		return nil, err
	}
	return []Condition{{Field: field, Quantifier: QuantifierDirect, Nested: &nested}}, nil
}

func objectList(val any, path string) ([]map[string]any, error) {
	switch v := val.(type) {
	case []any:
		out := make([]map[string]any, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] must be an object", ErrInvalidSchema, path, i)
			}
			out[i] = m
		}
		return out, nil
	case map[string]any:
		// a single object where a list is expected is coerced, as GraphQL input coercion does
		return []map[string]any{v}, nil
	}
	return nil, fmt.Errorf("%w: %s must be a list of objects", ErrInvalidSchema, path)
}

func allIn(keys []string, pred func(string) bool) bool {
	for _, k := range keys {
		if !pred(k) {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
