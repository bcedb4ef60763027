package where

import (
	"reflect"
	"strings"

	"github.com/pthm/quince/pkg/authn"
	"github.com/pthm/quince/schema"
)

// Getter returns the value of a named field.
type Getter func(field string) (any, bool)

// Evaluate reports whether f holds for the fields returned by get. Claim
// references resolve against claims; a missing claim fails its condition.
// Relationship conditions never hold in memory.
func Evaluate(f schema.Filter, get Getter, claims authn.Claims) bool {
	for _, cond := range f.Conditions {
		if !evalCondition(cond, get, claims) {
			return false
		}
	}
	for _, sub := range f.And {
		if !Evaluate(sub, get, claims) {
			return false
		}
	}
	if len(f.Or) > 0 {
		matched := false
		for _, sub := range f.Or {
			if Evaluate(sub, get, claims) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if f.Not != nil && Evaluate(*f.Not, get, claims) {
		return false
	}
	return true
}

func evalCondition(cond schema.Condition, get Getter, claims authn.Claims) bool {
	if cond.IsRelationship() {
		return false
	}
	field, _ := get(cond.Field)

	var value any
	if cond.Value.IsClaim() {
		v, ok := claims.Get(cond.Value.Claim)
		if !ok || v == nil {
			return false
		}
		value = v
	} else {
		value = cond.Value.Literal
	}

	result := compareValues(cond.Operator, field, value)
	if cond.Negate {
		return !result
	}
	return result
}

func compareValues(op schema.Operator, field, value any) bool {
	switch op {
	case schema.OpEquals:
		return equal(field, value)
	case schema.OpIn:
		return listContains(value, field)
	case schema.OpIncludes:
		return listContains(field, value)
	case schema.OpLt, schema.OpLte, schema.OpGt, schema.OpGte:
		c, ok := order(field, value)
		if !ok {
			return false
		}
		switch op {
		case schema.OpLt:
			return c < 0
		case schema.OpLte:
			return c <= 0
		case schema.OpGt:
			return c > 0
		default:
			return c >= 0
		}
	case schema.OpContains, schema.OpStartsWith, schema.OpEndsWith:
		fs, ok1 := field.(string)
		vs, ok2 := value.(string)
		if !ok1 || !ok2 {
			return false
		}
		switch op {
		case schema.OpContains:
			return strings.Contains(fs, vs)
		case schema.OpStartsWith:
			return strings.HasPrefix(fs, vs)
		default:
			return strings.HasSuffix(fs, vs)
		}
	}
	return false
}

func equal(a, b any) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	la, okA := a.([]any)
	lb, okB := b.([]any)
	if okA && okB {
		if len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !equal(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func listContains(list, item any) bool {
	l, ok := list.([]any)
	if !ok {
		if s, ok := list.([]string); ok {
			for _, v := range s {
				if equal(v, item) {
					return true
				}
			}
		}
		return false
	}
	for _, v := range l {
		if equal(v, item) {
			return true
		}
	}
	return false
}

func order(a, b any) (int, bool) {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, ok1 := a.(string)
	sb, ok2 := b.(string)
	if !ok1 || !ok2 {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
