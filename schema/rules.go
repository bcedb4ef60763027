package schema

import (
	"fmt"
)

// ParseAuthentication builds an Authentication annotation from decoded
// @authentication arguments ({operations, jwt}).
func ParseAuthentication(args map[string]any, scopes ScopeTable) (*Authentication, error) {
	def := scopes.lookup(ScopeAuthentication)
	ops, err := parseOperations(args["operations"], def.Operations)
	if err != nil {
		return nil, err
	}
	a := &Authentication{Operations: ops}
	if raw, ok := args["jwt"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: @authentication jwt must be an object", ErrInvalidSchema)
		}
		f, err := ParseFilter(m)
		if err != nil {
			return nil, err
		}
		a.JWT = &f
	}
	return a, nil
}

// ParseAuthorization builds an Authorization annotation from decoded
// @authorization arguments ({filter, validate}).
func ParseAuthorization(args map[string]any, scopes ScopeTable) (*Authorization, error) {
	a := &Authorization{}

	if raw, ok := args["filter"]; ok && raw != nil {
		rules, err := objectList(raw, "@authorization filter")
		if err != nil {
			return nil, err
		}
		def := scopes.lookup(ScopeAuthorizationFilter)
		for _, r := range rules {
			ops, err := parseOperations(r["operations"], def.Operations)
			if err != nil {
				return nil, err
			}
			where, err := parseRuleWhere(r)
			if err != nil {
				return nil, err
			}
			a.Filter = append(a.Filter, FilterRule{
				Operations:            ops,
				RequireAuthentication: boolArg(r, "requireAuthentication", def.RequireAuthentication),
				Where:                 where,
			})
		}
	}

	if raw, ok := args["validate"]; ok && raw != nil {
		rules, err := objectList(raw, "@authorization validate")
		if err != nil {
			return nil, err
		}
		def := scopes.lookup(ScopeAuthorizationValidate)
		for _, r := range rules {
			ops, err := parseOperations(r["operations"], def.Operations)
			if err != nil {
				return nil, err
			}
			when, err := parsePhases(r["when"], def.When)
			if err != nil {
				return nil, err
			}
			where, err := parseRuleWhere(r)
			if err != nil {
				return nil, err
			}
			a.Validate = append(a.Validate, ValidateRule{
				Operations:            ops,
				When:                  when,
				RequireAuthentication: boolArg(r, "requireAuthentication", def.RequireAuthentication),
				Where:                 where,
			})
		}
	}

	if len(a.Filter) == 0 && len(a.Validate) == 0 {
		return nil, fmt.Errorf("%w: @authorization requires at least one filter or validate rule", ErrInvalidSchema)
	}
	return a, nil
}

// ParseSubscriptionsAuthorization builds a SubscriptionsAuthorization
// annotation from decoded @subscriptionsAuthorization arguments ({filter}).
func ParseSubscriptionsAuthorization(args map[string]any, scopes ScopeTable) (*SubscriptionsAuthorization, error) {
	raw, ok := args["filter"]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%w: @subscriptionsAuthorization requires filter", ErrInvalidSchema)
	}
	rules, err := objectList(raw, "@subscriptionsAuthorization filter")
	if err != nil {
		return nil, err
	}
	def := scopes.lookup(ScopeSubscriptionsFilter)
	a := &SubscriptionsAuthorization{}
	for _, r := range rules {
		events, err := parseEvents(r["events"], def.Events)
		if err != nil {
			return nil, err
		}
		where, err := parseRuleWhere(r)
		if err != nil {
			return nil, err
		}
		a.Filter = append(a.Filter, SubscriptionsFilterRule{
			Events:                events,
			RequireAuthentication: boolArg(r, "requireAuthentication", def.RequireAuthentication),
			Where:                 where,
		})
	}
	return a, nil
}

func parseRuleWhere(rule map[string]any) (Predicate, error) {
	raw, ok := rule["where"]
	if !ok || raw == nil {
		return Predicate{}, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return Predicate{}, fmt.Errorf("%w: rule where must be an object", ErrInvalidSchema)
	}
	return ParsePredicate(m)
}

func stringList(raw any, what string) ([]string, error) {
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a list of names", ErrInvalidSchema, what)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s must be a list of names", ErrInvalidSchema, what)
}

func parseOperations(raw any, def []Operation) ([]Operation, error) {
	if raw == nil {
		return append([]Operation(nil), def...), nil
	}
	names, err := stringList(raw, "operations")
	if err != nil {
		return nil, err
	}
	ops := make([]Operation, len(names))
	for i, n := range names {
		op := Operation(n)
		if !knownOperations[op] {
			return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidSchema, n)
		}
		ops[i] = op
	}
	return ops, nil
}

func parseEvents(raw any, def []Event) ([]Event, error) {
	if raw == nil {
		return append([]Event(nil), def...), nil
	}
	names, err := stringList(raw, "events")
	if err != nil {
		return nil, err
	}
	events := make([]Event, len(names))
	for i, n := range names {
		ev := Event(n)
		if !knownEvents[ev] {
			return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidSchema, n)
		}
		events[i] = ev
	}
	return events, nil
}

func parsePhases(raw any, def []Phase) ([]Phase, error) {
	if raw == nil {
		return append([]Phase(nil), def...), nil
	}
	names, err := stringList(raw, "when")
	if err != nil {
		return nil, err
	}
	phases := make([]Phase, len(names))
	for i, n := range names {
		switch Phase(n) {
		case PhaseBefore, PhaseAfter:
			phases[i] = Phase(n)
		default:
			return nil, fmt.Errorf("%w: unknown phase %q", ErrInvalidSchema, n)
		}
	}
	return phases, nil
}

func boolArg(m map[string]any, key string, def bool) bool {
	if b, ok := m[key].(bool); ok {
		return b
	}
	return def
}
