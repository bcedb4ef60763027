// Package connection builds the paging tail of connection queries.
//
// A connection query collects one map per edge, in order, into a list
// variable. Page takes it from there: it counts the edges, slices the
// requested page, adds cursors and returns the connection object shaped by
// the selection (edges, totalCount, pageInfo).
//
// Cursors are opaque offsets, "arrayconnection:<n>" in base64, encoded the
// same way in Go and in the generated Cypher so either side can read them.
package connection

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pthm/quince/internal/cypher"
	"github.com/pthm/quince/internal/where"
	"github.com/pthm/quince/pkg/selection"
)

// ErrInvalidArgument is returned for malformed connection arguments,
// including cursors this package did not produce.
var ErrInvalidArgument = where.ErrInvalidArgument

const cursorPrefix = "arrayconnection:"

// EncodeCursor returns the cursor for the edge at offset.
func EncodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(offset)))
}

// DecodeCursor returns the offset a cursor points at.
func DecodeCursor(cursor string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: cursor %q", ErrInvalidArgument, cursor)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(string(raw), cursorPrefix))
	if err != nil || !strings.HasPrefix(string(raw), cursorPrefix) || n < 0 {
		return 0, fmt.Errorf("%w: cursor %q", ErrInvalidArgument, cursor)
	}
	return n, nil
}

// Sort orders edges by a node or relationship property.
type Sort struct {
	Edge       bool
	Field      string
	Descending bool
}

// Args are the paging arguments of a connection field.
type Args struct {
	First    int
	HasFirst bool
	// Offset is the index of the first edge returned: one past the after
	// cursor.
	Offset int
	Sort   []Sort
	Where  map[string]any
}

// ParseArgs reads first, after, sort and where. Sort entries take the form
// {node: {field: ASC}} or {edge: {field: DESC}}; a bare {field: ASC} sorts
// by a node property.
func ParseArgs(args map[string]any) (Args, error) {
	var a Args
	if raw, ok := args["first"]; ok && raw != nil {
		n, ok := toInt(raw)
		if !ok || n < 0 {
			return Args{}, fmt.Errorf("%w: first must be a non-negative integer", ErrInvalidArgument)
		}
		a.First, a.HasFirst = n, true
	}
	if raw, ok := args["after"]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return Args{}, fmt.Errorf("%w: after must be a cursor", ErrInvalidArgument)
		}
		n, err := DecodeCursor(s)
		if err != nil {
			return Args{}, err
		}
		a.Offset = n + 1
	}
	if raw, ok := args["where"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return Args{}, fmt.Errorf("%w: where must be an object", ErrInvalidArgument)
		}
		a.Where = m
	}
	sorts, err := ParseSort(args["sort"])
	if err != nil {
		return Args{}, err
	}
	a.Sort = sorts
	return a, nil
}

// ParseSort reads a sort argument: a list of objects, or a single object.
func ParseSort(raw any) ([]Sort, error) {
	var items []any
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	default:
		return nil, fmt.Errorf("%w: sort must be a list of objects", ErrInvalidArgument)
	}

	var out []Sort
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: sort must be a list of objects", ErrInvalidArgument)
		}
		for _, key := range sortedKeys(m) {
			nested, isNested := m[key].(map[string]any)
			if (key == "node" || key == "edge") && isNested {
				for _, field := range sortedKeys(nested) {
					s, err := direction(field, nested[field])
					if err != nil {
						return nil, err
					}
					s.Edge = key == "edge"
					out = append(out, s)
				}
				continue
			}
			s, err := direction(key, m[key])
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}

func direction(field string, raw any) (Sort, error) {
	switch raw {
	case "ASC":
		return Sort{Field: field}, nil
	case "DESC":
		return Sort{Field: field, Descending: true}, nil
	}
	return Sort{}, fmt.Errorf("%w: sort direction for %s must be ASC or DESC", ErrInvalidArgument, field)
}

// NodeSelection merges the node selections under every edges alias of a
// connection selection into one field. It never returns nil.
func NodeSelection(sel *selection.Field) *selection.Field {
	node := &selection.Field{Name: "node", FieldsByTypeName: map[string][]*selection.Field{}}
	for _, e := range sel.Fields(sel.TypeNames()...) {
		if e.Name != "edges" {
			continue
		}
		for _, sub := range e.Fields(e.TypeNames()...) {
			if sub.Name != "node" {
				continue
			}
			for typeName, children := range sub.FieldsByTypeName {
				node.FieldsByTypeName[typeName] = append(node.FieldsByTypeName[typeName], children...)
			}
		}
	}
	return node
}

// EdgeFields returns the fields selected on edges, merged across aliases.
func EdgeFields(sel *selection.Field) []*selection.Field {
	var all []*selection.Field
	for _, e := range sel.Fields(sel.TypeNames()...) {
		if e.Name == "edges" {
			all = append(all, e.Fields(e.TypeNames()...)...)
		}
	}
	return selection.Merge(all)
}

// Page appends the paging tail to a connection sub-query. edges holds the
// collected edge maps; out receives the connection object. Edge maps carry
// every selected edge key except cursor, which Page adds.
func Page(edges cypher.Variable, a Args, sel *selection.Field, out cypher.Variable) ([]cypher.Clause, error) {
	total := cypher.NewVariable()
	clauses := []cypher.Clause{&cypher.With{Items: []cypher.Item{
		{Expr: edges},
		{Expr: cypher.Size(edges), As: total},
	}}}

	var start cypher.Expr = cypher.Lit(0)
	if a.Offset > 0 {
		start = cypher.NewParam(a.Offset)
	}
	var end cypher.Expr = total
	if a.HasFirst {
		end = cypher.Plus(start, cypher.NewParam(a.First))
	}

	fields := sel.Fields(sel.TypeNames()...)
	var cursorKeys []string
	needPage := false
	for _, f := range fields {
		switch f.Name {
		case "edges":
			needPage = true
			for _, e := range f.Fields(f.TypeNames()...) {
				if e.Name == "cursor" {
					cursorKeys = append(cursorKeys, e.Key())
				}
			}
		case "pageInfo":
			needPage = true
		}
	}

	var page cypher.Expr = edges
	if needPage && (a.Offset > 0 || a.HasFirst || len(cursorKeys) > 0) {
		i := cypher.NewVariable()
		var edge cypher.Expr = cypher.Index{List: edges, Index: i}
		for _, key := range cursorKeys {
			edge = cypher.Func{Name: "apoc.map.setKey", Args: []cypher.Expr{edge, cypher.Lit(key), cursorExpr(i)}}
		}
		pageVar := cypher.NewVariable()
		clauses = append(clauses, &cypher.With{Items: []cypher.Item{
			{Expr: total},
			{Expr: cypher.ListComprehension{
				Var:    i,
				Source: cypher.Func{Name: "range", Args: []cypher.Expr{start, cypher.Minus{Left: end, Right: cypher.Lit(1)}}},
				Where:  cypher.Lt{Left: i, Right: total},
				Map:    edge,
			}, As: pageVar},
		}})
		page = pageVar
	}

	obj := cypher.Map{}
	for _, f := range fields {
		switch f.Name {
		case "edges":
			obj.Entries = append(obj.Entries, cypher.MapEntry{Key: f.Key(), Value: page})
		case "totalCount":
			obj.Entries = append(obj.Entries, cypher.MapEntry{Key: f.Key(), Value: total})
		case "pageInfo":
			info, err := pageInfo(f, page, start, end, total)
			if err != nil {
				return nil, err
			}
			obj.Entries = append(obj.Entries, cypher.MapEntry{Key: f.Key(), Value: info})
		case "__typename":
		default:
			return nil, fmt.Errorf("%w: connection field %s", where.ErrUnknownField, f.Name)
		}
	}
	clauses = append(clauses, &cypher.Return{Items: []cypher.Item{{Expr: obj, As: out}}})
	return clauses, nil
}

func pageInfo(sel *selection.Field, page, start, end, total cypher.Expr) (cypher.Map, error) {
	nonEmpty := cypher.Gt{Left: cypher.Size(page), Right: cypher.Lit(0)}
	info := cypher.Map{}
	for _, f := range sel.Fields(sel.TypeNames()...) {
		var v cypher.Expr
		switch f.Name {
		case "hasNextPage":
			v = cypher.Lt{Left: end, Right: total}
		case "hasPreviousPage":
			v = cypher.Gt{Left: start, Right: cypher.Lit(0)}
		case "startCursor":
			v = cypher.Case{Branches: []cypher.When{{Cond: nonEmpty, Result: cursorExpr(start)}}, Else: cypher.Null}
		case "endCursor":
			last := cypher.Minus{Left: cypher.Plus(start, cypher.Size(page)), Right: cypher.Lit(1)}
			v = cypher.Case{Branches: []cypher.When{{Cond: nonEmpty, Result: cursorExpr(last)}}, Else: cypher.Null}
		case "__typename":
			v = cypher.Lit("PageInfo")
		default:
			return cypher.Map{}, fmt.Errorf("%w: pageInfo field %s", where.ErrUnknownField, f.Name)
		}
		info.Entries = append(info.Entries, cypher.MapEntry{Key: f.Key(), Value: v})
	}
	return info, nil
}

// cursorExpr is EncodeCursor evaluated by the database.
func cursorExpr(offset cypher.Expr) cypher.Expr {
	return cypher.Func{Name: "apoc.text.base64Encode", Args: []cypher.Expr{
		cypher.Plus(cypher.Lit(cursorPrefix), cypher.Func{Name: "toString", Args: []cypher.Expr{offset}}),
	}}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
