package projection

import (
	"fmt"

	"github.com/pthm/quince/internal/cypher"
	"github.com/pthm/quince/pkg/selection"
	"github.com/pthm/quince/schema"
)

var pointFields = map[string]bool{
	"longitude": true,
	"latitude":  true,
	"height":    true,
	"x":         true,
	"y":         true,
	"z":         true,
	"crs":       true,
	"srid":      true,
}

// shorthand reports whether the attribute projects as .property.
func shorthand(attr *schema.Attribute, f *selection.Field) bool {
	if attr.Type.Kind == schema.KindDateTime || attr.Type.Kind.Spatial() {
		return false
	}
	return f.Key() == attr.Property()
}

// element reads an attribute of target as it is returned to the client.
func element(target cypher.Expr, attr *schema.Attribute, f *selection.Field) (cypher.Expr, error) {
	prop := cypher.PropertyRef{Target: target, Property: attr.Property()}
	switch {
	case attr.Type.Kind == schema.KindDateTime:
		if attr.Type.List {
			v := cypher.NewVariable()
			return cypher.ListComprehension{Var: v, Source: prop, Map: dateTime(v)}, nil
		}
		return dateTime(prop), nil
	case attr.Type.Kind.Spatial():
		if attr.Type.List {
			v := cypher.NewVariable()
			m, err := point(v, attr.Type.Name, f)
			if err != nil {
				return nil, err
			}
			return cypher.ListComprehension{Var: v, Source: prop, Map: m}, nil
		}
		m, err := point(prop, attr.Type.Name, f)
		if err != nil {
			return nil, err
		}
		return cypher.Case{
			Branches: []cypher.When{{Cond: cypher.IsNotNull{Expr: prop}, Result: m}},
			Else:     cypher.Null,
		}, nil
	}
	return prop, nil
}

// dateTime normalizes a stored zoned datetime to an ISO offset string.
func dateTime(v cypher.Expr) cypher.Expr {
	return cypher.Func{Name: "apoc.date.convertFormat", Args: []cypher.Expr{
		cypher.Func{Name: "toString", Args: []cypher.Expr{v}},
		cypher.Lit("iso_zoned_date_time"),
		cypher.Lit("iso_offset_date_time"),
	}}
}

// point projects the selected components of a point value. With no
// sub-selection the stored value is returned as is.
func point(p cypher.Expr, typeName string, f *selection.Field) (cypher.Expr, error) {
	fields := f.Fields(f.TypeNames()...)
	if len(fields) == 0 {
		return p, nil
	}
	var m cypher.Map
	for _, sub := range fields {
		var v cypher.Expr
		switch {
		case sub.Name == "__typename":
			v = cypher.Lit(typeName)
		case pointFields[sub.Name]:
			v = cypher.PropertyRef{Target: p, Property: sub.Name}
		default:
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, typeName, sub.Name)
		}
		m.Entries = append(m.Entries, cypher.MapEntry{Key: sub.Key(), Value: v})
	}
	return m, nil
}

// globalID renders the relay id: base64 of "Type:value".
func globalID(entity *schema.ConcreteEntity, node *cypher.Node, attr *schema.Attribute) cypher.Expr {
	return cypher.Func{Name: "apoc.text.base64Encode", Args: []cypher.Expr{
		cypher.Plus(
			cypher.Lit(entity.Name+":"),
			cypher.Func{Name: "toString", Args: []cypher.Expr{node.Property(attr.Property())}},
		),
	}}
}
