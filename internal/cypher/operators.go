package cypher

import "strings"

// Comparison operators

// Eq represents an equality comparison (=).
type Eq struct {
	Left  Expr
	Right Expr
}

func (e Eq) Cypher(env *Environment) string { return binary(env, e.Left, " = ", e.Right) }

// Ne represents a not-equal comparison (<>).
type Ne struct {
	Left  Expr
	Right Expr
}

func (n Ne) Cypher(env *Environment) string { return binary(env, n.Left, " <> ", n.Right) }

// Lt represents a less-than comparison (<).
type Lt struct {
	Left  Expr
	Right Expr
}

func (l Lt) Cypher(env *Environment) string { return binary(env, l.Left, " < ", l.Right) }

// Lte represents a less-than-or-equal comparison (<=).
type Lte struct {
	Left  Expr
	Right Expr
}

func (l Lte) Cypher(env *Environment) string { return binary(env, l.Left, " <= ", l.Right) }

// Gt represents a greater-than comparison (>).
type Gt struct {
	Left  Expr
	Right Expr
}

func (g Gt) Cypher(env *Environment) string { return binary(env, g.Left, " > ", g.Right) }

// Gte represents a greater-than-or-equal comparison (>=).
type Gte struct {
	Left  Expr
	Right Expr
}

func (g Gte) Cypher(env *Environment) string { return binary(env, g.Left, " >= ", g.Right) }

// In represents list membership (IN).
type In struct {
	Left  Expr
	Right Expr
}

func (i In) Cypher(env *Environment) string { return binary(env, i.Left, " IN ", i.Right) }

// String operators

// Contains represents CONTAINS.
type Contains struct {
	Left  Expr
	Right Expr
}

func (c Contains) Cypher(env *Environment) string { return binary(env, c.Left, " CONTAINS ", c.Right) }

// StartsWith represents STARTS WITH.
type StartsWith struct {
	Left  Expr
	Right Expr
}

func (s StartsWith) Cypher(env *Environment) string {
	return binary(env, s.Left, " STARTS WITH ", s.Right)
}

// EndsWith represents ENDS WITH.
type EndsWith struct {
	Left  Expr
	Right Expr
}

func (e EndsWith) Cypher(env *Environment) string { return binary(env, e.Left, " ENDS WITH ", e.Right) }

// IsNull represents IS NULL.
type IsNull struct {
	Expr Expr
}

func (i IsNull) Cypher(env *Environment) string { return i.Expr.Cypher(env) + " IS NULL" }

// IsNotNull represents IS NOT NULL.
type IsNotNull struct {
	Expr Expr
}

func (i IsNotNull) Cypher(env *Environment) string { return i.Expr.Cypher(env) + " IS NOT NULL" }

func binary(env *Environment, left Expr, op string, right Expr) string {
	return left.Cypher(env) + op + right.Cypher(env)
}

// Arithmetic operators

// PlusExpr adds (or concatenates) its operands.
type PlusExpr struct {
	Exprs []Expr
}

func (p PlusExpr) Cypher(env *Environment) string { return joinRendered(env, p.Exprs, " + ") }

// Plus creates a + chain.
func Plus(exprs ...Expr) PlusExpr { return PlusExpr{Exprs: exprs} }

// Minus represents subtraction (-).
type Minus struct {
	Left  Expr
	Right Expr
}

func (m Minus) Cypher(env *Environment) string { return binary(env, m.Left, " - ", m.Right) }

// Logical operators

// filterNilExprs removes nil expressions from the slice.
func filterNilExprs(exprs []Expr) []Expr {
	filtered := make([]Expr, 0, len(exprs))
	for _, e := range exprs {
		if e != nil {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// AndExpr represents a logical AND of two or more expressions.
type AndExpr struct {
	Exprs []Expr
}

func (a AndExpr) Cypher(env *Environment) string { return joinLogical(env, a.Exprs, " AND ") }

// And conjoins the non-nil expressions. It returns nil when none remain and
// the expression itself when only one does.
func And(exprs ...Expr) Expr {
	exprs = filterNilExprs(exprs)
	switch len(exprs) {
	case 0:
		return nil
	case 1:
		return exprs[0]
	}
	return AndExpr{Exprs: exprs}
}

// OrExpr represents a logical OR of two or more expressions.
type OrExpr struct {
	Exprs []Expr
}

func (o OrExpr) Cypher(env *Environment) string { return joinLogical(env, o.Exprs, " OR ") }

// Or disjoins the non-nil expressions, with the same collapsing as And.
func Or(exprs ...Expr) Expr {
	exprs = filterNilExprs(exprs)
	switch len(exprs) {
	case 0:
		return nil
	case 1:
		return exprs[0]
	}
	return OrExpr{Exprs: exprs}
}

// NotExpr represents a logical NOT of an expression.
type NotExpr struct {
	Expr Expr
}

func (n NotExpr) Cypher(env *Environment) string { return "NOT (" + n.Expr.Cypher(env) + ")" }

// Not creates a NOT expression.
func Not(expr Expr) NotExpr { return NotExpr{Expr: expr} }

// joinLogical parenthesizes operands that are themselves AND or OR chains,
// so mixed connectives keep their grouping.
func joinLogical(env *Environment, exprs []Expr, sep string) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		s := e.Cypher(env)
		switch e.(type) {
		case AndExpr, OrExpr:
			s = "(" + s + ")"
		}
		parts[i] = s
	}
	return strings.Join(parts, sep)
}
