package cypher

// APOC helpers used for authorization guards and computed fields.

// ValidatePredicate renders apoc.util.validatePredicate(NOT (pred), msg, [0]),
// which raises msg when pred does not hold and otherwise evaluates to true.
func ValidatePredicate(pred Expr, msg string) Expr {
	return Func{
		Name: "apoc.util.validatePredicate",
		Args: []Expr{Not(pred), Lit(msg), List{Items: []Expr{Lit(0)}}},
	}
}

// Validate renders CALL apoc.util.validate(NOT (pred), msg, [0]).
func Validate(pred Expr, msg string) *CallProcedure {
	return &CallProcedure{
		Name: "apoc.util.validate",
		Args: []Expr{Not(pred), Lit(msg), List{Items: []Expr{Lit(0)}}},
	}
}

// RunFirstColumn invokes a Cypher statement through APOC and returns its first
// column, as a list when many is set.
func RunFirstColumn(statement string, args Map, many bool) Func {
	name := "apoc.cypher.runFirstColumnSingle"
	if many {
		name = "apoc.cypher.runFirstColumnMany"
	}
	return Func{Name: name, Args: []Expr{Lit(statement), args}}
}
