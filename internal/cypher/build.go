package cypher

// Result is rendered query text with its parameters.
type Result struct {
	Cypher string
	Params map[string]any
}

// Build renders c against a fresh Environment. It never mutates the AST, so
// repeated calls return identical results.
func Build(c Clause) Result {
	env := NewEnvironment()
	text := c.Cypher(env)
	return Result{Cypher: text, Params: env.Params()}
}

// BuildChecked is Build that also fails when an expression references a
// variable no earlier clause bound.
func BuildChecked(c Clause) (Result, error) {
	env := NewEnvironment()
	text := c.Cypher(env)
	if err := env.err(); err != nil {
		return Result{}, err
	}
	return Result{Cypher: text, Params: env.Params()}, nil
}
