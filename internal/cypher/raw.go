package cypher

// Raw is the escape hatch for fragments the AST cannot express. The render
// function receives the Environment so values still become parameters:
//
//	p := NewParam(v)
//	Raw{Render: func(env *Environment) string { return "x = " + p.Cypher(env) }}
type Raw struct {
	Render func(env *Environment) string
}

func (r Raw) clause() {}

// Cypher renders the fragment.
func (r Raw) Cypher(env *Environment) string {
	return r.Render(env)
}
