package cypher

import (
	"sort"
	"strings"
)

// Node is a graph node variable with the labels and properties it is declared
// with. The first pattern that renders a node declares it with labels and
// properties; later occurrences render the bare name.
type Node struct {
	name       string
	Labels     []string
	Properties map[string]Expr
}

// NewNode creates an anonymous node with the given labels.
func NewNode(labels ...string) *Node {
	return &Node{Labels: labels}
}

// NamedNode creates a node with a fixed variable name.
func NamedNode(name string, labels ...string) *Node {
	return &Node{name: name, Labels: labels}
}

func (n *Node) fixedName() string { return n.name }

// Cypher renders the node variable.
func (n *Node) Cypher(env *Environment) string {
	return env.reference(n)
}

// Property returns a reference to a node property.
func (n *Node) Property(name string) PropertyRef {
	return PropertyRef{Target: n, Property: name}
}

func (n *Node) pattern(env *Environment) string {
	name := env.VariableName(n)
	if env.isBound(n) {
		return "(" + name + ")"
	}
	env.bind(n)
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(name)
	for _, l := range n.Labels {
		b.WriteString(":")
		b.WriteString(escapeName(l))
	}
	if len(n.Properties) > 0 {
		b.WriteString(" ")
		b.WriteString(renderProperties(env, n.Properties))
	}
	b.WriteString(")")
	return b.String()
}

// Direction is the orientation of a relationship in a pattern.
type Direction int

const (
	// Outgoing renders (a)-[r]->(b).
	Outgoing Direction = iota
	// Incoming renders (a)<-[r]-(b).
	Incoming
	// Undirected renders (a)-[r]-(b).
	Undirected
)

// Relationship is a relationship variable of a single type.
type Relationship struct {
	name       string
	Type       string
	Properties map[string]Expr
}

// NewRelationship creates an anonymous relationship variable.
func NewRelationship(relType string) *Relationship {
	return &Relationship{Type: relType}
}

func (r *Relationship) fixedName() string { return r.name }

// Cypher renders the relationship variable.
func (r *Relationship) Cypher(env *Environment) string {
	return env.reference(r)
}

// Property returns a reference to a relationship property.
func (r *Relationship) Property(name string) PropertyRef {
	return PropertyRef{Target: r, Property: name}
}

func (r *Relationship) pattern(env *Environment) string {
	name := env.VariableName(r)
	if env.isBound(r) {
		return "[" + name + "]"
	}
	env.bind(r)
	s := "[" + name
	if r.Type != "" {
		s += ":" + escapeName(r.Type)
	}
	if len(r.Properties) > 0 {
		s += " " + renderProperties(env, r.Properties)
	}
	return s + "]"
}

type patternStep struct {
	rel *Relationship
	dir Direction
	to  *Node
}

// Pattern is a path of nodes joined by relationships.
type Pattern struct {
	start *Node
	steps []patternStep
}

// NewPattern starts a pattern at n.
func NewPattern(n *Node) *Pattern {
	return &Pattern{start: n}
}

// Related extends the pattern with a hop and returns the pattern.
func (p *Pattern) Related(rel *Relationship, dir Direction, to *Node) *Pattern {
	p.steps = append(p.steps, patternStep{rel: rel, dir: dir, to: to})
	return p
}

// Cypher renders the pattern, declaring every node and relationship it binds.
func (p *Pattern) Cypher(env *Environment) string {
	var b strings.Builder
	b.WriteString(p.start.pattern(env))
	for _, s := range p.steps {
		rel := s.rel.pattern(env)
		switch s.dir {
		case Incoming:
			b.WriteString("<-" + rel + "-")
		case Undirected:
			b.WriteString("-" + rel + "-")
		default:
			b.WriteString("-" + rel + "->")
		}
		b.WriteString(s.to.pattern(env))
	}
	return b.String()
}

func renderProperties(env *Environment, props map[string]Expr) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = escapeName(k) + ": " + props[k].Cypher(env)
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}
