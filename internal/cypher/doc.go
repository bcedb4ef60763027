// Package cypher provides a typed AST for building parameterized Cypher queries.
//
// # Overview
//
// Rather than concatenating query text, callers compose clause and expression
// values and hand the root clause to Build. Rendering happens against an
// Environment that owns every generated name: parameters are named param0,
// param1, ... and anonymous variables this0, this1, ... in the order the
// renderer first meets them. Names are bound to the identity of the AST value
// (its pointer), never to its contents, so two Params holding equal values get
// different placeholders while one Param referenced twice gets one.
//
// # Core Interfaces
//
//   - Expr: inline expressions (properties, operators, function calls, maps)
//   - Clause: statement parts that render as one or more lines (MATCH, CALL, ...)
//
// Both render through a Cypher(env) method.
//
// # Expression Types
//
// Basic expressions:
//
//	NewParam("alice")                 // $param0, value carried in the param map
//	NamedNode("this", "User")         // (this:User) in a pattern, this elsewhere
//	node.Property("id")               // this.id
//	Lit(true), Null                   // compiler-owned constants only
//	Func{Name: "size", Args: ...}     // size(...)
//
// Operators:
//
//	Eq{Left: a, Right: b}             // a = b
//	In{Left: a, Right: list}          // a IN list
//	And(a, b, c)                      // a AND b AND c
//	Or(a, And(b, c))                  // a OR (b AND c)
//	Not(a)                            // NOT (a)
//	Plus(a, b), Minus{Left, Right}    // a + b, a - b
//
// # Clause Types
//
//	NewMatch(pattern).Where(pred)
//	Create{Pattern: p, Set: items}
//	Merge{Pattern: p, OnCreate: items, OnMatch: items}
//	Call{Import: vars, Inner: query}  // CALL { ... } with a counting RETURN when needed
//	With{...}, Return{...}, Unwind{...}
//	FullTextQueryNodes{...}           // db.index.fulltext.queryNodes with a score variable
//
// # Rendering
//
// Build is pure: it allocates a fresh Environment, renders, and returns the
// text with the parameter map. Calling it twice on the same AST yields the same
// output and leaves the AST untouched. Values never appear in the text; the only
// inline constants are labels, property keys and the Lit values the compiler
// itself produces.
package cypher
