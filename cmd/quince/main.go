// Package main provides the quince CLI.
//
// The CLI supports:
//   - validate: Load type definitions and report the compiled schema
//   - translate: Compile a GraphQL operation to Cypher and parameters
//   - execute: Translate an operation and run it against Neo4j
//   - config show: Print the effective configuration
//   - version: Print version information
//
// Usage:
//
//	quince [flags] <command>
//
// Only execute needs database access.
package main

func main() {
	Execute()
}
