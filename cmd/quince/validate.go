package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pthm/quince/internal/cli"
	"github.com/pthm/quince/pkg/parser"
)

var validateSchema string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate type definitions",
	Long:  `Load the type definitions, compile the schema model and report its entities and root fields.`,
	Example: `  # Validate a specific schema file
  quince validate --schema schema.graphql

  # Validate using config file settings
  quince validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(validateSchema, cfg.Schema)

		if _, err := os.Stat(schemaPath); err != nil {
			return cli.SchemaParseError(fmt.Sprintf("schema not found: %s", schemaPath), nil)
		}

		model, err := parser.ParseSchema(schemaPath)
		if err != nil {
			return cli.SchemaParseError("parsing schema", err)
		}

		if quiet {
			return nil
		}
		fmt.Printf("Schema is valid. Found %d entities, %d composites, %d relationship property types:\n",
			len(model.Entities), len(model.Composites), len(model.Edges))
		for _, e := range model.Entities {
			fmt.Printf("  - %s (%d attributes, %d relationships)\n", e.Name, len(e.Attributes), len(e.Relationships))
		}
		for _, c := range model.Composites {
			members := make([]string, 0, len(c.Members))
			for _, m := range c.Members {
				members = append(members, m.Name)
			}
			sort.Strings(members)
			fmt.Printf("  - %s %v\n", c.Name, members)
		}
		if verbose > 0 {
			fmt.Println()
			fmt.Println("Root fields:")
			for _, name := range model.RootNames() {
				root, _ := model.Root(name)
				fmt.Printf("  - %s (%s %s)\n", name, root.Kind, root.Entity.Name)
			}
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateSchema, "schema", "", "path to the SDL type definitions")
}
