package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pthm/quince/internal/cli"
	"github.com/pthm/quince/internal/database"
	"github.com/pthm/quince/internal/metrics"
)

var executeFlags requestFlags

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Translate an operation and run it against Neo4j",
	Long: `Translate each root field of a GraphQL operation and run the statements
against the configured Neo4j database. The response is printed keyed by the
response key of each root field.`,
	Example: `  # Run a query
  quince execute --query '{ movies { title } }' --token "$TOKEN"

  # Run against a specific database
  quince execute -f query.graphql --database movies -o yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		op, rc, err := executeFlags.request()
		if err != nil {
			return err
		}
		tr, closeDecoder, err := executeFlags.translator()
		if err != nil {
			return err
		}
		defer closeDecoder()

		ctx := cmd.Context()
		results, err := tr.TranslateOperation(ctx, rc, op)
		if err != nil {
			return cli.TranslateError("translating operation", err)
		}

		dbCfg, err := cfg.Neo4j()
		if err != nil {
			return cli.ConfigError("configuring database", err)
		}
		svc, err := database.Connect(ctx, dbCfg)
		if err != nil {
			return cli.DBConnectError("connecting to database", err)
		}
		defer func() { _ = svc.Close(context.Background()) }()

		opts := []database.RunnerOption{database.WithLogger(logger())}
		if cfg.Metrics.Enabled {
			m, err := metrics.New(prometheus.DefaultRegisterer, cfg.Metrics.Namespace)
			if err != nil {
				return cli.GeneralError("registering metrics", err)
			}
			opts = append(opts, database.WithMetrics(m))
		}
		runner := database.NewRunner(svc, opts...)

		response := make(map[string]any, len(results))
		for _, res := range results {
			v, err := runner.Run(ctx, res)
			if err != nil {
				return cli.TranslateError("executing "+res.Key, err)
			}
			response[res.Key] = v
		}
		return executeFlags.print(map[string]any{"data": response})
	},
}

func init() {
	executeFlags.register(executeCmd)
}
