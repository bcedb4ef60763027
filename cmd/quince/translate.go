package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/pthm/quince"
	"github.com/pthm/quince/internal/cli"
	"github.com/pthm/quince/pkg/authn"
	"github.com/pthm/quince/pkg/parser"
)

// requestFlags are shared by translate and execute.
type requestFlags struct {
	schema    string
	query     string
	file      string
	operation string
	variables string
	token     string
	claims    string
	roles     []string
	database  string
	output    string
	allow     bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.schema, "schema", "", "path to the SDL type definitions")
	flags.StringVar(&f.query, "query", "", "GraphQL operation text")
	flags.StringVarP(&f.file, "file", "f", "", "read the GraphQL operation from a file (- for stdin)")
	flags.StringVar(&f.operation, "operation", "", "operation name, when the document holds several")
	flags.StringVar(&f.variables, "variables", "", "operation variables as JSON or YAML")
	flags.StringVar(&f.token, "token", "", "bearer token of the request")
	flags.StringVar(&f.claims, "claims", "", "verified claims as JSON or YAML, used instead of --token")
	flags.StringSliceVar(&f.roles, "role", nil, "add a role to the claims (repeatable)")
	flags.StringVar(&f.database, "database", "", "database the statement targets")
	flags.StringVarP(&f.output, "output", "o", "", "output format: json or yaml")
	flags.BoolVar(&f.allow, "allow", false, "skip all authorization rules")
}

func (f *requestFlags) operationText() (string, error) {
	switch {
	case f.query != "" && f.file != "":
		return "", cli.ConfigError("--query and --file are mutually exclusive", nil)
	case f.query != "":
		return f.query, nil
	case f.file == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", cli.GeneralError("reading operation from stdin", err)
		}
		return string(b), nil
	case f.file != "":
		b, err := os.ReadFile(f.file) //nolint:gosec // path is from trusted source
		if err != nil {
			return "", cli.GeneralError("reading operation file", err)
		}
		return string(b), nil
	default:
		return "", cli.ConfigError("an operation is required (--query or --file)", nil)
	}
}

func (f *requestFlags) request() (quince.Operation, authn.RequestContext, error) {
	text, err := f.operationText()
	if err != nil {
		return quince.Operation{}, authn.RequestContext{}, err
	}
	op := quince.Operation{Query: text, OperationName: f.operation}
	if f.variables != "" {
		if err := yaml.Unmarshal([]byte(f.variables), &op.Variables); err != nil {
			return op, authn.RequestContext{}, cli.ConfigError("parsing --variables", err)
		}
	}

	rc := authn.RequestContext{
		Token:   f.token,
		Session: authn.Session{Database: resolveString(f.database, cfg.Database.Name)},
	}
	if f.claims != "" || len(f.roles) > 0 {
		claims := authn.Claims{}
		if f.claims != "" {
			if err := yaml.Unmarshal([]byte(f.claims), &claims); err != nil {
				return op, rc, cli.ConfigError("parsing --claims", err)
			}
		}
		if len(f.roles) > 0 {
			roles := make([]any, 0, len(f.roles))
			for _, r := range f.roles {
				roles = append(roles, r)
			}
			setClaim(claims, cfg.Auth.RoleClaim, roles)
		}
		rc.Passthrough = claims
	}
	return op, rc, nil
}

// setClaim writes v at a dotted claim path, creating objects on the way.
func setClaim(claims authn.Claims, path string, v any) {
	parts := strings.Split(path, ".")
	cur := map[string]any(claims)
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

// translator builds a quince.Translator from the configuration.
func (f *requestFlags) translator() (*quince.Translator, func(), error) {
	schemaPath := resolveString(f.schema, cfg.Schema)
	model, err := parser.ParseSchema(schemaPath)
	if err != nil {
		return nil, nil, cli.SchemaParseError("parsing schema", err)
	}

	decoderOpts, err := cfg.DecoderOptions()
	if err != nil {
		return nil, nil, cli.ConfigError("configuring authentication", err)
	}
	decoder, err := authn.NewDecoder(decoderOpts...)
	if err != nil {
		return nil, nil, cli.ConfigError("configuring authentication", err)
	}

	opts := []quince.Option{quince.WithDecoder(decoder), quince.WithLogger(logger())}
	if f.allow {
		opts = append(opts, quince.WithDecision(quince.DecisionAllow))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, quince.WithMetrics(prometheus.DefaultRegisterer, cfg.Metrics.Namespace))
	}
	tr, err := quince.NewTranslator(model, opts...)
	if err != nil {
		decoder.Close()
		return nil, nil, cli.GeneralError("creating translator", err)
	}
	return tr, decoder.Close, nil
}

// print writes v in the requested format.
func (f *requestFlags) print(v any) error {
	switch format := resolveString(f.output, cfg.Output, "json"); format {
	case "json":
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	case "yaml":
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
	default:
		return cli.ConfigError(fmt.Sprintf("unknown output format %q", format), nil)
	}
	return nil
}

type translation struct {
	Field  string         `json:"field"`
	Kind   string         `json:"kind"`
	Cypher string         `json:"cypher"`
	Params map[string]any `json:"params"`
	Column string         `json:"column,omitempty"`
}

var translateFlags requestFlags

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Compile an operation to Cypher",
	Long:  `Compile each root field of a GraphQL operation into a Cypher statement and its parameters.`,
	Example: `  # Translate a query for an authenticated user
  quince translate --query '{ movies { title } }' --claims '{sub: user1}'

  # Translate a mutation from a file, with variables
  quince translate -f create.graphql --variables '{"title": "Alien"}' --token "$TOKEN"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		op, rc, err := translateFlags.request()
		if err != nil {
			return err
		}
		tr, closeDecoder, err := translateFlags.translator()
		if err != nil {
			return err
		}
		defer closeDecoder()

		results, err := tr.TranslateOperation(cmd.Context(), rc, op)
		if err != nil {
			return cli.TranslateError("translating operation", err)
		}

		out := make([]translation, 0, len(results))
		for _, res := range results {
			out = append(out, translation{
				Field:  res.Key,
				Kind:   res.Kind.String(),
				Cypher: res.Cypher,
				Params: res.Params,
				Column: res.Column,
			})
		}
		return translateFlags.print(out)
	},
}

func init() {
	translateFlags.register(translateCmd)
}
