// Package quince compiles GraphQL requests into parameterized Cypher for
// Neo4j, enforcing the authorization rules declared in the type definitions.
//
// # Module Structure
//
// The root package is the runtime entry point. The remaining packages are
// usable on their own:
//
//   - schema: the compiled schema model and its annotations.
//   - pkg/parser: SDL with quince directives into a schema.Model.
//   - pkg/selection: per-request selection trees, built by hand or parsed
//     from a GraphQL operation.
//   - pkg/authn: bearer token decoding and verification.
//   - pkg/compiler: the pure compile step, for callers that already hold a
//     claim set.
//
// # Core Concepts
//
// A request is one root field ("movies", "createMovies", ...) with its
// arguments and selection. Translation never touches the database: it
// returns a Cypher string and a parameter map, and the caller runs them.
// Every value taken from the request or the claims is bound as a parameter
// and never spliced into the query text.
//
// Authorization rules are compiled into the statement. Filter rules narrow
// what is matched; validate rules become guards that abort the statement in
// the database with ForbiddenMessage when they do not hold. Rules that can be
// decided from the claims alone are folded at translation time, so a request
// that can never pass fails with ErrForbidden before any query is produced.
//
// # Basic Usage
//
//	model, err := parser.ParseSchema("schema.graphql")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	decoder, _ := authn.NewDecoder(authn.WithSecret(secret))
//	tr, err := quince.NewTranslator(model, quince.WithDecoder(decoder))
//
//	results, err := tr.TranslateOperation(ctx, authn.RequestContext{Token: token}, quince.Operation{
//	    Query: `{ movies(where: {title: "Alien"}) { title } }`,
//	})
//	for _, res := range results {
//	    rows, err := session.Run(ctx, res.Cypher, res.Params)
//	    ...
//	}
//
// # Schema Reloads
//
// The model is held behind an atomic pointer. Reload swaps it without
// blocking translations in flight; each request uses the model that was
// current when it started.
//
// # Decision Overrides
//
// Use WithDecision for admin tooling or tests:
//
//	tr, _ := quince.NewTranslator(model, quince.WithDecision(quince.DecisionAllow))
//
// DecisionAllow compiles statements without any authorization rule;
// DecisionDeny rejects every request with ErrForbidden.
package quince

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pthm/quince/internal/authz"
	"github.com/pthm/quince/internal/metrics"
	"github.com/pthm/quince/internal/projection"
	"github.com/pthm/quince/internal/translate"
	"github.com/pthm/quince/pkg/authn"
	"github.com/pthm/quince/pkg/selection"
	"github.com/pthm/quince/schema"
)

// ForbiddenMessage is the error text raised in the database by a failed
// guard. Runners match it to report ErrForbidden.
const ForbiddenMessage = authz.ForbiddenMessage

// Result is one compiled root field.
type Result struct {
	// Key is the response key of the root field: its alias, or its name.
	Key string

	Cypher string
	Params map[string]any

	// Column names the returned column holding the response. It is empty
	// for statements that return nothing (deletes).
	Column string

	// Kind is the operation the root field resolved to.
	Kind schema.RootKind

	Deferred Deferred

	// Session carries the session settings of the request for the runner.
	Session authn.Session
}

// Deferred lists fields of the selection that were compiled outside the
// projection, or whose concrete type the caller may need to resolve.
type Deferred struct {
	ConnectionFields []DeferredField
	InterfaceFields  []DeferredField
}

// DeferredField is a field at Path in the response.
type DeferredField struct {
	Path  []string
	Field *selection.Field
}

// Operation is a GraphQL operation to translate.
type Operation struct {
	Query         string
	OperationName string
	Variables     map[string]any
}

// Translator compiles requests against a schema model. It is safe for
// concurrent use.
type Translator struct {
	store              *schema.Store
	decoder            *authn.Decoder
	decision           Decision
	useContextDecision bool
	logger             *slog.Logger
	registerer         prometheus.Registerer
	namespace          string
	metrics            *metrics.Metrics
}

// Option configures a Translator.
type Option func(*Translator)

// WithDecoder sets the decoder used for bearer tokens. Without it every
// bearer token is rejected with ErrUnauthenticated; claims can then only be
// passed through RequestContext.Passthrough.
func WithDecoder(d *authn.Decoder) Option {
	return func(t *Translator) {
		t.decoder = d
	}
}

// WithLogger sets the logger. Translations are logged at Debug, decode
// failures at Warn. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) {
		t.logger = l
	}
}

// WithDecision sets a decision override that bypasses authorization rules.
// Use DecisionAllow for admin tools or testing authorized paths.
// Use DecisionDeny for testing unauthorized paths.
func WithDecision(d Decision) Option {
	return func(t *Translator) {
		t.decision = d
	}
}

// WithContextDecision enables context-based decision overrides. When
// enabled, a decision set with WithDecisionContext takes precedence over
// the one given to WithDecision.
func WithContextDecision() Option {
	return func(t *Translator) {
		t.useContextDecision = true
	}
}

// WithMetrics registers translation metrics with reg under namespace
// ("quince" when empty).
func WithMetrics(reg prometheus.Registerer, namespace string) Option {
	return func(t *Translator) {
		t.registerer = reg
		t.namespace = namespace
	}
}

// NewTranslator returns a Translator for model.
func NewTranslator(model *schema.Model, opts ...Option) (*Translator, error) {
	if model == nil {
		return nil, errors.New("quince: nil schema model")
	}
	t := &Translator{decision: DecisionUnset}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if t.decoder == nil {
		d, err := authn.NewDecoder()
		if err != nil {
			return nil, err
		}
		t.decoder = d
	}
	m, err := metrics.New(t.registerer, t.namespace)
	if err != nil {
		return nil, err
	}
	t.metrics = m
	t.store = schema.NewStore(model)
	t.loaded(model)
	return t, nil
}

// Model returns the current schema model.
func (t *Translator) Model() *schema.Model {
	return t.store.Load()
}

// Reload swaps in a new schema model. Requests already translating keep
// the model they started with.
func (t *Translator) Reload(model *schema.Model) error {
	if model == nil {
		return errors.New("quince: nil schema model")
	}
	t.store.Swap(model)
	t.loaded(model)
	return nil
}

func (t *Translator) loaded(model *schema.Model) {
	t.metrics.ObserveReload(len(model.Entities))
	t.logger.Info("schema loaded",
		"entities", len(model.Entities),
		"composites", len(model.Composites),
		"edges", len(model.Edges),
	)
}

// Translate compiles one root field. The claims of rc are decoded first;
// that is the only step that honours ctx.
func (t *Translator) Translate(ctx context.Context, rc authn.RequestContext, field *selection.Field) (*Result, error) {
	if field == nil {
		return nil, errors.New("quince: nil root field")
	}
	results, err := t.translate(ctx, rc, []*selection.Field{field})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// TranslateOperation parses op and compiles each of its root fields. The
// claims are decoded once for the whole operation.
func (t *Translator) TranslateOperation(ctx context.Context, rc authn.RequestContext, op Operation) ([]*Result, error) {
	parsed, err := selection.Parse(op.Query, op.OperationName, op.Variables)
	if err != nil {
		return nil, err
	}
	return t.translate(ctx, rc, parsed.Fields)
}

// AuthorizeEvent reports whether a subscription event on a node of
// typeName, carrying props, may be delivered to the caller of rc. The
// entity's subscriptions filter rules are evaluated in memory.
func (t *Translator) AuthorizeEvent(ctx context.Context, rc authn.RequestContext, typeName string, event schema.Event, props map[string]any) (bool, error) {
	log := t.logger.With("request_id", uuid.NewString())
	claims, err := t.decoder.Decode(ctx, rc)
	if err != nil {
		log.Warn("decoding credentials failed", "mode", t.decoder.Mode().String(), "error", err)
		return false, err
	}
	model := t.store.Load()
	entity, ok := model.Entity(typeName)
	if !ok {
		return false, fmt.Errorf("%w: type %s", ErrUnknownField, typeName)
	}
	ev := t.evaluator(ctx, model, claims)
	if err := ev.Authenticate(model.Annotations, schema.OperationSubscribe); err != nil {
		return false, err
	}
	if err := ev.Authenticate(entity.Annotations, schema.OperationSubscribe); err != nil {
		return false, err
	}
	ok = ev.MatchEvent(entity.Annotations, event, props)
	log.Debug("event authorized", "type", typeName, "event", string(event), "delivered", ok)
	return ok, nil
}

func (t *Translator) evaluator(ctx context.Context, model *schema.Model, claims authn.Claims) *authz.Evaluator {
	decision := t.decision
	if t.useContextDecision {
		if d := GetDecisionContext(ctx); d != DecisionUnset {
			decision = d
		}
	}
	return &authz.Evaluator{Model: model, Claims: claims, Decision: decision}
}

func (t *Translator) translate(ctx context.Context, rc authn.RequestContext, fields []*selection.Field) ([]*Result, error) {
	start := time.Now()
	requestID := uuid.NewString()
	log := t.logger.With("request_id", requestID)

	claims, err := t.decoder.Decode(ctx, rc)
	if err != nil {
		log.Warn("decoding credentials failed", "mode", t.decoder.Mode().String(), "error", err)
		t.metrics.ObserveTranslation("", outcome(err), time.Since(start))
		return nil, err
	}

	model := t.store.Load()
	ev := t.evaluator(ctx, model, claims)

	results := make([]*Result, 0, len(fields))
	for _, f := range fields {
		fieldStart := time.Now()
		res, err := translate.Translate(translate.Request{Model: model, Evaluator: ev, Field: f})
		kind := ""
		if err == nil {
			kind = res.Kind.String()
		} else if root, ok := model.Root(f.Name); ok {
			kind = root.Kind.String()
		}
		t.metrics.ObserveTranslation(kind, outcome(err), time.Since(fieldStart))
		if err != nil {
			log.Debug("translation failed", "field", f.Name, "error", err)
			return nil, err
		}
		log.Debug("translated",
			"field", f.Name,
			"kind", kind,
			"params", len(res.Params),
			"authenticated", claims.Authenticated(),
		)
		results = append(results, &Result{
			Key:      f.Key(),
			Cypher:   res.Cypher,
			Params:   res.Params,
			Column:   res.Column,
			Kind:     res.Kind,
			Deferred: deferred(res.Deferred),
			Session:  rc.Session,
		})
	}
	return results, nil
}

func deferred(m projection.Meta) Deferred {
	var d Deferred
	for _, f := range m.ConnectionFields {
		d.ConnectionFields = append(d.ConnectionFields, DeferredField{Path: f.Path, Field: f.Field})
	}
	for _, f := range m.InterfaceFields {
		d.InterfaceFields = append(d.InterfaceFields, DeferredField{Path: f.Path, Field: f.Field})
	}
	return d
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case IsUnauthenticatedErr(err):
		return metrics.OutcomeUnauthenticated
	case IsForbiddenErr(err):
		return metrics.OutcomeForbidden
	case IsCompositionErr(err), IsInvalidSchemaErr(err):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}
