package query

import (
	"context"
	"fmt"
	"time"

	"github.com/kilupskalvis/restsync/internal/models"
)

// ValidationError reports malformed builder input, detected at the offending
// call. It is never retried and surfaces before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid query: " + e.Reason
	}
	return fmt.Sprintf("invalid query on %q: %s", e.Field, e.Reason)
}

// NotFoundError reports a zero-result single-entity fetch.
type NotFoundError struct {
	EntityType string
	ID         string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %q not found", e.EntityType, e.ID)
	}
	return fmt.Sprintf("no %s matched the query", e.EntityType)
}

// Runner executes frozen descriptors. The hybrid router is the production
// implementation.
type Runner interface {
	RunQuery(ctx context.Context, typ *models.EntityType, d *Descriptor, opts Options) ([]*models.Entity, error)
	RunPage(ctx context.Context, typ *models.EntityType, d *Descriptor, opts Options) (*Page, error)
	RunAggregate(ctx context.Context, typ *models.EntityType, d *Descriptor, opts Options) (float64, error)
}

// NamedFilter is a registrable scope: a function applied to the builder by
// name, replacing ad-hoc dynamic method dispatch with an explicit registry.
type NamedFilter func(b *Builder, args ...any) *Builder

// Builder accumulates filter, sort, pagination, selection, and aggregate
// intent for one entity type. Every building method mutates and returns the
// same instance; terminal methods execute through the Runner.
type Builder struct {
	typ    *models.EntityType
	runner Runner
	scopes map[string]NamedFilter
	desc   Descriptor
	opts   Options
	err    error
}

// New creates a builder bound to one entity type and runner.
func New(typ *models.EntityType, runner Runner, scopes map[string]NamedFilter) *Builder {
	return &Builder{
		typ:    typ,
		runner: runner,
		scopes: scopes,
		desc:   Descriptor{TypeName: typ.Name},
	}
}

// Invalid returns a builder whose terminals fail with a validation error,
// for callers that looked up an unregistered entity type.
func Invalid(typeName string) *Builder {
	return &Builder{
		desc: Descriptor{TypeName: typeName},
		err:  &ValidationError{Reason: fmt.Sprintf("entity type %q not registered", typeName)},
	}
}

// fail records the first validation error; later calls keep it.
func (b *Builder) fail(field, reason string) *Builder {
	if b.err == nil {
		b.err = &ValidationError{Field: field, Reason: reason}
	}
	return b
}

// Where adds an equality filter.
func (b *Builder) Where(field string, value any) *Builder {
	return b.WhereOp(field, OpEq, value)
}

// WhereOp adds a filter with an explicit operator.
func (b *Builder) WhereOp(field string, op Op, value any) *Builder {
	if field == "" {
		return b.fail(field, "filter field must not be empty")
	}
	if !validOps[op] {
		return b.fail(field, fmt.Sprintf("unsupported operator %q", op))
	}
	b.desc.Filters = append(b.desc.Filters, Filter{Field: field, Op: op, Value: value})
	return b
}

// WhereIn adds a membership filter.
func (b *Builder) WhereIn(field string, values ...any) *Builder {
	if len(values) == 0 {
		return b.fail(field, "membership filter needs at least one value")
	}
	return b.WhereOp(field, OpIn, values)
}

// WhereNotIn adds a negated membership filter.
func (b *Builder) WhereNotIn(field string, values ...any) *Builder {
	if len(values) == 0 {
		return b.fail(field, "membership filter needs at least one value")
	}
	return b.WhereOp(field, OpNotIn, values)
}

// WhereNull filters for records where the field is null.
func (b *Builder) WhereNull(field string) *Builder {
	return b.WhereOp(field, OpNull, nil)
}

// WhereNotNull filters for records where the field is set.
func (b *Builder) WhereNotNull(field string) *Builder {
	return b.WhereOp(field, OpNotNull, nil)
}

// WhereContains adds a pattern/contains filter.
func (b *Builder) WhereContains(field string, value string) *Builder {
	return b.WhereOp(field, OpContains, value)
}

// GroupBuilder accumulates the OR-combined filters of one grouped
// sub-expression.
type GroupBuilder struct {
	group *Group
	err   error
}

// Or adds an equality alternative to the group.
func (g *GroupBuilder) Or(field string, value any) *GroupBuilder {
	return g.OrOp(field, OpEq, value)
}

// OrOp adds an alternative with an explicit operator.
func (g *GroupBuilder) OrOp(field string, op Op, value any) *GroupBuilder {
	if field == "" && g.err == nil {
		g.err = &ValidationError{Reason: "grouped filter field must not be empty"}
		return g
	}
	if !validOps[op] && g.err == nil {
		g.err = &ValidationError{Field: field, Reason: fmt.Sprintf("unsupported operator %q", op)}
		return g
	}
	g.group.Filters = append(g.group.Filters, Filter{Field: field, Op: op, Value: value})
	return g
}

// WhereAny adds a grouped sub-expression: the group's filters are OR-ed with
// each other and AND-ed against the rest of the query.
func (b *Builder) WhereAny(fn func(g *GroupBuilder)) *Builder {
	group := Group{}
	gb := &GroupBuilder{group: &group}
	fn(gb)
	if gb.err != nil {
		if b.err == nil {
			b.err = gb.err
		}
		return b
	}
	if len(group.Filters) == 0 {
		return b.fail("", "grouped condition must contain at least one filter")
	}
	b.desc.Groups = append(b.desc.Groups, group)
	return b
}

// OrderBy adds a sort key. The first registered key is the primary sort.
func (b *Builder) OrderBy(field string, desc bool) *Builder {
	if field == "" {
		return b.fail(field, "sort field must not be empty")
	}
	b.desc.Sorts = append(b.desc.Sorts, Sort{Field: field, Desc: desc})
	return b
}

// Limit caps the number of returned records.
func (b *Builder) Limit(n int) *Builder {
	if n < 0 {
		return b.fail("", "limit must not be negative")
	}
	b.desc.Limit = &n
	return b
}

// Offset skips the first n records.
func (b *Builder) Offset(n int) *Builder {
	if n < 0 {
		return b.fail("", "offset must not be negative")
	}
	b.desc.Offset = &n
	return b
}

// Select restricts the fields requested from the source.
func (b *Builder) Select(fields ...string) *Builder {
	if len(fields) == 0 {
		return b.fail("", "select needs at least one field")
	}
	b.desc.Fields = append(b.desc.Fields, fields...)
	return b
}

// WithParam attaches a free-form wire parameter.
func (b *Builder) WithParam(key, value string) *Builder {
	if key == "" {
		return b.fail("", "parameter key must not be empty")
	}
	if b.desc.Params == nil {
		b.desc.Params = make(map[string]string)
	}
	b.desc.Params[key] = value
	return b
}

// Scope applies a named filter registered for this entity type.
func (b *Builder) Scope(name string, args ...any) *Builder {
	f, ok := b.scopes[name]
	if !ok {
		return b.fail("", fmt.Sprintf("unknown scope %q for %s", name, b.typ.Name))
	}
	return f(b, args...)
}

// WithMode overrides the hybrid mode for this builder's terminals.
func (b *Builder) WithMode(m models.Mode) *Builder {
	b.opts.Mode = m
	return b
}

// WithTTL overrides the cache time-to-live for this builder's terminals.
func (b *Builder) WithTTL(ttl time.Duration) *Builder {
	b.opts.TTL = ttl
	return b
}

// WithTimeout bounds the remote call issued by this builder's terminals.
func (b *Builder) WithTimeout(d time.Duration) *Builder {
	b.opts.Timeout = d
	return b
}

// SkipCache bypasses the cache for this builder's terminals.
func (b *Builder) SkipCache() *Builder {
	b.opts.SkipCache = true
	return b
}

// Err exposes the first recorded validation error, for callers that want to
// check mid-chain.
func (b *Builder) Err() error { return b.err }

// Descriptor returns a frozen copy of the accumulated intent.
func (b *Builder) Descriptor() *Descriptor { return b.desc.Clone() }

// --- Terminal operations ---

// Get executes the query and returns all matching entities.
func (b *Builder) Get(ctx context.Context) ([]*models.Entity, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.runner.RunQuery(ctx, b.typ, b.desc.Clone(), b.opts)
}

// First returns the first matching entity, or NotFoundError.
func (b *Builder) First(ctx context.Context) (*models.Entity, error) {
	if b.err != nil {
		return nil, b.err
	}
	d := b.desc.Clone()
	one := 1
	d.Limit = &one
	entities, err := b.runner.RunQuery(ctx, b.typ, d, b.opts)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, &NotFoundError{EntityType: b.typ.Name}
	}
	return entities[0], nil
}

// Paginate executes the query as a page fetch.
func (b *Builder) Paginate(ctx context.Context, page, perPage int) (*Page, error) {
	if b.err != nil {
		return nil, b.err
	}
	if page < 1 {
		return nil, &ValidationError{Reason: "page must be >= 1"}
	}
	if perPage < 1 {
		return nil, &ValidationError{Reason: "per_page must be >= 1"}
	}
	d := b.desc.Clone()
	d.Page = &page
	d.PerPage = &perPage
	d.Limit = nil
	d.Offset = nil
	return b.runner.RunPage(ctx, b.typ, d, b.opts)
}

// Aggregate executes an aggregate request over a field.
func (b *Builder) Aggregate(ctx context.Context, fn AggFunc, field string) (float64, error) {
	if b.err != nil {
		return 0, b.err
	}
	switch fn {
	case AggCount:
	case AggMin, AggMax, AggSum, AggAvg:
		if field == "" {
			return 0, &ValidationError{Reason: fmt.Sprintf("aggregate %q needs a target field", fn)}
		}
	default:
		return 0, &ValidationError{Reason: fmt.Sprintf("unsupported aggregate %q", fn)}
	}
	d := b.desc.Clone()
	d.Agg = &Aggregate{Func: fn, Field: field}
	// Aggregates suppress list pagination.
	d.Limit, d.Offset, d.Page, d.PerPage = nil, nil, nil, nil
	return b.runner.RunAggregate(ctx, b.typ, d, b.opts)
}

// Count returns the number of matching records.
func (b *Builder) Count(ctx context.Context) (int64, error) {
	n, err := b.Aggregate(ctx, AggCount, "")
	return int64(n), err
}

// Exists reports whether any record matches the query.
func (b *Builder) Exists(ctx context.Context) (bool, error) {
	n, err := b.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
