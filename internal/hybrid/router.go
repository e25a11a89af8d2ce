// Package hybrid routes each operation to the remote API, the local store,
// or both, according to the resolved hybrid mode, and reconciles divergence
// under bidirectional sync.
package hybrid

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/kilupskalvis/restsync/internal/cache"
	"github.com/kilupskalvis/restsync/internal/events"
	"github.com/kilupskalvis/restsync/internal/hydrate"
	"github.com/kilupskalvis/restsync/internal/models"
	"github.com/kilupskalvis/restsync/internal/query"
	"github.com/kilupskalvis/restsync/internal/remote"
	"github.com/kilupskalvis/restsync/internal/store"
)

// RemoteAPI is the remote-executor contract the router depends on. It
// enables mocking the remote side in tests.
type RemoteAPI interface {
	Fetch(ctx context.Context, resource string, params url.Values, timeout time.Duration) (any, error)
	FetchOne(ctx context.Context, resource, id string, timeout time.Duration) (any, error)
	Create(ctx context.Context, resource string, attrs map[string]any, timeout time.Duration) (any, error)
	Update(ctx context.Context, resource, id string, attrs map[string]any, timeout time.Duration) (any, error)
	Delete(ctx context.Context, resource, id string, timeout time.Duration) error
}

// Verify that *remote.Executor satisfies the contract at compile time.
var _ RemoteAPI = (*remote.Executor)(nil)

var errNoLocalStore = errors.New("hybrid mode requires a local store, but none is configured")

// TypeSettings are the per-entity-type overrides consulted after a per-call
// override and before the global defaults.
type TypeSettings struct {
	Mode models.Mode
	TTL  time.Duration
	// RelatedTags are extra cache tags attached to this type's entries so
	// related writes invalidate them.
	RelatedTags []string
}

// Config is the explicit configuration object the router is constructed
// with. Nothing is read from ambient globals during execution.
type Config struct {
	DefaultMode     models.Mode
	DefaultTTL      time.Duration
	PersistFallback bool
	ContainerKeys   []string
	Serialization   query.Serialization
	Types           map[string]TypeSettings
}

// Router dispatches operations across the remote path and the local store.
type Router struct {
	cfg   Config
	api   RemoteAPI
	local store.LocalStore
	cache *cache.Cache
	rec   *Reconciler
	sink  events.Sink
	now   func() time.Time
}

// NewRouter wires a router. local may be nil when every mode in use is
// remote-only; strategy defaults to timestamp-wins.
func NewRouter(cfg Config, api RemoteAPI, local store.LocalStore, c *cache.Cache, strategy Strategy, sink events.Sink) *Router {
	if cfg.DefaultMode == models.ModeUnset {
		cfg.DefaultMode = models.ModeRemoteOnly
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if strategy == nil {
		strategy = TimestampWins{}
	}
	r := &Router{
		cfg:   cfg,
		api:   api,
		local: local,
		cache: c,
		sink:  sink,
		now:   time.Now,
	}
	r.rec = &Reconciler{strategy: strategy, api: api, local: local, sink: sink}
	return r
}

// resolveMode applies the precedence order: explicit per-call override,
// per-entity-type configuration, global default.
func (r *Router) resolveMode(typ *models.EntityType, opts query.Options) models.Mode {
	if opts.Mode != models.ModeUnset {
		return opts.Mode
	}
	if ts, ok := r.cfg.Types[typ.Name]; ok && ts.Mode != models.ModeUnset {
		return ts.Mode
	}
	return r.cfg.DefaultMode
}

// ttlFor applies the same precedence to the cache time-to-live.
func (r *Router) ttlFor(typ *models.EntityType, opts query.Options) time.Duration {
	if opts.TTL > 0 {
		return opts.TTL
	}
	if ts, ok := r.cfg.Types[typ.Name]; ok && ts.TTL > 0 {
		return ts.TTL
	}
	return r.cfg.DefaultTTL
}

// tagsFor returns the invalidation tags cached entries of a type carry.
func (r *Router) tagsFor(typ *models.EntityType, extra ...string) []string {
	tags := append([]string{cache.TypeTag(typ.Name)}, extra...)
	if ts, ok := r.cfg.Types[typ.Name]; ok {
		tags = append(tags, ts.RelatedTags...)
	}
	return tags
}

// invalidate drops every cached entry touching the written identity.
func (r *Router) invalidate(typ *models.EntityType, id string) {
	if r.cache == nil {
		return
	}
	r.cache.Invalidate(cache.TypeTag(typ.Name))
	if id != "" {
		r.cache.Invalidate(cache.EntityTag(typ.Name, id))
	}
	if ts, ok := r.cfg.Types[typ.Name]; ok {
		for _, tag := range ts.RelatedTags {
			r.cache.Invalidate(tag)
		}
	}
}

// observe wraps an operation with sink notifications.
func (r *Router) observe(ctx context.Context, op string, typ *models.EntityType, fn func() error) error {
	r.sink.OperationStarted(ctx, op, typ.Name)
	start := r.now()
	err := fn()
	if err != nil {
		r.sink.OperationFailed(ctx, op, typ.Name, err)
		return err
	}
	r.sink.OperationCompleted(ctx, op, typ.Name, r.now().Sub(start))
	return nil
}

// recordToRaw folds the store's last-modified stamp into the raw attributes
// when the entity's own modified field is absent, so hydrated local records
// always carry a usable timestamp.
func recordToRaw(typ *models.EntityType, rec *store.Record) map[string]any {
	raw := make(map[string]any, len(rec.Attributes)+1)
	for k, v := range rec.Attributes {
		raw[k] = v
	}
	if _, ok := raw[typ.ModifiedField()]; !ok && !rec.LastModified.IsZero() {
		raw[typ.ModifiedField()] = rec.LastModified.UTC().Format(time.RFC3339Nano)
	}
	return raw
}

// hydrateRecords hydrates local store records, dropping rows that fail
// coercion, mirroring the list behavior of the remote path.
func hydrateRecords(typ *models.EntityType, recs []*store.Record) []*models.Entity {
	raws := make([]map[string]any, len(recs))
	for i, rec := range recs {
		raws[i] = recordToRaw(typ, rec)
	}
	entities, _ := hydrate.HydrateList(typ, raws)
	return entities
}
