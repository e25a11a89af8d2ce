// Package restsync queries, creates, updates and deletes entities that live
// behind a remote HTTP API with a declarative query builder, layering a
// tagged TTL cache and an optional local persisted copy on top. Per entity
// type (or per call) a hybrid mode decides whether operations consult the
// local store, the remote API, or both, with timestamp-based conflict
// resolution when both sides are written.
package restsync

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/restsync/internal/cache"
	"github.com/kilupskalvis/restsync/internal/config"
	"github.com/kilupskalvis/restsync/internal/events"
	"github.com/kilupskalvis/restsync/internal/hybrid"
	"github.com/kilupskalvis/restsync/internal/models"
	"github.com/kilupskalvis/restsync/internal/query"
	"github.com/kilupskalvis/restsync/internal/remote"
	"github.com/kilupskalvis/restsync/internal/store"
)

// Re-exported names so callers work with one import.
type (
	Config     = config.Config
	Entity     = models.Entity
	EntityType = models.EntityType
	FieldType  = models.FieldType
	Mode       = models.Mode
	Definition = models.Definition
	Builder    = query.Builder
	Options    = query.Options
	Page       = query.Page
)

const (
	TypeString = models.TypeString
	TypeInt    = models.TypeInt
	TypeFloat  = models.TypeFloat
	TypeBool   = models.TypeBool
	TypeTime   = models.TypeTime
	TypeNested = models.TypeNested

	ModeRemoteOnly    = models.ModeRemoteOnly
	ModeLocalOnly     = models.ModeLocalOnly
	ModeLocalFirst    = models.ModeLocalFirst
	ModeRemoteFirst   = models.ModeRemoteFirst
	ModeBidirectional = models.ModeBidirectional
)

// LoadConfig reads a TOML configuration file with the environment overlay.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return config.Default()
}

// Engine is the entry point: a registry of entity types bound to a hybrid
// router, cache, remote executor, and optional local store.
type Engine struct {
	cfg       *config.Config
	types     map[string]*models.EntityType
	scopes    map[string]map[string]query.NamedFilter
	settings  map[string]hybrid.TypeSettings
	router    *hybrid.Router
	cache     *cache.Cache
	local     store.LocalStore
	ownsStore bool
}

type engineOptions struct {
	transport remote.Transport
	api       hybrid.RemoteAPI
	local     store.LocalStore
	sink      events.Sink
	strategy  hybrid.Strategy
}

// Option customizes engine construction, mainly for tests and embedders.
type Option func(*engineOptions)

// WithTransport substitutes the HTTP transport collaborator.
func WithTransport(t remote.Transport) Option {
	return func(o *engineOptions) { o.transport = t }
}

// WithRemoteAPI substitutes the whole remote executor.
func WithRemoteAPI(api hybrid.RemoteAPI) Option {
	return func(o *engineOptions) { o.api = api }
}

// WithLocalStore substitutes the local store collaborator.
func WithLocalStore(s store.LocalStore) Option {
	return func(o *engineOptions) { o.local = s }
}

// WithSink substitutes the operation event sink.
func WithSink(s events.Sink) Option {
	return func(o *engineOptions) { o.sink = s }
}

// WithStrategy substitutes the conflict-resolution strategy.
func WithStrategy(s hybrid.Strategy) Option {
	return func(o *engineOptions) { o.strategy = s }
}

// New constructs an engine from an explicit configuration object.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	mode, err := models.ParseMode(valueOr(cfg.Mode, "remote_only"))
	if err != nil {
		return nil, err
	}
	pagination, err := query.ParsePaginationStyle(cfg.PaginationStyle)
	if err != nil {
		return nil, err
	}
	arrayStyle, err := query.ParseArrayStyle(cfg.ArrayStyle)
	if err != nil {
		return nil, err
	}
	strategy := o.strategy
	if strategy == nil {
		strategy, err = hybrid.ParseStrategy(cfg.ConflictStrategy)
		if err != nil {
			return nil, err
		}
	}

	timeout := config.Duration(cfg.Timeout, 0)
	api := o.api
	if api == nil {
		transport := o.transport
		if transport == nil {
			if cfg.BaseURL == "" {
				return nil, fmt.Errorf("config: base_url is required without a custom transport")
			}
			transport = remote.NewHTTPTransport(cfg.BaseURL)
		}
		var auth remote.Auth
		if cfg.Token != "" {
			auth = remote.BearerAuth{Token: cfg.Token}
		}
		api = remote.NewExecutor(transport, auth, &remote.RetryConfig{
			MaxRetries:     cfg.Retry.MaxRetries,
			InitialBackoff: config.Duration(cfg.Retry.InitialBackoff, 0),
			MaxBackoff:     config.Duration(cfg.Retry.MaxBackoff, 0),
			JitterFraction: cfg.Retry.JitterFraction,
		}, timeout)
	}

	local := o.local
	ownsStore := false
	if local == nil && cfg.StorePath != "" {
		sq, err := store.Open(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		local = sq
		ownsStore = true
	}

	serialization := query.Serialization{
		Pagination:   pagination,
		DefaultArray: arrayStyle,
		FieldArrays:  make(map[string]query.ArrayStyle),
	}
	settings := make(map[string]hybrid.TypeSettings)
	for typeName, tc := range cfg.Types {
		ts := hybrid.TypeSettings{
			TTL:         config.Duration(tc.CacheTTL, 0),
			RelatedTags: tc.RelatedTags,
		}
		if tc.Mode != "" {
			m, err := models.ParseMode(tc.Mode)
			if err != nil {
				return nil, fmt.Errorf("type %q: %w", typeName, err)
			}
			ts.Mode = m
		}
		settings[typeName] = ts
		for field, style := range tc.ArrayStyle {
			st, err := query.ParseArrayStyle(style)
			if err != nil {
				return nil, fmt.Errorf("type %q field %q: %w", typeName, field, err)
			}
			serialization.FieldArrays[query.FieldKey(typeName, field)] = st
		}
	}

	c := cache.New(config.Duration(cfg.CacheTTL, 0))
	sink := o.sink
	if sink == nil {
		sink = events.NopSink{}
	}

	router := hybrid.NewRouter(hybrid.Config{
		DefaultMode:     mode,
		DefaultTTL:      config.Duration(cfg.CacheTTL, 0),
		PersistFallback: cfg.PersistFallback,
		ContainerKeys:   cfg.ContainerKeys,
		Serialization:   serialization,
		Types:           settings,
	}, api, local, c, strategy, sink)

	return &Engine{
		cfg:       cfg,
		types:     make(map[string]*models.EntityType),
		scopes:    make(map[string]map[string]query.NamedFilter),
		settings:  settings,
		router:    router,
		cache:     c,
		local:     local,
		ownsStore: ownsStore,
	}, nil
}

// Register adds an entity type definition. Capability interfaces
// (Cacheable, Hybridizable, Relatable) implemented by the definition supply
// defaults; explicit configuration for the same type wins over them.
func (e *Engine) Register(def models.Definition) error {
	typ := def.EntityType()
	if typ == nil || typ.Name == "" {
		return fmt.Errorf("entity type definition must carry a name")
	}
	if _, exists := e.types[typ.Name]; exists {
		return fmt.Errorf("entity type %q already registered", typ.Name)
	}
	e.types[typ.Name] = typ

	ts := e.settings[typ.Name]
	if h, ok := def.(models.Hybridizable); ok && ts.Mode == models.ModeUnset {
		ts.Mode = h.HybridMode()
	}
	if c, ok := def.(models.Cacheable); ok && ts.TTL == 0 {
		ts.TTL = c.CacheTTL()
	}
	if rel, ok := def.(models.Relatable); ok && len(ts.RelatedTags) == 0 {
		ts.RelatedTags = rel.RelatedTags()
	}
	// The router reads from the same settings map.
	e.settings[typ.Name] = ts
	return nil
}

// RegisterScope registers a named filter for an entity type, applied by
// Builder.Scope.
func (e *Engine) RegisterScope(typeName, name string, f query.NamedFilter) error {
	if _, ok := e.types[typeName]; !ok {
		return fmt.Errorf("entity type %q not registered", typeName)
	}
	if e.scopes[typeName] == nil {
		e.scopes[typeName] = make(map[string]query.NamedFilter)
	}
	e.scopes[typeName][name] = f
	return nil
}

// Query starts a builder for an entity type.
func (e *Engine) Query(typeName string) *query.Builder {
	typ, ok := e.types[typeName]
	if !ok {
		return query.Invalid(typeName)
	}
	return query.New(typ, e.router, e.scopes[typeName])
}

// NewEntity constructs an empty, unsaved entity.
func (e *Engine) NewEntity(typeName string) (*models.Entity, error) {
	typ, ok := e.types[typeName]
	if !ok {
		return nil, fmt.Errorf("entity type %q not registered", typeName)
	}
	return models.New(typ), nil
}

// Find fetches a single entity by identity through the hybrid router.
func (e *Engine) Find(ctx context.Context, typeName, id string, opts ...query.Options) (*models.Entity, error) {
	typ, ok := e.types[typeName]
	if !ok {
		return nil, fmt.Errorf("entity type %q not registered", typeName)
	}
	return e.router.Find(ctx, typ, id, firstOption(opts))
}

// Save persists an entity (create or update per its exists flag).
func (e *Engine) Save(ctx context.Context, ent *models.Entity, opts ...query.Options) error {
	return e.router.Save(ctx, ent, firstOption(opts))
}

// Delete removes an entity and detaches it from its identity.
func (e *Engine) Delete(ctx context.Context, ent *models.Entity, opts ...query.Options) error {
	return e.router.Delete(ctx, ent, firstOption(opts))
}

// Invalidate drops cached entries for a type, or for one identity when id
// is given.
func (e *Engine) Invalidate(typeName string, id ...string) {
	if len(id) > 0 {
		e.cache.Invalidate(cache.EntityTag(typeName, id[0]))
		return
	}
	e.cache.Invalidate(cache.TypeTag(typeName))
}

// Close releases resources the engine owns.
func (e *Engine) Close() error {
	if e.ownsStore && e.local != nil {
		return e.local.Close()
	}
	return nil
}

func firstOption(opts []query.Options) query.Options {
	if len(opts) > 0 {
		return opts[0]
	}
	return query.Options{}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
