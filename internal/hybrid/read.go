package hybrid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilupskalvis/restsync/internal/cache"
	"github.com/kilupskalvis/restsync/internal/hydrate"
	"github.com/kilupskalvis/restsync/internal/models"
	"github.com/kilupskalvis/restsync/internal/query"
	"github.com/kilupskalvis/restsync/internal/remote"
	"github.com/kilupskalvis/restsync/internal/store"
)

// Find resolves a single entity by identity through the active mode.
func (r *Router) Find(ctx context.Context, typ *models.EntityType, id string, opts query.Options) (*models.Entity, error) {
	var found *models.Entity
	err := r.observe(ctx, "find", typ, func() error {
		e, err := r.find(ctx, typ, id, opts)
		found = e
		return err
	})
	return found, err
}

func (r *Router) find(ctx context.Context, typ *models.EntityType, id string, opts query.Options) (*models.Entity, error) {
	mode := r.resolveMode(typ, opts)

	switch mode {
	case models.ModeRemoteOnly:
		raw, err := r.findRemoteCached(ctx, typ, id, opts)
		if err != nil {
			return nil, err
		}
		return r.hydrateOne(typ, id, raw)

	case models.ModeLocalOnly:
		rec, err := r.findLocal(ctx, typ, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, &query.NotFoundError{EntityType: typ.Name, ID: id}
		}
		return r.hydrateOne(typ, id, recordToRaw(typ, rec))

	case models.ModeLocalFirst:
		rec, err := r.findLocal(ctx, typ, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return r.hydrateOne(typ, id, recordToRaw(typ, rec))
		}
		raw, err := r.findRemoteCached(ctx, typ, id, opts)
		if err != nil {
			return nil, err
		}
		if r.cfg.PersistFallback && r.local != nil {
			r.persistRaw(ctx, typ, id, raw)
		}
		return r.hydrateOne(typ, id, raw)

	case models.ModeRemoteFirst:
		raw, err := r.findRemoteCached(ctx, typ, id, opts)
		if err != nil {
			var nf *query.NotFoundError
			if errors.As(err, &nf) {
				return nil, err
			}
			if remote.RemoteFailed(err) && r.local != nil {
				rec, lerr := r.findLocal(ctx, typ, id)
				if lerr == nil && rec != nil {
					return r.hydrateOne(typ, id, recordToRaw(typ, rec))
				}
			}
			return nil, err
		}
		if r.local != nil {
			r.persistRaw(ctx, typ, id, raw)
		}
		return r.hydrateOne(typ, id, raw)

	case models.ModeBidirectional:
		return r.findBidirectional(ctx, typ, id, opts)

	default:
		return nil, fmt.Errorf("unsupported hybrid mode %v", mode)
	}
}

// findBidirectional reads both sides concurrently (they are independent
// reads), returns whichever is fresher, and routes divergence through the
// reconciler.
func (r *Router) findBidirectional(ctx context.Context, typ *models.EntityType, id string, opts query.Options) (*models.Entity, error) {
	if r.local == nil {
		return nil, errNoLocalStore
	}

	var (
		wg        sync.WaitGroup
		rec       *store.Record
		localErr  error
		remoteRaw map[string]any
		remoteErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		rec, localErr = r.local.Find(ctx, typ.Name, id)
	}()
	go func() {
		defer wg.Done()
		remoteRaw, remoteErr = r.findRemote(ctx, typ, id, opts)
	}()
	wg.Wait()

	var nf *query.NotFoundError
	remoteAbsent := remoteErr != nil && errors.As(remoteErr, &nf)

	switch {
	case localErr != nil && remoteErr != nil:
		return nil, remoteErr
	case remoteErr != nil && !remoteAbsent:
		// Remote path failed outright; serve the local copy if we have
		// one.
		if localErr == nil && rec != nil {
			return r.hydrateOne(typ, id, recordToRaw(typ, rec))
		}
		return nil, remoteErr
	case remoteAbsent && (localErr != nil || rec == nil):
		return nil, &query.NotFoundError{EntityType: typ.Name, ID: id}
	case remoteAbsent:
		return r.hydrateOne(typ, id, recordToRaw(typ, rec))
	case localErr != nil || rec == nil:
		// Only the remote side has it; mirror locally for future reads.
		r.persistRaw(ctx, typ, id, remoteRaw)
		return r.hydrateOne(typ, id, remoteRaw)
	}

	authoritative, err := r.rec.Reconcile(ctx, typ, id, rec, remoteRaw)
	if err != nil {
		return nil, err
	}
	return r.hydrateOne(typ, id, authoritative)
}

// RunQuery executes a frozen descriptor and returns hydrated entities.
func (r *Router) RunQuery(ctx context.Context, typ *models.EntityType, d *query.Descriptor, opts query.Options) ([]*models.Entity, error) {
	var out []*models.Entity
	err := r.observe(ctx, "query", typ, func() error {
		entities, err := r.runQuery(ctx, typ, d, opts)
		out = entities
		return err
	})
	return out, err
}

func (r *Router) runQuery(ctx context.Context, typ *models.EntityType, d *query.Descriptor, opts query.Options) ([]*models.Entity, error) {
	mode := r.resolveMode(typ, opts)

	switch mode {
	case models.ModeRemoteOnly:
		raws, err := r.queryRemoteCached(ctx, typ, d, opts)
		if err != nil {
			return nil, err
		}
		entities, _ := hydrate.HydrateList(typ, raws)
		return entities, nil

	case models.ModeLocalOnly:
		recs, err := r.queryLocal(ctx, typ, d)
		if err != nil {
			return nil, err
		}
		return hydrateRecords(typ, recs), nil

	case models.ModeLocalFirst:
		recs, err := r.queryLocal(ctx, typ, d)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			return hydrateRecords(typ, recs), nil
		}
		raws, err := r.queryRemoteCached(ctx, typ, d, opts)
		if err != nil {
			return nil, err
		}
		if r.cfg.PersistFallback && r.local != nil {
			r.persistAll(ctx, typ, raws)
		}
		entities, _ := hydrate.HydrateList(typ, raws)
		return entities, nil

	case models.ModeRemoteFirst, models.ModeBidirectional:
		raws, err := r.queryRemoteCached(ctx, typ, d, opts)
		if err != nil {
			if remote.RemoteFailed(err) && r.local != nil {
				recs, lerr := r.queryLocal(ctx, typ, d)
				if lerr == nil {
					return hydrateRecords(typ, recs), nil
				}
			}
			return nil, err
		}
		if mode == models.ModeBidirectional {
			raws, err = r.reconcileList(ctx, typ, raws)
			if err != nil {
				return nil, err
			}
		} else if r.local != nil {
			r.persistAll(ctx, typ, raws)
		}
		entities, _ := hydrate.HydrateList(typ, raws)
		return entities, nil

	default:
		return nil, fmt.Errorf("unsupported hybrid mode %v", mode)
	}
}

// reconcileList runs per-identity reconciliation over a remote result set:
// rows with a fresher local copy are replaced by it (and pushed back), the
// rest are mirrored into the local store.
func (r *Router) reconcileList(ctx context.Context, typ *models.EntityType, raws []map[string]any) ([]map[string]any, error) {
	if r.local == nil {
		return nil, errNoLocalStore
	}

	var mark time.Time
	bk, hasMark := r.local.(store.SyncBookkeeper)
	if hasMark {
		mark, _ = bk.LastSync(ctx, typ.Name)
	}

	out := make([]map[string]any, 0, len(raws))
	for _, raw := range raws {
		id, ok := rawID(typ, raw)
		if !ok {
			out = append(out, raw)
			continue
		}
		rec, err := r.local.Find(ctx, typ.Name, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			r.persistRaw(ctx, typ, id, raw)
			out = append(out, raw)
			continue
		}
		// A row untouched locally since the sync mark whose remote stamp
		// matches the stored one converged on a prior pass; skip it.
		if !mark.IsZero() && !rec.LastModified.After(mark) {
			if rm, ok := hydrate.ModifiedTime(typ, raw); ok && rm.Equal(rec.LastModified) {
				out = append(out, raw)
				continue
			}
		}
		authoritative, err := r.rec.Reconcile(ctx, typ, id, rec, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, authoritative)
	}

	if hasMark {
		if err := bk.SetLastSync(ctx, typ.Name, r.now()); err != nil {
			r.sink.OperationFailed(ctx, "sync_mark", typ.Name, err)
		}
	}
	return out, nil
}

// RunPage executes a page fetch.
func (r *Router) RunPage(ctx context.Context, typ *models.EntityType, d *query.Descriptor, opts query.Options) (*query.Page, error) {
	var page *query.Page
	err := r.observe(ctx, "page", typ, func() error {
		p, err := r.runPage(ctx, typ, d, opts)
		page = p
		return err
	})
	return page, err
}

func (r *Router) runPage(ctx context.Context, typ *models.EntityType, d *query.Descriptor, opts query.Options) (*query.Page, error) {
	pageNum, perPage := 1, 0
	if d.Page != nil {
		pageNum = *d.Page
	}
	if d.PerPage != nil {
		perPage = *d.PerPage
	}

	mode := r.resolveMode(typ, opts)
	if mode == models.ModeLocalOnly || (mode == models.ModeLocalFirst && r.local != nil) {
		return r.pageLocal(ctx, typ, d, pageNum, perPage, mode, opts)
	}

	envelope, err := r.fetchRemoteCached(ctx, typ, d, opts)
	if err != nil {
		if remote.RemoteFailed(err) && r.local != nil && (mode == models.ModeRemoteFirst || mode == models.ModeBidirectional) {
			return r.pageLocal(ctx, typ, d, pageNum, perPage, mode, opts)
		}
		return nil, err
	}

	raws := hydrate.Normalize(envelope, r.cfg.ContainerKeys)
	if r.local != nil && (mode == models.ModeRemoteFirst || mode == models.ModeBidirectional) {
		r.persistAll(ctx, typ, raws)
	}
	entities, _ := hydrate.HydrateList(typ, raws)

	return &query.Page{
		Items:   entities,
		Page:    pageNum,
		PerPage: perPage,
		Total:   extractTotal(envelope),
	}, nil
}

// pageLocal serves a page from the local store, counting the unpaginated
// match set for the total.
func (r *Router) pageLocal(ctx context.Context, typ *models.EntityType, d *query.Descriptor, pageNum, perPage int, mode models.Mode, opts query.Options) (*query.Page, error) {
	if r.local == nil {
		return nil, errNoLocalStore
	}
	unpaged := d.Clone()
	unpaged.Page, unpaged.PerPage, unpaged.Limit, unpaged.Offset = nil, nil, nil, nil

	all, err := r.queryLocal(ctx, typ, unpaged)
	if err != nil {
		return nil, err
	}
	total := int64(len(all))
	paged := store.Paginate(all, d)

	if len(paged) == 0 && mode == models.ModeLocalFirst {
		// Local miss falls through to remote for local-first.
		envelope, rerr := r.fetchRemoteCached(ctx, typ, d, opts)
		if rerr != nil {
			return nil, rerr
		}
		raws := hydrate.Normalize(envelope, r.cfg.ContainerKeys)
		if r.cfg.PersistFallback && r.local != nil {
			r.persistAll(ctx, typ, raws)
		}
		entities, _ := hydrate.HydrateList(typ, raws)
		return &query.Page{Items: entities, Page: pageNum, PerPage: perPage, Total: extractTotal(envelope)}, nil
	}

	return &query.Page{
		Items:   hydrateRecords(typ, paged),
		Page:    pageNum,
		PerPage: perPage,
		Total:   total,
	}, nil
}

// RunAggregate executes an aggregate request.
func (r *Router) RunAggregate(ctx context.Context, typ *models.EntityType, d *query.Descriptor, opts query.Options) (float64, error) {
	var result float64
	err := r.observe(ctx, "aggregate", typ, func() error {
		v, err := r.runAggregate(ctx, typ, d, opts)
		result = v
		return err
	})
	return result, err
}

func (r *Router) runAggregate(ctx context.Context, typ *models.EntityType, d *query.Descriptor, opts query.Options) (float64, error) {
	mode := r.resolveMode(typ, opts)

	switch mode {
	case models.ModeLocalOnly:
		v, _, err := r.aggregateLocal(ctx, typ, d)
		return v, err

	case models.ModeLocalFirst:
		v, matched, err := r.aggregateLocal(ctx, typ, d)
		if err == nil && matched > 0 {
			return v, nil
		}
		return r.aggregateRemote(ctx, typ, d, opts)

	case models.ModeRemoteFirst, models.ModeBidirectional:
		v, err := r.aggregateRemote(ctx, typ, d, opts)
		if err != nil && remote.RemoteFailed(err) && r.local != nil {
			lv, _, lerr := r.aggregateLocal(ctx, typ, d)
			return lv, lerr
		}
		return v, err

	default:
		return r.aggregateRemote(ctx, typ, d, opts)
	}
}

// --- shared read helpers ---

func (r *Router) findLocal(ctx context.Context, typ *models.EntityType, id string) (*store.Record, error) {
	if r.local == nil {
		return nil, errNoLocalStore
	}
	return r.local.Find(ctx, typ.Name, id)
}

func (r *Router) queryLocal(ctx context.Context, typ *models.EntityType, d *query.Descriptor) ([]*store.Record, error) {
	if r.local == nil {
		return nil, errNoLocalStore
	}
	return r.local.Query(ctx, typ.Name, d)
}

// findRemote fetches a single record from the remote API, uncached.
func (r *Router) findRemote(ctx context.Context, typ *models.EntityType, id string, opts query.Options) (map[string]any, error) {
	envelope, err := r.api.FetchOne(ctx, typ.Name, id, opts.Timeout)
	if err != nil {
		var se *remote.StatusError
		if errors.As(err, &se) && se.IsNotFound() {
			return nil, &query.NotFoundError{EntityType: typ.Name, ID: id}
		}
		return nil, err
	}
	raws := hydrate.Normalize(envelope, r.cfg.ContainerKeys)
	if len(raws) == 0 {
		return nil, &query.NotFoundError{EntityType: typ.Name, ID: id}
	}
	return raws[0], nil
}

// findRemoteCached is findRemote behind the read-through cache.
func (r *Router) findRemoteCached(ctx context.Context, typ *models.EntityType, id string, opts query.Options) (map[string]any, error) {
	if r.cache == nil || opts.SkipCache {
		return r.findRemote(ctx, typ, id, opts)
	}
	sig := cache.FindSignature(typ.Name, id)
	tags := r.tagsFor(typ, cache.EntityTag(typ.Name, id))
	payload, err := r.cache.GetOrFetch(ctx, sig, r.ttlFor(typ, opts), tags, func(ctx context.Context) (any, error) {
		return r.findRemote(ctx, typ, id, opts)
	})
	if err != nil {
		return nil, err
	}
	return payload.(map[string]any), nil
}

// fetchRemoteCached returns the raw envelope for a descriptor, cached.
func (r *Router) fetchRemoteCached(ctx context.Context, typ *models.EntityType, d *query.Descriptor, opts query.Options) (any, error) {
	params, err := d.QueryParams(r.cfg.Serialization)
	if err != nil {
		return nil, &query.ValidationError{Reason: err.Error()}
	}

	fetch := func(ctx context.Context) (any, error) {
		return r.api.Fetch(ctx, typ.Name, params, opts.Timeout)
	}

	if r.cache == nil || opts.SkipCache {
		return fetch(ctx)
	}
	sig := cache.QuerySignature(typ.Name, d.Signature())
	return r.cache.GetOrFetch(ctx, sig, r.ttlFor(typ, opts), r.tagsFor(typ), fetch)
}

// queryRemoteCached returns normalized raw maps for a descriptor.
func (r *Router) queryRemoteCached(ctx context.Context, typ *models.EntityType, d *query.Descriptor, opts query.Options) ([]map[string]any, error) {
	envelope, err := r.fetchRemoteCached(ctx, typ, d, opts)
	if err != nil {
		return nil, err
	}
	return hydrate.Normalize(envelope, r.cfg.ContainerKeys), nil
}

func (r *Router) aggregateRemote(ctx context.Context, typ *models.EntityType, d *query.Descriptor, opts query.Options) (float64, error) {
	envelope, err := r.fetchRemoteCached(ctx, typ, d, opts)
	if err != nil {
		return 0, err
	}
	v, ok := extractNumber(envelope)
	if !ok {
		return 0, fmt.Errorf("aggregate response for %s has no numeric result", typ.Name)
	}
	return v, nil
}

// aggregateLocal computes the aggregate over the local match set. The
// second result reports how many rows contributed, so callers can tell a
// computed zero from an empty match set.
func (r *Router) aggregateLocal(ctx context.Context, typ *models.EntityType, d *query.Descriptor) (float64, int, error) {
	recs, err := r.queryLocal(ctx, typ, d)
	if err != nil {
		return 0, 0, err
	}
	if d.Agg == nil || d.Agg.Func == query.AggCount {
		return float64(len(recs)), len(recs), nil
	}

	var (
		sum   float64
		count int
		min   float64
		max   float64
	)
	for _, rec := range recs {
		f, ok := store.ToFloat(rec.Attributes[d.Agg.Field])
		if !ok {
			continue
		}
		if count == 0 {
			min, max = f, f
		} else {
			if f < min {
				min = f
			}
			if f > max {
				max = f
			}
		}
		sum += f
		count++
	}

	switch d.Agg.Func {
	case query.AggSum:
		return sum, count, nil
	case query.AggMin:
		return min, count, nil
	case query.AggMax:
		return max, count, nil
	case query.AggAvg:
		if count == 0 {
			return 0, 0, nil
		}
		return sum / float64(count), count, nil
	default:
		return float64(count), count, nil
	}
}

// hydrateOne hydrates a single raw map, surfacing hydration failures and
// mapping an empty map to not-found.
func (r *Router) hydrateOne(typ *models.EntityType, id string, raw map[string]any) (*models.Entity, error) {
	e, err := hydrate.Hydrate(typ, raw)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &query.NotFoundError{EntityType: typ.Name, ID: id}
	}
	return e, nil
}

// persistRaw mirrors one remote record into the local store. Persistence is
// best-effort on read paths; failures do not abort the read.
func (r *Router) persistRaw(ctx context.Context, typ *models.EntityType, id string, raw map[string]any) {
	modified, ok := hydrate.ModifiedTime(typ, raw)
	if !ok {
		modified = r.now()
	}
	if err := r.local.Upsert(ctx, typ.Name, id, raw, modified); err != nil {
		r.sink.OperationFailed(ctx, "persist", typ.Name, err)
	}
}

func (r *Router) persistAll(ctx context.Context, typ *models.EntityType, raws []map[string]any) {
	for _, raw := range raws {
		if id, ok := rawID(typ, raw); ok {
			r.persistRaw(ctx, typ, id, raw)
		}
	}
}

// rawID extracts the identity value from a raw map.
func rawID(typ *models.EntityType, raw map[string]any) (string, bool) {
	v, ok := raw[typ.Identity()]
	if !ok || v == nil {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		return fmt.Sprintf("%v", id), true
	default:
		return fmt.Sprintf("%v", id), true
	}
}

// extractTotal pulls a total count out of a response envelope's metadata.
// Returns -1 when the source did not report one.
func extractTotal(envelope any) int64 {
	m, ok := envelope.(map[string]any)
	if !ok {
		return -1
	}
	for _, key := range []string{"total", "count"} {
		if f, ok := store.ToFloat(m[key]); ok {
			return int64(f)
		}
	}
	if meta, ok := m["meta"].(map[string]any); ok {
		for _, key := range []string{"total", "count"} {
			if f, ok := store.ToFloat(meta[key]); ok {
				return int64(f)
			}
		}
	}
	return -1
}

// extractNumber pulls the numeric result out of an aggregate response.
func extractNumber(envelope any) (float64, bool) {
	switch v := envelope.(type) {
	case float64:
		return v, true
	case map[string]any:
		for _, key := range []string{"aggregate", "value", "result", "count", "total"} {
			if f, ok := store.ToFloat(v[key]); ok {
				return f, true
			}
		}
		if inner, ok := v["data"]; ok {
			return extractNumber(inner)
		}
		return 0, false
	default:
		return 0, false
	}
}
