package hybrid

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilupskalvis/restsync/internal/hydrate"
	"github.com/kilupskalvis/restsync/internal/models"
	"github.com/kilupskalvis/restsync/internal/query"
)

// Save persists an entity: a create when it is new, an update of its dirty
// fields when it is store-backed. A successful save marks the entity clean
// and invalidates every cached entry sharing its tags.
func (r *Router) Save(ctx context.Context, e *models.Entity, opts query.Options) error {
	op := "create"
	if e.Exists() {
		op = "update"
	}
	return r.observe(ctx, op, e.Type(), func() error {
		return r.save(ctx, e, opts)
	})
}

func (r *Router) save(ctx context.Context, e *models.Entity, opts query.Options) error {
	typ := e.Type()
	mode := r.resolveMode(typ, opts)

	if e.Exists() && len(e.Dirty()) == 0 {
		return nil
	}

	switch mode {
	case models.ModeRemoteOnly:
		if err := r.saveRemote(ctx, e, opts); err != nil {
			return err
		}

	case models.ModeLocalOnly, models.ModeLocalFirst:
		// Per the dispatch table local-first writes leave remote
		// untouched.
		if err := r.saveLocal(ctx, e); err != nil {
			return err
		}

	case models.ModeRemoteFirst:
		if err := r.saveRemote(ctx, e, opts); err != nil {
			return err
		}
		if r.local != nil {
			if err := r.mirrorLocal(ctx, e); err != nil {
				return err
			}
		}

	case models.ModeBidirectional:
		if r.local == nil {
			return errNoLocalStore
		}
		// Remote first, then mirror the same version locally with the
		// remote's timestamp, so the sides converge without a
		// reconciliation pass.
		if err := r.saveRemote(ctx, e, opts); err != nil {
			return err
		}
		if err := r.mirrorLocal(ctx, e); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported hybrid mode %v", mode)
	}

	id, _ := e.ID()
	r.invalidate(typ, id)
	e.MarkSaved()
	return nil
}

// saveRemote creates or updates the record through the remote API and
// absorbs server-assigned attributes from the response.
func (r *Router) saveRemote(ctx context.Context, e *models.Entity, opts query.Options) error {
	typ := e.Type()

	var (
		envelope any
		err      error
	)
	if e.Exists() {
		id, ok := e.ID()
		if !ok {
			return &query.ValidationError{Reason: "cannot update an entity without an identity"}
		}
		envelope, err = r.api.Update(ctx, typ.Name, id, e.DirtyAttributes(), opts.Timeout)
	} else {
		envelope, err = r.api.Create(ctx, typ.Name, e.Attributes(), opts.Timeout)
	}
	if err != nil {
		return err
	}

	raws := hydrate.Normalize(envelope, r.cfg.ContainerKeys)
	if len(raws) == 1 {
		fresh, herr := hydrate.Hydrate(typ, raws[0])
		if herr == nil && fresh != nil {
			e.Merge(fresh.Attributes())
		}
	}
	return nil
}

// saveLocal writes the entity to the local store, generating an identity
// when the caller did not supply one.
func (r *Router) saveLocal(ctx context.Context, e *models.Entity) error {
	if r.local == nil {
		return errNoLocalStore
	}
	typ := e.Type()

	id, ok := e.ID()
	if !ok {
		id = uuid.NewString()
		if err := e.Set(typ.Identity(), id); err != nil {
			return err
		}
	}

	now := r.now().UTC()
	attrs := e.Attributes()
	attrs[typ.ModifiedField()] = now.Format(timeWire)
	if err := r.local.Upsert(ctx, typ.Name, id, attrs, now); err != nil {
		return err
	}
	e.Merge(map[string]any{typ.ModifiedField(): now})
	return nil
}

// mirrorLocal copies the entity's post-save state into the local store,
// keeping the remote's modification time when the response carried one.
func (r *Router) mirrorLocal(ctx context.Context, e *models.Entity) error {
	typ := e.Type()
	id, ok := e.ID()
	if !ok {
		return fmt.Errorf("cannot mirror %s locally without an identity", typ.Name)
	}

	attrs := wireAttributes(e)
	modified, ok := hydrate.ModifiedTime(typ, attrs)
	if !ok {
		modified = r.now().UTC()
	}
	return r.local.Upsert(ctx, typ.Name, id, attrs, modified)
}

// Delete removes an entity from the sources the active mode writes to, then
// detaches it from its identity.
func (r *Router) Delete(ctx context.Context, e *models.Entity, opts query.Options) error {
	return r.observe(ctx, "delete", e.Type(), func() error {
		return r.delete(ctx, e, opts)
	})
}

func (r *Router) delete(ctx context.Context, e *models.Entity, opts query.Options) error {
	typ := e.Type()
	id, ok := e.ID()
	if !ok {
		return &query.ValidationError{Reason: "cannot delete an entity without an identity"}
	}
	mode := r.resolveMode(typ, opts)

	switch mode {
	case models.ModeRemoteOnly:
		if err := r.api.Delete(ctx, typ.Name, id, opts.Timeout); err != nil {
			return err
		}

	case models.ModeLocalOnly, models.ModeLocalFirst:
		if r.local == nil {
			return errNoLocalStore
		}
		if err := r.local.Delete(ctx, typ.Name, id); err != nil {
			return err
		}

	case models.ModeRemoteFirst, models.ModeBidirectional:
		if err := r.api.Delete(ctx, typ.Name, id, opts.Timeout); err != nil {
			return err
		}
		if r.local != nil {
			if err := r.local.Delete(ctx, typ.Name, id); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("unsupported hybrid mode %v", mode)
	}

	r.invalidate(typ, id)
	e.Detach()
	return nil
}

// timeWire is the format used when the engine stamps timestamps itself.
const timeWire = "2006-01-02T15:04:05.999999999Z07:00"

// wireAttributes renders entity attributes back into wire-shaped values so
// they round-trip through the JSON store column.
func wireAttributes(e *models.Entity) map[string]any {
	attrs := e.Attributes()
	for k, v := range attrs {
		if t, ok := v.(time.Time); ok {
			attrs[k] = t.UTC().Format(timeWire)
		}
	}
	return attrs
}
