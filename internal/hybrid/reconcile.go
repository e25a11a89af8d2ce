package hybrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilupskalvis/restsync/internal/events"
	"github.com/kilupskalvis/restsync/internal/hydrate"
	"github.com/kilupskalvis/restsync/internal/models"
	"github.com/kilupskalvis/restsync/internal/store"
)

// ConflictUnresolvedError is returned by a pluggable strategy that declines
// to pick a winner. The built-in strategies never produce it.
type ConflictUnresolvedError struct {
	EntityType string
	ID         string
}

func (e *ConflictUnresolvedError) Error() string {
	return fmt.Sprintf("conflict on %s %q left unresolved by strategy", e.EntityType, e.ID)
}

// Strategy picks the authoritative side of a conflict.
type Strategy interface {
	Resolve(c *models.Conflict) (models.Side, error)
}

// TimestampWins is the default strategy: the strictly newer version wins;
// an exact timestamp tie goes to remote.
type TimestampWins struct{}

func (TimestampWins) Resolve(c *models.Conflict) (models.Side, error) {
	if c.LocalModified.After(c.RemoteModified) {
		return models.SideLocal, nil
	}
	return models.SideRemote, nil
}

// RemoteWins always takes the remote version.
type RemoteWins struct{}

func (RemoteWins) Resolve(*models.Conflict) (models.Side, error) {
	return models.SideRemote, nil
}

// LocalWins always takes the local version.
type LocalWins struct{}

func (LocalWins) Resolve(*models.Conflict) (models.Side, error) {
	return models.SideLocal, nil
}

// ParseStrategy maps a configuration token to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "newer", "timestamp":
		return TimestampWins{}, nil
	case "remote":
		return RemoteWins{}, nil
	case "local":
		return LocalWins{}, nil
	default:
		return nil, fmt.Errorf("unknown conflict strategy %q", s)
	}
}

// Reconciler resolves diverging local and remote versions of one identity
// and writes the authoritative version back to the losing side. Reconciling
// an already-reconciled pair is a no-op.
type Reconciler struct {
	strategy Strategy
	api      RemoteAPI
	local    store.LocalStore
	sink     events.Sink
}

// Reconcile returns the authoritative raw attributes for an identity whose
// local and remote versions both exist. When the versions are equal no side
// effects occur.
func (r *Reconciler) Reconcile(ctx context.Context, typ *models.EntityType, id string, local *store.Record, remoteRaw map[string]any) (map[string]any, error) {
	localRaw := recordToRaw(typ, local)
	if attrsEqual(localRaw, remoteRaw) {
		return remoteRaw, nil
	}

	conflict, err := buildConflict(typ, id, local, localRaw, remoteRaw)
	if err != nil {
		return nil, err
	}

	r.sink.OperationStarted(ctx, "reconcile", typ.Name)
	start := time.Now()

	side, err := r.strategy.Resolve(conflict)
	if err != nil {
		r.sink.OperationFailed(ctx, "reconcile", typ.Name, err)
		return nil, err
	}

	switch side {
	case models.SideLocal:
		// Local wins: push the local version to the remote API.
		if _, err := r.api.Update(ctx, typ.Name, id, localRaw, 0); err != nil {
			err = fmt.Errorf("reconcile %s %q: write back to remote: %w", typ.Name, id, err)
			r.sink.OperationFailed(ctx, "reconcile", typ.Name, err)
			return nil, err
		}
		r.sink.OperationCompleted(ctx, "reconcile", typ.Name, time.Since(start))
		return localRaw, nil
	default:
		// Remote wins: mirror the remote version into the local store,
		// keeping the remote modification time so a second pass sees
		// the sides as converged.
		if err := r.local.Upsert(ctx, typ.Name, id, remoteRaw, conflict.RemoteModified); err != nil {
			err = fmt.Errorf("reconcile %s %q: write back to local: %w", typ.Name, id, err)
			r.sink.OperationFailed(ctx, "reconcile", typ.Name, err)
			return nil, err
		}
		r.sink.OperationCompleted(ctx, "reconcile", typ.Name, time.Since(start))
		return remoteRaw, nil
	}
}

// buildConflict hydrates both versions and extracts their last-modified
// timestamps. A local version with no parseable timestamp falls back to the
// store's row stamp.
func buildConflict(typ *models.EntityType, id string, local *store.Record, localRaw, remoteRaw map[string]any) (*models.Conflict, error) {
	localEnt, err := hydrate.Hydrate(typ, localRaw)
	if err != nil {
		return nil, err
	}
	remoteEnt, err := hydrate.Hydrate(typ, remoteRaw)
	if err != nil {
		return nil, err
	}

	localMod, ok := hydrate.ModifiedTime(typ, localRaw)
	if !ok {
		localMod = local.LastModified
	}
	remoteMod, _ := hydrate.ModifiedTime(typ, remoteRaw)

	return &models.Conflict{
		EntityType:     typ.Name,
		ID:             id,
		Local:          localEnt,
		Remote:         remoteEnt,
		LocalModified:  localMod,
		RemoteModified: remoteMod,
	}, nil
}

// attrsEqual compares two raw attribute maps by canonical JSON. Timestamps
// that render identically compare equal regardless of source formatting.
func attrsEqual(a, b map[string]any) bool {
	aj, errA := json.Marshal(canonicalize(a))
	bj, errB := json.Marshal(canonicalize(b))
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

// canonicalize normalizes timestamp strings so the same instant written in
// two formats does not read as divergence.
func canonicalize(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				out[k] = t.UTC().Format(time.RFC3339Nano)
				continue
			}
		}
		out[k] = v
	}
	return out
}
