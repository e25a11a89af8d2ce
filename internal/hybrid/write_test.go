package hybrid

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/restsync/internal/cache"
	"github.com/kilupskalvis/restsync/internal/models"
	"github.com/kilupskalvis/restsync/internal/query"
)

func TestSave_CreateRemoteOnly(t *testing.T) {
	api := newMockAPI()
	api.createID = "srv-9"
	r := newTestRouter(models.ModeRemoteOnly, api, nil)

	e := models.New(routerType())
	require.NoError(t, e.Set("name", "widget"))

	require.NoError(t, r.Save(context.Background(), e, opts()))

	assert.Equal(t, 1, api.createCalls)
	assert.Equal(t, "widget", api.lastCreate["name"])

	// Server-assigned identity absorbed from the response.
	id, ok := e.ID()
	require.True(t, ok)
	assert.Equal(t, "srv-9", id)
	assert.True(t, e.Exists())
	assert.Empty(t, e.Dirty())
}

func TestSave_UpdateSendsDirtyOnly(t *testing.T) {
	api := newMockAPI()
	api.put("products", "p1", map[string]any{"id": "p1", "name": "widget", "price": 9.99})
	r := newTestRouter(models.ModeRemoteOnly, api, nil)

	e := models.Hydrated(routerType(), map[string]any{"id": "p1", "name": "widget", "price": 9.99})
	require.NoError(t, e.Set("price", 12.5))

	require.NoError(t, r.Save(context.Background(), e, opts()))

	assert.Equal(t, 1, api.updateCalls)
	assert.Equal(t, map[string]any{"price": 12.5}, api.lastUpdate)
	assert.Empty(t, e.Dirty())
}

func TestSave_CleanEntityIsNoop(t *testing.T) {
	api := newMockAPI()
	r := newTestRouter(models.ModeRemoteOnly, api, nil)

	e := models.Hydrated(routerType(), map[string]any{"id": "p1"})
	require.NoError(t, r.Save(context.Background(), e, opts()))

	assert.Equal(t, 0, api.createCalls)
	assert.Equal(t, 0, api.updateCalls)
}

func TestSave_UpdateWithoutIdentityFails(t *testing.T) {
	r := newTestRouter(models.ModeRemoteOnly, newMockAPI(), nil)

	e := models.Hydrated(routerType(), map[string]any{"name": "widget"})
	require.NoError(t, e.Set("name", "widget2"))

	err := r.Save(context.Background(), e, opts())
	var verr *query.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSave_LocalOnlyGeneratesIdentity(t *testing.T) {
	api := newMockAPI()
	local := newMockLocal()
	r := newTestRouter(models.ModeLocalOnly, api, local)

	e := models.New(routerType())
	require.NoError(t, e.Set("name", "widget"))

	require.NoError(t, r.Save(context.Background(), e, opts()))

	id, ok := e.ID()
	require.True(t, ok)
	assert.NotEmpty(t, id)
	assert.Equal(t, 0, api.createCalls)

	rec := local.get("products", id)
	require.NotNil(t, rec)
	assert.Equal(t, "widget", rec.Attributes["name"])
	// The store copy carries a stamped modification time.
	assert.NotEmpty(t, rec.Attributes["updated_at"])
}

func TestSave_LocalFirstWritesOnlyLocal(t *testing.T) {
	api := newMockAPI()
	local := newMockLocal()
	r := newTestRouter(models.ModeLocalFirst, api, local)

	e := models.New(routerType())
	require.NoError(t, e.Set("id", "p1"))
	require.NoError(t, e.Set("name", "widget"))

	require.NoError(t, r.Save(context.Background(), e, opts()))

	assert.Equal(t, 0, api.createCalls)
	assert.NotNil(t, local.get("products", "p1"))
}

func TestSave_RemoteFirstMirrorsLocal(t *testing.T) {
	api := newMockAPI()
	local := newMockLocal()
	r := newTestRouter(models.ModeRemoteFirst, api, local)

	e := models.New(routerType())
	require.NoError(t, e.Set("name", "widget"))

	require.NoError(t, r.Save(context.Background(), e, opts()))

	id, _ := e.ID()
	require.NotEmpty(t, id)
	assert.Equal(t, 1, api.createCalls)

	rec := local.get("products", id)
	require.NotNil(t, rec)
	assert.Equal(t, "widget", rec.Attributes["name"])
}

func TestSave_BidirectionalNeedsLocalStore(t *testing.T) {
	r := newTestRouter(models.ModeBidirectional, newMockAPI(), nil)

	e := models.New(routerType())
	require.NoError(t, e.Set("name", "widget"))

	err := r.Save(context.Background(), e, opts())
	assert.ErrorIs(t, err, errNoLocalStore)
}

func TestSave_BidirectionalWritesBothSides(t *testing.T) {
	api := newMockAPI()
	local := newMockLocal()
	r := newTestRouter(models.ModeBidirectional, api, local)

	e := models.New(routerType())
	require.NoError(t, e.Set("name", "widget"))

	require.NoError(t, r.Save(context.Background(), e, opts()))

	id, _ := e.ID()
	assert.Equal(t, 1, api.createCalls)
	assert.NotNil(t, local.get("products", id))
}

func TestSave_RemoteErrorSurfacesAndKeepsDirty(t *testing.T) {
	api := newMockAPI()
	api.writeErr = assert.AnError
	r := newTestRouter(models.ModeRemoteOnly, api, nil)

	e := models.New(routerType())
	require.NoError(t, e.Set("name", "widget"))

	err := r.Save(context.Background(), e, opts())
	assert.Error(t, err)
	assert.False(t, e.Exists())
	assert.NotEmpty(t, e.Dirty())
}

func TestSave_InvalidatesCachedReads(t *testing.T) {
	api := newMockAPI()
	api.put("products", "p1", map[string]any{"id": "p1", "name": "before"})
	r := NewRouter(Config{DefaultMode: models.ModeRemoteOnly, DefaultTTL: time.Minute}, api, nil, cache.New(time.Minute), nil, nil)

	ctx := context.Background()
	e, err := r.Find(ctx, routerType(), "p1", opts())
	require.NoError(t, err)
	assert.Equal(t, 1, api.findCalls)

	require.NoError(t, e.Set("name", "after"))
	require.NoError(t, r.Save(ctx, e, opts()))

	fresh, err := r.Find(ctx, routerType(), "p1", opts())
	require.NoError(t, err)
	assert.Equal(t, 2, api.findCalls)
	assert.Equal(t, "after", fresh.GetString("name"))
}

func TestSave_RelatedTagsInvalidated(t *testing.T) {
	api := newMockAPI()
	api.envelopes["orders"] = map[string]any{"data": []any{map[string]any{"id": "o1"}}}
	api.put("products", "p1", map[string]any{"id": "p1", "name": "widget"})

	cfg := Config{
		DefaultMode: models.ModeRemoteOnly,
		DefaultTTL:  time.Minute,
		Types: map[string]TypeSettings{
			"products": {RelatedTags: []string{cache.TypeTag("orders")}},
		},
	}
	r := NewRouter(cfg, api, nil, cache.New(time.Minute), nil, nil)
	ctx := context.Background()

	orderType := &models.EntityType{Name: "orders", Fields: map[string]models.FieldType{"id": models.TypeString}}
	_, err := r.RunQuery(ctx, orderType, &query.Descriptor{TypeName: "orders"}, opts())
	require.NoError(t, err)
	assert.Equal(t, 1, api.fetchCalls)

	e, err := r.Find(ctx, routerType(), "p1", opts())
	require.NoError(t, err)
	require.NoError(t, e.Set("name", "widget2"))
	require.NoError(t, r.Save(ctx, e, opts()))

	// Writing a product drops the related orders listing too.
	_, err = r.RunQuery(ctx, orderType, &query.Descriptor{TypeName: "orders"}, opts())
	require.NoError(t, err)
	assert.Equal(t, 2, api.fetchCalls)
}

func TestDelete_RemoteOnly(t *testing.T) {
	api := newMockAPI()
	api.put("products", "p1", map[string]any{"id": "p1"})
	r := newTestRouter(models.ModeRemoteOnly, api, nil)

	e := models.Hydrated(routerType(), map[string]any{"id": "p1", "name": "widget"})
	require.NoError(t, r.Delete(context.Background(), e, opts()))

	assert.Equal(t, 1, api.deleteCalls)
	assert.False(t, e.Exists())
	assert.Equal(t, "widget", e.GetString("name"))
}

func TestDelete_LocalFirstLeavesRemote(t *testing.T) {
	api := newMockAPI()
	local := newMockLocal()
	local.seed("products", "p1", map[string]any{"id": "p1"}, mustTime(olderStamp))
	r := newTestRouter(models.ModeLocalFirst, api, local)

	e := models.Hydrated(routerType(), map[string]any{"id": "p1"})
	require.NoError(t, r.Delete(context.Background(), e, opts()))

	assert.Equal(t, 0, api.deleteCalls)
	assert.Nil(t, local.get("products", "p1"))
}

func TestDelete_BidirectionalRemovesBothSides(t *testing.T) {
	api := newMockAPI()
	api.put("products", "p1", map[string]any{"id": "p1"})
	local := newMockLocal()
	local.seed("products", "p1", map[string]any{"id": "p1"}, mustTime(olderStamp))

	r := newTestRouter(models.ModeBidirectional, api, local)
	e := models.Hydrated(routerType(), map[string]any{"id": "p1"})
	require.NoError(t, r.Delete(context.Background(), e, opts()))

	assert.Equal(t, 1, api.deleteCalls)
	assert.Nil(t, local.get("products", "p1"))
}

func TestDelete_WithoutIdentityFails(t *testing.T) {
	r := newTestRouter(models.ModeRemoteOnly, newMockAPI(), nil)
	e := models.New(routerType())

	err := r.Delete(context.Background(), e, opts())
	var verr *query.ValidationError
	assert.ErrorAs(t, err, &verr)
}
