package hydrate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/restsync/internal/models"
)

func productType() *models.EntityType {
	return &models.EntityType{
		Name: "products",
		Fields: map[string]models.FieldType{
			"id":         models.TypeString,
			"name":       models.TypeString,
			"stock":      models.TypeInt,
			"price":      models.TypeFloat,
			"active":     models.TypeBool,
			"updated_at": models.TypeTime,
			"meta":       models.TypeNested,
		},
	}
}

func TestHydrate_CoercesDeclaredFields(t *testing.T) {
	raw := map[string]any{
		"id":         "p1",
		"name":       "widget",
		"stock":      "566",
		"price":      "150.50",
		"active":     "1",
		"updated_at": "2024-03-01T12:00:00Z",
	}

	e, err := Hydrate(productType(), raw)
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.True(t, e.Exists())
	assert.Empty(t, e.Dirty())
	assert.Equal(t, int64(566), e.GetInt("stock"))
	assert.Equal(t, 150.50, e.GetFloat("price"))
	assert.True(t, e.GetBool("active"))
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), e.GetTime("updated_at").UTC())
}

func TestHydrate_NumericWireValues(t *testing.T) {
	// JSON decoding delivers every number as float64.
	raw := map[string]any{
		"id":     "p1",
		"stock":  float64(3),
		"price":  float64(9.99),
		"active": float64(1),
	}

	e, err := Hydrate(productType(), raw)
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.GetInt("stock"))
	assert.Equal(t, 9.99, e.GetFloat("price"))
	assert.True(t, e.GetBool("active"))
}

func TestHydrate_EmptyMapIsAbsent(t *testing.T) {
	e, err := Hydrate(productType(), map[string]any{})
	assert.NoError(t, err)
	assert.Nil(t, e)
}

func TestHydrate_NilValuesStayNil(t *testing.T) {
	raw := map[string]any{"id": "p1", "stock": nil}
	e, err := Hydrate(productType(), raw)
	require.NoError(t, err)

	v, ok := e.Get("stock")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestHydrate_UndeclaredFieldsRideAlong(t *testing.T) {
	raw := map[string]any{"id": "p1", "warehouse": "east"}
	e, err := Hydrate(productType(), raw)
	require.NoError(t, err)
	assert.Equal(t, "east", e.GetString("warehouse"))
}

func TestHydrate_UncoercibleValueFails(t *testing.T) {
	raw := map[string]any{"id": "p1", "stock": "not a number"}
	e, err := Hydrate(productType(), raw)
	assert.Nil(t, e)

	var herr *Error
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, "products", herr.EntityType)
	assert.Equal(t, "stock", herr.Field)
}

func TestHydrate_BoolTokens(t *testing.T) {
	typ := productType()
	for _, token := range []string{"1", "true", "yes", "on", "TRUE", "Yes"} {
		e, err := Hydrate(typ, map[string]any{"active": token})
		require.NoError(t, err, token)
		assert.True(t, e.GetBool("active"), token)
	}
	for _, token := range []string{"0", "false", "no", "off", ""} {
		e, err := Hydrate(typ, map[string]any{"active": token})
		require.NoError(t, err, token)
		assert.False(t, e.GetBool("active"), token)
	}

	_, err := Hydrate(typ, map[string]any{"active": "maybe"})
	assert.Error(t, err)
}

func TestHydrate_TimeFromUnixSeconds(t *testing.T) {
	e, err := Hydrate(productType(), map[string]any{"updated_at": float64(1709294400)})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), e.GetTime("updated_at"))
}

func TestHydrate_TimeFromUnixMillis(t *testing.T) {
	e, err := Hydrate(productType(), map[string]any{"updated_at": float64(1709294400000)})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), e.GetTime("updated_at"))
}

func TestHydrate_NestedField(t *testing.T) {
	raw := map[string]any{
		"id":   "p1",
		"meta": map[string]any{"color": "red"},
	}
	e, err := Hydrate(productType(), raw)
	require.NoError(t, err)

	v, ok := e.Get("meta")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"color": "red"}, v)

	_, err = Hydrate(productType(), map[string]any{"meta": "flat"})
	assert.Error(t, err)
}

func TestHydrateList_DropsFailingRows(t *testing.T) {
	raws := []map[string]any{
		{"id": "p1", "stock": "5"},
		{"id": "p2", "stock": "bogus"},
		{"id": "p3", "stock": "7"},
	}

	entities, dropped := HydrateList(productType(), raws)
	require.Len(t, entities, 2)
	require.Len(t, dropped, 1)

	id1, _ := entities[0].ID()
	id3, _ := entities[1].ID()
	assert.Equal(t, "p1", id1)
	assert.Equal(t, "p3", id3)
}

func TestHydrateList_SkipsEmptyMaps(t *testing.T) {
	raws := []map[string]any{{}, {"id": "p1"}}
	entities, dropped := HydrateList(productType(), raws)
	assert.Len(t, entities, 1)
	assert.Empty(t, dropped)
}

func TestModifiedTime(t *testing.T) {
	typ := productType()

	ts, ok := ModifiedTime(typ, map[string]any{"updated_at": "2024-03-01T12:00:00Z"})
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), ts.UTC())

	_, ok = ModifiedTime(typ, map[string]any{"id": "p1"})
	assert.False(t, ok)

	_, ok = ModifiedTime(typ, map[string]any{"updated_at": "garbage"})
	assert.False(t, ok)
}
