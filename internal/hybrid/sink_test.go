package hybrid

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/restsync/internal/models"
)

// recordingSink captures operation notifications for assertions.
type recordingSink struct {
	mu        sync.Mutex
	started   []string
	completed []string
	failed    []string
}

func (s *recordingSink) OperationStarted(_ context.Context, op, entityType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, op+":"+entityType)
}

func (s *recordingSink) OperationCompleted(_ context.Context, op, entityType string, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, op+":"+entityType)
}

func (s *recordingSink) OperationFailed(_ context.Context, op, entityType string, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, op+":"+entityType)
}

func TestSink_ObservesLifecycle(t *testing.T) {
	api := newMockAPI()
	api.put("products", "p1", map[string]any{"id": "p1", "name": "widget"})
	sink := &recordingSink{}
	r := NewRouter(Config{DefaultMode: models.ModeRemoteOnly}, api, nil, nil, nil, sink)
	ctx := context.Background()

	_, err := r.Find(ctx, routerType(), "p1", opts())
	require.NoError(t, err)

	assert.Equal(t, []string{"find:products"}, sink.started)
	assert.Equal(t, []string{"find:products"}, sink.completed)
	assert.Empty(t, sink.failed)

	_, err = r.Find(ctx, routerType(), "ghost", opts())
	require.Error(t, err)

	assert.Equal(t, []string{"find:products", "find:products"}, sink.started)
	assert.Equal(t, []string{"find:products"}, sink.completed)
	assert.Equal(t, []string{"find:products"}, sink.failed)
}

func TestSink_ObservesWrites(t *testing.T) {
	api := newMockAPI()
	sink := &recordingSink{}
	r := NewRouter(Config{DefaultMode: models.ModeRemoteOnly}, api, nil, nil, nil, sink)

	e := models.New(routerType())
	require.NoError(t, e.Set("name", "widget"))
	require.NoError(t, r.Save(context.Background(), e, opts()))

	assert.Equal(t, []string{"create:products"}, sink.completed)

	require.NoError(t, r.Delete(context.Background(), e, opts()))
	assert.Equal(t, []string{"create:products", "delete:products"}, sink.completed)
}

func TestSink_ObservesReconcile(t *testing.T) {
	api := newMockAPI()
	api.put("products", "p1", map[string]any{"id": "p1", "name": "remote", "updated_at": newerStamp})
	local := newMockLocal()
	local.seed("products", "p1", map[string]any{"id": "p1", "name": "local", "updated_at": olderStamp}, mustTime(olderStamp))

	sink := &recordingSink{}
	r := NewRouter(Config{DefaultMode: models.ModeBidirectional}, api, local, nil, nil, sink)

	_, err := r.Find(context.Background(), routerType(), "p1", opts())
	require.NoError(t, err)

	assert.Contains(t, sink.started, "reconcile:products")
	assert.Contains(t, sink.completed, "reconcile:products")
	assert.Empty(t, sink.failed)
}
