package application

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"orderhub/internal/pkg/metrics"
	"orderhub/internal/service/order/domain"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string) (func(), error) {
	return nil, errors.New("zk unavailable")
}

func TestEnvelopeRoundTrip(t *testing.T) {
	raw, err := encodeView(schemaOrderProduct, OrderProductView{ProductID: "P1", Name: "Widget", Quantity: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"schema":"order-product.v1","data":{"productId":"P1","orderId":"","name":"Widget","quantity":2}}`, string(raw))

	var v OrderProductView
	require.NoError(t, decodeView(raw, schemaOrderProduct, &v))
	assert.Equal(t, "Widget", v.Name)

	err = decodeView(raw, schemaOrder, &v)
	assert.True(t, errors.Is(err, errSchemaMismatch))
	assert.Error(t, decodeView([]byte("not json"), schemaOrder, &v))
}

func TestPatchList_AbsentIsNoop(t *testing.T) {
	cache := newMapCache()
	rm := NewReadModel(cache, ReadModelOptions{ListViewTTL: time.Minute})

	patchList(context.Background(), rm, viewOrderProductList, "OrderProducts:O1", schemaOrderProductList,
		upsert(OrderProductView{ProductID: "P1"}, sameProduct("P1")))
	assert.False(t, cache.has("OrderProducts:O1"))
	assert.Zero(t, cache.sets)
}

func TestPatchList_KeepsExpiry(t *testing.T) {
	cache := newMapCache()
	rm := NewReadModel(cache, ReadModelOptions{ListViewTTL: time.Minute})
	ctx := context.Background()
	require.True(t, rm.put(ctx, viewOrderProductList, "OrderProducts:O1", schemaOrderProductList, []OrderProductView{{ProductID: "P1"}}, time.Minute))

	patchList(ctx, rm, viewOrderProductList, "OrderProducts:O1", schemaOrderProductList,
		upsert(OrderProductView{ProductID: "P2"}, sameProduct("P2")))

	var list []OrderProductView
	require.NoError(t, decodeView(cache.raw("OrderProducts:O1"), schemaOrderProductList, &list))
	assert.Len(t, list, 2)
	assert.Equal(t, time.Minute, cache.ttls["OrderProducts:O1"], "patch must not reset the ttl")
}

func TestPatchList_ExpiredBeforeWriteStaysAbsent(t *testing.T) {
	cache := newMapCache()
	rm := NewReadModel(cache, ReadModelOptions{ListViewTTL: time.Minute})
	ctx := context.Background()
	require.True(t, rm.put(ctx, viewAllOrders, "AllOrders", schemaOrderList, []OrderView{{ID: "O1"}}, time.Minute))
	cache.beforeReplace = func(c *mapCache) { c.expire("AllOrders") }

	patchList(ctx, rm, viewAllOrders, "AllOrders", schemaOrderList,
		replace(OrderView{ID: "O1", Status: "Shipped"}, func(v OrderView) bool { return v.ID == "O1" }))
	assert.False(t, cache.has("AllOrders"), "an expired list must not be recreated by a patch")
	assert.Equal(t, 1, cache.sets)
}

func TestPatchList_ReplaceFailureEvicts(t *testing.T) {
	cache := newMapCache()
	rm := NewReadModel(cache, ReadModelOptions{})
	ctx := context.Background()
	require.True(t, rm.put(ctx, viewAllOrders, "AllOrders", schemaOrderList, []OrderView{{ID: "O1"}}, time.Minute))
	cache.beforeReplace = func(c *mapCache) {
		c.mu.Lock()
		c.failSet = errors.New("redis down")
		c.mu.Unlock()
	}

	patchList(ctx, rm, viewAllOrders, "AllOrders", schemaOrderList, without(func(v OrderView) bool { return v.ID == "O1" }))
	assert.False(t, cache.has("AllOrders"))
}

func TestPatchList_UndecodableIsEvicted(t *testing.T) {
	cache := newMapCache()
	rm := NewReadModel(cache, ReadModelOptions{})
	cache.put("AllOrders", []byte(`{"schema":"order-list.v0","data":[]}`))

	patchList(context.Background(), rm, viewAllOrders, "AllOrders", schemaOrderList,
		replace(OrderView{ID: "O1"}, func(v OrderView) bool { return v.ID == "O1" }))
	assert.False(t, cache.has("AllOrders"))
}

func TestPatchList_LockFailureEvicts(t *testing.T) {
	cache := newMapCache()
	rm := NewReadModel(cache, ReadModelOptions{Locker: failingLocker{}})
	ctx := context.Background()
	require.True(t, rm.put(ctx, viewAllOrders, "AllOrders", schemaOrderList, []OrderView{{ID: "O1"}}, time.Minute))

	patchList(ctx, rm, viewAllOrders, "AllOrders", schemaOrderList,
		replace(OrderView{ID: "O1", Status: "Shipped"}, func(v OrderView) bool { return v.ID == "O1" }))
	assert.False(t, cache.has("AllOrders"))
}

func TestPatchList_RemovingLastElementLeavesEmptyList(t *testing.T) {
	cache := newMapCache()
	rm := NewReadModel(cache, ReadModelOptions{})
	ctx := context.Background()
	require.True(t, rm.put(ctx, viewOrderProductList, "OrderProducts:O1", schemaOrderProductList, []OrderProductView{{ProductID: "P1"}}, time.Minute))

	patchList(ctx, rm, viewOrderProductList, "OrderProducts:O1", schemaOrderProductList, without(sameProduct("P1")))
	assert.JSONEq(t, `{"schema":"order-product-list.v1","data":[]}`, string(cache.raw("OrderProducts:O1")))
}

func TestListMutators(t *testing.T) {
	match := func(id string) func(OrderView) bool { return func(v OrderView) bool { return v.ID == id } }
	list := []OrderView{{ID: "a"}, {ID: "b"}}

	assert.Equal(t, []OrderView{{ID: "a"}, {ID: "b"}, {ID: "c"}}, upsert(OrderView{ID: "c"}, match("c"))(append([]OrderView(nil), list...)))
	assert.Equal(t, []OrderView{{ID: "a", Status: "Shipped"}, {ID: "b"}}, upsert(OrderView{ID: "a", Status: "Shipped"}, match("a"))(append([]OrderView(nil), list...)))
	assert.Equal(t, list, replace(OrderView{ID: "z"}, match("z"))(append([]OrderView(nil), list...)))
	assert.Equal(t, []OrderView{{ID: "b"}}, without(match("a"))(append([]OrderView(nil), list...)))
}

func TestLoadView_CollapsesConcurrentMisses(t *testing.T) {
	cache := newMapCache()
	rm := NewReadModel(cache, ReadModelOptions{ViewTTL: time.Minute})
	var builds int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := loadView(context.Background(), rm, viewOrder, "Order:O1", schemaOrder, time.Minute,
				func(context.Context) (OrderView, error) {
					atomic.AddInt32(&builds, 1)
					<-release
					return OrderView{ID: "O1"}, nil
				})
			assert.NoError(t, err)
			assert.Equal(t, "O1", v.ID)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))
	assert.True(t, cache.has("Order:O1"))
}

func TestLoadView_LeaderCancellationDoesNotFailFollowers(t *testing.T) {
	cache := newMapCache()
	rm := NewReadModel(cache, ReadModelOptions{ViewTTL: time.Minute})
	var builds int32
	started := make(chan struct{})
	release := make(chan struct{})
	buildErr := make(chan error, 1)
	build := func(ctx context.Context) (OrderView, error) {
		if atomic.AddInt32(&builds, 1) == 1 {
			close(started)
		}
		<-release
		buildErr <- ctx.Err()
		return OrderView{ID: "O1"}, nil
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := loadView(leaderCtx, rm, viewOrder, "Order:O1", schemaOrder, time.Minute, build)
		leaderDone <- err
	}()
	<-started

	followerDone := make(chan error, 1)
	var follower OrderView
	go func() {
		var err error
		follower, err = loadView(context.Background(), rm, viewOrder, "Order:O1", schemaOrder, time.Minute, build)
		followerDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	err := <-leaderDone
	assert.True(t, errors.Is(err, domain.ErrCancelled), "got %v", err)

	close(release)
	require.NoError(t, <-followerDone)
	assert.Equal(t, "O1", follower.ID)
	assert.NoError(t, <-buildErr, "the shared build must not see the leader's cancellation")
	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))
	assert.True(t, cache.has("Order:O1"))
}

func TestReadModelMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	cache := newMapCache()
	rm := NewReadModel(cache, ReadModelOptions{ViewTTL: time.Minute, Metrics: m})
	ctx := context.Background()
	build := func(context.Context) (OrderView, error) { return OrderView{ID: "O1"}, nil }

	_, err := loadView(ctx, rm, viewOrder, "Order:O1", schemaOrder, time.Minute, build)
	require.NoError(t, err)
	_, err = loadView(ctx, rm, viewOrder, "Order:O1", schemaOrder, time.Minute, build)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	results := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "orderhub_view_cache_lookups_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "result" {
					results[l.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{"miss": 1, "hit": 1}, results)
}
