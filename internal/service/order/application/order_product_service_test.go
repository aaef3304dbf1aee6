package application

import (
	"context"
	"testing"
	"time"

	"orderhub/internal/service/order/domain"
	"orderhub/internal/service/order/domain/port"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func seedOrder(f *fixture, id string, status domain.Status) {
	f.orders.put(domain.Order{
		ID:         id,
		CustomerID: "C1",
		Status:     status,
		CreatedAt:  domain.NormalizeTime(time.Now()),
	})
}

func TestAddProduct_ThenListShowsNameAndQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedOrder(f, "O1", domain.StatusProcessing)
	f.inventory.names["P1"] = "Widget"

	added, err := f.productSvc.AddProduct(ctx, "O1", "P1", 5)
	require.NoError(t, err)
	assert.Equal(t, OrderProductView{ProductID: "P1", OrderID: "O1", Name: "Widget", Quantity: 5}, *added)

	lines, err := f.productSvc.GetProducts(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "Widget", lines[0].Name)
	assert.Equal(t, 5, lines[0].Quantity)

	assert.Equal(t, []inventoryCall{{Op: port.InventoryReserve, ProductID: "P1", Delta: 5}}, f.inventory.recorded())
	assert.True(t, f.cache.has(orderProductKey("O1", "P1")))
	assert.Equal(t, testViewTTL, f.cache.ttls[orderProductKey("O1", "P1")])
}

func TestAddProduct_RejectedWhenOrderNotProcessing(t *testing.T) {
	for _, status := range []domain.Status{domain.StatusShipped, domain.StatusDelivered} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			seedOrder(f, "O1", status)

			_, err := f.productSvc.AddProduct(context.Background(), "O1", "P2", 1)
			assert.True(t, errors.Is(err, domain.ErrInvalidState), "got %v", err)
			assert.Empty(t, f.inventory.recorded(), "inventory must not be touched")
		})
	}
}

func TestAddProduct_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.productSvc.AddProduct(context.Background(), "nope", "P1", 1)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
	assert.Empty(t, f.inventory.recorded())
}

func TestAddProduct_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedOrder(f, "O1", domain.StatusProcessing)

	_, err := f.productSvc.AddProduct(ctx, "O1", "P1", 2)
	require.NoError(t, err)

	_, err = f.productSvc.AddProduct(ctx, "O1", "P1", 3)
	assert.True(t, errors.Is(err, domain.ErrInvalidState), "got %v", err)
	assert.Len(t, f.inventory.recorded(), 1, "second add must not reserve")
}

func TestAddProduct_InvalidArguments(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, "O1", domain.StatusProcessing)

	_, err := f.productSvc.AddProduct(context.Background(), "O1", "P1", 0)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	_, err = f.productSvc.AddProduct(context.Background(), "O1", "", 1)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestAddProduct_InvalidLineFailsSpanBeforeReserving(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, "O1", domain.StatusProcessing)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	svc := NewOrderProductService(f.orders, f.products, f.inventory, f.views, tp.Tracer("test"))
	ctx := context.Background()

	_, err := svc.AddProduct(ctx, "", "P1", 1)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument), "got %v", err)
	_, err = svc.AddProduct(ctx, "O1", "P1", 0)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument), "got %v", err)
	assert.Empty(t, f.inventory.recorded(), "nothing may be reserved for an invalid line")

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.Equal(t, "app.AddProduct", span.Name())
		assert.Equal(t, codes.Error, span.Status().Code)
		require.NotEmpty(t, span.Events())
		assert.Equal(t, "exception", span.Events()[0].Name)
	}
}

func TestAddProduct_InventoryUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedOrder(f, "O1", domain.StatusProcessing)
	f.inventory.enqueue(port.InventoryReply{Available: false, Name: "Sprocket"})

	_, err := f.productSvc.AddProduct(ctx, "O1", "P3", 1)
	assert.True(t, errors.Is(err, domain.ErrInventoryUnavailable), "got %v", err)

	_, err = f.productSvc.GetProduct(ctx, "O1", "P3")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestAddProduct_WriteFailureReleasesReservation(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, "O1", domain.StatusProcessing)
	f.products.failWrite = errors.New("db down")

	_, err := f.productSvc.AddProduct(context.Background(), "O1", "P1", 4)
	require.Error(t, err)
	assert.Equal(t, []inventoryCall{
		{Op: port.InventoryReserve, ProductID: "P1", Delta: 4},
		{Op: port.InventoryRelease, ProductID: "P1", Delta: 4},
	}, f.inventory.recorded())
}

func TestAddProduct_PatchesCachedList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedOrder(f, "O1", domain.StatusProcessing)
	f.inventory.names["P1"] = "Widget"
	f.inventory.names["P2"] = "Gadget"

	_, err := f.productSvc.AddProduct(ctx, "O1", "P1", 1)
	require.NoError(t, err)
	// 列表视图第一次读取时才会建立
	_, err = f.productSvc.GetProducts(ctx, "O1")
	require.NoError(t, err)

	_, err = f.productSvc.AddProduct(ctx, "O1", "P2", 2)
	require.NoError(t, err)

	var cached []OrderProductView
	require.NoError(t, decodeView(f.cache.raw(orderProductsKey("O1")), schemaOrderProductList, &cached))
	assert.ElementsMatch(t, []OrderProductView{
		{ProductID: "P1", OrderID: "O1", Name: "Widget", Quantity: 1},
		{ProductID: "P2", OrderID: "O1", Name: "Gadget", Quantity: 2},
	}, cached)
}

func TestUpdateProduct_AdjustsByDifference(t *testing.T) {
	cases := []struct {
		name     string
		from, to int
		delta    int
	}{
		{"grow", 5, 7, 2},
		{"shrink", 5, 2, -3},
		{"same", 5, 5, 0},
		{"to zero", 5, 0, -5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			seedOrder(f, "O1", domain.StatusProcessing)
			_, err := f.productSvc.AddProduct(ctx, "O1", "P1", tc.from)
			require.NoError(t, err)

			updated, err := f.productSvc.UpdateProduct(ctx, "O1", "P1", tc.to)
			require.NoError(t, err)
			assert.Equal(t, tc.to, updated.Quantity)

			calls := f.inventory.recorded()
			require.Len(t, calls, 2)
			assert.Equal(t, inventoryCall{Op: port.InventoryAdjust, ProductID: "P1", Delta: tc.delta}, calls[1])

			got, err := f.productSvc.GetProduct(ctx, "O1", "P1")
			require.NoError(t, err)
			assert.Equal(t, tc.to, got.Quantity)
		})
	}
}

func TestUpdateProduct_UnavailableKeepsQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedOrder(f, "O1", domain.StatusProcessing)
	f.inventory.names["P1"] = "Widget"
	_, err := f.productSvc.AddProduct(ctx, "O1", "P1", 5)
	require.NoError(t, err)

	f.inventory.enqueue(port.InventoryReply{Available: false})
	_, err = f.productSvc.UpdateProduct(ctx, "O1", "P1", 500)
	assert.True(t, errors.Is(err, domain.ErrInventoryUnavailable), "got %v", err)

	got, err := f.productSvc.GetProduct(ctx, "O1", "P1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Quantity)

	stored, err := f.products.Find(ctx, "O1", "P1")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Quantity)
}

func TestUpdateProduct_WriteFailureCompensates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedOrder(f, "O1", domain.StatusProcessing)
	_, err := f.productSvc.AddProduct(ctx, "O1", "P1", 5)
	require.NoError(t, err)

	f.products.failWrite = errors.New("db down")
	_, err = f.productSvc.UpdateProduct(ctx, "O1", "P1", 8)
	require.Error(t, err)

	calls := f.inventory.recorded()
	require.Len(t, calls, 3)
	assert.Equal(t, inventoryCall{Op: port.InventoryAdjust, ProductID: "P1", Delta: 3}, calls[1])
	assert.Equal(t, inventoryCall{Op: port.InventoryAdjust, ProductID: "P1", Delta: -3}, calls[2])
}

func TestUpdateProduct_MissingLine(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, "O1", domain.StatusProcessing)

	_, err := f.productSvc.UpdateProduct(context.Background(), "O1", "P9", 1)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Empty(t, f.inventory.recorded())
}

func TestUpdateProduct_NegativeQuantity(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, "O1", domain.StatusProcessing)

	_, err := f.productSvc.UpdateProduct(context.Background(), "O1", "P1", -1)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestRemoveProduct_ReleasesAndEvicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedOrder(f, "O1", domain.StatusProcessing)
	_, err := f.productSvc.AddProduct(ctx, "O1", "P1", 5)
	require.NoError(t, err)
	_, err = f.productSvc.AddProduct(ctx, "O1", "P2", 1)
	require.NoError(t, err)
	_, err = f.productSvc.GetProducts(ctx, "O1")
	require.NoError(t, err)

	removed, err := f.productSvc.RemoveProduct(ctx, "O1", "P1")
	require.NoError(t, err)
	assert.True(t, removed)

	calls := f.inventory.recorded()
	assert.Equal(t, inventoryCall{Op: port.InventoryRelease, ProductID: "P1", Delta: 5}, calls[len(calls)-1])

	lines, err := f.productSvc.GetProducts(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "P2", lines[0].ProductID)

	_, err = f.productSvc.GetProduct(ctx, "O1", "P1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.False(t, f.cache.has(orderProductKey("O1", "P1")))
}

func TestRemoveProduct_MissingLine(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, "O1", domain.StatusProcessing)

	removed, err := f.productSvc.RemoveProduct(context.Background(), "O1", "P1")
	assert.False(t, removed)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Empty(t, f.inventory.recorded())
}

func TestRemoveProduct_WriteFailureReReserves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedOrder(f, "O1", domain.StatusProcessing)
	_, err := f.productSvc.AddProduct(ctx, "O1", "P1", 5)
	require.NoError(t, err)

	f.products.failWrite = errors.New("db down")
	removed, err := f.productSvc.RemoveProduct(ctx, "O1", "P1")
	require.Error(t, err)
	assert.False(t, removed)

	calls := f.inventory.recorded()
	require.Len(t, calls, 3)
	assert.Equal(t, inventoryCall{Op: port.InventoryReserve, ProductID: "P1", Delta: 5}, calls[2])
}

func TestGetProducts_EmptyOrderIsEmptyList(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, "O1", domain.StatusProcessing)

	lines, err := f.productSvc.GetProducts(context.Background(), "O1")
	require.NoError(t, err)
	assert.NotNil(t, lines)
	assert.Empty(t, lines)
	assert.Equal(t, testListTTL, f.cache.ttls[orderProductsKey("O1")])
}

func TestInventoryCancellation(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, "O1", domain.StatusProcessing)
	f.inventory.block = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.productSvc.AddProduct(ctx, "O1", "P1", 1)
	assert.True(t, errors.Is(err, domain.ErrCancelled), "got %v", err)

	_, err = f.products.Find(context.Background(), "O1", "P1")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "no line may be written")
}

func TestAlreadyCancelledContext(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, "O1", domain.StatusProcessing)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.productSvc.AddProduct(ctx, "O1", "P1", 1)
	assert.True(t, errors.Is(err, domain.ErrCancelled), "got %v", err)
	assert.Empty(t, f.inventory.recorded())
}

func TestCacheWriteFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedOrder(f, "O1", domain.StatusProcessing)
	f.cache.failSet = errors.New("redis down")

	_, err := f.productSvc.AddProduct(ctx, "O1", "P1", 5)
	require.NoError(t, err)

	f.cache.failSet = nil
	got, err := f.productSvc.GetProduct(ctx, "O1", "P1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Quantity)
}

// 完整流程：加购 -> 发货 -> 签收 -> 签收后不允许再修改商品
func TestOrderLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.inventory.names["P1"] = "Widget"

	order, err := f.orderSvc.CreateOrder(ctx, "C1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, order.Status)

	_, err = f.productSvc.AddProduct(ctx, order.ID, "P1", 5)
	require.NoError(t, err)
	lines, err := f.productSvc.GetProducts(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, []OrderProductView{{ProductID: "P1", OrderID: order.ID, Name: "Widget", Quantity: 5}}, lines)

	_, err = f.orderSvc.UpdateOrderStatus(ctx, order.ID, domain.StatusShipped)
	require.NoError(t, err)
	_, err = f.orderSvc.UpdateOrderStatus(ctx, order.ID, domain.StatusDelivered)
	require.NoError(t, err)

	_, err = f.productSvc.AddProduct(ctx, order.ID, "P2", 1)
	assert.True(t, errors.Is(err, domain.ErrInvalidState), "got %v", err)
	_, err = f.productSvc.UpdateProduct(ctx, order.ID, "P1", 1)
	assert.True(t, errors.Is(err, domain.ErrInvalidState), "got %v", err)
	_, err = f.productSvc.RemoveProduct(ctx, order.ID, "P1")
	assert.True(t, errors.Is(err, domain.ErrInvalidState), "got %v", err)
}
