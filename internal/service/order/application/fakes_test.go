package application

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"orderhub/internal/service/order/domain"
	"orderhub/internal/service/order/domain/port"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace/noop"
)

type memOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	failWrite error
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]domain.Order)}
}

func (r *memOrderRepo) Create(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite != nil {
		return r.failWrite
	}
	if _, ok := r.orders[o.ID]; ok {
		return errors.WithMessage(domain.ErrInvalidState, "duplicate order")
	}
	r.orders[o.ID] = *o
	return nil
}

func (r *memOrderRepo) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, errors.WithMessagef(domain.ErrNotFound, "order %s", id)
	}
	return &o, nil
}

func (r *memOrderRepo) FindAll(_ context.Context) ([]*domain.Order, error) {
	return r.filter(func(domain.Order) bool { return true }), nil
}

func (r *memOrderRepo) FindByCustomer(_ context.Context, customerID string) ([]*domain.Order, error) {
	return r.filter(func(o domain.Order) bool { return o.CustomerID == customerID }), nil
}

func (r *memOrderRepo) filter(keep func(domain.Order) bool) []*domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if keep(o) {
			o := o
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memOrderRepo) UpdateStatus(_ context.Context, id string, status domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite != nil {
		return r.failWrite
	}
	o, ok := r.orders[id]
	if !ok {
		return errors.WithMessagef(domain.ErrNotFound, "order %s", id)
	}
	o.Status = status
	r.orders[id] = o
	return nil
}

// put 直接写入一条订单，绕过状态校验
func (r *memOrderRepo) put(o domain.Order) {
	r.mu.Lock()
	r.orders[o.ID] = o
	r.mu.Unlock()
}

type lineKey struct{ orderID, productID string }

type memProductRepo struct {
	mu        sync.Mutex
	lines     map[lineKey]domain.OrderProduct
	failWrite error
}

func newMemProductRepo() *memProductRepo {
	return &memProductRepo{lines: make(map[lineKey]domain.OrderProduct)}
}

func (r *memProductRepo) Create(_ context.Context, p *domain.OrderProduct) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite != nil {
		return r.failWrite
	}
	k := lineKey{p.OrderID, p.ProductID}
	if _, ok := r.lines[k]; ok {
		return errors.WithMessage(domain.ErrInvalidState, "duplicate line")
	}
	r.lines[k] = *p
	return nil
}

func (r *memProductRepo) Find(_ context.Context, orderID, productID string) (*domain.OrderProduct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.lines[lineKey{orderID, productID}]
	if !ok {
		return nil, errors.WithMessagef(domain.ErrNotFound, "product %s of order %s", productID, orderID)
	}
	return &p, nil
}

func (r *memProductRepo) FindByOrder(_ context.Context, orderID string) ([]*domain.OrderProduct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.OrderProduct
	for k, p := range r.lines {
		if k.orderID == orderID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (r *memProductRepo) UpdateQuantity(_ context.Context, orderID, productID string, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite != nil {
		return r.failWrite
	}
	k := lineKey{orderID, productID}
	p, ok := r.lines[k]
	if !ok {
		return errors.WithMessage(domain.ErrNotFound, "line")
	}
	p.Quantity = quantity
	r.lines[k] = p
	return nil
}

func (r *memProductRepo) Delete(_ context.Context, orderID, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite != nil {
		return r.failWrite
	}
	k := lineKey{orderID, productID}
	if _, ok := r.lines[k]; !ok {
		return errors.WithMessage(domain.ErrNotFound, "line")
	}
	delete(r.lines, k)
	return nil
}

type inventoryCall struct {
	Op        port.InventoryOperation
	ProductID string
	Delta     int
}

// fakeInventory 按顺序返回预设的应答，没有预设时返回 available + names 中的商品名。
type fakeInventory struct {
	mu      sync.Mutex
	calls   []inventoryCall
	replies []port.InventoryReply
	names   map[string]string
	err     error
	block   bool // 阻塞直到 ctx 结束
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{names: map[string]string{}}
}

func (f *fakeInventory) Call(ctx context.Context, op port.InventoryOperation, productID string, delta int) (port.InventoryReply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inventoryCall{Op: op, ProductID: productID, Delta: delta})
	block, err := f.block, f.err
	var reply port.InventoryReply
	if len(f.replies) > 0 {
		reply, f.replies = f.replies[0], f.replies[1:]
	} else {
		reply = port.InventoryReply{Available: true, Name: f.names[productID]}
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return port.InventoryReply{}, errors.WithMessage(domain.ErrCancelled, ctx.Err().Error())
	}
	if err != nil {
		return port.InventoryReply{}, err
	}
	return reply, nil
}

func (f *fakeInventory) enqueue(replies ...port.InventoryReply) {
	f.mu.Lock()
	f.replies = append(f.replies, replies...)
	f.mu.Unlock()
}

func (f *fakeInventory) recorded() []inventoryCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]inventoryCall(nil), f.calls...)
}

// mapCache 是带故障注入的 port.ViewCache
type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration

	failGet error
	failSet error
	sets    int

	// beforeReplace 在 Replace 检查键之前执行，用来模拟读和写之间键过期
	beforeReplace func(c *mapCache)
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet != nil {
		return nil, false, c.failGet
	}
	v, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSet != nil {
		return c.failSet
	}
	c.sets++
	c.entries[key] = append([]byte(nil), value...)
	c.ttls[key] = ttl
	return nil
}

func (c *mapCache) Replace(_ context.Context, key string, value []byte) (bool, error) {
	c.mu.Lock()
	hook := c.beforeReplace
	c.mu.Unlock()
	if hook != nil {
		hook(c)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSet != nil {
		return false, c.failSet
	}
	if _, ok := c.entries[key]; !ok {
		return false, nil
	}
	c.sets++
	c.entries[key] = append([]byte(nil), value...)
	return true, nil
}

// expire 模拟键到期被删除
func (c *mapCache) expire(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	delete(c.ttls, key)
}

func (c *mapCache) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	delete(c.ttls, key)
	return nil
}

func (c *mapCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

func (c *mapCache) raw(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key]
}

func (c *mapCache) put(key string, value []byte) {
	c.mu.Lock()
	c.entries[key] = value
	c.mu.Unlock()
}

type fixture struct {
	orders    *memOrderRepo
	products  *memProductRepo
	inventory *fakeInventory
	cache     *mapCache
	views     *ReadModel

	orderSvc   *OrderService
	productSvc *OrderProductService
}

const (
	testViewTTL = 10 * time.Minute
	testListTTL = 30 * time.Second
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:    newMemOrderRepo(),
		products:  newMemProductRepo(),
		inventory: newFakeInventory(),
		cache:     newMapCache(),
	}
	f.views = NewReadModel(f.cache, ReadModelOptions{
		ViewTTL:      testViewTTL,
		ListViewTTL:  testListTTL,
		PatchTimeout: time.Second,
	})
	tracer := noop.NewTracerProvider().Tracer("test")
	f.orderSvc = NewOrderService(f.orders, f.views, tracer)
	f.productSvc = NewOrderProductService(f.orders, f.products, f.inventory, f.views, tracer)

	seq := 0
	f.orderSvc.newID = func() string {
		seq++
		return "O" + string(rune('0'+seq))
	}
	f.orderSvc.now = func() time.Time {
		return time.Date(2024, 5, 1, 10, 30, 0, 123456789, time.FixedZone("CST", 8*3600))
	}
	return f
}
