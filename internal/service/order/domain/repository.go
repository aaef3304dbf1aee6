// internal/service/order/domain/repository.go
package domain

import "context"

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。找不到记录时返回 ErrNotFound。
type OrderRepository interface {
	Create(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindAll(ctx context.Context) ([]*Order, error)
	FindByCustomer(ctx context.Context, customerID string) ([]*Order, error)

	// UpdateStatus 只更新状态字段。
	UpdateStatus(ctx context.Context, id string, status Status) error
}

// OrderProductRepository 是商品行的持久化接口。
// 重复插入同一 (orderID, productID) 时返回 ErrInvalidState。
type OrderProductRepository interface {
	Create(ctx context.Context, line *OrderProduct) error
	Find(ctx context.Context, orderID, productID string) (*OrderProduct, error)
	FindByOrder(ctx context.Context, orderID string) ([]*OrderProduct, error)
	UpdateQuantity(ctx context.Context, orderID, productID string, quantity int) error
	Delete(ctx context.Context, orderID, productID string) error
}
