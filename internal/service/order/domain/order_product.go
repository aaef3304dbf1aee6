package domain

import "github.com/pkg/errors"

// OrderProduct 是订单中的一个商品行，以 (ProductID, OrderID) 作为复合主键。
// Name 在加入订单时从库存服务的应答中获取，之后不再同步。
type OrderProduct struct {
	OrderID   string
	ProductID string
	Name      string
	Quantity  int
}

func NewOrderProduct(orderID, productID, name string, quantity int) (*OrderProduct, error) {
	if orderID == "" || productID == "" {
		return nil, errors.WithMessage(ErrInvalidArgument, "order id and product id are required")
	}
	if quantity <= 0 {
		return nil, errors.WithMessagef(ErrInvalidArgument, "quantity must be positive, got %d", quantity)
	}
	return &OrderProduct{
		OrderID:   orderID,
		ProductID: productID,
		Name:      name,
		Quantity:  quantity,
	}, nil
}
