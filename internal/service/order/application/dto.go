// internal/service/order/application/dto.go
package application

import (
	"time"

	"orderhub/internal/service/order/domain"
)

// OrderView 是订单的读模型，也是缓存中保存的结构。
type OrderView struct {
	ID         string        `json:"id"`
	CustomerID string        `json:"customerId"`
	Status     domain.Status `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// OrderProductView 是商品行的读模型。
type OrderProductView struct {
	ProductID string `json:"productId"`
	OrderID   string `json:"orderId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}

func toOrderView(o *domain.Order) OrderView {
	return OrderView{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		CreatedAt:  domain.NormalizeTime(o.CreatedAt),
	}
}

func toOrderViews(orders []*domain.Order) []OrderView {
	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toOrderView(o))
	}
	return views
}

func toOrderProductView(p *domain.OrderProduct) OrderProductView {
	return OrderProductView{
		ProductID: p.ProductID,
		OrderID:   p.OrderID,
		Name:      p.Name,
		Quantity:  p.Quantity,
	}
}

func toOrderProductViews(lines []*domain.OrderProduct) []OrderProductView {
	views := make([]OrderProductView, 0, len(lines))
	for _, p := range lines {
		views = append(views, toOrderProductView(p))
	}
	return views
}
