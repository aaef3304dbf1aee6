// internal/service/order/domain/event.go
package domain

// OrderStatusChanged 由履约侧（如发货服务）发布到 order-status-events，
// 订单服务消费后推进订单状态。
type OrderStatusChanged struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}
