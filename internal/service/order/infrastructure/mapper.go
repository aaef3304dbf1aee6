package infrastructure

import "orderhub/internal/service/order/domain"

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	return &domain.Order{
		ID:         model.ID,
		CustomerID: model.CustomerID,
		Status:     domain.Status(model.Status),
		CreatedAt:  domain.NormalizeTime(model.CreatedAt),
	}
}

func FromDomainOrder(order *domain.Order) *OrderModel {
	if order == nil {
		return nil
	}
	return &OrderModel{
		ID:         order.ID,
		CustomerID: order.CustomerID,
		Status:     string(order.Status),
		CreatedAt:  domain.NormalizeTime(order.CreatedAt),
	}
}

func ToDomainOrderProduct(model *OrderProductModel) *domain.OrderProduct {
	if model == nil {
		return nil
	}
	return &domain.OrderProduct{
		OrderID:   model.OrderID,
		ProductID: model.ProductID,
		Name:      model.Name,
		Quantity:  model.Quantity,
	}
}

func FromDomainOrderProduct(line *domain.OrderProduct) *OrderProductModel {
	if line == nil {
		return nil
	}
	return &OrderProductModel{
		ProductID: line.ProductID,
		OrderID:   line.OrderID,
		Name:      line.Name,
		Quantity:  line.Quantity,
	}
}
