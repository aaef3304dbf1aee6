package infrastructure

import "time"

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)"`
	CustomerID string    `gorm:"type:varchar(64);not null;index:idx_orders_customer"`
	Status     string    `gorm:"type:varchar(16);not null"`
	CreatedAt  time.Time `gorm:"precision:3;not null;index"`
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "orders"
}

// OrderProductModel 对应 order_products 表，(product_id, order_id) 为复合主键
type OrderProductModel struct {
	ProductID string `gorm:"primaryKey;type:varchar(64)"`
	OrderID   string `gorm:"primaryKey;type:varchar(36);index:idx_order_products_order"`
	Name      string `gorm:"type:varchar(255)"`
	Quantity  int    `gorm:"not null"`
}

func (OrderProductModel) TableName() string {
	return "order_products"
}
