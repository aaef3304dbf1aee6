package infrastructure

import (
	"context"

	"orderhub/internal/service/order/domain"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// translate 把 GORM 的错误映射为领域错误，其他错误带上操作描述返回。
// 需要在 gorm.Config 中开启 TranslateError 才能识别主键冲突。
func translate(err error, format string, args ...interface{}) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.WithMessagef(domain.ErrNotFound, format, args...)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.WithMessagef(domain.ErrInvalidState, format, args...)
	default:
		return errors.Wrapf(err, format, args...)
	}
}

// GormOrderRepository 是 domain.OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	err := r.db.WithContext(ctx).Create(FromDomainOrder(order)).Error
	return translate(err, "create order %s", order.ID)
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		return nil, translate(err, "order %s", id)
	}
	return ToDomainOrder(&model), nil
}

func (r *GormOrderRepository) FindAll(ctx context.Context) ([]*domain.Order, error) {
	var models []OrderModel
	if err := r.db.WithContext(ctx).Order("created_at, id").Find(&models).Error; err != nil {
		return nil, translate(err, "list orders")
	}
	return toDomainOrders(models), nil
}

func (r *GormOrderRepository) FindByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at, id").
		Find(&models).Error
	if err != nil {
		return nil, translate(err, "list orders of customer %s", customerID)
	}
	return toDomainOrders(models), nil
}

// UpdateStatus 只更新 status 列。MySQL 连接开启了 ClientFoundRows，
// RowsAffected 为匹配行数，值未变化时也不会误判为不存在。
func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).Where("id = ?", id).Update("status", string(status))
	if res.Error != nil {
		return translate(res.Error, "update status of order %s", id)
	}
	if res.RowsAffected == 0 {
		return errors.WithMessagef(domain.ErrNotFound, "order %s", id)
	}
	return nil
}

func toDomainOrders(models []OrderModel) []*domain.Order {
	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		orders = append(orders, ToDomainOrder(&models[i]))
	}
	return orders
}

// GormOrderProductRepository 是 domain.OrderProductRepository 的 GORM 实现
type GormOrderProductRepository struct {
	db *gorm.DB
}

func NewGormOrderProductRepository(db *gorm.DB) *GormOrderProductRepository {
	return &GormOrderProductRepository{db: db}
}

func (r *GormOrderProductRepository) Create(ctx context.Context, line *domain.OrderProduct) error {
	err := r.db.WithContext(ctx).Create(FromDomainOrderProduct(line)).Error
	return translate(err, "product %s of order %s", line.ProductID, line.OrderID)
}

func (r *GormOrderProductRepository) Find(ctx context.Context, orderID, productID string) (*domain.OrderProduct, error) {
	var model OrderProductModel
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND product_id = ?", orderID, productID).
		First(&model).Error
	if err != nil {
		return nil, translate(err, "product %s of order %s", productID, orderID)
	}
	return ToDomainOrderProduct(&model), nil
}

func (r *GormOrderProductRepository) FindByOrder(ctx context.Context, orderID string) ([]*domain.OrderProduct, error) {
	var models []OrderProductModel
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("product_id").Find(&models).Error
	if err != nil {
		return nil, translate(err, "list products of order %s", orderID)
	}
	lines := make([]*domain.OrderProduct, 0, len(models))
	for i := range models {
		lines = append(lines, ToDomainOrderProduct(&models[i]))
	}
	return lines, nil
}

func (r *GormOrderProductRepository) UpdateQuantity(ctx context.Context, orderID, productID string, quantity int) error {
	res := r.db.WithContext(ctx).Model(&OrderProductModel{}).
		Where("order_id = ? AND product_id = ?", orderID, productID).
		Update("quantity", quantity)
	if res.Error != nil {
		return translate(res.Error, "update product %s of order %s", productID, orderID)
	}
	if res.RowsAffected == 0 {
		return errors.WithMessagef(domain.ErrNotFound, "product %s of order %s", productID, orderID)
	}
	return nil
}

func (r *GormOrderProductRepository) Delete(ctx context.Context, orderID, productID string) error {
	res := r.db.WithContext(ctx).
		Where("order_id = ? AND product_id = ?", orderID, productID).
		Delete(&OrderProductModel{})
	if res.Error != nil {
		return translate(res.Error, "delete product %s of order %s", productID, orderID)
	}
	if res.RowsAffected == 0 {
		return errors.WithMessagef(domain.ErrNotFound, "product %s of order %s", productID, orderID)
	}
	return nil
}
