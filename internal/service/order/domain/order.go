// internal/service/order/domain/order.go
package domain

import (
	"time"

	"github.com/pkg/errors"
)

// Order 是订单聚合的根实体，订单从不删除。
type Order struct {
	ID         string
	CustomerID string
	Status     Status
	CreatedAt  time.Time // UTC，毫秒精度
}

// NewOrder 用于创建一个新的订单实例。initial 为空时使用 Processing，
// 其他任何初始状态都会被拒绝。
func NewOrder(id, customerID string, initial Status, now time.Time) (*Order, error) {
	if id == "" || customerID == "" {
		return nil, errors.WithMessage(ErrInvalidArgument, "order id and customer id are required")
	}
	if initial == "" {
		initial = StatusProcessing
	}
	if initial != StatusProcessing {
		return nil, errors.WithMessagef(ErrInvalidState, "order must start in %s, got %s", StatusProcessing, initial)
	}
	return &Order{
		ID:         id,
		CustomerID: customerID,
		Status:     initial,
		CreatedAt:  NormalizeTime(now),
	}, nil
}

// TransitionTo 推进订单状态。changed 为 false 表示目标状态与当前相同，不需要写库。
func (o *Order) TransitionTo(next Status) (changed bool, err error) {
	if !next.Valid() {
		return false, errors.WithMessagef(ErrInvalidArgument, "unknown order status %q", next)
	}
	if !CanTransition(o.Status, next) {
		return false, errors.WithMessagef(ErrInvalidState, "order %s cannot move from %s to %s", o.ID, o.Status, next)
	}
	if o.Status == next {
		return false, nil
	}
	o.Status = next
	return true, nil
}

// EnsureMutable 商品行只能在 Processing 状态下变更。
func (o *Order) EnsureMutable() error {
	if o.Status != StatusProcessing {
		return errors.WithMessagef(ErrInvalidState, "order %s is %s, products can only change while %s", o.ID, o.Status, StatusProcessing)
	}
	return nil
}

// NormalizeTime 统一为 UTC 并截断到毫秒，保证与数据库、缓存往返后一致。
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
