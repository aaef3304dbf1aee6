// internal/service/order/domain/state.go
package domain

import "github.com/pkg/errors"

// Status 定义了订单的生命周期状态
type Status string

const (
	StatusProcessing Status = "Processing" // 唯一的初始状态，只有此状态下可以修改商品行
	StatusShipped    Status = "Shipped"    // 已发货
	StatusDelivered  Status = "Delivered"  // 已签收，终态
)

// transitions 是允许的状态流转表，只能向前推进。
var transitions = map[Status]Status{
	StatusProcessing: StatusShipped,
	StatusShipped:    StatusDelivered,
}

func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusShipped, StatusDelivered:
		return true
	}
	return false
}

// ParseStatus 解析外部输入的状态值（区分大小写）。
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", errors.WithMessagef(ErrInvalidArgument, "unknown order status %q", raw)
	}
	return s, nil
}

// CanTransition 判断 from -> to 是否合法。相同状态视为幂等，返回 true。
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	next, ok := transitions[from]
	return ok && next == to
}
