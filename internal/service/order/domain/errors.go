package domain

import "github.com/pkg/errors"

// 业务错误，调用方通过 errors.Is 判断类型。
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidState         = errors.New("invalid state")
	ErrInventoryUnavailable = errors.New("inventory unavailable")
	ErrCancelled            = errors.New("operation cancelled")
	ErrInvalidArgument      = errors.New("invalid argument")
)
