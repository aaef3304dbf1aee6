package port

import (
	"context"
	"time"
)

// ViewCache 是读模型缓存的出站端口，值为已经序列化好的视图。
type ViewCache interface {
	// Get 返回 found=false 表示未命中，这不是错误。
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set 无条件覆盖。ttl <= 0 表示不过期。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Replace 只覆盖仍然存在的键，并保留它剩余的过期时间。
	// 键不存在或已过期时不写入，返回 replaced=false。
	Replace(ctx context.Context, key string, value []byte) (replaced bool, err error)
	Remove(ctx context.Context, key string) error
}

// ViewLocker 串行化同一个列表视图的读改写，返回的 unlock 必须调用。
type ViewLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
