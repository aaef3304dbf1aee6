package adapter

import (
	"context"

	"orderhub/internal/pkg/logger"
	"orderhub/internal/pkg/zookeeper"

	"github.com/go-zookeeper/zk"
)

// ZookeeperViewLocker 用 ZooKeeper 公平锁串行化多个实例对同一列表视图的读改写。
type ZookeeperViewLocker struct {
	conn *zk.Conn
}

func NewZookeeperViewLocker(conn *zk.Conn) *ZookeeperViewLocker {
	return &ZookeeperViewLocker{conn: conn}
}

func (l *ZookeeperViewLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := zookeeper.NewDistributedLock(l.conn, key)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("key", key).Msg("failed to release view lock")
		}
	}, nil
}
