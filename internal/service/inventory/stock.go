// internal/service/inventory/stock.go
package inventory

import (
	"context"
	"fmt"

	"orderhub/internal/pkg/redis"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

var ErrUnknownProduct = errors.New("unknown product")

const (
	takeScriptName = "inventory_take"
	giveScriptName = "inventory_give"
)

// Operation 与请求 topic 一一对应
type Operation string

const (
	OpReserve Operation = "reserve"
	OpAdjust  Operation = "adjust"
	OpRelease Operation = "release"
)

// Result 是一次库存操作的结果。商品不存在时 Available=false 且 Name 为空。
type Result struct {
	Available bool
	Name      string
}

// StockStore 把库存保存在 Redis 哈希中，所有变更都通过 Lua 脚本原子执行。
type StockStore struct {
	redisClient *redis.Client
}

// NewStockStore 在创建时加载所有需要的 Lua 脚本。
func NewStockStore(redisClient *redis.Client) (*StockStore, error) {
	if err := redisClient.LoadScriptFromContent(takeScriptName, takeScript); err != nil {
		return nil, errors.Wrap(err, "failed to load inventory take script")
	}
	if err := redisClient.LoadScriptFromContent(giveScriptName, giveScript); err != nil {
		return nil, errors.Wrap(err, "failed to load inventory give script")
	}
	return &StockStore{redisClient: redisClient}, nil
}

func productKey(productID string) string {
	return fmt.Sprintf("inventory:product:{%s}", productID)
}

// Apply 执行一次库存操作：
//   - reserve: delta 必须为正，库存足够时扣减
//   - adjust: delta 为正时扣减，否则归还 -delta
//   - release: delta 不能为负，归还 delta
func (s *StockStore) Apply(ctx context.Context, op Operation, productID string, delta int) (Result, error) {
	switch op {
	case OpReserve:
		if delta <= 0 {
			return s.describe(ctx, productID)
		}
		return s.run(ctx, takeScriptName, productID, delta)
	case OpAdjust:
		if delta > 0 {
			return s.run(ctx, takeScriptName, productID, delta)
		}
		return s.run(ctx, giveScriptName, productID, -delta)
	case OpRelease:
		if delta < 0 {
			return s.describe(ctx, productID)
		}
		return s.run(ctx, giveScriptName, productID, delta)
	}
	return Result{}, errors.Errorf("unknown inventory operation %q", op)
}

func (s *StockStore) run(ctx context.Context, script, productID string, amount int) (Result, error) {
	res, err := s.redisClient.RunScript(ctx, script, []string{productKey(productID)}, amount)
	if err != nil {
		return Result{}, errors.Wrapf(err, "run %s for %s", script, productID)
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return Result{}, errors.Errorf("unexpected result from %s: %#v", script, res)
	}
	code, ok := values[0].(int64)
	if !ok {
		return Result{}, errors.Errorf("unexpected result code type from %s: %T", script, values[0])
	}
	name, _ := values[1].(string)
	return Result{Available: code == 1, Name: name}, nil
}

// describe 用于被拒绝的请求：不修改库存，只带回商品名。
func (s *StockStore) describe(ctx context.Context, productID string) (Result, error) {
	name, err := s.redisClient.GetClient().HGet(ctx, productKey(productID), "name").Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return Result{}, errors.Wrapf(err, "load product %s", productID)
	}
	return Result{Available: false, Name: name}, nil
}

// PrepareProduct (初始化和测试用) 写入商品名和库存
func (s *StockStore) PrepareProduct(ctx context.Context, productID, name string, stock int) error {
	pipe := s.redisClient.GetClient().Pipeline()
	pipe.HSet(ctx, productKey(productID), "name", name, "stock", stock)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "failed to prepare product %s", productID)
	}
	return nil
}

// Stock 返回当前库存，商品不存在时返回 ErrUnknownProduct。
func (s *StockStore) Stock(ctx context.Context, productID string) (int, error) {
	stock, err := s.redisClient.GetClient().HGet(ctx, productKey(productID), "stock").Int()
	if errors.Is(err, goredis.Nil) {
		return 0, errors.WithMessage(ErrUnknownProduct, productID)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "load stock of %s", productID)
	}
	return stock, nil
}

// KEYS[1]: 商品哈希, 例如: inventory:product:{P1}
// ARGV[1]: 需要扣减的数量 (> 0)
// 返回 {1, name} 表示成功, {0, name} 表示库存不足或商品不存在
var takeScript = `
if redis.call('exists', KEYS[1]) == 0 then
    return {0, ''}
end
local name = redis.call('hget', KEYS[1], 'name') or ''
local stock = tonumber(redis.call('hget', KEYS[1], 'stock')) or 0
local amount = tonumber(ARGV[1])
if stock < amount then
    return {0, name}
end
redis.call('hincrby', KEYS[1], 'stock', -amount)
return {1, name}
`

// KEYS[1]: 商品哈希
// ARGV[1]: 归还的数量 (>= 0)
var giveScript = `
if redis.call('exists', KEYS[1]) == 0 then
    return {0, ''}
end
local name = redis.call('hget', KEYS[1], 'name') or ''
redis.call('hincrby', KEYS[1], 'stock', tonumber(ARGV[1]))
return {1, name}
`
