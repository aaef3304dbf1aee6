package application

import (
	"context"
	"encoding/json"
	"time"

	"orderhub/internal/pkg/logger"
	"orderhub/internal/pkg/metrics"
	"orderhub/internal/service/order/domain/port"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

var errSchemaMismatch = errors.New("view schema mismatch")

// envelope 是缓存值的外层结构，Schema 不匹配的条目不会被解码。
type envelope struct {
	Schema string          `json:"schema"`
	Data   json.RawMessage `json:"data"`
}

func encodeView(schema string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s", schema)
	}
	return json.Marshal(envelope{Schema: schema, Data: data})
}

func decodeView(raw []byte, schema string, out any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errors.Wrap(err, "unmarshal envelope")
	}
	if env.Schema != schema {
		return errors.WithMessagef(errSchemaMismatch, "want %s, got %q", schema, env.Schema)
	}
	return errors.Wrapf(json.Unmarshal(env.Data, out), "unmarshal %s", schema)
}

type ReadModelOptions struct {
	ViewTTL      time.Duration // 单条视图
	ListViewTTL  time.Duration // 列表视图，也是列表允许的最大陈旧时间
	PatchTimeout time.Duration // 写库成功后修补缓存的时间上限
	BuildTimeout time.Duration // 未命中时从数据库构建视图的时间上限
	Locker       port.ViewLocker
	Metrics      *metrics.Metrics
}

// ReadModel 负责读穿透和写后修补。缓存故障只记录日志，不会让业务操作失败。
type ReadModel struct {
	cache port.ViewCache
	opts  ReadModelOptions
	group singleflight.Group
}

func NewReadModel(cache port.ViewCache, opts ReadModelOptions) *ReadModel {
	if opts.PatchTimeout <= 0 {
		opts.PatchTimeout = 2 * time.Second
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = 5 * time.Second
	}
	return &ReadModel{cache: cache, opts: opts}
}

// patchContext 返回一个不受调用方取消影响的 context。写库已经提交，修补必须做完。
func (rm *ReadModel) patchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), rm.opts.PatchTimeout)
}

// loadView 先查缓存，未命中时用 build 从数据库构建并回填。
// 同一进程内对同一个 key 的并发未命中只会构建一次。构建运行在与调用方解耦、
// 以 BuildTimeout 为上限的 context 上，任何一个调用方取消都只影响它自己的等待。
func loadView[T any](ctx context.Context, rm *ReadModel, view, key, schema string, ttl time.Duration, build func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := lookupView[T](ctx, rm, view, key, schema); ok {
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return zero, cancelledOr(ctx, err)
	}

	ch := rm.group.DoChan(key, func() (interface{}, error) {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rm.opts.BuildTimeout)
		defer cancel()
		v, err := build(bctx)
		if err != nil {
			return nil, err
		}
		rm.put(bctx, view, key, schema, v, ttl)
		return v, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, cancelledOr(ctx, ctx.Err())
	}
}

func lookupView[T any](ctx context.Context, rm *ReadModel, view, key, schema string) (T, bool) {
	var zero T
	raw, found, err := rm.cache.Get(ctx, key)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache read failed, falling back to store")
		rm.opts.Metrics.CacheLookup(view, "error")
		return zero, false
	}
	if !found {
		rm.opts.Metrics.CacheLookup(view, "miss")
		return zero, false
	}

	var v T
	if err := decodeView(raw, schema, &v); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		rm.opts.Metrics.CacheLookup(view, "stale")
		rm.evict(ctx, key)
		return zero, false
	}
	rm.opts.Metrics.CacheLookup(view, "hit")
	return v, true
}

// put 无条件覆盖。写失败时尝试删除，让下一次读取重建。
func (rm *ReadModel) put(ctx context.Context, view, key, schema string, v any, ttl time.Duration) bool {
	raw, err := encodeView(schema, v)
	if err == nil {
		err = rm.cache.Set(ctx, key, raw, ttl)
	}
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("key", key).Str("view", view).Msg("cache write failed, evicting")
		rm.opts.Metrics.ViewPatch(view, "error")
		rm.evict(ctx, key)
		return false
	}
	return true
}

func (rm *ReadModel) evict(ctx context.Context, key string) {
	if err := rm.cache.Remove(ctx, key); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("key", key).Msg("cache evict failed, entry stays until ttl")
	}
}

func (rm *ReadModel) lock(ctx context.Context, key string) (func(), error) {
	if rm.opts.Locker == nil {
		return func() {}, nil
	}
	return rm.opts.Locker.Lock(ctx, key)
}

// patchList 只修补已经存在的列表视图，不存在时什么都不做。
// 修补通过 Replace 写回，保留原有的过期时间，列表的陈旧程度始终不超过 ListViewTTL。
func patchList[T any](ctx context.Context, rm *ReadModel, view, key, schema string, mutate func([]T) []T) {
	unlock, err := rm.lock(ctx, key)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("could not lock list view, evicting instead of patching")
		rm.opts.Metrics.ViewPatch(view, "error")
		rm.evict(ctx, key)
		return
	}
	defer unlock()

	raw, found, err := rm.cache.Get(ctx, key)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache read failed during patch, evicting")
		rm.opts.Metrics.ViewPatch(view, "error")
		rm.evict(ctx, key)
		return
	}
	if !found {
		rm.opts.Metrics.ViewPatch(view, "absent")
		return
	}

	var list []T
	if err := decodeView(raw, schema, &list); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("dropping undecodable list view")
		rm.opts.Metrics.ViewPatch(view, "stale")
		rm.evict(ctx, key)
		return
	}

	updated := mutate(list)
	if updated == nil {
		updated = []T{}
	}
	encoded, err := encodeView(schema, updated)
	if err == nil {
		var replaced bool
		replaced, err = rm.cache.Replace(ctx, key, encoded)
		if err == nil && !replaced {
			// 读和写之间列表已过期，保持不存在，等下次读取重建
			rm.opts.Metrics.ViewPatch(view, "absent")
			return
		}
	}
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("key", key).Str("view", view).Msg("cache write failed, evicting")
		rm.opts.Metrics.ViewPatch(view, "error")
		rm.evict(ctx, key)
		return
	}
	rm.opts.Metrics.ViewPatch(view, "patched")
	logger.Ctx(ctx).Debug().Str("key", key).Int("before", len(list)).Int("after", len(updated)).Msg("list view patched")
}

// upsert 按 match 替换第一个匹配的元素，没有匹配时追加。
func upsert[T any](item T, match func(T) bool) func([]T) []T {
	return func(list []T) []T {
		for i := range list {
			if match(list[i]) {
				list[i] = item
				return list
			}
		}
		return append(list, item)
	}
}

// replace 只替换已存在的元素，没有匹配时列表不变。
func replace[T any](item T, match func(T) bool) func([]T) []T {
	return func(list []T) []T {
		for i := range list {
			if match(list[i]) {
				list[i] = item
			}
		}
		return list
	}
}

func without[T any](match func(T) bool) func([]T) []T {
	return func(list []T) []T {
		out := list[:0]
		for _, v := range list {
			if !match(v) {
				out = append(out, v)
			}
		}
		return out
	}
}
