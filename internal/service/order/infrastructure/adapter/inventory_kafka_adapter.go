package adapter

import (
	"context"
	"encoding/json"
	"time"

	"orderhub/internal/pkg/logger"
	"orderhub/internal/pkg/metrics"
	"orderhub/internal/pkg/mq"
	"orderhub/internal/service/order/domain"
	"orderhub/internal/service/order/domain/port"

	"github.com/pkg/errors"
)

// RPCCaller 是 *mq.RPCClient 的调用部分。
type RPCCaller interface {
	Call(ctx context.Context, topic string, key, payload []byte) ([]byte, error)
}

// InventoryTopics 三种操作各自的请求 topic
type InventoryTopics struct {
	Reserve string
	Adjust  string
	Release string
}

type inventoryRequest struct {
	ProductID     string `json:"productId"`
	QuantityDelta int    `json:"quantityDelta"`
}

type inventoryReply struct {
	IsAvailable bool   `json:"isAvailable"`
	Name        string `json:"name"`
}

// InventoryKafkaAdapter 实现了 port.InventoryService 接口，请求/应答走 Kafka。
// 连接由注入的 RPCCaller 持有，适配器本身不创建任何连接。
type InventoryKafkaAdapter struct {
	rpc     RPCCaller
	topics  InventoryTopics
	metrics *metrics.Metrics
}

func NewInventoryKafkaAdapter(rpc RPCCaller, topics InventoryTopics, m *metrics.Metrics) *InventoryKafkaAdapter {
	return &InventoryKafkaAdapter{rpc: rpc, topics: topics, metrics: m}
}

func (a *InventoryKafkaAdapter) topicFor(op port.InventoryOperation) (string, error) {
	switch op {
	case port.InventoryReserve:
		return a.topics.Reserve, nil
	case port.InventoryAdjust:
		return a.topics.Adjust, nil
	case port.InventoryRelease:
		return a.topics.Release, nil
	}
	return "", errors.WithMessagef(domain.ErrInvalidArgument, "unknown inventory operation %q", op)
}

// Call 超时视为库存不可用；调用方取消返回 domain.ErrCancelled。
func (a *InventoryKafkaAdapter) Call(ctx context.Context, op port.InventoryOperation, productID string, quantityDelta int) (port.InventoryReply, error) {
	topic, err := a.topicFor(op)
	if err != nil {
		return port.InventoryReply{}, err
	}
	payload, err := json.Marshal(inventoryRequest{ProductID: productID, QuantityDelta: quantityDelta})
	if err != nil {
		return port.InventoryReply{}, errors.Wrap(err, "marshal inventory request")
	}

	start := time.Now()
	raw, err := a.rpc.Call(ctx, topic, []byte(productID), payload)
	elapsed := time.Since(start)

	switch {
	case err == nil:
	case errors.Is(err, mq.ErrReplyTimeout):
		a.metrics.InventoryCall(string(op), "timeout", elapsed)
		logger.Ctx(ctx).Warn().Err(err).
			Str("op", string(op)).
			Str("product_id", productID).
			Msg("inventory reply timed out, treating product as unavailable")
		return port.InventoryReply{Available: false}, nil
	case ctx.Err() != nil:
		a.metrics.InventoryCall(string(op), "cancelled", elapsed)
		return port.InventoryReply{}, errors.WithMessagef(domain.ErrCancelled, "inventory %s of %s: %v", op, productID, ctx.Err())
	default:
		a.metrics.InventoryCall(string(op), "error", elapsed)
		return port.InventoryReply{}, errors.Wrapf(err, "inventory %s of %s", op, productID)
	}

	var reply inventoryReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		a.metrics.InventoryCall(string(op), "error", elapsed)
		return port.InventoryReply{}, errors.Wrapf(err, "decode inventory reply for %s", productID)
	}

	outcome := "available"
	if !reply.IsAvailable {
		outcome = "unavailable"
	}
	a.metrics.InventoryCall(string(op), outcome, elapsed)
	logger.Ctx(ctx).Debug().
		Str("op", string(op)).
		Str("product_id", productID).
		Int("delta", quantityDelta).
		Bool("available", reply.IsAvailable).
		Dur("elapsed", elapsed).
		Msg("inventory reply received")
	return port.InventoryReply{Available: reply.IsAvailable, Name: reply.Name}, nil
}
