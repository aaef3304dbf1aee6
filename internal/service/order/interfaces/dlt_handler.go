// internal/service/order/interfaces/dlt_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"orderhub/internal/pkg/logger"
	"orderhub/internal/pkg/metrics"
	"orderhub/internal/pkg/mq"
	"orderhub/internal/service/order/domain"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// DeadLetterConsumer 消费状态事件的死信 topic：逐条记录并按失败原因计数，不做重放。
type DeadLetterConsumer struct {
	reader  mq.Subscriber
	topic   string
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

func NewDeadLetterConsumer(reader mq.Subscriber, topic string, m *metrics.Metrics) *DeadLetterConsumer {
	return &DeadLetterConsumer{reader: reader, topic: topic, metrics: m}
}

func (c *DeadLetterConsumer) Run(ctx context.Context) error {
	c.wg.Add(1)
	defer c.wg.Done()

	logger.Ctx(ctx).Info().Str("topic", c.topic).Msg("✅ Dead letter consumer started.")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				logger.Ctx(ctx).Info().Msg("🛑 Dead letter consumer shutting down.")
				return nil
			}
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		reason := deadLetterReason(mq.Header(msg.Headers, mq.HeaderExceptionMessage))
		c.metrics.DeadLetter(reason)
		logDeadLetter(mq.ExtractTraceContext(ctx, msg.Headers), msg, reason)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit dead letter")
		}
	}
}

func (c *DeadLetterConsumer) Stop(ctx context.Context) {
	if err := c.reader.Close(); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to close dead letter reader")
	}
	c.wg.Wait()
	logger.Ctx(ctx).Info().Str("topic", c.topic).Msg("✅ Dead letter consumer stopped.")
}

// deadLetterReason 把失败描述归到有限的几类，作为指标标签。
func deadLetterReason(message string) string {
	switch {
	case strings.Contains(message, domain.ErrInvalidState.Error()):
		return "rejected_transition"
	case strings.Contains(message, domain.ErrNotFound.Error()):
		return "unknown_order"
	case strings.Contains(message, domain.ErrInvalidArgument.Error()), strings.Contains(message, "decode"):
		return "malformed"
	default:
		return "other"
	}
}

func logDeadLetter(ctx context.Context, msg kafka.Message, reason string) {
	event := logger.Ctx(ctx).Error().
		Str("reason", reason).
		Str("original_topic", mq.Header(msg.Headers, mq.HeaderOriginalTopic)).
		Str("original_partition", mq.Header(msg.Headers, mq.HeaderOriginalPartition)).
		Str("original_offset", mq.Header(msg.Headers, mq.HeaderOriginalOffset)).
		Str("error", mq.Header(msg.Headers, mq.HeaderExceptionMessage))

	var ev domain.OrderStatusChanged
	if err := json.Unmarshal(msg.Value, &ev); err == nil && ev.OrderID != "" {
		event = event.Str("order_id", ev.OrderID).Str("status", ev.Status)
	} else {
		event = event.Str("value", string(msg.Value))
	}
	event.Msg("🚨 Order status event dead-lettered")
}
