package interfaces

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"orderhub/internal/pkg/logger"
	"orderhub/internal/pkg/mq"
	"orderhub/internal/service/order/application"
	"orderhub/internal/service/order/domain"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// StatusUpdater 是消费者驱动的用例，由 *application.OrderService 实现。
type StatusUpdater interface {
	UpdateOrderStatus(ctx context.Context, orderID string, next domain.Status) (*application.OrderView, error)
}

// DeadLetterSink 接收处理失败的消息，由 *mq.FailureHandler 实现。
type DeadLetterSink interface {
	Handle(ctx context.Context, msg kafka.Message, cause error)
}

// StatusConsumerAdapter 是一个驱动适配器，监听 order-status-events 并推进订单状态。
// 处理失败的消息转发到死信队列，无论成败都提交位移。
type StatusConsumerAdapter struct {
	reader  mq.Subscriber
	topic   string
	orders  StatusUpdater
	failure DeadLetterSink

	wg sync.WaitGroup
}

func NewStatusConsumerAdapter(reader mq.Subscriber, topic string, orders StatusUpdater, failure DeadLetterSink) *StatusConsumerAdapter {
	return &StatusConsumerAdapter{reader: reader, topic: topic, orders: orders, failure: failure}
}

// Run 阻塞消费，直到 ctx 结束或 reader 被关闭。
func (a *StatusConsumerAdapter) Run(ctx context.Context) error {
	a.wg.Add(1)
	defer a.wg.Done()

	logger.Ctx(ctx).Printf("✅ Status Consumer Adapter started for topic '%s'.", a.topic)
	for {
		msg, err := a.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("🛑 Status Consumer Adapter shutting down.")
				return nil
			}
			logger.Ctx(ctx).Printf("ERROR: could not read message: %v. Retrying...", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
		if err := a.processMessage(msgCtx, msg); err != nil {
			a.failure.Handle(msgCtx, msg, err)
		}
		if err := a.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit messages")
		}
	}
}

// Stop 关闭 reader 并等待 Run 返回。
func (a *StatusConsumerAdapter) Stop(ctx context.Context) {
	if err := a.reader.Close(); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to close status reader")
	}
	a.wg.Wait()
	logger.Ctx(ctx).Printf("✅ Status Consumer Adapter stopped.")
}

func (a *StatusConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) error {
	var event domain.OrderStatusChanged
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return errors.Wrap(err, "decode status event")
	}
	status, err := domain.ParseStatus(event.Status)
	if err != nil {
		return err
	}
	if _, err := a.orders.UpdateOrderStatus(ctx, event.OrderID, status); err != nil {
		return err
	}
	logger.Ctx(ctx).Info().Str("order_id", event.OrderID).Str("status", event.Status).Msg("order status applied from event")
	return nil
}
