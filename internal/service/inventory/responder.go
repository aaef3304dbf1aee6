// internal/service/inventory/responder.go
package inventory

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"orderhub/internal/pkg/logger"
	"orderhub/internal/pkg/mq"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Request 是三个请求 topic 上的消息体
type Request struct {
	ProductID     string `json:"productId"`
	QuantityDelta int    `json:"quantityDelta"`
}

// Reply 发往请求方 reply-to 头指定的 topic
type Reply struct {
	IsAvailable bool   `json:"isAvailable"`
	Name        string `json:"name,omitempty"`
}

// Topics 请求 topic 到操作的映射
type Topics struct {
	Reserve string
	Adjust  string
	Release string
}

func (t Topics) operation(topic string) (Operation, bool) {
	switch topic {
	case t.Reserve:
		return OpReserve, true
	case t.Adjust:
		return OpAdjust, true
	case t.Release:
		return OpRelease, true
	}
	return "", false
}

// Stock 是 Responder 依赖的库存操作，由 *StockStore 实现。
type Stock interface {
	Apply(ctx context.Context, op Operation, productID string, delta int) (Result, error)
}

// Responder 消费库存请求，原子地修改库存，并带上原 correlation id 应答。
// 无法解析或执行失败的请求也会应答 isAvailable=false，请求方不必等到超时。
type Responder struct {
	reader mq.Subscriber
	writer mq.Publisher
	topics Topics
	stock  Stock
	tracer trace.Tracer

	wg sync.WaitGroup
}

func NewResponder(reader mq.Subscriber, writer mq.Publisher, topics Topics, stock Stock, tracer trace.Tracer) *Responder {
	return &Responder{reader: reader, writer: writer, topics: topics, stock: stock, tracer: tracer}
}

// Run 阻塞消费，直到 ctx 结束或 reader 被关闭。
func (r *Responder) Run(ctx context.Context) error {
	r.wg.Add(1)
	defer r.wg.Done()

	logger.Ctx(ctx).Info().
		Strs("topics", []string{r.topics.Reserve, r.topics.Adjust, r.topics.Release}).
		Msg("✅ Inventory responder started.")
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				logger.Ctx(ctx).Info().Msg("🛑 Inventory responder shutting down.")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not read request, retrying")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		r.handle(ctx, msg)

		if err := r.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit messages")
		}
	}
}

func (r *Responder) Stop(ctx context.Context) {
	if err := r.reader.Close(); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to close request reader")
	}
	r.wg.Wait()
	if err := r.writer.Close(); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to close reply writer")
	}
	logger.Ctx(ctx).Info().Msg("✅ Inventory responder stopped.")
}

func (r *Responder) handle(parent context.Context, msg kafka.Message) {
	ctx := mq.ExtractTraceContext(parent, msg.Headers)
	ctx, span := r.tracer.Start(ctx, "inventory.HandleRequest", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	correlationID := mq.Header(msg.Headers, mq.HeaderCorrelationID)
	replyTo := mq.Header(msg.Headers, mq.HeaderReplyTo)
	span.SetAttributes(
		attribute.String("messaging.source", msg.Topic),
		attribute.String("messaging.correlation_id", correlationID),
	)
	if correlationID == "" || replyTo == "" {
		logger.Ctx(ctx).Warn().Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("request without correlation-id or reply-to, dropping")
		return
	}

	reply := r.process(ctx, msg)
	span.SetAttributes(attribute.Bool("inventory.available", reply.IsAvailable))

	body, err := json.Marshal(reply)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal reply")
		return
	}
	out := kafka.Message{
		Topic: replyTo,
		Key:   msg.Key,
		Value: body,
		Headers: []kafka.Header{
			{Key: mq.HeaderCorrelationID, Value: []byte(correlationID)},
		},
	}
	mq.InjectTraceContext(ctx, &out.Headers)
	if err := r.writer.WriteMessages(ctx, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish reply")
		logger.Ctx(ctx).Error().Err(err).Str("reply_to", replyTo).Str("correlation_id", correlationID).Msg("failed to publish reply")
	}
}

func (r *Responder) process(ctx context.Context, msg kafka.Message) Reply {
	op, ok := r.topics.operation(msg.Topic)
	if !ok {
		logger.Ctx(ctx).Warn().Str("topic", msg.Topic).Msg("request on unknown topic")
		return Reply{IsAvailable: false}
	}
	var req Request
	if err := json.Unmarshal(msg.Value, &req); err != nil || req.ProductID == "" {
		logger.Ctx(ctx).Warn().Err(err).Str("topic", msg.Topic).Msg("malformed inventory request")
		return Reply{IsAvailable: false}
	}

	res, err := r.stock.Apply(ctx, op, req.ProductID, req.QuantityDelta)
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Str("product_id", req.ProductID).Str("op", string(op)).Msg("inventory operation failed")
		return Reply{IsAvailable: false}
	}
	logger.Ctx(ctx).Info().
		Str("op", string(op)).
		Str("product_id", req.ProductID).
		Int("delta", req.QuantityDelta).
		Bool("available", res.Available).
		Msg("inventory request handled")
	return Reply{IsAvailable: res.Available, Name: res.Name}
}
