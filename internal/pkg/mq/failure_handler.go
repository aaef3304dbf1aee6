package mq

import (
	"context"
	"fmt"
	"strconv"

	"orderhub/internal/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// FailureHandler 把处理失败的消息转发到死信队列，保留原始位置和错误信息。
type FailureHandler struct {
	dlt Publisher
}

func NewFailureHandler(dlt Publisher) *FailureHandler {
	return &FailureHandler{dlt: dlt}
}

// Handle 发送死信。发送失败只记录日志，消费位移仍由调用方提交。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) {
	dead := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
			{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
			{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
			{Key: HeaderExceptionFqcn, Value: []byte(fmt.Sprintf("%T", cause))},
			{Key: HeaderExceptionMessage, Value: []byte(cause.Error())},
		},
	}
	InjectTraceContext(ctx, &dead.Headers)

	if err := h.dlt.WriteMessages(ctx, dead); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("original_topic", msg.Topic).
			Int64("original_offset", msg.Offset).
			Msg("CRITICAL: failed to publish dead letter")
		return
	}
	logger.Ctx(ctx).Warn().Err(cause).
		Str("original_topic", msg.Topic).
		Int64("original_offset", msg.Offset).
		Msg("message forwarded to dead letter topic")
}

func (h *FailureHandler) Close() error {
	return h.dlt.Close()
}
