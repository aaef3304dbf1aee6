package mq

import (
	"context"
	"sync"
	"time"

	"orderhub/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

var (
	// ErrReplyTimeout 表示在超时时间内没有收到对应 correlation id 的应答。
	ErrReplyTimeout = errors.New("rpc reply timeout")
	// ErrClientClosed 表示 RPCClient 已关闭，挂起的调用被终止。
	ErrClientClosed = errors.New("rpc client closed")
)

// RPCClient 在 Kafka 之上实现请求/应答：
// 每次调用生成新的 correlation id，写入 reply-to 头，然后阻塞等待分发协程把应答投递回来。
// writer 与 reply reader 由 RPCClient 持有，整个进程生命周期内复用。
type RPCClient struct {
	writer     Publisher
	replies    Subscriber
	replyTopic string
	timeout    time.Duration

	mu      sync.Mutex
	pending map[string]chan kafka.Message

	onOrphan func()

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRPCClient 创建客户端。timeout 是每次调用的默认等待上限，必须大于 0。
func NewRPCClient(writer Publisher, replies Subscriber, replyTopic string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RPCClient{
		writer:     writer,
		replies:    replies,
		replyTopic: replyTopic,
		timeout:    timeout,
		pending:    make(map[string]chan kafka.Message),
		done:       make(chan struct{}),
	}
}

// OnOrphanReply 注册一个回调，每收到一条无人等待的应答时调用（用于指标）。
func (c *RPCClient) OnOrphanReply(fn func()) {
	c.onOrphan = fn
}

func (c *RPCClient) ReplyTopic() string {
	return c.replyTopic
}

// Start 启动应答分发协程。
func (c *RPCClient) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.dispatch(ctx)
	}()
	logger.Ctx(ctx).Info().Str("reply_topic", c.replyTopic).Msg("✅ RPC reply dispatcher started.")
	return nil
}

// Stop 关闭客户端，所有挂起的调用返回 ErrClientClosed。
func (c *RPCClient) Stop(ctx context.Context) {
	if err := c.Close(); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to close rpc client")
	}
	logger.Ctx(ctx).Info().Str("reply_topic", c.replyTopic).Msg("✅ RPC reply dispatcher stopped.")
}

func (c *RPCClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = errors.Wrap(c.replies.Close(), "close reply reader")
		if werr := c.writer.Close(); werr != nil && err == nil {
			err = errors.Wrap(werr, "close writer")
		}
		c.wg.Wait()
	})
	return err
}

// Call 向 topic 发送 payload 并等待应答，返回应答的消息体。
// 以下情况之一发生时返回：收到应答、ctx 结束、超时 (ErrReplyTimeout)、客户端关闭。
func (c *RPCClient) Call(ctx context.Context, topic string, key, payload []byte) ([]byte, error) {
	correlationID := uuid.New().String()
	replyCh := make(chan kafka.Message, 1)

	c.mu.Lock()
	c.pending[correlationID] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
	}()

	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: payload,
		Headers: []kafka.Header{
			{Key: HeaderCorrelationID, Value: []byte(correlationID)},
			{Key: HeaderReplyTo, Value: []byte(c.replyTopic)},
		},
	}
	InjectTraceContext(ctx, &msg.Headers)

	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(err, "publish request to %s", topic)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply.Value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errors.Wrapf(ErrReplyTimeout, "topic %s correlation %s after %s", topic, correlationID, c.timeout)
	case <-c.done:
		return nil, ErrClientClosed
	}
}

func (c *RPCClient) dispatch(ctx context.Context) {
	for {
		msg, err := c.replies.FetchMessage(ctx)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if ctx.Err() != nil {
				return
			}
			logger.Ctx(ctx).Error().Err(err).Str("reply_topic", c.replyTopic).Msg("could not read reply, retrying")
			select {
			case <-time.After(time.Second):
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		c.deliver(ctx, msg)
	}
}

func (c *RPCClient) deliver(ctx context.Context, msg kafka.Message) {
	correlationID := Header(msg.Headers, HeaderCorrelationID)

	c.mu.Lock()
	ch, ok := c.pending[correlationID]
	c.mu.Unlock()

	if !ok {
		// 调用方已超时离开，或者根本不是发给本实例的
		logger.Ctx(ctx).Debug().Str("correlation_id", correlationID).Msg("dropping reply without waiting caller")
		if c.onOrphan != nil {
			c.onOrphan()
		}
		return
	}
	select {
	case ch <- msg:
	default:
		// 同一个 correlation id 的重复应答，只保留第一条
	}
}
