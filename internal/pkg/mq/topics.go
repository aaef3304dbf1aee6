package mq

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// EnsureTopics 在 controller 上创建 topic（已存在则忽略）。
func EnsureTopics(ctx context.Context, brokers []string, topics ...string) error {
	conn, err := dialController(ctx, brokers)
	if err != nil {
		return err
	}
	defer conn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{Topic: t, NumPartitions: 1, ReplicationFactor: 1})
	}
	if err := conn.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return errors.Wrapf(err, "create topics %v", topics)
	}
	return nil
}

// DeleteTopics 删除 topic，用于清理实例私有的应答 topic。
func DeleteTopics(ctx context.Context, brokers []string, topics ...string) error {
	conn, err := dialController(ctx, brokers)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.DeleteTopics(topics...); err != nil && !errors.Is(err, kafka.UnknownTopicOrPartition) {
		return errors.Wrapf(err, "delete topics %v", topics)
	}
	return nil
}

func dialController(ctx context.Context, brokers []string) (*kafka.Conn, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	var d kafka.Dialer
	conn, err := d.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrapf(err, "dial kafka %s", brokers[0])
	}
	controller, err := conn.Controller()
	conn.Close()
	if err != nil {
		return nil, errors.Wrap(err, "lookup kafka controller")
	}

	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	cconn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial kafka controller %s", addr)
	}
	return cconn, nil
}
