package jq

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

type JobQueue struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *zap.Logger
}

func New(url string, logger *zap.Logger) (*JobQueue, error) {
	jq := &JobQueue{
		conn:   nil,
		js:     nil,
		logger: logger.Named("jq"),
	}

	conn, err := nats.Connect(
		url,
		nats.ReconnectHandler(jq.reconnectHandler),
		nats.DisconnectErrHandler(jq.disconnectHandler),
		nats.ClosedHandler(jq.closeHandler),
	)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	jq.conn = conn
	jq.js = js

	return jq, nil
}

func (jq *JobQueue) reconnectHandler(nc *nats.Conn) {
	jq.logger.Info("got reconnected", zap.String("url", nc.ConnectedUrl()))
}

func (jq *JobQueue) disconnectHandler(_ *nats.Conn, err error) {
	jq.logger.Error("got disconnected", zap.Error(err))
}

func (jq *JobQueue) closeHandler(nc *nats.Conn) {
	jq.logger.Warn("connection closed", zap.Error(nc.LastError()))
}

// Stream creates the stream or updates its subjects when it already exists.
// Work-queue retention removes a message once it has been acked.
func (jq *JobQueue) Stream(ctx context.Context, name, description string, topics []string, maxMsgs int64) error {
	_, err := jq.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        name,
		Description: description,
		Subjects:    topics,
		Retention:   jetstream.WorkQueuePolicy,
		MaxMsgs:     maxMsgs,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}

	return nil
}

// Consume attaches a durable consumer to the stream and starts delivering
// messages to handler. The handler is responsible for acking.
func (jq *JobQueue) Consume(
	ctx context.Context,
	service string,
	stream string,
	topics []string,
	consumer string,
	handler func(msg jetstream.Msg),
) (jetstream.ConsumeContext, error) {
	cons, err := jq.js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Name:           consumer,
		Durable:        consumer,
		Description:    service,
		FilterSubjects: topics,
		AckPolicy:      jetstream.AckExplicitPolicy,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", consumer, err)
	}

	consumeCtx, err := cons.Consume(handler, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		jq.logger.Error("consumer error", zap.String("consumer", consumer), zap.Error(err))
	}))
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", consumer, err)
	}

	return consumeCtx, nil
}

// Produce publishes data on topic. msgID enables server-side de-duplication.
func (jq *JobQueue) Produce(ctx context.Context, topic string, data []byte, msgID string) (uint64, error) {
	ack, err := jq.js.Publish(ctx, topic, data, jetstream.WithMsgID(msgID))
	if err != nil {
		return 0, err
	}

	return ack.Sequence, nil
}

func (jq *JobQueue) Close() error {
	if jq.conn == nil {
		return errors.New("job queue is not connected")
	}
	return jq.conn.Drain()
}
