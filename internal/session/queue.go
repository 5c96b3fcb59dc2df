package session

import (
	"context"
)

// Handler 处理来自运行队列的会话 ID。
type Handler func(ctx context.Context, sessionID string) error

// Producer 负责向运行队列投递会话。
type Producer interface {
	Publish(ctx context.Context, sessionID string) error
	Close() error
}

// Consumer 负责从运行队列中消费会话。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
