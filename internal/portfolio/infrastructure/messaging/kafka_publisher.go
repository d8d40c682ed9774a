// Package messaging 领域事件的 Kafka 发布实现
package messaging

import (
	"context"
	"time"

	"github.com/wyfcoding/portfoliotracker/internal/portfolio/domain"
	"github.com/wyfcoding/portfoliotracker/pkg/mq"
)

const publishTimeout = 5 * time.Second

// KafkaEventPublisher 通过 Kafka 发布领域事件
// 以组合ID为分区键，同一组合的事件保序
type KafkaEventPublisher struct {
	producer *mq.KafkaProducer
}

// NewKafkaEventPublisher 创建 Kafka 事件发布器
func NewKafkaEventPublisher(producer *mq.KafkaProducer) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer}
}

type envelope struct {
	EventType string      `json:"event_type"`
	Payload   interface{} `json:"payload"`
}

// PublishTransactionApplied 发布交易入账事件
func (p *KafkaEventPublisher) PublishTransactionApplied(event domain.TransactionAppliedEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return p.producer.SendMessage(ctx, event.PortfolioID, envelope{
		EventType: "portfolio.transaction_applied",
		Payload:   event,
	})
}

// PublishSnapshotCreated 发布快照生成事件
func (p *KafkaEventPublisher) PublishSnapshotCreated(event domain.SnapshotCreatedEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return p.producer.SendMessage(ctx, event.PortfolioID, envelope{
		EventType: "portfolio.snapshot_created",
		Payload:   event,
	})
}
