package application

import "github.com/wyfcoding/portfoliotracker/internal/portfolio/domain"

// NoopEventPublisher 空实现，未配置消息队列时使用
type NoopEventPublisher struct{}

func (NoopEventPublisher) PublishTransactionApplied(domain.TransactionAppliedEvent) error { return nil }
func (NoopEventPublisher) PublishSnapshotCreated(domain.SnapshotCreatedEvent) error       { return nil }
