package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"attestation-core/internal/model"
	"attestation-core/internal/service/mq"
	"attestation-core/pkg/logger"
)

// RelayService moves messages from the local outbox table to the MQ.
type RelayService struct {
	db       *gorm.DB
	producer mq.Producer
	interval time.Duration
}

func NewRelayService(db *gorm.DB, producer mq.Producer) *RelayService {
	return &RelayService{
		db:       db,
		producer: producer,
		interval: 500 * time.Millisecond,
	}
}

func (s *RelayService) Start(ctx context.Context) {
	logger.Info("relay service started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("relay service stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *RelayService) processPendingMessages(ctx context.Context) {
	var messages []model.OutboxMessage
	// batches of 50 keep memory bounded
	if err := s.db.Where("status = ?", "PENDING").Order("id").Limit(50).Find(&messages).Error; err != nil {
		logger.Error("relay: query pending messages failed", zap.Error(err))
		return
	}

	if len(messages) == 0 {
		return
	}

	for _, msg := range messages {
		if err := s.producer.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			logger.Error("relay: publish failed", zap.Uint64("id", msg.ID), zap.Error(err))
			continue
		}

		// mark SENT only after a successful publish => at-least-once;
		// consumers deduplicate on the message key
		if err := s.db.Model(&msg).Update("status", "SENT").Error; err != nil {
			logger.Error("relay: mark sent failed", zap.Uint64("id", msg.ID), zap.Error(err))
		}
	}
}
