package worker

import (
	"context"

	"github.com/sirupsen/logrus"

	"event-ticketing/message"
	"event-ticketing/metrics"
	"event-ticketing/repository"
)

// NewCapacityHandler: capacity-updates 큐의 델타를 MySQL events.capacity에
// 반영합니다. 멱등 키로 재배달을 걸러내므로 같은 메시지가 두 번 와도
// 한 번만 반영됩니다.
func NewCapacityHandler(store repository.StoreRepository, logger *logrus.Logger) Handler {
	return func(ctx context.Context, env message.Envelope) Outcome {
		msg := env.Message

		applied, err := store.ApplyCapacityDelta(ctx, msg.EventID, msg.CapacityDelta, msg.DedupKey())
		if err != nil {
			logger.WithFields(logrus.Fields{
				"event_id":       msg.EventID,
				"transaction_id": msg.TransactionID,
				"capacity_delta": msg.CapacityDelta,
				"retry_count":    env.RetryCount,
			}).Errorf("🚨 정산 반영 실패: %v", err)
			return OutcomeRetryable
		}

		if !applied {
			logger.WithField("transaction_id", msg.TransactionID).
				Warn("⚠️ 중복 정산 메시지 스킵 (이미 반영됨)")
			return OutcomeSuccess
		}

		metrics.ReconcileApplied.WithLabelValues(message.QueueCapacityUpdates).Inc()
		return OutcomeSuccess
	}
}

// NewAuditHandler: transactions-audit 큐의 메시지를 감사 테이블에 적재
func NewAuditHandler(store repository.StoreRepository, logger *logrus.Logger) Handler {
	return func(ctx context.Context, env message.Envelope) Outcome {
		msg := env.Message

		err := store.SaveAudit(ctx, &repository.TransactionAudit{
			TransactionID: msg.TransactionID,
			EventID:       msg.EventID,
			Operation:     msg.Operation,
			CapacityDelta: msg.CapacityDelta,
			OccurredAt:    msg.Timestamp,
		})
		if err != nil {
			logger.WithFields(logrus.Fields{
				"transaction_id": msg.TransactionID,
				"retry_count":    env.RetryCount,
			}).Errorf("감사 기록 실패: %v", err)
			return OutcomeRetryable
		}
		return OutcomeSuccess
	}
}
