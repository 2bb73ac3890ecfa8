package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"event-ticketing/message"
	"event-ticketing/metrics"
	"event-ticketing/repository"
)

/*
 * Cancel: 구매 락 없이 도는 취소 경로.
 * 카운터 복구는 Redis의 원자적 INCRBY에만 의존하므로 동시 구매와
 * 경쟁해도 카운터 자체는 안전합니다.
 */
func (s *TicketService) Cancel(ctx context.Context, userID, transactionID string) CancelResult {
	log := s.logger.WithFields(logrus.Fields{
		"user_id":        userID,
		"transaction_id": transactionID,
	})

	// 1. 트랜잭션 조회: 캐시 우선, 미스면 MySQL
	txn, err := s.cache.GetTransaction(ctx, transactionID)
	if err != nil {
		if !errors.Is(err, repository.ErrCacheMiss) {
			log.Warnf("트랜잭션 캐시 조회 실패: %v", err)
		}
		txn, err = s.store.GetTransaction(ctx, transactionID, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return CancelResult{Outcome: OutcomeNotFound}
		} else if err != nil {
			log.Errorf("트랜잭션 DB 조회 실패: %v", err)
			return CancelResult{Outcome: OutcomeInternal}
		}
	}

	// 캐시에서 찾았어도 소유자 확인은 필수
	if txn.UserID != userID {
		return CancelResult{Outcome: OutcomeNotFound}
	}
	if txn.Status != repository.StatusCompleted {
		return CancelResult{Outcome: OutcomeNotFound}
	}

	// 2. 취소 가능 기간: 공연 24시간 전까지
	if time.Until(txn.EventDate) < cancelWindow {
		return CancelResult{Outcome: OutcomeWindowClosed}
	}

	// 3. Cancelled 전이를 먼저 선점. 가드된 UPDATE라 같은 트랜잭션의
	//    동시 취소 중 하나만 통과하고, 진 쪽은 환불 없이 여기서 끝납니다.
	if ok := s.markTransaction(ctx, txn, repository.StatusCompleted, repository.StatusCancelled, log); !ok {
		return CancelResult{Outcome: OutcomeNotFound}
	}

	// 4. 원금 환불. 실패하면 Completed로 되돌려 재시도할 수 있게 둡니다.
	if err := s.payment.Refund(ctx, txn.PaymentID, txn.Amount); err != nil {
		log.Errorf("환불 실패: %v", err)
		s.markTransaction(ctx, txn, repository.StatusCancelled, repository.StatusCompleted, log)
		return CancelResult{Outcome: OutcomePaymentFailed}
	}

	// 5. 티켓 행 삭제 + 유저 티켓 캐시 무효화.
	//    복구 수량은 실제로 삭제된 행 수. 조회 자체가 실패했을 때만
	//    구매 수량으로 대체합니다 (이미 0행이었다면 복구할 것도 없음).
	deleted, err := s.store.DeleteTicketsByTransaction(ctx, transactionID)
	restored := int(deleted)
	if err != nil {
		log.Errorf("티켓 삭제 실패 (수동 정산 필요): %v", err)
		restored = txn.Quantity
	}

	if err := s.cache.InvalidateUserTickets(ctx, userID); err != nil {
		log.Warnf("유저 티켓 캐시 무효화 실패: %v", err)
	}

	// 6. 카운터 원자적 복구
	newRemaining, err := s.cache.IncreaseCapacity(ctx, txn.EventID, restored)
	if err != nil {
		log.Errorf("캐시 수량 복구 실패 (수동 정산 필요): %v", err)
	} else {
		metrics.CapacityLevel.WithLabelValues(strconv.FormatUint(uint64(txn.EventID), 10)).Set(float64(newRemaining))
	}

	// 7. 양의 델타로 정산 메시지 발행
	s.publishReconciliation(ctx, message.ReconciliationMessage{
		EventID:       txn.EventID,
		CapacityDelta: restored,
		TransactionID: transactionID,
		Operation:     message.OpCancel,
		Timestamp:     time.Now(),
	}, log)

	log.Infof("🗑️ 취소 완료 (복구 수량 %d)", restored)
	return CancelResult{Outcome: OutcomeSuccess, Restored: restored}
}
