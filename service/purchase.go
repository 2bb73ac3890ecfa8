package service

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"event-ticketing/message"
	"event-ticketing/metrics"
	"event-ticketing/payment"
	"event-ticketing/repository"
	"event-ticketing/stats"
)

type TicketService struct {
	logger    *logrus.Logger
	cache     repository.CacheRepository
	lock      repository.LockRepository
	store     repository.StoreRepository
	publisher repository.Publisher
	payment   payment.Provider
	stats     *stats.Collector
	txnIDKey  []byte
}

type TicketServiceProperty struct {
	Logger    *logrus.Logger
	Cache     repository.CacheRepository
	Lock      repository.LockRepository
	Store     repository.StoreRepository
	Publisher repository.Publisher
	Payment   payment.Provider
	Stats     *stats.Collector
	TxnIDKey  []byte
}

func NewTicketService(props TicketServiceProperty) *TicketService {
	return &TicketService{
		logger:    props.Logger,
		cache:     props.Cache,
		lock:      props.Lock,
		store:     props.Store,
		publisher: props.Publisher,
		payment:   props.Payment,
		stats:     props.Stats,
		txnIDKey:  props.TxnIDKey,
	}
}

/*
 * Purchase: 분산 락으로 직렬화되는 구매 경로.
 * 같은 (이벤트, 공연일)의 구매는 한 번에 하나만 진행되고,
 * 결제까지 락 안에서 끝난 뒤 캐시 차감 → 정산 메시지 발행 순서로 마무리됩니다.
 */
func (s *TicketService) Purchase(ctx context.Context, userID string, eventID uint, quantity int, instrument string) PurchaseResult {
	metrics.PurchaseRequests.Inc()

	log := s.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"event_id": eventID,
		"quantity": quantity,
	})

	// 락 키 구성에 공연일이 필요하므로 스냅샷을 먼저 읽음
	ev, outcome := s.loadEvent(ctx, eventID)
	if outcome != OutcomeSuccess {
		return PurchaseResult{Outcome: outcome}
	}

	// 1. 락 획득. 실패하면 줄 세우지 않고 바로 BUSY로 반환 (클라이언트 재시도)
	lockKey := repository.LockKey(eventID, ev.Date)
	token, acquired, err := s.lock.Lock(ctx, lockKey, lockLease)
	if err != nil {
		log.Errorf("락 획득 중 오류: %v", err)
		return PurchaseResult{Outcome: OutcomeInternal}
	}
	if !acquired {
		return PurchaseResult{Outcome: OutcomeBusy}
	}
	// 모든 종료 경로에서 반납. 토큰 비교 삭제라 리스 만료 후 남의 락은 건드리지 않음
	defer func() {
		if err := s.lock.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			log.Warnf("락 반납 실패 (리스 만료로 자동 해제됨): %v", err)
		}
	}()

	// 2. 락 안에서 가용성 재확인 + 금액 계산
	avail, outcome := s.checkEvent(ctx, ev, quantity)
	if outcome != OutcomeSuccess {
		return PurchaseResult{Outcome: outcome, Remaining: avail.Remaining}
	}
	amount := avail.PricePerUnit * int64(quantity)

	// 3. 트랜잭션 ID 생성 (유저+이벤트+나노초 기반 키드 해시)
	now := time.Now()
	txnID := newTransactionID(s.txnIDKey, userID, eventID, now)
	log = log.WithField("transaction_id", txnID)

	txn := &repository.Transaction{
		ID:        txnID,
		EventID:   eventID,
		UserID:    userID,
		EventDate: ev.Date,
		Quantity:  quantity,
		Amount:    amount,
		Status:    repository.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// 4. Pending 기록: MySQL 먼저, 캐시 미러는 그다음.
	//    여기서 실패하면 결제 시도 없이 내부 오류로 중단합니다.
	if ok := s.checkLease(ctx, lockKey, token, log); !ok {
		return PurchaseResult{Outcome: OutcomeInternal}
	}
	if err := s.store.SaveTransaction(ctx, txn); err != nil {
		log.Errorf("Pending 트랜잭션 저장 실패: %v", err)
		return PurchaseResult{Outcome: OutcomeInternal}
	}
	if err := s.cache.SetTransaction(ctx, txn, transactionTTL); err != nil {
		log.Errorf("트랜잭션 캐시 미러 실패: %v", err)
		return PurchaseResult{Outcome: OutcomeInternal}
	}

	// 5. 결제 (락을 쥔 채 외부 I/O — 리스 30초가 이 왕복보다 길어야 함)
	charge, err := s.payment.Charge(ctx, payment.ChargeRequest{
		Amount:     amount,
		Currency:   "USD",
		Instrument: instrument,
	})
	if err != nil || charge.Status != payment.StatusSuccess {
		// 6. 거절/오류: 양쪽 저장소에 Failed 기록, 재고 변동 없음
		metrics.PaymentDeclined.Inc()
		if err != nil {
			log.Errorf("결제 호출 오류: %v", err)
		} else {
			log.Infof("결제 거절: %s", charge.Status)
		}
		s.markTransaction(ctx, txn, repository.StatusPending, repository.StatusFailed, log)
		return PurchaseResult{Outcome: OutcomePaymentFailed, TransactionID: txnID}
	}
	txn.PaymentID = charge.PaymentID
	if err := s.store.UpdateTransactionPayment(ctx, txnID, charge.PaymentID); err != nil {
		log.Errorf("payment_id 기록 실패 (환불 시 수동 대조 필요): %v", err)
	}

	// 7. 발권: 티켓 N행 생성 → Completed 전이 → 유저 티켓 캐시 무효화.
	//    리스가 만료됐다면(펜싱 토큰 불일치) 커밋하지 않고 중단합니다.
	if ok := s.checkLease(ctx, lockKey, token, log); !ok {
		return PurchaseResult{Outcome: OutcomeInternal, TransactionID: txnID}
	}

	tickets := make([]repository.Ticket, quantity)
	for i := range tickets {
		tickets[i] = repository.Ticket{
			TransactionID: txnID,
			UserID:        userID,
			EventID:       eventID,
			EventDate:     ev.Date,
			PurchasedAt:   now,
		}
	}
	if err := s.store.CreateTickets(ctx, tickets); err != nil {
		log.Errorf("티켓 생성 실패 (Pending 잔류, 수동 정산 필요): %v", err)
		return PurchaseResult{Outcome: OutcomeInternal, TransactionID: txnID}
	}

	s.markTransaction(ctx, txn, repository.StatusPending, repository.StatusCompleted, log)
	if err := s.cache.InvalidateUserTickets(ctx, userID); err != nil {
		log.Warnf("유저 티켓 캐시 무효화 실패: %v", err)
	}

	// 8. 캐시 카운터 원자적 차감
	remaining, err := s.cache.DecreaseCapacity(ctx, eventID, quantity)
	if err != nil {
		log.Errorf("캐시 수량 차감 실패 (수동 정산 필요): %v", err)
		remaining = avail.Remaining - quantity
	}
	metrics.CapacityLevel.WithLabelValues(strconv.FormatUint(uint64(eventID), 10)).Set(float64(remaining))

	// 9. 정산 메시지 발행. 발행이 끝나야 defer가 락을 반납합니다.
	s.publishReconciliation(ctx, message.ReconciliationMessage{
		EventID:       eventID,
		CapacityDelta: -quantity,
		TransactionID: txnID,
		Operation:     message.OpPurchase,
		Timestamp:     time.Now(),
	}, log)

	log.Infof("✅ 예매 완료 (잔여 %d)", remaining)
	return PurchaseResult{
		Outcome:       OutcomeSuccess,
		TransactionID: txnID,
		Amount:        amount,
		Remaining:     remaining,
	}
}

// checkLease: 펜싱 토큰이 아직 유효한지 확인. 리스가 만료된 채 쓰기를
// 이어가면 새 보유자와 겹쳐 쓰므로 여기서 끊습니다.
func (s *TicketService) checkLease(ctx context.Context, lockKey string, token int64, log *logrus.Entry) bool {
	held, err := s.lock.CheckLock(ctx, lockKey, token)
	if err != nil {
		log.Errorf("락 토큰 확인 실패: %v", err)
		return false
	}
	if !held {
		log.Error("락 리스 만료 — 쓰기를 중단합니다")
		return false
	}
	return true
}

// markTransaction: 양쪽 저장소의 트랜잭션 상태를 전이.
// 가드된 UPDATE가 거부되면(이미 다른 전이가 선점) false를 돌려줍니다.
func (s *TicketService) markTransaction(ctx context.Context, txn *repository.Transaction, from, to string, log *logrus.Entry) bool {
	if err := s.store.UpdateTransactionStatus(ctx, txn.ID, from, to); err != nil {
		log.Errorf("트랜잭션 상태 전이 실패 (%s → %s): %v", from, to, err)
		return false
	}
	txn.Status = to
	txn.UpdatedAt = time.Now()
	if err := s.cache.SetTransaction(ctx, txn, transactionTTL); err != nil {
		log.Warnf("트랜잭션 캐시 갱신 실패: %v", err)
	}
	return true
}

// publishReconciliation: 캐시는 이미 바뀐 뒤라 발행 실패가 곧 drift입니다.
// 감사 토픽에 델타를 먼저 남겨 정산 발행이 끝내 실패해도 재구성할 수 있게 하고,
// 정산 발행은 짧게 재시도한 뒤 실패 시 델타 전체를 로그로 남깁니다.
func (s *TicketService) publishReconciliation(ctx context.Context, msg message.ReconciliationMessage, log *logrus.Entry) {
	auditEnv := message.NewEnvelope(message.TypeTransactionAudit, message.QueueTransactionsAudit, msg)
	if err := s.publisher.Publish(ctx, message.QueueTransactionsAudit, auditEnv); err != nil {
		log.Warnf("감사 메시지 발행 실패: %v", err)
	} else {
		s.stats.RecordPublished(message.QueueTransactionsAudit, message.TypeTransactionAudit)
	}

	env := message.NewEnvelope(message.TypeCapacityUpdate, message.QueueCapacityUpdates, msg)

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = s.publisher.Publish(ctx, message.QueueCapacityUpdates, env); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		log.WithFields(logrus.Fields{
			"capacity_delta": msg.CapacityDelta,
			"operation":      msg.Operation,
		}).Errorf("💣 정산 메시지 발행 최종 실패 — MySQL drift 발생, 수동 재처리 필요: %v", err)
	} else {
		s.stats.RecordPublished(message.QueueCapacityUpdates, message.TypeCapacityUpdate)
	}
}
