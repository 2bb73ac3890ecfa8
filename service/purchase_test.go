package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-ticketing/message"
	"event-ticketing/repository"
)

func TestPurchaseSuccess(t *testing.T) {
	env := newTestEnv()
	eventDate := time.Now().Add(72 * time.Hour)
	env.seedEvent(1, 10, eventDate, "concert")

	result := env.svc.Purchase(context.Background(), "user_1", 1, 3, "tok_test")

	require.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, int64(3*12000), result.Amount)
	assert.Equal(t, 7, result.Remaining)

	// Completed 전이 + 티켓 3행, 하나의 transaction_id 공유
	txn := env.store.transactions[result.TransactionID]
	require.NotNil(t, txn)
	assert.Equal(t, repository.StatusCompleted, txn.Status)
	require.Len(t, env.store.tickets, 3)
	for _, ticket := range env.store.tickets {
		assert.Equal(t, result.TransactionID, ticket.TransactionID)
	}

	// 캐시 카운터 차감 + 정산/감사 메시지 발행
	assert.Equal(t, 7, env.cache.capacity[1])

	capEnvs := env.publisher.envelopes(message.QueueCapacityUpdates)
	require.Len(t, capEnvs, 1)
	assert.Equal(t, -3, capEnvs[0].Message.CapacityDelta)
	assert.Equal(t, message.OpPurchase, capEnvs[0].Message.Operation)
	assert.Equal(t, result.TransactionID, capEnvs[0].Message.TransactionID)

	require.Len(t, env.publisher.envelopes(message.QueueTransactionsAudit), 1)

	// 락은 반납됨
	assert.Empty(t, env.lock.held)
}

// 용량 1에 동시 구매 2건 — 정확히 한 건만 성공해야 함
func TestConcurrentPurchaseCapacityOne(t *testing.T) {
	env := newTestEnv()
	env.seedEvent(1, 1, time.Now().Add(72*time.Hour), "concert")

	results := make([]PurchaseResult, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := []string{"user_a", "user_b"}[n]
			// 락 경합(BUSY)은 클라이언트 재시도 계약이므로 여기서도 재시도
			for {
				res := env.svc.Purchase(context.Background(), userID, 1, 1, "tok_test")
				if res.Outcome != OutcomeBusy {
					results[n] = res
					return
				}
			}
		}(i)
	}
	wg.Wait()

	outcomes := map[Outcome]int{}
	for _, r := range results {
		outcomes[r.Outcome]++
	}
	assert.Equal(t, 1, outcomes[OutcomeSuccess])
	assert.Equal(t, 1, outcomes[OutcomeSoldOut])
	assert.Equal(t, 0, env.cache.capacity[1])
	assert.Len(t, env.store.tickets, 1)
}

// 오버셀 금지: 합산 요청 수량이 capacity를 넘어도 성공 합계는 capacity 이하
func TestConcurrentPurchaseNoOversell(t *testing.T) {
	env := newTestEnv()
	const capacity = 5
	env.seedEvent(1, capacity, time.Now().Add(72*time.Hour), "sport")

	var wg sync.WaitGroup
	var mu sync.Mutex
	soldTotal := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for {
				res := env.svc.Purchase(context.Background(), userName(n), 1, 1, "tok_test")
				if res.Outcome == OutcomeBusy {
					continue
				}
				if res.Outcome == OutcomeSuccess {
					mu.Lock()
					soldTotal++
					mu.Unlock()
				}
				return
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, capacity, soldTotal)
	assert.Equal(t, 0, env.cache.capacity[1])
	assert.Len(t, env.store.tickets, capacity)
}

func userName(n int) string {
	return "user_" + string(rune('a'+n%26)) + string(rune('a'+n/26))
}

// Scenario C: 결제 거절 — Failed 전이, 재고 불변, 티켓/정산 메시지 없음
func TestPurchaseDeclined(t *testing.T) {
	env := newTestEnv()
	env.seedEvent(1, 10, time.Now().Add(72*time.Hour), "concert")
	env.provider.decline = true

	result := env.svc.Purchase(context.Background(), "user_1", 1, 2, "tok_bad")

	require.Equal(t, OutcomePaymentFailed, result.Outcome)
	txn := env.store.transactions[result.TransactionID]
	require.NotNil(t, txn)
	assert.Equal(t, repository.StatusFailed, txn.Status)

	assert.Empty(t, env.store.tickets)
	assert.Equal(t, 10, env.cache.capacity[1])
	assert.Empty(t, env.publisher.envelopes(message.QueueCapacityUpdates))
}

// Pending 저장 실패 시 결제를 시도하지 않아야 함
func TestPurchasePersistenceFailureSkipsCharge(t *testing.T) {
	env := newTestEnv()
	env.seedEvent(1, 10, time.Now().Add(72*time.Hour), "concert")
	env.store.failSaveTransaction = true

	result := env.svc.Purchase(context.Background(), "user_1", 1, 1, "tok_test")

	assert.Equal(t, OutcomeInternal, result.Outcome)
	assert.Empty(t, env.provider.charges)
	assert.Equal(t, 10, env.cache.capacity[1])
}

func TestPurchaseLockContention(t *testing.T) {
	env := newTestEnv()
	eventDate := time.Now().Add(72 * time.Hour)
	env.seedEvent(1, 10, eventDate, "concert")

	// 다른 보유자가 락을 쥐고 있는 상태
	_, acquired, err := env.lock.Lock(context.Background(), repository.LockKey(1, eventDate), time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	result := env.svc.Purchase(context.Background(), "user_1", 1, 1, "tok_test")
	assert.Equal(t, OutcomeBusy, result.Outcome)
	assert.Empty(t, env.provider.charges)
}

// 리스 만료 감지: 펜싱 토큰이 무효면 durable 쓰기 전에 중단
func TestPurchaseAbortsWhenLeaseExpired(t *testing.T) {
	env := newTestEnv()
	env.seedEvent(1, 10, time.Now().Add(72*time.Hour), "concert")
	env.lock.expired = true

	result := env.svc.Purchase(context.Background(), "user_1", 1, 1, "tok_test")

	assert.Equal(t, OutcomeInternal, result.Outcome)
	assert.Empty(t, env.store.transactions)
	assert.Empty(t, env.provider.charges)
}

func TestPurchaseEventOver(t *testing.T) {
	env := newTestEnv()
	env.seedEvent(1, 10, time.Now().Add(-time.Hour), "concert")

	result := env.svc.Purchase(context.Background(), "user_1", 1, 1, "tok_test")
	assert.Equal(t, OutcomeEventOver, result.Outcome)
}

func TestPurchaseUnknownEvent(t *testing.T) {
	env := newTestEnv()
	result := env.svc.Purchase(context.Background(), "user_1", 99, 1, "tok_test")
	assert.Equal(t, OutcomeNotFound, result.Outcome)
}

// 발행 실패가 구매 결과를 뒤집지는 않지만 (캐시는 이미 차감됨)
// 성공 응답은 그대로 나가야 함
func TestPurchasePublishFailureStillSucceeds(t *testing.T) {
	env := newTestEnv()
	env.seedEvent(1, 10, time.Now().Add(72*time.Hour), "concert")
	env.publisher.failAll = true

	result := env.svc.Purchase(context.Background(), "user_1", 1, 1, "tok_test")
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 9, env.cache.capacity[1])
}

// 감사 메시지를 정산 메시지보다 먼저 발행 — 정산 발행이 끝내 실패해도
// 감사 토픽에서 델타를 재구성할 수 있어야 함
func TestAuditPublishedBeforeCapacity(t *testing.T) {
	env := newTestEnv()
	env.seedEvent(1, 10, time.Now().Add(72*time.Hour), "concert")

	purchase := env.svc.Purchase(context.Background(), "user_1", 1, 1, "tok_test")
	require.Equal(t, OutcomeSuccess, purchase.Outcome)

	assert.Equal(t,
		[]string{message.QueueTransactionsAudit, message.QueueCapacityUpdates},
		env.publisher.queueOrder())
}

func TestTransactionIDUnique(t *testing.T) {
	env := newTestEnv()
	env.seedEvent(1, 1000, time.Now().Add(72*time.Hour), "concert")

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		res := env.svc.Purchase(context.Background(), userName(i)+"_u", 1, 1, "tok_test")
		require.Equal(t, OutcomeSuccess, res.Outcome)
		require.False(t, seen[res.TransactionID], "트랜잭션 ID 재사용: %s", res.TransactionID)
		seen[res.TransactionID] = true
	}
}

func TestTransactionIDDerivedFromInputs(t *testing.T) {
	at := time.Unix(0, 1700000000000000000)
	id1 := newTransactionID([]byte("k"), "user", 1, at)
	id2 := newTransactionID([]byte("k"), "user", 1, at)
	id3 := newTransactionID([]byte("k"), "user", 1, at.Add(time.Nanosecond))

	assert.Equal(t, id1, id2, "같은 입력은 같은 ID (감사 추적용)")
	assert.NotEqual(t, id1, id3)
	assert.Contains(t, id1, "TXN-")
}

func TestCheckAvailabilitySeedsCounterFromTickets(t *testing.T) {
	env := newTestEnv()
	env.seedEvent(1, 10, time.Now().Add(72*time.Hour), "theatre")

	// 이미 3장이 팔린 상태에서 캐시가 비어 있으면 capacity − count로 씨딩
	env.store.tickets = []repository.Ticket{
		{EventID: 1, TransactionID: "TXN-x"},
		{EventID: 1, TransactionID: "TXN-x"},
		{EventID: 1, TransactionID: "TXN-y"},
	}

	avail, outcome := env.svc.CheckAvailability(context.Background(), 1, 2)
	require.Equal(t, OutcomeSuccess, outcome)
	assert.True(t, avail.Available)
	assert.Equal(t, 7, avail.Remaining)
	assert.Equal(t, int64(7500), avail.PricePerUnit)
}
