package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"event-ticketing/message"
	"event-ticketing/payment"
	"event-ticketing/repository"
	"event-ticketing/stats"
)

// 인메모리 페이크들. Redis/MySQL의 원자성 계약을 뮤텍스로 재현합니다.

type fakeCache struct {
	mu           sync.Mutex
	events       map[uint]repository.Event
	capacity     map[uint]int
	transactions map[string]repository.Transaction
	invalidated  []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		events:       map[uint]repository.Event{},
		capacity:     map[uint]int{},
		transactions: map[string]repository.Transaction{},
	}
}

func (f *fakeCache) GetEvent(ctx context.Context, eventID uint) (*repository.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[eventID]
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	return &ev, nil
}

func (f *fakeCache) SetEvent(ctx context.Context, event *repository.Event, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[event.ID] = *event
	return nil
}

func (f *fakeCache) GetCapacity(ctx context.Context, eventID uint) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.capacity[eventID]
	if !ok {
		return 0, repository.ErrCacheMiss
	}
	return val, nil
}

func (f *fakeCache) SeedCapacity(ctx context.Context, eventID uint, capacity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.capacity[eventID]; !ok {
		f.capacity[eventID] = capacity
	}
	return nil
}

func (f *fakeCache) DecreaseCapacity(ctx context.Context, eventID uint, quantity int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.capacity[eventID] < quantity {
		return -1, nil
	}
	f.capacity[eventID] -= quantity
	return f.capacity[eventID], nil
}

func (f *fakeCache) IncreaseCapacity(ctx context.Context, eventID uint, quantity int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capacity[eventID] += quantity
	return f.capacity[eventID], nil
}

func (f *fakeCache) GetTransaction(ctx context.Context, transactionID string) (*repository.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	txn, ok := f.transactions[transactionID]
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	return &txn, nil
}

func (f *fakeCache) SetTransaction(ctx context.Context, txn *repository.Transaction, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions[txn.ID] = *txn
	return nil
}

func (f *fakeCache) InvalidateUserTickets(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, userID)
	return nil
}

// fakeLock: 펜싱 토큰 포함 리스 락의 인메모리 구현
type fakeLock struct {
	mu       sync.Mutex
	held     map[string]int64
	tokenSeq int64
	expired  bool // true면 CheckLock이 항상 false (리스 만료 시뮬레이션)
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: map[string]int64{}}
}

func (f *fakeLock) Lock(ctx context.Context, key string, expiration time.Duration) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[key]; ok {
		return 0, false, nil
	}
	f.tokenSeq++
	f.held[key] = f.tokenSeq
	return f.tokenSeq, true, nil
}

func (f *fakeLock) CheckLock(ctx context.Context, key string, token int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired {
		return false, nil
	}
	return f.held[key] == token, nil
}

func (f *fakeLock) Unlock(ctx context.Context, key string, token int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] == token {
		delete(f.held, key)
	}
	return nil
}

// fakeStore: 최종 저장소의 인메모리 구현
type fakeStore struct {
	mu           sync.Mutex
	events       map[uint]*repository.Event
	transactions map[string]*repository.Transaction
	tickets      []repository.Ticket
	processed    map[string]bool
	audits       []repository.TransactionAudit

	failSaveTransaction bool
	failCreateTickets   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:       map[uint]*repository.Event{},
		transactions: map[string]*repository.Transaction{},
		processed:    map[string]bool{},
	}
}

func (f *fakeStore) GetEvent(ctx context.Context, eventID uint) (*repository.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[eventID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *ev
	return &cp, nil
}

func (f *fakeStore) CountTickets(ctx context.Context, eventID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, t := range f.tickets {
		if t.EventID == eventID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) SaveTransaction(ctx context.Context, txn *repository.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaveTransaction {
		return errors.New("mysql unavailable")
	}
	if _, ok := f.transactions[txn.ID]; ok {
		return fmt.Errorf("duplicate transaction id: %s", txn.ID)
	}
	cp := *txn
	f.transactions[txn.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateTransactionStatus(ctx context.Context, transactionID, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	txn, ok := f.transactions[transactionID]
	if !ok || txn.Status != from {
		return fmt.Errorf("상태 전이 불가: %s", transactionID)
	}
	txn.Status = to
	return nil
}

func (f *fakeStore) UpdateTransactionPayment(ctx context.Context, transactionID, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if txn, ok := f.transactions[transactionID]; ok {
		txn.PaymentID = paymentID
	}
	return nil
}

func (f *fakeStore) GetTransaction(ctx context.Context, transactionID, userID string) (*repository.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	txn, ok := f.transactions[transactionID]
	if !ok || txn.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *txn
	return &cp, nil
}

func (f *fakeStore) CreateTickets(ctx context.Context, tickets []repository.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateTickets {
		return errors.New("mysql unavailable")
	}
	f.tickets = append(f.tickets, tickets...)
	return nil
}

func (f *fakeStore) DeleteTicketsByTransaction(ctx context.Context, transactionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []repository.Ticket
	var deleted int64
	for _, t := range f.tickets {
		if t.TransactionID == transactionID {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	f.tickets = kept
	return deleted, nil
}

func (f *fakeStore) ApplyCapacityDelta(ctx context.Context, eventID uint, delta int, dedupKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.processed[dedupKey] {
		return false, nil
	}
	ev, ok := f.events[eventID]
	if !ok {
		return false, fmt.Errorf("이벤트 %d가 존재하지 않습니다", eventID)
	}
	f.processed[dedupKey] = true
	ev.Capacity += delta
	return true, nil
}

func (f *fakeStore) SaveAudit(ctx context.Context, audit *repository.TransactionAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, *audit)
	return nil
}

// fakePublisher: 발행된 봉투를 큐별로 기록 (order는 발행 순서의 큐 이름)
type fakePublisher struct {
	mu        sync.Mutex
	published map[string][]message.Envelope
	order     []string
	dlq       [][]byte
	failAll   bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: map[string][]message.Envelope{}}
}

func (f *fakePublisher) Publish(ctx context.Context, queue string, env message.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("broker unavailable")
	}
	f.published[queue] = append(f.published[queue], env)
	f.order = append(f.order, queue)
	return nil
}

func (f *fakePublisher) PublishToDLQ(ctx context.Context, key, value []byte, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dlq = append(f.dlq, value)
	return nil
}

func (f *fakePublisher) envelopes(queue string) []message.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.Envelope(nil), f.published[queue]...)
}

func (f *fakePublisher) queueOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

// recordingProvider: 호출 기록이 남는 결제 페이크
type recordingProvider struct {
	mu          sync.Mutex
	charges     []payment.ChargeRequest
	refunds     []string
	decline     bool
	fail        bool
	failRefund  bool
	refundDelay time.Duration // 게이트웨이 왕복 지연 시뮬레이션
}

func (p *recordingProvider) Charge(ctx context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return payment.ChargeResult{}, errors.New("gateway timeout")
	}
	p.charges = append(p.charges, req)
	if p.decline {
		return payment.ChargeResult{Status: payment.StatusDeclined}, nil
	}
	return payment.ChargeResult{Status: payment.StatusSuccess, PaymentID: fmt.Sprintf("pay_%d", len(p.charges))}, nil
}

func (p *recordingProvider) Refund(ctx context.Context, paymentID string, amount int64) error {
	if p.refundDelay > 0 {
		time.Sleep(p.refundDelay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failRefund {
		return errors.New("gateway timeout")
	}
	p.refunds = append(p.refunds, paymentID)
	return nil
}

type testEnv struct {
	svc       *TicketService
	cache     *fakeCache
	lock      *fakeLock
	store     *fakeStore
	publisher *fakePublisher
	provider  *recordingProvider
}

func newTestEnv() *testEnv {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &testEnv{
		cache:     newFakeCache(),
		lock:      newFakeLock(),
		store:     newFakeStore(),
		publisher: newFakePublisher(),
		provider:  &recordingProvider{},
	}
	env.svc = NewTicketService(TicketServiceProperty{
		Logger:    logger,
		Cache:     env.cache,
		Lock:      env.lock,
		Store:     env.store,
		Publisher: env.publisher,
		Payment:   env.provider,
		Stats:     stats.NewCollector(),
		TxnIDKey:  []byte("test-key"),
	})
	return env
}

// seedEvent: durable 저장소에 이벤트를 넣음 (캐시는 비워둠)
func (e *testEnv) seedEvent(id uint, capacity int, date time.Time, category string) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.events[id] = &repository.Event{
		ID:       id,
		Name:     fmt.Sprintf("event-%d", id),
		Date:     date,
		Capacity: capacity,
		Category: category,
	}
}
