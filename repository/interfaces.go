package repository

import (
	"context"
	"errors"
	"time"

	"event-ticketing/message"
)

// ErrCacheMiss: 캐시에 키가 없을 때 반환 (durable 폴백 신호)
var ErrCacheMiss = errors.New("cache miss")

/*
 * CacheRepository Interface
 * Redis를 기반으로 이벤트 스냅샷, 이벤트별 잔여 수량 카운터,
 * 트랜잭션/티켓 캐시를 담당합니다. 카운터 연산은 원자적이어야 합니다.
 */

type CacheRepository interface {
	// Event Snapshot
	GetEvent(ctx context.Context, eventID uint) (*Event, error)
	SetEvent(ctx context.Context, event *Event, ttl time.Duration) error

	// Capacity Counter
	GetCapacity(ctx context.Context, eventID uint) (int, error)
	SeedCapacity(ctx context.Context, eventID uint, capacity int) error
	DecreaseCapacity(ctx context.Context, eventID uint, quantity int) (int, error)
	IncreaseCapacity(ctx context.Context, eventID uint, quantity int) (int, error)

	// Transaction Mirror / User Ticket Cache
	GetTransaction(ctx context.Context, transactionID string) (*Transaction, error)
	SetTransaction(ctx context.Context, txn *Transaction, ttl time.Duration) error
	InvalidateUserTickets(ctx context.Context, userID string) error
}

/*
 * LockRepository Interface
 * (event, event-date) 단위 구매 직렬화를 위한 리스 기반 분산 락.
 * Lock이 발급하는 token은 단조 증가하는 펜싱 토큰으로, 리스가 만료된 뒤
 * 다른 보유자가 락을 재획득한 경우 CheckLock이 false를 반환합니다.
 */

type LockRepository interface {
	Lock(ctx context.Context, key string, expiration time.Duration) (token int64, acquired bool, err error)
	CheckLock(ctx context.Context, key string, token int64) (bool, error)
	Unlock(ctx context.Context, key string, token int64) error
}

/*
 * StoreRepository Interface
 * 최종 진실 저장소(MySQL). 정산 반영(ApplyCapacityDelta)은 멱등 키와
 * capacity 갱신을 한 트랜잭션으로 묶습니다.
 */

type StoreRepository interface {
	GetEvent(ctx context.Context, eventID uint) (*Event, error)
	CountTickets(ctx context.Context, eventID uint) (int64, error)

	SaveTransaction(ctx context.Context, txn *Transaction) error
	UpdateTransactionStatus(ctx context.Context, transactionID, from, to string) error
	UpdateTransactionPayment(ctx context.Context, transactionID, paymentID string) error
	GetTransaction(ctx context.Context, transactionID, userID string) (*Transaction, error)

	CreateTickets(ctx context.Context, tickets []Ticket) error
	DeleteTicketsByTransaction(ctx context.Context, transactionID string) (int64, error)

	// ApplyCapacityDelta: 이미 처리된 dedupKey면 (false, nil)을 반환하고 아무것도 바꾸지 않음
	ApplyCapacityDelta(ctx context.Context, eventID uint, delta int, dedupKey string) (bool, error)
	SaveAudit(ctx context.Context, audit *TransactionAudit) error
}

/*
 * Publisher Interface
 * 큐 이름을 받아 봉투를 영속 발행합니다. DLQ 발행은 원본 바이트를 그대로
 * 보존해야 하므로 raw 시그니처를 따로 둡니다.
 */

type Publisher interface {
	Publish(ctx context.Context, queue string, env message.Envelope) error
	PublishToDLQ(ctx context.Context, key, value []byte, reason string) error
}
