package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// 큐 이름 상수 (Kafka 토픽과 1:1 대응)
const (
	QueueCapacityUpdates   = "capacity-updates"
	QueueTransactionsAudit = "transactions-audit"
	QueueDLQ               = "ticket-dlq"
)

// DelayQueue: 재시도 대기 메시지가 머무는 큐 이름을 반환
func DelayQueue(queue string) string {
	return queue + ".delay"
}

const (
	EnvelopeVersion = 1

	TypeCapacityUpdate   = "capacity_update"
	TypeTransactionAudit = "transaction_audit"

	OpPurchase = "purchase"
	OpCancel   = "cancel"
)

// ReconciliationMessage: 구매/취소 시점의 재고 변동량을 기술하는 페이로드
// CapacityDelta는 구매 시 음수, 취소 시 양수
type ReconciliationMessage struct {
	EventID       uint      `json:"event_id"`
	CapacityDelta int       `json:"capacity_delta"`
	TransactionID string    `json:"transaction_id"`
	Operation     string    `json:"operation"`
	Timestamp     time.Time `json:"timestamp"`
}

// DedupKey: 같은 메시지가 두 번 배달되어도 한 번만 반영되도록 하는 멱등 키
// (transaction_id + operation 조합은 자연키로 유일함)
func (m ReconciliationMessage) DedupKey() string {
	return m.TransactionID + ":" + m.Operation
}

func (m ReconciliationMessage) Validate() error {
	if m.EventID == 0 {
		return fmt.Errorf("event_id가 없습니다")
	}
	if m.TransactionID == "" {
		return fmt.Errorf("transaction_id가 없습니다")
	}
	if m.Operation != OpPurchase && m.Operation != OpCancel {
		return fmt.Errorf("알 수 없는 operation: %q", m.Operation)
	}
	return nil
}

/*
 * Envelope: 모든 큐 메시지를 감싸는 버전 명시 봉투.
 * 재시도 메타데이터(RetryCount, OriginalQueue, EnqueuedAt)를
 * 동적 헤더 맵 대신 구조체 필드로 고정해서 운반합니다.
 */
type Envelope struct {
	Version       int                   `json:"version"`
	Type          string                `json:"type"`
	RetryCount    int                   `json:"retry_count"`
	OriginalQueue string                `json:"original_queue"`
	EnqueuedAt    time.Time             `json:"enqueued_at"`
	Message       ReconciliationMessage `json:"message"`
}

func NewEnvelope(msgType, queue string, msg ReconciliationMessage) Envelope {
	return Envelope{
		Version:       EnvelopeVersion,
		Type:          msgType,
		RetryCount:    0,
		OriginalQueue: queue,
		EnqueuedAt:    time.Now(),
		Message:       msg,
	}
}

// Backoff: 현재 RetryCount 기준의 지수 백오프 (2^retry 초)
func (e Envelope) Backoff() time.Duration {
	return time.Duration(1<<uint(e.RetryCount)) * time.Second
}

// ReadyAt: 딜레이 큐에서 원래 큐로 되돌려도 되는 시각
func (e Envelope) ReadyAt() time.Time {
	return e.EnqueuedAt.Add(e.Backoff())
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal: 봉투 역직렬화. 버전/페이로드가 깨진 메시지는 에러를 반환하며,
// 소비자는 이를 재시도 없이 곧바로 DLQ로 보냅니다.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("봉투 역직렬화 실패: %w", err)
	}
	if e.Version != EnvelopeVersion {
		return Envelope{}, fmt.Errorf("지원하지 않는 봉투 버전: %d", e.Version)
	}
	if err := e.Message.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
