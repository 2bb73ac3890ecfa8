package repository

import "time"

// Transaction 상태 수명주기
// Pending → Completed | Failed, Completed → Cancelled (Cancelled/Failed는 종결 상태)
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// Event 도메인 모델. 생성 이후 capacity 필드만 정산 워커가 갱신합니다.
type Event struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	Name     string    `gorm:"column:name;not null" json:"name"`
	Date     time.Time `gorm:"column:date;not null" json:"date"`
	Capacity int       `gorm:"column:capacity;not null" json:"capacity"`
	Location string    `gorm:"column:location" json:"location"`
	Category string    `gorm:"column:category" json:"category"`
}

func (Event) TableName() string {
	return "events"
}

// Transaction 구매 원장 모델. Amount는 최소 화폐 단위(센트)의 정수.
type Transaction struct {
	ID        string    `gorm:"primaryKey;column:id" json:"id"`
	EventID   uint      `gorm:"column:event_id;not null" json:"event_id"`
	UserID    string    `gorm:"column:user_id;not null" json:"user_id"`
	EventDate time.Time `gorm:"column:event_date;not null" json:"event_date"`
	Quantity  int       `gorm:"column:quantity;not null" json:"quantity"`
	Amount    int64     `gorm:"column:amount;not null" json:"amount"`
	Status    string    `gorm:"column:status;not null" json:"status"`
	PaymentID string    `gorm:"column:payment_id" json:"payment_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "event_ticket_transactions"
}

// Ticket 발권 모델. Completed 전이 시점에만 생성되며 수량 N이면 N행이
// 하나의 transaction_id를 공유합니다.
type Ticket struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID string    `gorm:"column:transaction_id;not null" json:"transaction_id"`
	UserID        string    `gorm:"column:user_id;not null" json:"user_id"`
	EventID       uint      `gorm:"column:event_id;not null" json:"event_id"`
	EventDate     time.Time `gorm:"column:event_date;not null" json:"event_date"`
	PurchasedAt   time.Time `gorm:"column:purchased_at;autoCreateTime" json:"purchased_at"`
}

func (Ticket) TableName() string {
	return "tickets"
}

// ProcessedMessage: 정산 메시지 중복 반영 방지용 멱등 키 저장소
type ProcessedMessage struct {
	DedupKey    string    `gorm:"primaryKey;column:dedup_key"`
	ProcessedAt time.Time `gorm:"column:processed_at;autoCreateTime"`
}

func (ProcessedMessage) TableName() string {
	return "processed_messages"
}

// TransactionAudit: transactions-audit 큐로 들어온 감사 기록
type TransactionAudit struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	TransactionID string    `gorm:"column:transaction_id;not null;uniqueIndex:idx_audit_txn_op"`
	EventID       uint      `gorm:"column:event_id;not null"`
	Operation     string    `gorm:"column:operation;not null;uniqueIndex:idx_audit_txn_op"`
	CapacityDelta int       `gorm:"column:capacity_delta;not null"`
	OccurredAt    time.Time `gorm:"column:occurred_at"`
	RecordedAt    time.Time `gorm:"column:recorded_at;autoCreateTime"`
}

func (TransactionAudit) TableName() string {
	return "transaction_audits"
}
