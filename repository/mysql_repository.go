package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MySQLRepository struct {
	DB *gorm.DB
}

func NewMySQLRepository(db *gorm.DB) *MySQLRepository {
	return &MySQLRepository{
		DB: db,
	}
}

func (r *MySQLRepository) GetEvent(ctx context.Context, eventID uint) (*Event, error) {
	var ev Event
	err := r.DB.WithContext(ctx).First(&ev, eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	} else if err != nil {
		return nil, fmt.Errorf("이벤트 조회 실패: %w", err)
	}
	return &ev, nil
}

// CountTickets: 카운터 캐시 미스 시 씨드 계산용 (capacity − 판매 티켓 수)
func (r *MySQLRepository) CountTickets(ctx context.Context, eventID uint) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&Ticket{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	return count, err
}

func (r *MySQLRepository) SaveTransaction(ctx context.Context, txn *Transaction) error {
	return r.DB.WithContext(ctx).Create(txn).Error
}

// UpdateTransactionStatus: 상태 전이를 WHERE 절로 강제.
// 현재 상태가 from이 아니면 한 행도 안 바뀌고 에러를 반환합니다.
func (r *MySQLRepository) UpdateTransactionStatus(ctx context.Context, transactionID, from, to string) error {
	result := r.DB.WithContext(ctx).Model(&Transaction{}).
		Where("id = ? AND status = ?", transactionID, from).
		Update("status", to)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("상태 전이 불가: %s (%s → %s)", transactionID, from, to)
	}
	return nil
}

// UpdateTransactionPayment: 결제 승인 후 게이트웨이가 발급한 payment_id 기록
// (환불 시 이 값이 필요합니다)
func (r *MySQLRepository) UpdateTransactionPayment(ctx context.Context, transactionID, paymentID string) error {
	return r.DB.WithContext(ctx).Model(&Transaction{}).
		Where("id = ?", transactionID).
		Update("payment_id", paymentID).Error
}

func (r *MySQLRepository) GetTransaction(ctx context.Context, transactionID, userID string) (*Transaction, error) {
	var txn Transaction
	err := r.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", transactionID, userID).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *MySQLRepository) CreateTickets(ctx context.Context, tickets []Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).Create(&tickets).Error
}

func (r *MySQLRepository) DeleteTicketsByTransaction(ctx context.Context, transactionID string) (int64, error) {
	// Soft Delete가 걸려 있어도 확실히 지우기 위해 Unscoped 사용
	result := r.DB.WithContext(ctx).Unscoped().
		Where("transaction_id = ?", transactionID).
		Delete(&Ticket{})

	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ApplyCapacityDelta: 멱등 키 기록과 capacity 갱신을 한 DB 트랜잭션으로 수행.
// 같은 dedupKey가 다시 들어오면(재배달) 중복 키(1062)로 감지하고
// 아무것도 반영하지 않은 채 (false, nil)을 반환합니다.
func (r *MySQLRepository) ApplyCapacityDelta(ctx context.Context, eventID uint, delta int, dedupKey string) (bool, error) {
	applied := false

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ProcessedMessage{DedupKey: dedupKey}).Error; err != nil {
			var mysqlErr *mysql.MySQLError
			if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
				return nil
			}
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil
			}
			return err
		}

		result := tx.Model(&Event{}).
			Where("id = ?", eventID).
			Update("capacity", gorm.Expr("capacity + ?", delta))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("이벤트 %d가 존재하지 않습니다", eventID)
		}

		applied = true
		return nil
	})

	return applied, err
}

// SaveAudit: 감사 기록은 재배달을 감안해 중복 삽입을 무시 (OnConflict DoNothing)
func (r *MySQLRepository) SaveAudit(ctx context.Context, audit *TransactionAudit) error {
	return r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(audit).Error
}
