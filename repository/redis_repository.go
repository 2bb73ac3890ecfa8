package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// 키 네임스페이스
// event:{id}                          이벤트 스냅샷 (JSON)
// event_capacity:{id}                 잔여 수량 카운터
// event_tickets:{userId}              유저별 티켓 목록 캐시
// event_ticket_transactions:{txnId}   트랜잭션 미러 (JSON)
// lock:event:{eventId}:{date}         구매 직렬화 락
func eventKey(eventID uint) string {
	return fmt.Sprintf("event:%d", eventID)
}

func capacityKey(eventID uint) string {
	return fmt.Sprintf("event_capacity:%d", eventID)
}

func userTicketsKey(userID string) string {
	return "event_tickets:" + userID
}

func transactionKey(transactionID string) string {
	return "event_ticket_transactions:" + transactionID
}

// LockKey: (이벤트, 공연일) 단위 락 키
func LockKey(eventID uint, eventDate time.Time) string {
	return fmt.Sprintf("lock:event:%d:%s", eventID, eventDate.Format("2006-01-02"))
}

type RedisRepository struct {
	Client *redis.Client
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{Client: client}
}

func (r *RedisRepository) GetEvent(ctx context.Context, eventID uint) (*Event, error) {
	raw, err := r.Client.Get(ctx, eventKey(eventID)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	} else if err != nil {
		return nil, err
	}

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("이벤트 스냅샷 역직렬화 실패: %w", err)
	}
	return &ev, nil
}

func (r *RedisRepository) SetEvent(ctx context.Context, event *Event, ttl time.Duration) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, eventKey(event.ID), raw, ttl).Err()
}

func (r *RedisRepository) GetCapacity(ctx context.Context, eventID uint) (int, error) {
	val, err := r.Client.Get(ctx, capacityKey(eventID)).Int()
	if err == redis.Nil {
		return 0, ErrCacheMiss
	} else if err != nil {
		return 0, err
	}
	return val, nil
}

// SeedCapacity: 카운터가 없을 때만 초기값을 심음 (SETNX).
// 동시에 두 요청이 씨딩해도 먼저 성공한 값이 유지됩니다.
func (r *RedisRepository) SeedCapacity(ctx context.Context, eventID uint, capacity int) error {
	return r.Client.SetNX(ctx, capacityKey(eventID), capacity, 0).Err()
}

// decreaseScript: 잔여 수량이 요청 수량 이상일 때만 차감하는 Lua 스크립트.
// 부족하면 차감하지 않고 -1을 반환해 서비스 계층이 매진으로 판단하게 합니다.
var decreaseScript = redis.NewScript(`
	local stock = redis.call("GET", KEYS[1])
	if stock and tonumber(stock) >= tonumber(ARGV[1]) then
		return redis.call("DECRBY", KEYS[1], ARGV[1])
	else
		return -1
	end
`)

func (r *RedisRepository) DecreaseCapacity(ctx context.Context, eventID uint, quantity int) (int, error) {
	val, err := decreaseScript.Run(ctx, r.Client, []string{capacityKey(eventID)}, quantity).Int()
	if err != nil {
		return -1, err
	}
	return val, nil
}

func (r *RedisRepository) IncreaseCapacity(ctx context.Context, eventID uint, quantity int) (int, error) {
	val, err := r.Client.IncrBy(ctx, capacityKey(eventID), int64(quantity)).Result()
	return int(val), err
}

func (r *RedisRepository) GetTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	raw, err := r.Client.Get(ctx, transactionKey(transactionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	} else if err != nil {
		return nil, err
	}

	var txn Transaction
	if err := json.Unmarshal(raw, &txn); err != nil {
		return nil, fmt.Errorf("트랜잭션 캐시 역직렬화 실패: %w", err)
	}
	return &txn, nil
}

func (r *RedisRepository) SetTransaction(ctx context.Context, txn *Transaction, ttl time.Duration) error {
	raw, err := json.Marshal(txn)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, transactionKey(txn.ID), raw, ttl).Err()
}

func (r *RedisRepository) InvalidateUserTickets(ctx context.Context, userID string) error {
	return r.Client.Del(ctx, userTicketsKey(userID)).Err()
}

// Lock: 펜싱 토큰을 발급받아 SetNX로 리스 락 획득을 시도.
// 토큰은 전역 시퀀스(INCR)라 재획득 때마다 단조 증가합니다.
func (r *RedisRepository) Lock(ctx context.Context, key string, expiration time.Duration) (int64, bool, error) {
	token, err := r.Client.Incr(ctx, "lock_token_seq").Result()
	if err != nil {
		return 0, false, err
	}

	ok, err := r.Client.SetNX(ctx, key, token, expiration).Result()
	if err != nil {
		return 0, false, err
	}
	return token, ok, nil
}

// CheckLock: 내 토큰이 아직 락의 현재 값인지 확인.
// 리스가 만료되어 다른 호출자가 재획득했다면 false.
func (r *RedisRepository) CheckLock(ctx context.Context, key string, token int64) (bool, error) {
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, err
	}

	current, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, err
	}
	return current == token, nil
}

// unlockScript: 내 토큰일 때만 지우는 compare-and-delete.
// 만료 후 남의 락을 지워버리는 사고를 막습니다.
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

func (r *RedisRepository) Unlock(ctx context.Context, key string, token int64) error {
	return unlockScript.Run(ctx, r.Client, []string{key}, token).Err()
}
