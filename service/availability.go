package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"event-ticketing/repository"
)

const (
	eventSnapshotTTL = 10 * time.Minute
	pastEventTTL     = time.Minute // 지난 이벤트 스냅샷은 짧게만 유지
	transactionTTL   = 30 * time.Minute
	lockLease        = 30 * time.Second // 최악의 결제 왕복 시간보다 길게
	cancelWindow     = 24 * time.Hour
)

// 카테고리별 고정 단가 (최소 화폐 단위). 동적 가격 아님.
var categoryPrices = map[string]int64{
	"concert":    12000,
	"sport":      9000,
	"theatre":    7500,
	"conference": 5000,
}

const defaultPrice int64 = 6000

func PriceFor(category string) int64 {
	if price, ok := categoryPrices[category]; ok {
		return price
	}
	return defaultPrice
}

// Availability: 가용성 조회 결과
type Availability struct {
	Available    bool  `json:"available"`
	PricePerUnit int64 `json:"price_per_unit"`
	Remaining    int   `json:"remaining"`
}

// loadEvent: 캐시 우선으로 이벤트 스냅샷을 읽고, 미스면 MySQL에서 읽어
// 캐시를 채웁니다. 공연일이 지난 이벤트는 TTL을 짧게 둡니다.
func (s *TicketService) loadEvent(ctx context.Context, eventID uint) (*repository.Event, Outcome) {
	ev, err := s.cache.GetEvent(ctx, eventID)
	if err == nil {
		return ev, OutcomeSuccess
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		s.logger.WithField("event_id", eventID).Errorf("이벤트 캐시 조회 실패: %v", err)
		// 캐시 장애는 durable 폴백으로 계속 진행
	}

	ev, err = s.store.GetEvent(ctx, eventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, OutcomeNotFound
	} else if err != nil {
		s.logger.WithField("event_id", eventID).Errorf("이벤트 DB 조회 실패: %v", err)
		return nil, OutcomeInternal
	}

	ttl := eventSnapshotTTL
	if !ev.Date.After(time.Now()) {
		ttl = pastEventTTL
	}
	if err := s.cache.SetEvent(ctx, ev, ttl); err != nil {
		s.logger.WithField("event_id", eventID).Warnf("이벤트 스냅샷 캐싱 실패: %v", err)
	}

	return ev, OutcomeSuccess
}

// remainingCapacity: 캐시 카운터를 읽고, 미스면
// capacity − count(tickets)로 계산해 SETNX로 씨딩합니다.
func (s *TicketService) remainingCapacity(ctx context.Context, ev *repository.Event) (int, error) {
	remaining, err := s.cache.GetCapacity(ctx, ev.ID)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		return 0, err
	}

	sold, err := s.store.CountTickets(ctx, ev.ID)
	if err != nil {
		return 0, err
	}

	seed := ev.Capacity - int(sold)
	if seed < 0 {
		seed = 0
	}
	if err := s.cache.SeedCapacity(ctx, ev.ID, seed); err != nil {
		return 0, err
	}

	// 씨딩 경합에서 졌을 수 있으니 카운터를 다시 읽어 확정값 사용
	return s.cache.GetCapacity(ctx, ev.ID)
}

// CheckAvailability: "수량 Q를 단가 얼마에 살 수 있는가"에 답하는 조회 연산.
// 락 없이 호출되는 읽기 경로이며, 구매 경로는 락 안에서 같은 로직을 다시 탑니다.
func (s *TicketService) CheckAvailability(ctx context.Context, eventID uint, quantity int) (Availability, Outcome) {
	ev, outcome := s.loadEvent(ctx, eventID)
	if outcome != OutcomeSuccess {
		return Availability{}, outcome
	}
	return s.checkEvent(ctx, ev, quantity)
}

func (s *TicketService) checkEvent(ctx context.Context, ev *repository.Event, quantity int) (Availability, Outcome) {
	if !ev.Date.After(time.Now()) {
		return Availability{}, OutcomeEventOver
	}

	remaining, err := s.remainingCapacity(ctx, ev)
	if err != nil {
		s.logger.WithField("event_id", ev.ID).Errorf("잔여 수량 조회 실패: %v", err)
		return Availability{}, OutcomeInternal
	}

	avail := Availability{
		Available:    remaining >= quantity,
		PricePerUnit: PriceFor(ev.Category),
		Remaining:    remaining,
	}
	if !avail.Available {
		return avail, OutcomeSoldOut
	}
	return avail, OutcomeSuccess
}
