package service

// Outcome: HTTP에 중립적인 사용자 노출 결과 분류.
// 핸들러 계층이 이 값을 상태 코드로 변환합니다.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeBusy            // 락 획득 실패 — 클라이언트가 재시도 가능
	OutcomeSoldOut         // 요청 수량만큼 잔여 없음
	OutcomeEventOver       // 공연일이 이미 지남
	OutcomePaymentFailed   // 결제 거절/오류 — 이 트랜잭션은 종결
	OutcomeNotFound        // 이벤트 또는 트랜잭션 없음
	OutcomeWindowClosed    // 취소 가능 기간(공연 24시간 전) 경과
	OutcomeInternal        // 인프라 장애 — 수동 정산 대상일 수 있음
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeBusy:
		return "BUSY"
	case OutcomeSoldOut:
		return "SOLD_OUT"
	case OutcomeEventOver:
		return "EVENT_OVER"
	case OutcomePaymentFailed:
		return "PAYMENT_FAILED"
	case OutcomeNotFound:
		return "NOT_FOUND"
	case OutcomeWindowClosed:
		return "WINDOW_CLOSED"
	default:
		return "INTERNAL_ERROR"
	}
}

// PurchaseResult: 구매 경로의 결과
type PurchaseResult struct {
	Outcome       Outcome
	TransactionID string
	Amount        int64
	Remaining     int
}

// CancelResult: 취소 경로의 결과
type CancelResult struct {
	Outcome  Outcome
	Restored int
}
