package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"event-ticketing/service"
	"event-ticketing/stats"
)

// Response: 공통 응답 구조체
type Response struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	Remaining     int    `json:"remaining"`
}

/*
 * TicketHandler: 예매/취소/가용성 요청을 처리하는 컨트롤러 레이어.
 * 서비스가 돌려주는 Outcome을 HTTP 상태 코드로 변환하는 것까지만 담당합니다.
 */
type TicketHandler struct {
	Service  *service.TicketService
	Stats    *stats.Collector
	validate *validator.Validate
}

func NewTicketHandler(s *service.TicketService, c *stats.Collector) *TicketHandler {
	return &TicketHandler{
		Service:  s,
		Stats:    c,
		validate: validator.New(),
	}
}

type PurchaseRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	EventID  uint   `json:"event_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gt=0,lte=10"`
	Card     string `json:"card" validate:"required"`
}

type CancelRequest struct {
	UserID        string `json:"user_id" validate:"required"`
	TransactionID string `json:"transaction_id" validate:"required"`
}

// Purchase: POST /ticket
func (h *TicketHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "요청 본문을 해석할 수 없습니다"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	result := h.Service.Purchase(r.Context(), req.UserID, req.EventID, req.Quantity, req.Card)

	switch result.Outcome {
	case service.OutcomeSuccess:
		json.NewEncoder(w).Encode(Response{
			Success:       true,
			Message:       "예매 성공!",
			TransactionID: result.TransactionID,
			Amount:        result.Amount,
			Remaining:     result.Remaining,
		})

	case service.OutcomeBusy:
		// [503] 같은 이벤트 구매가 진행 중 — 잠시 후 재시도
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "예매가 몰리고 있습니다. 잠시 후 다시 시도해주세요."})

	case service.OutcomeSoldOut:
		// [410 Gone] 요청 수량만큼 남아있지 않음
		w.WriteHeader(http.StatusGone)
		json.NewEncoder(w).Encode(Response{
			Success:   false,
			Message:   "매진되었습니다.",
			Remaining: result.Remaining,
		})

	case service.OutcomeEventOver:
		w.WriteHeader(http.StatusGone)
		json.NewEncoder(w).Encode(map[string]string{"error": "이미 종료된 이벤트입니다."})

	case service.OutcomePaymentFailed:
		// [402] 결제 거절 — 재고 변동 없음
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(Response{
			Success:       false,
			Message:       "결제에 실패했습니다.",
			TransactionID: result.TransactionID,
		})

	case service.OutcomeNotFound:
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "이벤트를 찾을 수 없습니다."})

	default:
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "시스템 오류가 발생했습니다."})
	}
}

// Cancel: POST /cancel
func (h *TicketHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "요청 본문을 해석할 수 없습니다"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	result := h.Service.Cancel(r.Context(), req.UserID, req.TransactionID)

	switch result.Outcome {
	case service.OutcomeSuccess:
		json.NewEncoder(w).Encode(Response{
			Success:   true,
			Message:   "취소가 완료되었습니다. (재고 즉시 복구됨)",
			Remaining: result.Restored,
		})

	case service.OutcomeNotFound:
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "취소할 수 있는 구매 내역이 없습니다."})

	case service.OutcomeWindowClosed:
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "공연 24시간 전까지만 취소할 수 있습니다."})

	case service.OutcomePaymentFailed:
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]string{"error": "환불 처리에 실패했습니다."})

	default:
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "시스템 오류가 발생했습니다."})
	}
}

// Availability: GET /availability?event_id=..&quantity=..
func (h *TicketHandler) Availability(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	eventID, err := strconv.ParseUint(r.URL.Query().Get("event_id"), 10, 32)
	if err != nil || eventID == 0 {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "event_id가 필요합니다"})
		return
	}
	quantity, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil || quantity <= 0 {
		quantity = 1
	}

	avail, outcome := h.Service.CheckAvailability(r.Context(), uint(eventID), quantity)

	switch outcome {
	case service.OutcomeSuccess, service.OutcomeSoldOut:
		json.NewEncoder(w).Encode(avail)
	case service.OutcomeEventOver:
		w.WriteHeader(http.StatusGone)
		json.NewEncoder(w).Encode(map[string]string{"error": "이미 종료된 이벤트입니다."})
	case service.OutcomeNotFound:
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "이벤트를 찾을 수 없습니다."})
	default:
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "시스템 오류가 발생했습니다."})
	}
}

// QueueStats: GET /stats — 모니터링 수집기가 읽어가는 읽기 전용 스냅샷
func (h *TicketHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Stats.Snapshot())
}
