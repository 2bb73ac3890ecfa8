package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// 결제 결과 상태
const (
	StatusSuccess  = "success"
	StatusDeclined = "declined"
	StatusError    = "error"
)

type ChargeRequest struct {
	Amount     int64  `json:"amount"` // 최소 화폐 단위
	Currency   string `json:"currency"`
	Instrument string `json:"instrument"` // 카드 토큰 등 결제 수단 식별자
}

type ChargeResult struct {
	Status    string `json:"status"`
	PaymentID string `json:"payment_id"`
}

/*
 * Provider: 외부 결제 게이트웨이 계약.
 * 멱등 키는 전달하지 않으므로 재시도된 charge는 중복 청구될 수 있습니다
 * (게이트웨이 계약이 그렇고, 구매 경로는 charge를 재시도하지 않습니다).
 */
type Provider interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, paymentID string, amount int64) error
}

// HTTPProvider: JSON over HTTP 결제 게이트웨이 클라이언트
type HTTPProvider struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *HTTPProvider) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ChargeResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/charge", bytes.NewReader(body))
	if err != nil {
		return ChargeResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("결제 게이트웨이 호출 실패: %w", err)
	}
	defer resp.Body.Close()

	var result ChargeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ChargeResult{}, fmt.Errorf("결제 응답 해석 실패: %w", err)
	}
	return result, nil
}

func (p *HTTPProvider) Refund(ctx context.Context, paymentID string, amount int64) error {
	body, err := json.Marshal(map[string]any{
		"payment_id": paymentID,
		"amount":     amount,
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/refund", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("환불 호출 실패: %w", err)
	}
	defer resp.Body.Close()

	var result ChargeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("환불 응답 해석 실패: %w", err)
	}
	if result.Status != StatusSuccess {
		return fmt.Errorf("환불 거절: %s", result.Status)
	}
	return nil
}

// StaticProvider: 게이트웨이 없이 돌릴 때 쓰는 고정 응답 제공자.
// Decline을 켜면 모든 청구가 거절됩니다.
type StaticProvider struct {
	Decline bool
}

func (p *StaticProvider) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if p.Decline {
		return ChargeResult{Status: StatusDeclined}, nil
	}
	return ChargeResult{
		Status:    StatusSuccess,
		PaymentID: uuid.NewString(),
	}, nil
}

func (p *StaticProvider) Refund(ctx context.Context, paymentID string, amount int64) error {
	return nil
}
