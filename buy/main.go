package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// 동시 예매 부하 드라이버: capacity보다 많은 구매를 한꺼번에 던져
// 오버셀이 없는지 눈으로 확인할 때 사용
func main() {
	var wg sync.WaitGroup
	totalUsers := 5000
	eventID := 1

	var success, soldOut, busy, declined int
	var mu sync.Mutex

	for i := 0; i < totalUsers; i++ {
		wg.Add(1)
		go func(user int) {
			defer wg.Done()

			body, _ := json.Marshal(map[string]any{
				"user_id":  fmt.Sprintf("user_%d", user),
				"event_id": eventID,
				"quantity": 1,
				"card":     "tok_test",
			})

			for {
				resp, err := http.Post("http://localhost:8080/ticket", "application/json", bytes.NewReader(body))
				if err != nil {
					return
				}

				switch resp.StatusCode {
				case http.StatusOK: // 예매 성공
					mu.Lock()
					success++
					mu.Unlock()
					resp.Body.Close()
					return

				case http.StatusServiceUnavailable: // 락 경합 — 바로 재시도
					resp.Body.Close()
					continue

				case http.StatusGone: // 매진
					mu.Lock()
					soldOut++
					mu.Unlock()
					resp.Body.Close()
					return

				case http.StatusPaymentRequired: // 결제 거절
					mu.Lock()
					declined++
					mu.Unlock()
					resp.Body.Close()
					return

				default:
					mu.Lock()
					busy++
					mu.Unlock()
					resp.Body.Close()
					return
				}
			}
		}(i)
	}

	wg.Wait()
	fmt.Printf("테스트 종료: 성공 %d / 매진 %d / 거절 %d / 기타 %d\n", success, soldOut, declined, busy)
}
