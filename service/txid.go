package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// newTransactionID: 유저 + 이벤트 + 고해상도 타임스탬프의 키드 해시로
// 트랜잭션 ID를 생성합니다. 난수가 아니라 입력에서 유도되므로
// 같은 입력이면 같은 ID가 나와 감사(audit) 시 추적이 가능합니다.
func newTransactionID(key []byte, userID string, eventID uint, at time.Time) string {
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s|%d|%d", userID, eventID, at.UnixNano())
	return "TXN-" + hex.EncodeToString(mac.Sum(nil))[:32]
}
