package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

/*
 * Collector: 큐별 × 메시지 타입별 처리 통계.
 * 소비자 콜백이 동시에 불리므로 쓰기는 전부 원자적 증가로만 수행하고,
 * 읽기는 Snapshot으로 복사본을 돌려줍니다.
 */

type counters struct {
	published      atomic.Int64
	processed      atomic.Int64
	failed         atomic.Int64
	durationNanos  atomic.Int64
	durationCount  atomic.Int64
	lastProcessedN atomic.Int64 // unix nano
}

type Collector struct {
	entries sync.Map // "queue|type" → *counters
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) get(queue, msgType string) *counters {
	key := queue + "|" + msgType
	if v, ok := c.entries.Load(key); ok {
		return v.(*counters)
	}
	v, _ := c.entries.LoadOrStore(key, &counters{})
	return v.(*counters)
}

func (c *Collector) RecordPublished(queue, msgType string) {
	c.get(queue, msgType).published.Add(1)
}

func (c *Collector) RecordProcessed(queue, msgType string, took time.Duration) {
	e := c.get(queue, msgType)
	e.processed.Add(1)
	e.durationNanos.Add(int64(took))
	e.durationCount.Add(1)
	e.lastProcessedN.Store(time.Now().UnixNano())
}

func (c *Collector) RecordFailed(queue, msgType string) {
	c.get(queue, msgType).failed.Add(1)
}

// Entry: 외부 모니터링에 노출되는 읽기 전용 통계 한 줄
type Entry struct {
	Queue            string    `json:"queue"`
	MessageType      string    `json:"message_type"`
	Published        int64     `json:"published"`
	Processed        int64     `json:"processed"`
	Failed           int64     `json:"failed"`
	AvgProcessingMs  float64   `json:"avg_processing_ms"`
	LastProcessedAt  time.Time `json:"last_processed_at"`
	HasProcessedOnce bool      `json:"has_processed_once"`
}

func (c *Collector) Snapshot() []Entry {
	// 빈 수집기도 JSON에서 null이 아닌 []로 보이도록 항상 비-nil 슬라이스
	out := []Entry{}

	c.entries.Range(func(key, value any) bool {
		k := key.(string)
		e := value.(*counters)

		var queue, msgType string
		for i := 0; i < len(k); i++ {
			if k[i] == '|' {
				queue, msgType = k[:i], k[i+1:]
				break
			}
		}

		entry := Entry{
			Queue:       queue,
			MessageType: msgType,
			Published:   e.published.Load(),
			Processed:   e.processed.Load(),
			Failed:      e.failed.Load(),
		}

		if n := e.durationCount.Load(); n > 0 {
			entry.AvgProcessingMs = float64(e.durationNanos.Load()) / float64(n) / 1e6
		}
		if ts := e.lastProcessedN.Load(); ts > 0 {
			entry.LastProcessedAt = time.Unix(0, ts)
			entry.HasProcessedOnce = true
		}

		out = append(out, entry)
		return true
	})

	return out
}
