package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"event-ticketing/message"
	"event-ticketing/repository"
)

/*
 * DelayWorker: <큐>.delay 토픽을 전담하는 백그라운드 워커.
 * 봉투의 ReadyAt(enqueued_at + 2^retry초)이 될 때까지 기다렸다가
 * 원래 큐로 되돌려 보냅니다. 백오프는 재시도마다 늘어나므로
 * 파티션 선두에서 기다려도 뒤 메시지가 크게 밀리지 않습니다.
 */
type DelayWorker struct {
	Queue     string // 원본 큐 이름
	Reader    Fetcher
	Publisher repository.Publisher
	Logger    *logrus.Logger
}

func NewDelayWorker(brokers []string, queue, groupID string, publisher repository.Publisher, logger *logrus.Logger) *DelayWorker {
	return &DelayWorker{
		Queue: queue,
		Reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    message.DelayQueue(queue),
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		Publisher: publisher,
		Logger:    logger,
	}
}

func (w *DelayWorker) Run(ctx context.Context) {
	w.Logger.Infof("⏳ 딜레이 워커 시작: %s", message.DelayQueue(w.Queue))
	defer closeReader(w.Reader, message.DelayQueue(w.Queue), w.Logger)

	for {
		err := w.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		w.Logger.Errorf("딜레이 워커 비정상 종료, 1초 후 재시작 (%s): %v", w.Queue, err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (w *DelayWorker) consume(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	for {
		m, ferr := w.Reader.FetchMessage(ctx)
		if ferr != nil {
			return ferr
		}

		w.redeliver(ctx, m)

		if cerr := w.Reader.CommitMessages(ctx, m); cerr != nil {
			w.Logger.Errorf("딜레이 큐 커밋 실패 (%s): %v", w.Queue, cerr)
		}
	}
}

// Redeliver 단위 로직 (테스트에서 직접 호출)
func (w *DelayWorker) redeliver(ctx context.Context, m kafka.Message) {
	env, err := message.Unmarshal(m.Value)
	if err != nil {
		w.Logger.Errorf("딜레이 큐의 깨진 메시지 → DLQ: %v", err)
		if derr := w.Publisher.PublishToDLQ(ctx, m.Key, m.Value, err.Error()); derr != nil {
			w.Logger.Errorf("💣 DLQ 발행 실패 payload=%s: %v", string(m.Value), derr)
		}
		return
	}

	if wait := time.Until(env.ReadyAt()); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}

	if err := w.Publisher.Publish(ctx, env.OriginalQueue, env); err != nil {
		w.Logger.WithFields(logrus.Fields{
			"transaction_id": env.Message.TransactionID,
			"retry_count":    env.RetryCount,
		}).Errorf("원본 큐 재발행 실패 → DLQ: %v", err)
		if derr := w.Publisher.PublishToDLQ(ctx, m.Key, m.Value, "redelivery publish failed"); derr != nil {
			w.Logger.Errorf("💣 DLQ 발행 실패 payload=%s: %v", string(m.Value), derr)
		}
	}
}
