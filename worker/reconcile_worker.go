package worker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"event-ticketing/message"
	"event-ticketing/metrics"
	"event-ticketing/repository"
	"event-ticketing/stats"
)

// Outcome: 메시지 핸들러의 명시적 처리 결과.
// 디스패처는 예외를 잡는 대신 이 값으로 재시도/DLQ를 결정합니다.
type Outcome int

const (
	OutcomeSuccess   Outcome = iota
	OutcomeRetryable         // 일시 장애 — 백오프 후 재시도
	OutcomeFatal             // 재시도 무의미 — 즉시 DLQ
)

type Handler func(ctx context.Context, env message.Envelope) Outcome

// Fetcher: kafka.Reader의 수동 ack 표면 (테스트에서 페이크로 대체)
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

const MaxRetries = 3

/*
 * QueueWorker: 큐 하나를 전담하는 장수명 백그라운드 소비자.
 * FetchMessage/CommitMessages로 수동 ack를 수행하고,
 * 핸들러의 Outcome에 따라 딜레이 큐 재발행 또는 DLQ 이동을 결정합니다.
 */
type QueueWorker struct {
	Queue     string
	Brokers   []string
	Reader    Fetcher
	Publisher repository.Publisher
	Stats     *stats.Collector
	Logger    *logrus.Logger
	Handle    Handler
}

type QueueWorkerProperty struct {
	Queue     string
	Brokers   []string
	GroupID   string
	Publisher repository.Publisher
	Stats     *stats.Collector
	Logger    *logrus.Logger
	Handle    Handler
}

func NewQueueWorker(props QueueWorkerProperty) *QueueWorker {
	return &QueueWorker{
		Queue:   props.Queue,
		Brokers: props.Brokers,
		Reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:       props.Brokers,
			Topic:         props.Queue,
			GroupID:       props.GroupID,
			MinBytes:      10e3,
			MaxBytes:      10e6,
			QueueCapacity: 16, // 공정성 prefetch: 미처리 메시지 수 상한
		}),
		Publisher: props.Publisher,
		Stats:     props.Stats,
		Logger:    props.Logger,
		Handle:    props.Handle,
	}
}

// Run: 소비 루프가 죽으면 1초 뒤 재시작하는 감독 루프.
// ctx 취소가 유일한 정상 종료 경로이며, 종료 시 리더를 닫아
// 컨슈머 그룹에서 깔끔하게 빠집니다.
func (w *QueueWorker) Run(ctx context.Context) {
	w.Logger.Infof("🚀 큐 워커 시작: %s", w.Queue)
	defer closeReader(w.Reader, w.Queue, w.Logger)

	for {
		err := w.consume(ctx)
		if ctx.Err() != nil {
			w.Logger.Infof("큐 워커 종료: %s", w.Queue)
			return
		}
		w.Logger.Errorf("큐 워커 비정상 종료, 1초 후 재시작 (%s): %v", w.Queue, err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (w *QueueWorker) consume(ctx context.Context) (err error) {
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

		w.ProcessOne(ctx, m)

		// 처리 결과와 무관하게 원본 메시지는 ack (재시도는 딜레이 큐가 들고 있음)
		if cerr := w.Reader.CommitMessages(ctx, m); cerr != nil {
			w.Logger.Errorf("커밋 실패 (%s): %v", w.Queue, cerr)
		}
	}
}

// ProcessOne: 메시지 한 건의 역직렬화 → 핸들링 → 디스패치.
// 한 건의 실패가 워커 전체를 무너뜨리지 않도록 패닉을 여기서 흡수합니다.
func (w *QueueWorker) ProcessOne(ctx context.Context, m kafka.Message) {
	start := time.Now()

	env, err := message.Unmarshal(m.Value)
	if err != nil {
		// 깨진 메시지는 재시도 없이 곧바로 DLQ (requeue 없는 nack에 해당)
		w.Logger.Errorf("깨진 메시지 → DLQ (%s): %v", w.Queue, err)
		w.Stats.RecordFailed(w.Queue, "malformed")
		w.deadLetter(ctx, m.Key, m.Value, err.Error())
		return
	}

	outcome := w.safeHandle(ctx, env)

	switch outcome {
	case OutcomeSuccess:
		took := time.Since(start)
		w.Stats.RecordProcessed(w.Queue, env.Type, took)
		metrics.ProcessingDuration.WithLabelValues(w.Queue).Observe(took.Seconds())

	case OutcomeRetryable:
		w.Stats.RecordFailed(w.Queue, env.Type)
		metrics.ReconcileFailed.WithLabelValues(w.Queue).Inc()

		if env.RetryCount >= MaxRetries {
			w.Logger.WithFields(logrus.Fields{
				"event_id":       env.Message.EventID,
				"transaction_id": env.Message.TransactionID,
				"retry_count":    env.RetryCount,
			}).Errorf("❌ 재시도 소진 → DLQ (%s)", w.Queue)
			w.deadLetterEnvelope(ctx, m.Key, env, "retry budget exhausted")
			return
		}

		env.RetryCount++
		env.EnqueuedAt = time.Now()
		if perr := w.Publisher.Publish(ctx, message.DelayQueue(env.OriginalQueue), env); perr != nil {
			w.Logger.Errorf("딜레이 큐 발행 실패 → DLQ (%s): %v", w.Queue, perr)
			w.deadLetterEnvelope(ctx, m.Key, env, "delay publish failed: "+perr.Error())
		}

	case OutcomeFatal:
		w.Stats.RecordFailed(w.Queue, env.Type)
		metrics.ReconcileFailed.WithLabelValues(w.Queue).Inc()
		w.deadLetterEnvelope(ctx, m.Key, env, "fatal handler outcome")
	}
}

// kafka.Reader는 io.Closer를 구현하므로 종료 시 닫아준다
func closeReader(r Fetcher, queue string, logger *logrus.Logger) {
	c, ok := r.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Errorf("리더 종료 실패 (%s): %v", queue, err)
	}
}

func (w *QueueWorker) safeHandle(ctx context.Context, env message.Envelope) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.Logger.Errorf("핸들러 패닉 (%s): %v", w.Queue, r)
			outcome = OutcomeRetryable
		}
	}()
	return w.Handle(ctx, env)
}

func (w *QueueWorker) deadLetterEnvelope(ctx context.Context, key []byte, env message.Envelope, reason string) {
	raw, err := env.Marshal()
	if err != nil {
		raw = []byte(fmt.Sprintf("%+v", env))
	}
	w.deadLetter(ctx, key, raw, reason)
}

func (w *QueueWorker) deadLetter(ctx context.Context, key, value []byte, reason string) {
	metrics.DeadLettered.WithLabelValues(w.Queue).Inc()
	if err := w.Publisher.PublishToDLQ(ctx, key, value, reason); err != nil {
		// DLQ마저 실패하면 메시지가 유실되므로 전량 로그로 남김
		w.Logger.Errorf("💣 DLQ 발행 실패 (%s) payload=%s: %v", w.Queue, string(value), err)
	}
}

// ProcessDLQ: 운영자가 DLQ를 비우고 싶을 때 수동으로 트리거하는 복구 루틴.
// 별도 그룹으로 처음부터 읽어 핸들러에 다시 태웁니다.
func (w *QueueWorker) ProcessDLQ(ctx context.Context) {
	w.Logger.Info("🛠️ DLQ 복구 시작")

	dlqReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     w.Brokers,
		Topic:       message.QueueDLQ,
		GroupID:     "recovery-group-v1",
		StartOffset: kafka.FirstOffset,
	})
	defer dlqReader.Close()

	for {
		// 남은 메시지가 없으면 3초 타임아웃으로 종료
		fetchCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		m, err := dlqReader.ReadMessage(fetchCtx)
		cancel()
		if err != nil {
			w.Logger.Info("✅ DLQ 복구 완료")
			return
		}

		env, err := message.Unmarshal(m.Value)
		if err != nil {
			w.Logger.Errorf("DLQ 메시지 해석 불가, 건너뜀: %v", err)
			continue
		}

		env.RetryCount = 0
		if outcome := w.safeHandle(ctx, env); outcome != OutcomeSuccess {
			w.Logger.WithField("transaction_id", env.Message.TransactionID).
				Warn("DLQ 재처리 실패 — 메시지는 DLQ에 남아 있음")
		}
	}
}
