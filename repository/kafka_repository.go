package repository

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"

	"event-ticketing/message"
)

type KafkaRepository struct {
	Writer  *kafka.Writer
	Brokers []string
}

func NewKafkaRepository(brokers []string) *KafkaRepository {
	return &KafkaRepository{
		Writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll, // 영속 발행: 모든 레플리카 ack
		},
		Brokers: brokers,
	}
}

// Publish: 봉투를 지정한 큐(토픽)로 발행.
// 같은 이벤트의 메시지가 같은 파티션에 몰리도록 event_id를 키로 사용하고,
// retry_count는 브로커 쪽에서도 보이게 헤더로 같이 실어 보냅니다.
func (r *KafkaRepository) Publish(ctx context.Context, queue string, env message.Envelope) error {
	raw, err := env.Marshal()
	if err != nil {
		return err
	}

	return r.Writer.WriteMessages(ctx, kafka.Message{
		Topic: queue,
		Key:   []byte(strconv.FormatUint(uint64(env.Message.EventID), 10)),
		Value: raw,
		Headers: []kafka.Header{
			{Key: "retry_count", Value: []byte(strconv.Itoa(env.RetryCount))},
			{Key: "original_queue", Value: []byte(env.OriginalQueue)},
		},
	})
}

// PublishToDLQ: 원본 바이트를 그대로 보존해 DLQ로 이동 (수동 점검용)
func (r *KafkaRepository) PublishToDLQ(ctx context.Context, key, value []byte, reason string) error {
	return r.Writer.WriteMessages(ctx, kafka.Message{
		Topic: message.QueueDLQ,
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: "error_reason", Value: []byte(reason)},
		},
	})
}

func (r *KafkaRepository) Close() error {
	return r.Writer.Close()
}
