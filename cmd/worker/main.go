package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"event-ticketing/message"
	"event-ticketing/repository"
	"event-ticketing/stats"
	"event-ticketing/worker"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// 정산 소비자를 API 서버와 분리해서 돌리고 싶을 때 쓰는 독립 바이너리
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := envOr("MYSQL_DSN", "root:password123@tcp(127.0.0.1:3306)/ticket_db?charset=utf8mb4&parseTime=True&loc=Local")
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		logger.Fatalf("DB 연결 실패: %v", err)
	}

	brokers := strings.Split(envOr("KAFKA_BROKERS", "localhost:9092"), ",")
	storeRepo := repository.NewMySQLRepository(db)
	kafkaRepo := repository.NewKafkaRepository(brokers)
	statsCollector := stats.NewCollector()

	go func() {
		logger.Info("📊 Prometheus 메트릭 서버 시작 중... (:8082/metrics)")
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":8082", nil); err != nil {
			logger.Fatalf("메트릭 서버 실행 실패: %v", err)
		}
	}()

	go worker.NewQueueWorker(worker.QueueWorkerProperty{
		Queue:     message.QueueTransactionsAudit,
		Brokers:   brokers,
		GroupID:   "audit-group",
		Publisher: kafkaRepo,
		Stats:     statsCollector,
		Logger:    logger,
		Handle:    worker.NewAuditHandler(storeRepo, logger),
	}).Run(ctx)
	go worker.NewDelayWorker(brokers, message.QueueCapacityUpdates, "capacity-delay-group", kafkaRepo, logger).Run(ctx)
	go worker.NewDelayWorker(brokers, message.QueueTransactionsAudit, "audit-delay-group", kafkaRepo, logger).Run(ctx)

	worker.NewQueueWorker(worker.QueueWorkerProperty{
		Queue:     message.QueueCapacityUpdates,
		Brokers:   brokers,
		GroupID:   "capacity-group",
		Publisher: kafkaRepo,
		Stats:     statsCollector,
		Logger:    logger,
		Handle:    worker.NewCapacityHandler(storeRepo, logger),
	}).Run(ctx)
}
