package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"event-ticketing/handler"
	"event-ticketing/message"
	"event-ticketing/metrics"
	"event-ticketing/payment"
	"event-ticketing/repository"
	"event-ticketing/service"
	"event-ticketing/stats"
	"event-ticketing/worker"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Redis 연결 (docker-compose의 ticket-redis 사용)
	rdb := redis.NewClient(&redis.Options{
		Addr: envOr("REDIS_ADDR", "localhost:16379"),
	})

	// 2. MySQL 연결
	dsn := envOr("MYSQL_DSN", "root:password123@tcp(127.0.0.1:3306)/ticket_db?charset=utf8mb4&parseTime=True&loc=Local")
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		logger.Fatalf("DB 연결 실패: %v", err)
	}

	// DB 커넥션 풀 설정
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatalf("커넥션 풀 설정 실패: %v", err)
	}
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetMaxIdleConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 3. Repository / Collaborator 조립
	brokers := strings.Split(envOr("KAFKA_BROKERS", "localhost:9092"), ",")
	cacheRepo := repository.NewRedisRepository(rdb)
	storeRepo := repository.NewMySQLRepository(db)
	kafkaRepo := repository.NewKafkaRepository(brokers)
	statsCollector := stats.NewCollector()

	var paymentProvider payment.Provider
	if url := os.Getenv("PAYMENT_URL"); url != "" {
		paymentProvider = payment.NewHTTPProvider(url)
	} else {
		logger.Warn("PAYMENT_URL 미설정 — 고정 승인 제공자로 동작합니다")
		paymentProvider = &payment.StaticProvider{}
	}

	// 4. Service 조립
	svc := service.NewTicketService(service.TicketServiceProperty{
		Logger:    logger,
		Cache:     cacheRepo,
		Lock:      cacheRepo,
		Store:     storeRepo,
		Publisher: kafkaRepo,
		Payment:   paymentProvider,
		Stats:     statsCollector,
		TxnIDKey:  []byte(envOr("TXN_ID_KEY", "ticket-txn-key")),
	})

	// 5. 백그라운드 워커: 큐마다 독립 고루틴 + 자체 재시작 감독
	capacityWorker := worker.NewQueueWorker(worker.QueueWorkerProperty{
		Queue:     message.QueueCapacityUpdates,
		Brokers:   brokers,
		GroupID:   "capacity-group",
		Publisher: kafkaRepo,
		Stats:     statsCollector,
		Logger:    logger,
		Handle:    worker.NewCapacityHandler(storeRepo, logger),
	})
	auditWorker := worker.NewQueueWorker(worker.QueueWorkerProperty{
		Queue:     message.QueueTransactionsAudit,
		Brokers:   brokers,
		GroupID:   "audit-group",
		Publisher: kafkaRepo,
		Stats:     statsCollector,
		Logger:    logger,
		Handle:    worker.NewAuditHandler(storeRepo, logger),
	})
	go capacityWorker.Run(ctx)
	go auditWorker.Run(ctx)
	go worker.NewDelayWorker(brokers, message.QueueCapacityUpdates, "capacity-delay-group", kafkaRepo, logger).Run(ctx)
	go worker.NewDelayWorker(brokers, message.QueueTransactionsAudit, "audit-delay-group", kafkaRepo, logger).Run(ctx)

	// 잔여 수량 게이지 샘플러 (SAMPLE_EVENT_IDS에 적힌 이벤트만)
	go func() {
		ids := strings.Split(envOr("SAMPLE_EVENT_IDS", ""), ",")
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			for _, raw := range ids {
				id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
				if err != nil {
					continue
				}
				val, err := cacheRepo.GetCapacity(ctx, uint(id))
				if err != nil {
					continue
				}
				if val < 0 {
					val = 0
				}
				metrics.CapacityLevel.WithLabelValues(strconv.FormatUint(id, 10)).Set(float64(val))
			}
		}
	}()

	go func() {
		logger.Info("📊 Prometheus metrics server started on :8081")
		if err := http.ListenAndServe(":8081", promhttp.Handler()); err != nil {
			logger.Errorf("메트릭 서버 실행 실패: %v", err)
		}
	}()

	// 6. Handler 조립 및 경로 등록
	h := handler.NewTicketHandler(svc, statsCollector)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ticket", h.Purchase)
	mux.HandleFunc("POST /cancel", h.Cancel)
	mux.HandleFunc("GET /availability", h.Availability)
	mux.HandleFunc("GET /stats", h.QueueStats)

	mux.HandleFunc("/admin/recover-dlq", func(w http.ResponseWriter, r *http.Request) {
		go capacityWorker.ProcessDLQ(ctx)
		w.Write([]byte(`{"message": "DLQ 복구 프로세스가 시작되었습니다."}`))
	})

	// 7. 서버 실행
	server := &http.Server{
		Addr:         envOr("LISTEN_ADDR", ":8080"),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	logger.Info("🚀 티켓 판매 서버 시작 (:8080)")
	logger.Info("- 예매: POST /ticket")
	logger.Info("- 취소: POST /cancel")
	logger.Info("- 가용성: GET /availability")

	if err := server.ListenAndServe(); err != nil {
		logger.Fatalf("서버 시작 실패: %v", err)
	}
}
