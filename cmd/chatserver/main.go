package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	redisDriver "github.com/redis/go-redis/v9"

	"edchat/internal/auth"
	"edchat/internal/config"
	"edchat/internal/delivery"
	"edchat/internal/dispatch"
	"edchat/internal/handlers/chatserver"
	appKafka "edchat/internal/kafka"
	appRedis "edchat/internal/redis"
	"edchat/internal/registry"
	"edchat/internal/storage"
)

// presenceAdapter 将用户仓库适配为调度器需要的在线状态接口。
type presenceAdapter struct {
	users storage.UserRepository
}

func (p presenceAdapter) SetStatus(ctx context.Context, userID uint, status string) error {
	return p.users.UpdateStatus(ctx, userID, status)
}

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	log.Println("Chat 服务器配置加载成功。")

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("Chat 服务器数据库连接成功。")

	// 3. 自动迁移数据库表结构 (通常一个服务实例负责即可)
	if err := storage.AutoMigrateTables(db); err != nil {
		log.Fatalf("无法迁移数据库表: %v", err)
	}
	log.Println("Chat 服务器数据库表迁移成功。")

	// 4. 初始化 Redis Client 与令牌黑名单
	redisClient := redisDriver.NewClient(&redisDriver.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err = redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("无法连接到 Redis: %v", err)
	}
	log.Println("成功连接到 Redis")
	tokenBlacklist := appRedis.NewRedisTokenBlacklist(redisClient)
	tokenValidator := auth.NewValidator(cfg.Auth, tokenBlacklist)

	// 5. 初始化 Repositories
	userRepo := storage.NewGormUserRepository(db)
	groupRepo := storage.NewGormGroupRepository(db)
	msgRepo := storage.NewGormMessageRepository(db)

	// 6. 初始化会话注册表
	reg := registry.New(tokenValidator, groupRepo)

	// 7. (可选) 初始化 Kafka 出站桥接器，用于跨实例扇出
	var bridge delivery.Publisher
	var kfkProducer appKafka.MessageProducer
	if cfg.Kafka.Enabled {
		kfkProducer, err = appKafka.NewConfluentKafkaProducer(cfg.Kafka)
		if err != nil {
			log.Fatalf("无法创建 Kafka 生产者: %v", err)
		}
		defer kfkProducer.Close()
		bridge = appKafka.NewBridge(kfkProducer, cfg.Kafka)
		log.Println("Kafka 出站桥接器初始化成功。")
	}

	// 8. 初始化投递协调器与协议调度器
	coordinator := delivery.NewCoordinator(reg, msgRepo, userRepo, groupRepo, bridge)
	dispatcher := dispatch.New(reg, coordinator, presenceAdapter{users: userRepo})

	// 9. (可选) 启动 Kafka 出站消费者，重放其他实例发布的帧。
	// 每个实例使用独立的消费组，保证都能收到完整的出站流。
	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	defer cancelConsumers()
	if cfg.Kafka.Enabled {
		outboundConsumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka)
		if err != nil {
			log.Fatalf("无法创建出站 Kafka 消费者: %v", err)
		}
		defer outboundConsumer.Close()

		groupID := fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, uuid.NewString())
		go func() {
			log.Printf("Kafka 出站消费者 goroutine 启动，监听 topic: %s", cfg.Kafka.OutgoingTopic)
			topics := []string{cfg.Kafka.OutgoingTopic}
			if err := outboundConsumer.Consume(consumerCtx, topics, groupID,
				appKafka.NewReplayHandler(coordinator)); err != nil {
				log.Printf("Kafka 出站消费者错误: %v", err)
			}
			log.Println("Kafka 出站消费者 goroutine 已停止。")
		}()
	}

	// 10. 初始化 WebSocket Handler 与路由
	wsHandler := chatserver.NewWebSocketHandler(dispatcher, reg, cfg)

	r := mux.NewRouter()
	r.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS)
	r.HandleFunc("/healthz", chatserver.Healthz).Methods(http.MethodGet)

	// 定义 CORS 选项，从配置中读取
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.CORS.AllowedHeaders),
		handlers.MaxAge(cfg.CORS.MaxAge),
	}
	if cfg.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	corsHandler := handlers.CORS(corsOptions...)(r)

	// 11. 启动 HTTP 服务器
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:           serverAddr,
		Handler:        corsHandler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Printf("Chat HTTP 服务器启动于 %s, WebSocket 路径: %s", serverAddr, cfg.Server.WebSocketPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Chat 服务器启动失败: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Chat 服务器准备关闭...")

	cancelConsumers() // 通知 Kafka 消费者停止

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("Chat 服务器关闭失败: %v", err)
	}
	log.Println("Chat 服务器已优雅关闭。")
}
