package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"rteSync/backend/config"
	"rteSync/backend/internal/cache"
	"rteSync/backend/internal/collab"
	"rteSync/backend/internal/httpapi/handlers"
	"rteSync/backend/internal/store"
	"rteSync/backend/internal/ws"
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.LoadRelay()
	if err != nil {
		glog.Fatalf("init config failed: %v", err)
	}
	glog.Infof("config: %+v", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 更新日志：配置了 MySQL 用 gorm，否则只在内存
	var updateStore collab.UpdateStore = store.NewMemoryUpdateStore()
	if cfg.Mysql.DSN != "" {
		db, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			glog.Fatalf("Failed to connect to database: %v", err)
		}
		updateStore = store.NewGormUpdateStore(db)
	}

	opts := collab.Options{
		Store:             updateStore,
		CompactEvery:      cfg.Relay.CompactEvery,
		SideEffectTimeout: cfg.Relay.SideEffectTimeout,
	}

	// 多实例扇出
	var bus *cache.RoomBus
	if len(cfg.Redis.Addrs) > 0 {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			glog.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		bus = cache.NewRoomBus(rdb)
		opts.Bus = bus
		// 快照只含本实例已收到的更新，多实例时压缩可能删掉别的实例还没扇出过来的行
		if opts.CompactEvery > 0 {
			glog.Warningf("compaction disabled: redis fan-out is enabled")
			opts.CompactEvery = 0
		}
	}

	// === 初始化 Kafka Producer ===
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			glog.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()

		dispatcher := collab.NewKafkaDispatcher(
			producer,
			cfg.Kafka.Topic,
			collab.NewSemaphoreControl(0),
			collab.KafkaDispatcherOptions{
				QueueSize:   cfg.Relay.QueueSize,
				Workers:     4,
				MaxRetry:    3,
				BaseBackoff: 50 * time.Millisecond,
				MaxBackoff:  1 * time.Second,
			},
		)
		// 先于 producer 关闭，把队列里的事件发完
		defer dispatcher.Close()
		opts.Dispatcher = dispatcher
	}

	svc := collab.NewInMemoryService(opts)
	hub := ws.NewHub()
	manager := ws.NewManager(hub, svc, collab.NewSemaphoreControl(cfg.Relay.MaxInflight))
	rooms := handlers.NewRoomHandler(svc)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	g := r.Group("/collab")
	g.GET("/ws", manager.WebSocketConnect)
	g.GET("/rooms/:roomID", rooms.GetRoom())
	g.GET("/healthz", handlers.Healthz)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Running.Port), Handler: r}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		glog.Infof("relay listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if bus != nil {
		eg.Go(func() error {
			err := bus.Subscribe(egCtx, func(roomID string, update []byte) {
				manager.HandleRemote(egCtx, roomID, update)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		glog.Errorf("relay stopped: %v", err)
		return
	}
	glog.Infof("relay stopped")
}
