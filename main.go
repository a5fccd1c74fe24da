package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"IMCore/global/config"
	"IMCore/logger"
	"IMCore/middleware"
	"IMCore/service/chat"
	"IMCore/service/notify"
	"IMCore/service/storage"
)

func main() {
	conf := config.Load()
	config.ConfigIds(conf.SnowflakeNode)

	store, closeStore, err := buildStore(conf)
	if err != nil {
		logger.Errorf("[main] store init failed: %v", err)
		os.Exit(1)
	}
	defer closeStore()

	var notifier notify.Notifier = notify.Noop{}
	if conf.NatsServers != "" {
		nn, err := notify.NewNatsNotifier(notify.NatsConfig{
			Servers: conf.NatsServers,
			Subject: conf.NatsSubject,
			Name:    conf.NodeID,
		})
		if err != nil {
			logger.Errorf("[main] nats connect failed: %v", err)
			os.Exit(1)
		}
		defer nn.Close()
		notifier = nn
	}

	var mirror chat.PresenceSink = chat.NoopPresence{}
	if conf.RedisAddr != "" {
		pm, err := storage.NewPresenceMirror(storage.PresenceConfig{
			Addr:     conf.RedisAddr,
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
			NodeID:   conf.NodeID,
			TTL:      conf.PresenceTTL,
		})
		if err != nil {
			logger.Errorf("[main] redis connect failed: %v", err)
			os.Exit(1)
		}
		defer pm.Close()
		mirror = pm
	}

	server := chat.NewServer(conf, store, notifier, mirror)
	defer server.Close()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	mids := middleware.NewManager()
	mids.Register(gin.Recovery())
	mids.Register(middleware.Origin(conf.AllowedOrigins...))
	mids.Apply(r)
	server.Routes(r)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Port),
		Handler: r,
	}

	go func() {
		logger.Infof("[main] gateway %s listening on %s path=%s store=%s",
			conf.NodeID, httpSrv.Addr, conf.WSPath, conf.StoreBackend)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[main] listen failed: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("[main] shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warnf("[main] shutdown: %v", err)
	}
}

func buildStore(conf config.AppConfig) (storage.MessageStore, func(), error) {
	switch conf.StoreBackend {
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ms, err := storage.NewMongoStore(ctx, &storage.MongoConfig{
			URI:      conf.MongoURI,
			Database: conf.MongoDatabase,
		})
		if err != nil {
			return nil, nil, err
		}
		return ms, func() {
			cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer ccancel()
			_ = ms.Close(cctx)
		}, nil
	default:
		return storage.NewMemoryStore(), func() {}, nil
	}
}
