package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"missiond/config"
	"missiond/engine"
	"missiond/flowcore"
	"missiond/messaging"
	"missiond/robotstate"
	"missiond/store"
	"missiond/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "missiond.yaml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Println("missiond", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	log.Printf("missiond: database open (%s)", cfg.Database.Driver)

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("missiond: redis not available (%v), running without cache", err)
	} else {
		log.Printf("missiond: redis connected (%s)", cfg.Redis.Address)
	}
	cancel()
	defer redisClient.Close()

	// Robot state manager
	robotState := robotstate.NewManager(robotstate.NewRedisStore(redisClient))

	// Fleet backend
	fc := flowcore.NewClient(cfg.Flowcore.BaseURL, cfg.Flowcore.APIKey, cfg.Flowcore.Timeout)
	if err := fc.Ping(); err == nil {
		log.Printf("missiond: fleet backend connected (%s)", fc.BaseURL())
	} else {
		log.Printf("missiond: fleet backend not available (%v)", err)
	}
	tracker := flowcore.NewTracker(fc, cfg.Flowcore.StatusTTL)

	// Messaging client
	msgClient := messaging.NewClient(&cfg.Messaging)
	if err := msgClient.Connect(); err != nil {
		log.Printf("missiond: messaging connect failed (%v)", err)
	} else {
		log.Printf("missiond: messaging connected (%s)", cfg.Messaging.Backend)
	}
	defer msgClient.Close()

	// Engine
	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		DB:         db,
		Flowcore:   fc,
		Tracker:    tracker,
		RobotState: robotState,
		MsgClient:  msgClient,
	})
	if err := eng.Start(); err != nil {
		log.Fatalf("engine start: %v", err)
	}
	defer eng.Stop()

	// Command consumer (inbound mission commands)
	consumer := messaging.NewConsumer(db, msgClient, eng, cfg.Messaging.CommandsTopic, cfg.Messaging.ResultsTopic, cfg.Messaging.ClientID)
	if err := consumer.Start(); err != nil {
		log.Printf("missiond: command consumer subscribe failed: %v", err)
	} else {
		log.Printf("missiond: command consumer listening on %s", cfg.Messaging.CommandsTopic)
	}

	// Outbox drainer (outbound results and lifecycle events)
	drainer := messaging.NewOutboxDrainer(db, msgClient, cfg.Messaging.OutboxDrainInterval)
	drainer.Start()
	defer drainer.Stop()

	// Web server
	handler, stopWeb := www.NewRouter(eng)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		log.Printf("missiond: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("web server: %v", err)
		}
	}()

	log.Printf("missiond: ready")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("missiond: shutting down...")
	stopWeb()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Printf("missiond: stopped")
}
