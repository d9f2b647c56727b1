package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-party-room/internal"
	"github.com/koopa0/system-design/14-party-room/pkg/logger"
)

func main() {
	// 解析命令行參數（非零值會覆蓋配置檔）
	var (
		configPath = flag.String("config", "", "配置檔路徑 (YAML)")
		port       = flag.Int("port", 0, "服務器端口")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
		seed       = flag.Bool("seed", false, "啟動時把題庫檔案寫入 Redis")
	)
	flag.Parse()

	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "載入配置失敗: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	// 設置日誌
	log := logger.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	if err := run(cfg, *seed, log); err != nil {
		log.Error("服務器異常結束", "error", err)
		os.Exit(1)
	}
}

func run(cfg *internal.Config, seed bool, log *slog.Logger) error {
	ctx := context.Background()

	// 題庫
	catalog, closeCatalog, err := openCatalog(ctx, cfg.Catalog, seed, log)
	if err != nil {
		return err
	}
	defer closeCatalog()

	// 傳輸層：WebSocket，選擇性鏡像到 NATS
	hub := internal.NewHub(log)
	var emitter internal.Emitter = hub

	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = internal.ConnectNATS(cfg.NATS.URL, log)
		if err != nil {
			return err
		}
		emitter = internal.FanOut{hub, internal.NewNATSMirror(nc, cfg.NATS.SubjectPrefix)}
		log.Info("房間訊息鏡像到 NATS",
			"url", cfg.NATS.URL,
			"subject_prefix", cfg.NATS.SubjectPrefix)
	}

	// 領域服務
	manager := internal.NewManager(cfg.Rooms, log)
	broadcaster := internal.NewBroadcaster(emitter, catalog, log)
	conns := internal.NewConnectionManager(manager, log)
	driver := internal.NewGameDriver(manager, broadcaster, catalog, cfg.Game, log)
	gateway := internal.NewGateway(hub, manager, conns, driver, broadcaster, log)
	handler := internal.NewHandler(manager, broadcaster, hub, cfg.Game, log)

	driver.Start()

	// 設置路由
	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("GET /ws/rooms/{room_code}", gateway.ServeWS)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("派對房間服務器啟動",
			"port", cfg.Server.Port,
			"log_level", cfg.Log.Level,
			"log_format", cfg.Log.Format,
			"game_type", cfg.Game.GameType)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("收到關閉信號，開始優雅關閉...", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
	}

	driver.Stop()
	manager.Stop()
	hub.Stop()

	if nc != nil {
		if err := nc.Drain(); err != nil {
			log.Warn("NATS drain 失敗", "error", err)
		}
	}

	log.Info("服務器已關閉")
	return nil
}

// openCatalog 設定了 Redis 就用 Redis，否則讀取 YAML 檔案
func openCatalog(ctx context.Context, cfg internal.CatalogConfig, seed bool, log *slog.Logger) (internal.Catalog, func(), error) {
	if cfg.RedisAddr == "" {
		catalog, err := internal.LoadFileCatalog(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		log.Info("題庫已載入", "file", cfg.File, "prompts", catalog.Len())
		return catalog, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	closeClient := func() {
		if err := client.Close(); err != nil {
			log.Warn("關閉 Redis 連線失敗", "error", err)
		}
	}

	if err := client.Ping(ctx).Err(); err != nil {
		closeClient()
		return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}

	catalog := internal.NewRedisCatalog(client, cfg.KeyPrefix, cfg.LookupTimeout)

	if seed {
		file, err := internal.LoadFileCatalog(cfg.File)
		if err != nil {
			closeClient()
			return nil, nil, err
		}
		if err := catalog.Seed(ctx, file.Prompts()); err != nil {
			closeClient()
			return nil, nil, err
		}
		log.Info("題庫已寫入 Redis", "prompts", file.Len())
	}

	log.Info("使用 Redis 題庫", "addr", cfg.RedisAddr, "key_prefix", cfg.KeyPrefix)
	return catalog, closeClient, nil
}
